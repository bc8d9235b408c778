package change

import "collabtext/internal/workspace"

// ToDescriptor converts a change reported by the workspace. The workspace
// does not report removed text or an origin, so both are left empty.
func ToDescriptor(c workspace.ContentChange) Descriptor {
	return Descriptor{
		From: Pos{Line: c.Range.Start.Line, Ch: c.Range.Start.Character},
		To:   Pos{Line: c.Range.End.Line, Ch: c.Range.End.Character},
		Text: Lines(c.Text),
	}
}

// ToNative builds the workspace edit that applies d.
func ToNative(d Descriptor) workspace.TextEdit {
	return workspace.TextEdit{
		Range: workspace.Range{
			Start: workspace.Position{Line: d.From.Line, Character: d.From.Ch},
			End:   workspace.Position{Line: d.To.Line, Character: d.To.Ch},
		},
		NewText: d.Joined(),
	}
}

// ToNativeAll converts descriptors in order.
func ToNativeAll(ds []Descriptor) []workspace.TextEdit {
	edits := make([]workspace.TextEdit, 0, len(ds))
	for _, d := range ds {
		edits = append(edits, ToNative(d))
	}
	return edits
}
