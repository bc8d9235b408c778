// Package change defines the editor independent description of a text
// mutation exchanged between peers, and its translation to and from the
// workspace's native edits.
package change

import (
	"fmt"
	"strings"
)

// Origin tells what produced a change.
type Origin string

const (
	OriginUnspecified Origin = ""
	OriginEdit        Origin = "+input"
	OriginPaste       Origin = "paste"
	OriginRemote      Origin = "remote"
)

func (o Origin) String() string {
	switch o {
	case OriginEdit:
		return "edit"
	case OriginPaste:
		return "paste"
	case OriginRemote:
		return "remote"
	}
	return "unspecified"
}

// Kind distinguishes text changes from the editor notifications peers relay
// on the same channel.
type Kind string

const (
	KindText      Kind = ""
	KindRename    Kind = "rename"
	KindSelection Kind = "selection"
)

// Pos is a zero based line and column.
type Pos struct {
	Line int `json:"line"`
	Ch   int `json:"ch"`
}

// Less orders positions by line, then column.
func (p Pos) Less(o Pos) bool {
	return p.Line < o.Line || (p.Line == o.Line && p.Ch < o.Ch)
}

// Descriptor replaces [From, To) with Text, one element per line.
type Descriptor struct {
	From    Pos      `json:"from"`
	To      Pos      `json:"to"`
	Text    []string `json:"text"`
	Removed string   `json:"removed,omitempty"`
	Origin  Origin   `json:"origin,omitempty"`
	Kind    Kind     `json:"type,omitempty"`
}

// Validate checks that From does not sort after To.
func (d Descriptor) Validate() error {
	if d.To.Less(d.From) {
		return fmt.Errorf("invalid range: %d:%d is after %d:%d", d.From.Line, d.From.Ch, d.To.Line, d.To.Ch)
	}
	return nil
}

// Joined returns the replacement text as a single string.
func (d Descriptor) Joined() string {
	return strings.Join(d.Text, "\n")
}

// Lines splits s into the line sequence used by Descriptor.Text.
func Lines(s string) []string {
	return strings.Split(s, "\n")
}
