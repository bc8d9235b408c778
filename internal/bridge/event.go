package bridge

import (
	"collabtext/internal/change"
	"collabtext/internal/wire"
)

// Event is one inbound notification from the room. One of ChangeFile,
// DeleteFile, RequestProject, ProvideFile, PeerJoined or PeerLost.
type Event interface {
	isEvent()
}

type ChangeFile struct {
	FilePath string
	Change   change.Descriptor
}

type DeleteFile struct {
	FilePath string
}

// RequestProject asks every peer to send its open documents to Requester.
type RequestProject struct {
	Requester string
}

// ProvideFile carries a full document snapshot.
type ProvideFile struct {
	FilePath  string
	Content   string
	Requester string
}

type PeerJoined struct {
	Peer wire.Peer
}

type PeerLost struct {
	Peer wire.Peer
}

func (ChangeFile) isEvent()     {}
func (DeleteFile) isEvent()     {}
func (RequestProject) isEvent() {}
func (ProvideFile) isEvent()    {}
func (PeerJoined) isEvent()     {}
func (PeerLost) isEvent()       {}

// eventFromMessage returns nil for messages that are not surfaced as events.
func eventFromMessage(m *wire.Message) Event {
	switch m.Action {
	case wire.ActionChangeFile:
		return ChangeFile{FilePath: m.FilePath, Change: *m.Change}
	case wire.ActionDeleteFile:
		return DeleteFile{FilePath: m.FilePath}
	case wire.ActionRequestProject:
		return RequestProject{Requester: m.Requester}
	case wire.ActionProvideFile:
		return ProvideFile{FilePath: m.FilePath, Content: m.Content, Requester: m.Requester}
	case wire.ActionGotPeer:
		return PeerJoined{Peer: *m.Peer}
	case wire.ActionLostPeer:
		return PeerLost{Peer: *m.Peer}
	}
	return nil
}
