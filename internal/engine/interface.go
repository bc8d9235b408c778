package engine

import (
	"context"

	"collabtext/internal/bridge"
	"collabtext/internal/change"
	"collabtext/internal/store"
)

//go:generate mockgen -package=mocks -destination=./mocks/mocks.go -source=./interface.go

// Bridge is the session's connection to a room.
type Bridge interface {
	ChangeFile(ctx context.Context, filePath string, d change.Descriptor) error
	DeleteFile(ctx context.Context, filePath string) error
	RequestProject(ctx context.Context) error
	ProvideFile(ctx context.Context, filePath, content, requester string) error
	Events() <-chan bridge.Event
	Close() error
}

// Trasher moves files deleted by peers out of the way without destroying them.
type Trasher interface {
	Move(path string) (store.TrashEntry, error)
}
