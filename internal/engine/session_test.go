package engine

import (
	"context"
	"errors"
	"io/fs"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap/zaptest"

	"collabtext/internal/bridge"
	"collabtext/internal/change"
	"collabtext/internal/engine/mocks"
	"collabtext/internal/store"
	"collabtext/internal/watch"
	"collabtext/internal/wire"
	"collabtext/internal/workspace"
)

type recordingNotifier struct {
	mu     sync.Mutex
	infos  []string
	errors []string
}

func (n *recordingNotifier) Info(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.infos = append(n.infos, msg)
}

func (n *recordingNotifier) Error(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errors = append(n.errors, msg)
}

func (n *recordingNotifier) Errors() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.errors...)
}

func (n *recordingNotifier) Infos() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.infos...)
}

type tester struct {
	*Session
	t      *testing.T
	fs     afero.Fs
	ws     *workspace.Workspace
	bridge *mocks.MockBridge
	trash  *mocks.MockTrasher
	events chan bridge.Event
	clock  clockwork.FakeClock
	notes  *recordingNotifier
}

func newTester(t *testing.T, files map[string]string, opts ...SessionOpt) *tester {
	ctrl := gomock.NewController(t)
	tt := &tester{
		t:      t,
		fs:     afero.NewMemMapFs(),
		bridge: mocks.NewMockBridge(ctrl),
		trash:  mocks.NewMockTrasher(ctrl),
		events: make(chan bridge.Event),
		clock:  clockwork.NewFakeClock(),
		notes:  &recordingNotifier{},
	}
	for p, content := range files {
		require.NoError(t, afero.WriteFile(tt.fs, p, []byte(content), 0o644))
	}
	tt.ws = workspace.New(tt.fs, "/project")
	tt.bridge.EXPECT().Events().Return((<-chan bridge.Event)(tt.events))
	opts = append([]SessionOpt{
		WithSessionLogger(zaptest.NewLogger(t)),
		WithClock(tt.clock),
		WithNotifier(tt.notes),
	}, opts...)
	tt.Session = NewSession(tt.bridge, tt.ws, tt.trash, opts...)
	return tt
}

// run starts the event loop and stops it when the test ends.
func (tt *tester) run() {
	tt.bridge.EXPECT().Close().Return(nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tt.Run(ctx) }()
	tt.t.Cleanup(func() {
		cancel()
		require.NoError(tt.t, <-done)
	})
}

func (tt *tester) disk(p string) string {
	data, err := afero.ReadFile(tt.fs, p)
	require.NoError(tt.t, err)
	return string(data)
}

func insert(line, ch int, text string) workspace.TextEdit {
	pos := workspace.Position{Line: line, Character: ch}
	return workspace.TextEdit{Range: workspace.Range{Start: pos, End: pos}, NewText: text}
}

func at(line, ch int, text string) change.Descriptor {
	return change.Descriptor{
		From: change.Pos{Line: line, Ch: ch},
		To:   change.Pos{Line: line, Ch: ch},
		Text: change.Lines(text),
	}
}

func TestFlushAppliesInArrivalOrder(t *testing.T) {
	tt := newTester(t, map[string]string{"a.txt": "x", "b.txt": "y"})

	tt.handleRemote(context.Background(), bridge.ChangeFile{FilePath: "/a.txt", Change: at(0, 0, "1")})
	tt.handleRemote(context.Background(), bridge.ChangeFile{FilePath: "/b.txt", Change: at(0, 1, "!")})
	tt.handleRemote(context.Background(), bridge.ChangeFile{FilePath: "/a.txt", Change: at(0, 1, "2")})
	require.Len(t, tt.queue, 3)

	tt.flush()
	require.Empty(t, tt.queue)
	require.Nil(t, tt.flushTimer)
	require.Equal(t, "12x", tt.disk("a.txt"))
	require.Equal(t, "y!", tt.disk("b.txt"))
	require.Empty(t, tt.notes.Errors())
}

func TestRemoteEditsAreNotEchoed(t *testing.T) {
	tt := newTester(t, map[string]string{"a.txt": "x"})

	tt.handleRemote(context.Background(), bridge.ChangeFile{FilePath: "/a.txt", Change: at(0, 0, "remote ")})
	tt.flush()
	require.Len(t, tt.local, 0)
	require.False(t, tt.guard.Held("a.txt"))

	// a user edit after the apply is captured again
	require.NoError(t, tt.ws.ApplyEdit("a.txt", []workspace.TextEdit{insert(0, 0, "local ")}))
	require.Len(t, tt.local, 1)
	ev := <-tt.local
	require.Equal(t, "a.txt", ev.Path)
}

func TestGuardIsPerFile(t *testing.T) {
	tt := newTester(t, map[string]string{"a.txt": "", "b.txt": ""})

	tt.guard.Hold("a.txt")
	require.NoError(t, tt.ws.ApplyEdit("a.txt", []workspace.TextEdit{insert(0, 0, "mine")}))
	require.Len(t, tt.local, 0)

	require.NoError(t, tt.ws.ApplyEdit("b.txt", []workspace.TextEdit{insert(0, 0, "user")}))
	require.Len(t, tt.local, 1)
	require.Equal(t, "b.txt", (<-tt.local).Path)
}

func TestProvideFileCreatesMissingFile(t *testing.T) {
	tt := newTester(t, nil)

	tt.handleRemote(context.Background(), bridge.ProvideFile{FilePath: "/b.txt", Content: "xyz", Requester: "me"})
	tt.handleRemote(context.Background(), bridge.ProvideFile{FilePath: "/dir/sub/c.txt", Content: "one\ntwo"})
	tt.flush()

	require.Equal(t, "xyz", tt.disk("b.txt"))
	require.Equal(t, "one\ntwo", tt.disk("dir/sub/c.txt"))
	require.Empty(t, tt.notes.Errors())
	require.Len(t, tt.local, 0)

	// the watcher reporting the file the engine created is not broadcast
	tt.handleFile(context.Background(), watch.Event{Op: watch.Created, Path: "b.txt"})
}

func TestProvideFileReplacesDocument(t *testing.T) {
	tt := newTester(t, map[string]string{"a.txt": "abc\ndef"})
	_, err := tt.ws.Open("a.txt")
	require.NoError(t, err)

	tt.handleRemote(context.Background(), bridge.ProvideFile{FilePath: "/a.txt", Content: "xyz"})
	tt.flush()
	text, ok := tt.ws.Text("a.txt")
	require.True(t, ok)
	require.Equal(t, "xyz", text)
	require.Equal(t, "xyz", tt.disk("a.txt"))
}

// missingHost never finds a document.
type missingHost struct {
	Host
	opens int
}

func (h *missingHost) Open(p string) (workspace.Document, error) {
	h.opens++
	return workspace.Document{}, workspace.ErrNotFound
}

func TestRecoveryRetriesOnce(t *testing.T) {
	tt := newTester(t, map[string]string{"ok.txt": ""})
	h := &missingHost{Host: tt.ws}
	tt.host = h

	err := tt.applyTo("gone.txt", []change.Descriptor{at(0, 0, "x")})
	require.ErrorIs(t, err, ErrApply)
	require.ErrorIs(t, err, workspace.ErrNotFound)
	require.Equal(t, 2, h.opens)
}

func TestRecoveryFailure(t *testing.T) {
	tt := newTester(t, nil)
	tt.ws.SetRoot(afero.NewReadOnlyFs(afero.NewMemMapFs()), "/readonly")

	tt.handleRemote(context.Background(), bridge.ChangeFile{FilePath: "/x/a.txt", Change: at(0, 0, "x")})
	tt.handleRemote(context.Background(), bridge.ChangeFile{FilePath: "/y.txt", Change: at(0, 0, "y")})
	tt.flush()

	require.Equal(t, []string{
		"Failed to apply changes to x/a.txt",
		"Failed to apply changes to y.txt",
	}, tt.notes.Errors())
	require.Empty(t, tt.queue)
	require.Empty(t, tt.expected.pending)
}

// failingHost rejects every edit to one path.
type failingHost struct {
	Host
	path string
}

func (h *failingHost) ApplyEdit(p string, edits []workspace.TextEdit) error {
	if p == h.path {
		return errors.New("document is read only")
	}
	return h.Host.ApplyEdit(p, edits)
}

func TestFlushContinuesAfterFailure(t *testing.T) {
	tt := newTester(t, map[string]string{"a.txt": "", "b.txt": ""})
	tt.host = &failingHost{Host: tt.ws, path: "a.txt"}

	tt.handleRemote(context.Background(), bridge.ChangeFile{FilePath: "/a.txt", Change: at(0, 0, "x")})
	tt.handleRemote(context.Background(), bridge.ChangeFile{FilePath: "/b.txt", Change: at(0, 0, "y")})
	tt.flush()

	require.Equal(t, []string{"Failed to apply changes to a.txt"}, tt.notes.Errors())
	require.Equal(t, "y", tt.disk("b.txt"))
}

func TestIgnoredKinds(t *testing.T) {
	tt := newTester(t, nil)
	for _, kind := range []change.Kind{change.KindRename, change.KindSelection} {
		d := at(0, 0, "x")
		d.Kind = kind
		tt.handleRemote(context.Background(), bridge.ChangeFile{FilePath: "/a.txt", Change: d})
	}
	require.Empty(t, tt.queue)
	require.Nil(t, tt.flushTimer)
}

func TestRemoteDeleteMovesToTrash(t *testing.T) {
	tt := newTester(t, map[string]string{"a.txt": "keep me"})
	_, err := tt.ws.Open("a.txt")
	require.NoError(t, err)

	tt.handleRemote(context.Background(), bridge.ChangeFile{FilePath: "/a.txt", Change: at(0, 0, "x")})
	tt.trash.EXPECT().Move("a.txt").DoAndReturn(func(p string) (store.TrashEntry, error) {
		require.NoError(t, tt.fs.Rename(p, "trashed-"+p))
		return store.TrashEntry{ID: "01", Original: p}, nil
	})
	tt.handleRemote(context.Background(), bridge.DeleteFile{FilePath: "/a.txt"})

	require.Empty(t, tt.queue)
	require.NotContains(t, tt.ws.Documents(), "a.txt")
	require.Equal(t, "keep me", tt.disk("trashed-a.txt"))

	// the resulting watcher event is not sent back to the room
	tt.handleFile(context.Background(), watch.Event{Op: watch.Deleted, Path: "a.txt"})

	t.Run("missing file", func(t *testing.T) {
		tt.trash.EXPECT().Move("b.txt").Return(store.TrashEntry{}, &fs.PathError{Op: "stat", Path: "b.txt", Err: fs.ErrNotExist})
		tt.handleRemote(context.Background(), bridge.DeleteFile{FilePath: "/b.txt"})
		require.Empty(t, tt.notes.Errors())
	})
	t.Run("failure", func(t *testing.T) {
		tt.trash.EXPECT().Move("c.txt").Return(store.TrashEntry{}, errors.New("disk full"))
		tt.handleRemote(context.Background(), bridge.DeleteFile{FilePath: "/c.txt"})
		require.Equal(t, []string{"Failed to delete c.txt"}, tt.notes.Errors())
		require.Empty(t, tt.expected.pending)
	})
}

func TestLocalChangeIsBroadcast(t *testing.T) {
	tt := newTester(t, map[string]string{"a.txt": "", "other.txt": ""})
	require.NoError(t, tt.ws.SetActive("other.txt"))

	require.NoError(t, tt.ws.ApplyEdit("a.txt", []workspace.TextEdit{insert(0, 0, "hi")}))
	ev := <-tt.local
	tt.bridge.EXPECT().ChangeFile(gomock.Any(), "/a.txt", at(0, 0, "hi")).Return(nil)
	tt.handleLocal(context.Background(), ev)
	require.Equal(t, "other.txt", tt.ActiveFilePath())
}

func TestLocalFileEvents(t *testing.T) {
	tt := newTester(t, map[string]string{"new.txt": "one\ntwo", "gone.txt": ""})
	_, err := tt.ws.Open("gone.txt")
	require.NoError(t, err)

	tt.bridge.EXPECT().ChangeFile(gomock.Any(), "/new.txt", change.Descriptor{
		Text:   []string{"one", "two"},
		Origin: change.OriginPaste,
	}).Return(nil)
	tt.handleFile(context.Background(), watch.Event{Op: watch.Created, Path: "new.txt"})

	// unreadable files are skipped
	tt.handleFile(context.Background(), watch.Event{Op: watch.Created, Path: "vanished.txt"})

	require.NoError(t, tt.fs.Remove("gone.txt"))
	tt.bridge.EXPECT().DeleteFile(gomock.Any(), "/gone.txt").Return(nil)
	tt.handleFile(context.Background(), watch.Event{Op: watch.Deleted, Path: "gone.txt"})
	require.Empty(t, tt.ws.Documents())
}

func TestRequestProject(t *testing.T) {
	tt := newTester(t, map[string]string{"a.txt": "alpha", "dir/b.txt": "beta", "c.txt": "gamma"})
	for _, p := range []string{"a.txt", "dir/b.txt", "c.txt"} {
		_, err := tt.ws.Open(p)
		require.NoError(t, err)
	}
	require.NoError(t, tt.fs.Remove("c.txt"))

	gomock.InOrder(
		tt.bridge.EXPECT().ProvideFile(gomock.Any(), "/a.txt", "alpha", "peer-2").Return(nil),
		tt.bridge.EXPECT().ProvideFile(gomock.Any(), "/dir/b.txt", "beta", "peer-2").Return(nil),
	)
	tt.handleRemote(context.Background(), bridge.RequestProject{Requester: "peer-2"})
}

func TestPeerEvents(t *testing.T) {
	tt := newTester(t, nil)

	tt.bridge.EXPECT().RequestProject(gomock.Any()).Return(nil).Times(1)
	tt.handleRemote(context.Background(), bridge.PeerJoined{Peer: wire.Peer{ID: "1", Nickname: "Bob"}})
	tt.handleRemote(context.Background(), bridge.PeerJoined{Peer: wire.Peer{ID: "2", Nickname: "Carol"}})

	tt.handleRemote(context.Background(), bridge.PeerLost{Peer: wire.Peer{ID: "1", Nickname: "Bob"}})
	require.Equal(t, []string{"Lost connection to Bob"}, tt.notes.Infos())
}

func TestRunFlushesAfterDelay(t *testing.T) {
	tt := newTester(t, map[string]string{"a.txt": "x"})
	tt.run()

	tt.events <- bridge.ChangeFile{FilePath: "/a.txt", Change: at(0, 0, "1")}
	tt.events <- bridge.ChangeFile{FilePath: "/a.txt", Change: at(0, 1, "2")}
	tt.clock.BlockUntil(1)
	require.Equal(t, "x", tt.disk("a.txt"))

	tt.clock.Advance(DefaultConfig().FlushDelay)
	require.Eventually(t, func() bool {
		data, err := afero.ReadFile(tt.fs, "a.txt")
		return err == nil && string(data) == "12x"
	}, time.Second, time.Millisecond)
}

func TestRunBroadcastsLocalEdits(t *testing.T) {
	tt := newTester(t, map[string]string{"a.txt": ""})
	sent := make(chan change.Descriptor, 1)
	tt.bridge.EXPECT().ChangeFile(gomock.Any(), "/a.txt", gomock.Any()).DoAndReturn(
		func(_ context.Context, _ string, d change.Descriptor) error {
			sent <- d
			return nil
		})
	tt.run()

	require.NoError(t, tt.ws.ApplyEdit("a.txt", []workspace.TextEdit{insert(0, 0, "hi")}))
	require.Equal(t, at(0, 0, "hi"), <-sent)
}

func TestTeardown(t *testing.T) {
	tt := newTester(t, map[string]string{"a.txt": ""})
	tt.bridge.EXPECT().Close().Return(nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tt.Run(ctx) }()

	tt.events <- bridge.ChangeFile{FilePath: "/a.txt", Change: at(0, 0, "late")}
	tt.clock.BlockUntil(1)
	cancel()
	require.NoError(t, <-done)

	require.Empty(t, tt.queue)
	require.Nil(t, tt.flushTimer)
	require.False(t, tt.guard.Held("a.txt"))
	require.Equal(t, "", tt.disk("a.txt"))

	// edits after leaving are not observed
	require.NoError(t, tt.ws.ApplyEdit("a.txt", []workspace.TextEdit{insert(0, 0, "after")}))
	require.Len(t, tt.local, 0)
}

func TestRunEndsWhenBridgeCloses(t *testing.T) {
	tt := newTester(t, nil)
	tt.bridge.EXPECT().Close().Return(nil)
	close(tt.events)
	require.ErrorIs(t, tt.Run(context.Background()), bridge.ErrClosed)
}

func TestExpectedEventsExpire(t *testing.T) {
	clock := clockwork.NewFakeClock()
	e := newExpected(clock)
	e.add(watch.Created, "a.txt")
	require.False(t, e.consume(watch.Event{Op: watch.Deleted, Path: "a.txt"}))
	require.True(t, e.consume(watch.Event{Op: watch.Created, Path: "a.txt"}))
	require.False(t, e.consume(watch.Event{Op: watch.Created, Path: "a.txt"}))

	e.add(watch.Created, "b.txt")
	clock.Advance(expectWindow + time.Second)
	require.False(t, e.consume(watch.Event{Op: watch.Created, Path: "b.txt"}))
}
