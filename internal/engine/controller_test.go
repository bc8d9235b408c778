package engine

import (
	"context"
	"errors"
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
	"collabtext/internal/workspace"
)

type answerPrompter struct {
	answer   func(defaults JoinRequest) JoinRequest
	defaults []JoinRequest
}

func (p *answerPrompter) PromptJoin(_ context.Context, defaults JoinRequest) (JoinRequest, error) {
	p.defaults = append(p.defaults, defaults)
	if p.answer == nil {
		return defaults, nil
	}
	return p.answer(defaults), nil
}

type memoryStore struct {
	mu             sync.Mutex
	room, nickname string
}

func (s *memoryStore) SaveSession(room, nickname string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.room, s.nickname = room, nickname
	return nil
}

func (s *memoryStore) LastSession() (string, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room, s.nickname, nil
}

type dialed struct {
	hostname, room, nickname string
}

type controllerTester struct {
	*Controller
	t        *testing.T
	ctrl     *gomock.Controller
	fs       afero.Fs
	ws       *workspace.Workspace
	notes    *recordingNotifier
	prompter *answerPrompter
	store    *memoryStore

	mu      sync.Mutex
	dials   []dialed
	bridges []*mocks.MockBridge
	dialErr error
}

func newControllerTester(t *testing.T, root string) *controllerTester {
	ct := &controllerTester{
		t:        t,
		ctrl:     gomock.NewController(t),
		fs:       afero.NewMemMapFs(),
		notes:    &recordingNotifier{},
		prompter: &answerPrompter{},
		store:    &memoryStore{},
	}
	require.NoError(t, afero.WriteFile(ct.fs, "a.txt", nil, 0o644))
	ct.ws = workspace.New(ct.fs, root)
	cfg := DefaultConfig()
	cfg.Hostname = "ws://relay:8081"
	ct.Controller = NewController(ct.ws, ct.dial, func(Host) Trasher { return mocks.NewMockTrasher(ct.ctrl) },
		WithLogger(zaptest.NewLogger(t)),
		WithConfig(cfg),
		WithControllerClock(clockwork.NewFakeClock()),
		WithPrompter(ct.prompter),
		WithControllerNotifier(ct.notes),
		WithStore(ct.store),
	)
	t.Cleanup(ct.Close)
	return ct
}

func (ct *controllerTester) dial(_ context.Context, hostname, room, nickname string) (Bridge, error) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.dials = append(ct.dials, dialed{hostname, room, nickname})
	if ct.dialErr != nil {
		return nil, ct.dialErr
	}
	b := mocks.NewMockBridge(ct.ctrl)
	b.EXPECT().Events().Return((<-chan bridge.Event)(make(chan bridge.Event)))
	b.EXPECT().Close().Return(nil)
	ct.bridges = append(ct.bridges, b)
	return b, nil
}

func (ct *controllerTester) lastBridge() *mocks.MockBridge {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	return ct.bridges[len(ct.bridges)-1]
}

func TestJoinRequiresWorkspace(t *testing.T) {
	ct := newControllerTester(t, "")
	err := ct.Join(context.Background(), JoinRequest{Room: "abc123", Nickname: "Alice"})
	require.ErrorIs(t, err, ErrNoWorkspace)
	require.Equal(t, []string{"Open a folder before joining a room!"}, ct.notes.Errors())
	require.Empty(t, ct.dials)
	require.Empty(t, ct.prompter.defaults)
	state, _, _ := ct.State()
	require.Equal(t, Idle, state)
}

func TestJoinBroadcastsLocalEdits(t *testing.T) {
	ct := newControllerTester(t, "/project")
	ct.prompter.answer = func(JoinRequest) JoinRequest {
		return JoinRequest{Room: "abc123", Nickname: "Alice"}
	}
	require.NoError(t, ct.Join(context.Background(), JoinRequest{}))
	require.Equal(t, []dialed{{"ws://relay:8081", "abc123", "Alice"}}, ct.dials)

	state, room, nickname := ct.State()
	require.Equal(t, Syncing, state)
	require.Equal(t, "abc123", room)
	require.Equal(t, "Alice", nickname)
	require.Equal(t, []string{"Joined room abc123 as Alice"}, ct.notes.Infos())

	sent := make(chan change.Descriptor, 1)
	ct.lastBridge().EXPECT().ChangeFile(gomock.Any(), "/a.txt", gomock.Any()).DoAndReturn(
		func(_ context.Context, _ string, d change.Descriptor) error {
			sent <- d
			return nil
		})
	require.NoError(t, ct.ws.ApplyEdit("a.txt", []workspace.TextEdit{insert(0, 0, "hi")}))
	require.Equal(t, change.Descriptor{
		From: change.Pos{Line: 0, Ch: 0},
		To:   change.Pos{Line: 0, Ch: 0},
		Text: []string{"hi"},
	}, <-sent)

	room, nickname, err := ct.store.LastSession()
	require.NoError(t, err)
	require.Equal(t, "abc123", room)
	require.Equal(t, "Alice", nickname)
}

func TestJoinWhileSyncingLeavesFirst(t *testing.T) {
	ct := newControllerTester(t, "/project")
	require.NoError(t, ct.Join(context.Background(), JoinRequest{Room: "one", Nickname: "A"}))
	first := ct.lastBridge()
	require.NoError(t, ct.Join(context.Background(), JoinRequest{Room: "two", Nickname: "A"}))
	require.NotSame(t, first, ct.lastBridge())

	_, room, _ := ct.State()
	require.Equal(t, "two", room)
	// the first bridge was closed when leaving, which gomock verifies
}

func TestLeave(t *testing.T) {
	ct := newControllerTester(t, "/project")
	require.NoError(t, ct.Join(context.Background(), JoinRequest{Room: "abc123", Nickname: "Alice"}))
	ct.Leave()
	state, room, _ := ct.State()
	require.Equal(t, Idle, state)
	require.Empty(t, room)

	// no ChangeFile is expected on the closed bridge
	require.NoError(t, ct.ws.ApplyEdit("a.txt", []workspace.TextEdit{insert(0, 0, "hi")}))
	ct.Leave()
}

func TestToggle(t *testing.T) {
	ct := newControllerTester(t, "/project")
	require.NoError(t, ct.Toggle(context.Background(), JoinRequest{Room: "abc123"}))
	state, _, nickname := ct.State()
	require.Equal(t, Syncing, state)
	require.Equal(t, "Guest", nickname)

	require.NoError(t, ct.Toggle(context.Background(), JoinRequest{}))
	state, _, _ = ct.State()
	require.Equal(t, Idle, state)
}

func TestJoinPrompt(t *testing.T) {
	t.Run("empty room cancels", func(t *testing.T) {
		ct := newControllerTester(t, "/project")
		ct.prompter.answer = func(JoinRequest) JoinRequest { return JoinRequest{Nickname: "Alice"} }
		require.NoError(t, ct.Join(context.Background(), JoinRequest{}))
		require.Empty(t, ct.dials)
		state, _, _ := ct.State()
		require.Equal(t, Idle, state)
	})
	t.Run("random room", func(t *testing.T) {
		ct := newControllerTester(t, "/project")
		ct.prompter.answer = func(JoinRequest) JoinRequest { return JoinRequest{} }
		require.NoError(t, ct.Join(context.Background(), JoinRequest{}))
		require.Len(t, ct.prompter.defaults, 1)
		require.Len(t, ct.prompter.defaults[0].Room, 20)
		require.Empty(t, ct.prompter.defaults[0].Nickname)
	})
	t.Run("configured room and last nickname", func(t *testing.T) {
		ct := newControllerTester(t, "/project")
		ct.cfg.DefaultRoom = "team"
		require.NoError(t, ct.store.SaveSession("old", "Alice"))
		ct.prompter.answer = func(d JoinRequest) JoinRequest {
			return JoinRequest{Room: d.Room, Nickname: "  "}
		}
		require.NoError(t, ct.Join(context.Background(), JoinRequest{}))
		require.Equal(t, JoinRequest{Room: "team", Nickname: "Alice"}, ct.prompter.defaults[0])
		require.Equal(t, []dialed{{"ws://relay:8081", "team", "Guest"}}, ct.dials)
	})
}

func TestJoinPromptLeavesControllerResponsive(t *testing.T) {
	for _, tc := range []struct {
		desc      string
		interrupt func(ct *controllerTester)
	}{
		{desc: "leave", interrupt: func(ct *controllerTester) { ct.Leave() }},
		{desc: "root change", interrupt: func(ct *controllerTester) {
			ct.ws.SetRoot(afero.NewMemMapFs(), "/elsewhere")
		}},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			ct := newControllerTester(t, "/project")
			waiting := make(chan struct{})
			release := make(chan struct{})
			ct.prompter.answer = func(JoinRequest) JoinRequest {
				close(waiting)
				<-release
				return JoinRequest{Room: "abc123", Nickname: "Alice"}
			}
			joined := make(chan error, 1)
			go func() { joined <- ct.Join(context.Background(), JoinRequest{}) }()
			<-waiting

			type result struct {
				state State
				err   error
			}
			responsive := make(chan result, 1)
			go func() {
				state, _, _ := ct.State()
				err := ct.FetchProject(context.Background())
				tc.interrupt(ct)
				responsive <- result{state, err}
			}()
			select {
			case res := <-responsive:
				require.Equal(t, Idle, res.state)
				require.NoError(t, res.err)
			case <-time.After(5 * time.Second):
				require.FailNow(t, "controller blocked while the join prompt was waiting")
			}

			close(release)
			require.NoError(t, <-joined)
			state, _, _ := ct.State()
			require.Equal(t, Idle, state)
			// dialed, then abandoned; gomock verifies the bridge was closed
			require.Len(t, ct.dials, 1)
			require.Empty(t, ct.notes.Infos())
		})
	}
}

func TestJoinDialFailure(t *testing.T) {
	ct := newControllerTester(t, "/project")
	ct.dialErr = errors.New("connection refused")
	err := ct.Join(context.Background(), JoinRequest{Room: "abc123", Nickname: "Alice"})
	require.ErrorContains(t, err, "connection refused")
	require.Equal(t, []string{"Failed to join room abc123"}, ct.notes.Errors())
	state, _, _ := ct.State()
	require.Equal(t, Idle, state)
}

func TestRootChangeLeaves(t *testing.T) {
	ct := newControllerTester(t, "/project")
	require.NoError(t, ct.Join(context.Background(), JoinRequest{Room: "abc123", Nickname: "Alice"}))
	ct.ws.SetRoot(afero.NewMemMapFs(), "/elsewhere")
	state, _, _ := ct.State()
	require.Equal(t, Idle, state)
}

func TestFetchProject(t *testing.T) {
	ct := newControllerTester(t, "/project")
	require.NoError(t, ct.FetchProject(context.Background()))

	require.NoError(t, ct.Join(context.Background(), JoinRequest{Room: "abc123", Nickname: "Alice"}))
	ct.lastBridge().EXPECT().RequestProject(gomock.Any()).Return(nil)
	require.NoError(t, ct.FetchProject(context.Background()))
}
