// Command agent hosts a local workspace, serves it to editors over a
// websocket and keeps it in sync with a room on a relay.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"collabtext/internal/bridge"
	"collabtext/internal/config"
	"collabtext/internal/discovery"
	"collabtext/internal/editor"
	"collabtext/internal/engine"
	"collabtext/internal/log"
	"collabtext/internal/metrics"
	"collabtext/internal/store"
	"collabtext/internal/trash"
	"collabtext/internal/watch"
	"collabtext/internal/workspace"
)

const resolveTimeout = 15 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	conf := config.DefaultAgentConfig()
	cmd := &cobra.Command{
		Use:          "agent",
		Short:        "Sync a local workspace with a collabtext room",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.Load(v, v.GetString("config"), &conf); err != nil {
				return err
			}
			return run(cmd.Context(), conf)
		},
	}
	flags := cmd.Flags()
	flags.StringP("config", "c", "", "load configuration from file")
	flags.String("root", conf.Root, "workspace folder to sync")
	flags.String("listen", conf.Listen, "address editors connect to")
	flags.String("hostname", conf.Sync.Hostname, "relay address, or mdns to discover one on the local network")
	flags.String("default-room", conf.Sync.DefaultRoom, "room suggested when joining, random if empty")
	flags.String("nickname", conf.Sync.Nickname, "nickname suggested when joining")
	flags.Duration("flush-delay", conf.Sync.FlushDelay, "how long remote edits are collected before they are applied")
	flags.Bool("join", conf.Join, "join a room on start")
	flags.String("state", conf.State, "path of the local state database")
	flags.String("trash-dir", conf.TrashDir, "folder under the root that deleted files are moved to")
	flags.String("log-level", conf.Log.Level, "log level")
	flags.String("log-encoder", conf.Log.Encoder, "log encoder, console or json")
	cobra.CheckErr(config.SetDefaults(v, conf))
	cobra.CheckErr(v.BindPFlags(flags))
	return cmd
}

// rootFs confines workspace file access to root.
func rootFs(root string) afero.Fs {
	if root == "" {
		return afero.NewMemMapFs()
	}
	return afero.NewBasePathFs(afero.NewOsFs(), root)
}

func run(ctx context.Context, conf config.AgentConfig) error {
	logger, err := log.New("agent", conf.Log)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := conf.Root
	if root != "" {
		if root, err = filepath.Abs(root); err != nil {
			return fmt.Errorf("workspace root: %w", err)
		}
	}

	db, err := store.Open(conf.State)
	if err != nil {
		return err
	}
	defer db.Close()

	ws := workspace.New(rootFs(root), root, workspace.WithLogger(logger.Named("workspace")))
	hub := editor.NewHub(logger.Named("editor"))
	newTrash := func(fs afero.Fs) *trash.Trash {
		return trash.New(fs, db, trash.WithLogger(logger.Named("trash")), trash.WithDir(conf.TrashDir))
	}

	dial := func(ctx context.Context, hostname, room, nickname string) (engine.Bridge, error) {
		if hostname == config.Mdns {
			rctx, cancel := context.WithTimeout(ctx, resolveTimeout)
			defer cancel()
			resolved, err := discovery.Resolve(rctx, logger.Named("discovery"))
			if err != nil {
				return nil, err
			}
			hostname = resolved
		}
		c, err := bridge.Dial(ctx, hostname, room, nickname,
			bridge.WithLogger(logger.Named("bridge")),
			bridge.WithConfig(conf.Bridge),
		)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	newWatcher := func(root string) (engine.FileWatcher, error) {
		w, err := watch.New(root, watch.WithLogger(logger.Named("watch")), watch.WithIgnore(conf.TrashDir))
		if err != nil {
			return nil, err
		}
		return w, nil
	}

	ctrl := engine.NewController(ws, dial,
		func(h engine.Host) engine.Trasher { return newTrash(h.Fs()) },
		engine.WithLogger(logger.Named("engine")),
		engine.WithConfig(conf.Sync),
		engine.WithPrompter(editor.NewTerminalPrompter()),
		engine.WithControllerNotifier(hub),
		engine.WithWatcherFactory(newWatcher),
		engine.WithStore(db),
	)
	defer ctrl.Close()

	srv := editor.New(hub, ws, ctrl,
		editor.WithLogger(logger.Named("editor")),
		editor.WithTrash(func() editor.Trash { return newTrash(ws.Fs()) }),
		editor.WithRootFs(rootFs),
	)
	defer srv.Close()

	r := mux.NewRouter()
	r.Handle("/metrics", metrics.Handler())
	r.PathPrefix("/").Handler(srv.Handler())
	httpSrv := &http.Server{Addr: conf.Listen, Handler: r}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		hub.Run(ctx)
		return nil
	})
	eg.Go(func() error {
		logger.Info("agent listening", zap.String("addr", conf.Listen), zap.String("root", root))
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(sctx)
	})
	if conf.Join {
		eg.Go(func() error {
			if err := ctrl.Join(ctx, engine.JoinRequest{}); err != nil {
				logger.Warn("failed to join on start", zap.Error(err))
			}
			return nil
		})
	}
	return eg.Wait()
}
