// Command server is the room relay agents join.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"collabtext/internal/config"
	"collabtext/internal/discovery"
	"collabtext/internal/log"
	"collabtext/internal/relay"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	conf := config.DefaultServerConfig()
	cmd := &cobra.Command{
		Use:          "server",
		Short:        "Relay edits between the members of collabtext rooms",
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
	flags.String("listen", conf.Listen, "address agents connect to")
	flags.String("redis-addr", conf.RedisAddr, "redis address shared by relay instances, rooms are kept in process if empty")
	flags.String("database-url", conf.DatabaseURL, "postgres url of the room journal, disabled if empty")
	flags.Bool("advertise", conf.Advertise, "announce the relay on the local network over mDNS")
	flags.String("log-level", conf.Log.Level, "log level")
	flags.String("log-encoder", conf.Log.Encoder, "log encoder, console or json")
	cobra.CheckErr(config.SetDefaults(v, conf))
	cobra.CheckErr(v.BindPFlags(flags))
	return cmd
}

// listenPort returns the port of a listen address such as ":8081".
func listenPort(addr string) (int, error) {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, fmt.Errorf("listen address %q: %w", addr, err)
	}
	return strconv.Atoi(port)
}

func newBroker(ctx context.Context, logger *zap.Logger, addr string) (relay.Broker, func(), error) {
	if addr == "" {
		logger.Info("keeping rooms in process")
		return relay.NewMemoryBroker(), func() {}, nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, nil, fmt.Errorf("connect to redis at %s: %w", addr, err)
	}
	logger.Info("connected to redis", zap.String("addr", addr))
	return relay.NewRedisBroker(rdb), func() { rdb.Close() }, nil
}

func run(ctx context.Context, conf config.ServerConfig) error {
	logger, err := log.New("relay", conf.Log)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	broker, closeBroker, err := newBroker(ctx, logger, conf.RedisAddr)
	if err != nil {
		return err
	}
	defer closeBroker()

	opts := []relay.Opt{relay.WithLogger(logger)}
	if conf.DatabaseURL != "" {
		journal, err := relay.NewPGJournal(ctx, conf.DatabaseURL)
		if err != nil {
			return err
		}
		defer journal.Close()
		logger.Info("recording room events to postgres")
		opts = append(opts, relay.WithJournal(journal))
	}
	httpSrv := &http.Server{Addr: conf.Listen, Handler: relay.New(broker, opts...).Handler()}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		logger.Info("relay listening", zap.String("addr", conf.Listen))
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
	if conf.Advertise {
		port, err := listenPort(conf.Listen)
		if err != nil {
			return err
		}
		eg.Go(func() error {
			return discovery.Advertise(ctx, logger.Named("discovery"), port)
		})
	}
	return eg.Wait()
}
