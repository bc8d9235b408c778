// Package discovery advertises relays on the local network and finds them.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"
)

const (
	// Service is the mDNS service type relays register under.
	Service = "_collabtext._tcp"
	domain  = "local."
)

// ErrNotFound is returned when no relay answered before the deadline.
var ErrNotFound = errors.New("no relay found")

// Advertise registers a relay listening on port until ctx is done.
func Advertise(ctx context.Context, logger *zap.Logger, port int) error {
	host, _ := os.Hostname()
	server, err := zeroconf.Register(
		fmt.Sprintf("%s-%s", "CollabText", host),
		Service,
		domain,
		port,
		[]string{"txtv=0", "path=/rooms"},
		nil,
	)
	if err != nil {
		return fmt.Errorf("register mdns service: %w", err)
	}
	defer server.Shutdown()
	logger.Info("mdns service registered", zap.String("service", Service), zap.Int("port", port))
	<-ctx.Done()
	return nil
}

// Resolve browses for relays and returns the websocket base URL of the
// first one that answers. ctx bounds the search.
func Resolve(ctx context.Context, logger *zap.Logger) (string, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return "", fmt.Errorf("create mdns resolver: %w", err)
	}
	entries := make(chan *zeroconf.ServiceEntry)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := resolver.Browse(ctx, Service, domain, entries); err != nil {
		return "", fmt.Errorf("browse mdns: %w", err)
	}
	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return "", ErrNotFound
			}
			if u := entryURL(entry); u != "" {
				logger.Info("discovered relay", zap.String("instance", entry.Instance), zap.String("url", u))
				return u, nil
			}
		case <-ctx.Done():
			return "", ErrNotFound
		}
	}
}

func entryURL(entry *zeroconf.ServiceEntry) string {
	switch {
	case len(entry.AddrIPv4) > 0:
		return fmt.Sprintf("ws://%s:%d", entry.AddrIPv4[0], entry.Port)
	case len(entry.AddrIPv6) > 0:
		return fmt.Sprintf("ws://[%s]:%d", entry.AddrIPv6[0], entry.Port)
	}
	return ""
}
