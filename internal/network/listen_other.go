//go:build !linux

package network

import (
	"context"
	"net"

	"github.com/rs/zerolog/log"
)

// listenBacklog falls back to the runtime listener; the backlog is left to
// the operating system default.
func listenBacklog(ctx context.Context, address string, backlog int) (net.Listener, error) {
	log.Debug().Int("backlog", backlog).Msg("listen backlog not configurable on this platform")
	var lc net.ListenConfig
	return lc.Listen(ctx, "tcp", address)
}
