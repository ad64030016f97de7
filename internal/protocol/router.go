package protocol

import (
	"bytes"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Request is one classified command frame. Payload aliases Frame and is only
// valid until the next receive on the same transport.
type Request struct {
	Kind    Kind
	Payload []byte // bytes between the command token and the marker
	Frame   []byte // the complete frame, marker included
}

// Router classifies received text frames against the command vocabulary.
type Router struct {
	logger zerolog.Logger
}

// NewRouter creates a router.
func NewRouter() *Router {
	return &Router{
		logger: log.With().Str("component", "router").Logger(),
	}
}

// Route checks the frame for the end-of-record marker and then matches its
// leading bytes against the vocabulary. A frame that matches no command is
// returned with KindInvalid and ErrUnknownCommand.
func (r *Router) Route(frame []byte) (Request, error) {
	end := bytes.Index(frame, []byte(EndOfRecord))
	if end < 0 {
		r.logger.Warn().
			Int("frame_len", len(frame)).
			Msg("frame has no end-of-record marker")
		return Request{Kind: KindInvalid, Frame: frame}, ErrMissingSentinel
	}

	body := frame[:end]
	for _, v := range vocabulary {
		if bytes.HasPrefix(body, []byte(v.token)) {
			r.logger.Trace().
				Str("command", v.token).
				Int("payload_len", len(body)-len(v.token)).
				Msg("request routed")
			return Request{
				Kind:    v.kind,
				Payload: body[len(v.token):],
				Frame:   frame,
			}, nil
		}
	}

	r.logger.Warn().
		Str("head", printableHead(body, 16)).
		Msg("no request string found")
	return Request{Kind: KindInvalid, Frame: frame}, fmt.Errorf("%w: %q", ErrUnknownCommand, printableHead(body, 16))
}

// printableHead returns at most n leading bytes of b for logging.
func printableHead(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}
