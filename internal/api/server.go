package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/sparc-project/sparcd/internal/calc"
	"github.com/sparc-project/sparcd/internal/config"
	"github.com/sparc-project/sparcd/internal/db"
	"github.com/sparc-project/sparcd/internal/events"
	"github.com/sparc-project/sparcd/internal/network"
)

// JournalReader is the read side of the session journal.
type JournalReader interface {
	RecentSessions(ctx context.Context, limit int) ([]db.SessionRecord, error)
	SessionRequests(ctx context.Context, sessionID string) ([]db.RequestRecord, error)
	Stats(ctx context.Context) (db.JournalStats, error)
}

// liveState is what the API knows about the running server, fed by the
// event bus.
type liveState struct {
	listenAddr string
	engine     string
	sessionID  string
	remote     string
	active     bool
	snapshot   *calc.Snapshot
	sessions   int
}

// Server is the read-only HTTP status API for sparcd.
type Server struct {
	cfg      config.APIConfig
	journal  JournalReader
	diskPath string

	mu   sync.RWMutex
	live liveState

	httpServer *http.Server
	router     *gin.Engine
}

// NewServer creates a new API server and subscribes it to server events.
// journal may be nil when the journal is disabled; the session routes then
// answer 503.
func NewServer(cfg config.APIConfig, logLevel string, eventBus *events.EventBus, journal JournalReader) *Server {
	if logLevel == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:      cfg,
		journal:  journal,
		diskPath: ".",
	}
	s.router = s.buildRouter()

	if eventBus != nil {
		eventBus.Subscribe("api", s.onEvent,
			events.EventServerListening,
			events.EventSessionOpened,
			events.EventStateChanged,
			events.EventSessionClosed,
		)
	}
	return s
}

// SetDiskPath sets the path whose volume is reported by /api/public/system.
func (s *Server) SetDiskPath(path string) {
	s.diskPath = path
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves HTTP until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	ln, err := network.Listen(ctx, network.ListenConfig{
		Host:    s.cfg.Host,
		Port:    s.cfg.Port,
		Backlog: 128,
	})
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}

	s.httpServer = &http.Server{
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	log.Info().Str("addr", ln.Addr().String()).Msg("status API starting")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	err = s.httpServer.Serve(ln.Unwrap())
	if ctx.Err() != nil {
		return nil
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

// buildRouter creates the Gin router with all routes and middleware.
func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	allowedOrigins := s.cfg.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	public := router.Group("/api/public")
	{
		public.GET("/ping", s.handlePing)
		public.GET("/system", s.handleSystem)
	}

	apiGroup := router.Group("/api")
	{
		apiGroup.GET("/state", s.handleState)
		apiGroup.GET("/sessions", s.handleSessions)
		apiGroup.GET("/sessions/:id/requests", s.handleSessionRequests)
	}

	router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "sparcd status API is running"})
	})

	return router
}

// onEvent keeps the live view of the wire server current.
func (s *Server) onEvent(_ context.Context, event events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch p := event.Payload.(type) {
	case events.ServerListeningPayload:
		s.live.listenAddr = p.Addr
		s.live.engine = p.Engine
	case events.SessionOpenedPayload:
		s.live.sessionID = p.SessionID
		s.live.remote = p.Remote
		s.live.active = true
		s.live.snapshot = nil
		s.live.sessions++
	case events.StateChangedPayload:
		snap := p.Snapshot
		s.live.snapshot = &snap
	case events.SessionClosedPayload:
		if p.SessionID == s.live.sessionID {
			s.live.active = false
		}
	}
	return nil
}

func (s *Server) snapshotLive() liveState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.live
}
