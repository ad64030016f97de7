package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/sparc-project/sparcd/internal/config"
	"github.com/sparc-project/sparcd/internal/util"
)

const (
	defaultSessionLimit = 20
	maxSessionLimit     = 500
)

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "sparcd",
		"version": config.Version,
	})
}

// handleSystem returns host information and a load sample.
func (s *Server) handleSystem(c *gin.Context) {
	resp := gin.H{"system": util.GetSystemInfo()}

	usage, err := util.GetResourceUsage(s.diskPath)
	if err != nil {
		log.Debug().Err(err).Msg("resource usage unavailable")
	} else {
		resp["usage"] = usage
	}
	c.JSON(http.StatusOK, resp)
}

// handleState returns the wire server's view of the current session.
func (s *Server) handleState(c *gin.Context) {
	live := s.snapshotLive()

	resp := gin.H{
		"listen_addr":    live.listenAddr,
		"engine":         live.engine,
		"sessions":       live.sessions,
		"session_active": live.active,
		"session_id":     live.sessionID,
		"remote":         live.remote,
		"state":          nil,
	}
	if live.snapshot != nil {
		resp["state"] = live.snapshot
	}
	c.JSON(http.StatusOK, resp)
}

// handleSessions lists journaled sessions, newest first.
func (s *Server) handleSessions(c *gin.Context) {
	if s.journal == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "journal disabled"})
		return
	}

	limit := defaultSessionLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxSessionLimit {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}

	sessions, err := s.journal.RecentSessions(c.Request.Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("failed to list sessions")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read journal"})
		return
	}
	stats, err := s.journal.Stats(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to read journal stats")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read journal"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sessions": sessions,
		"total":    stats.Sessions,
		"requests": stats.Requests,
	})
}

// handleSessionRequests lists the requests of one journaled session.
func (s *Server) handleSessionRequests(c *gin.Context) {
	if s.journal == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "journal disabled"})
		return
	}

	id := c.Param("id")
	reqs, err := s.journal.SessionRequests(c.Request.Context(), id)
	if err != nil {
		log.Error().Err(err).Str("session", id).Msg("failed to list requests")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read journal"})
		return
	}
	if len(reqs) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id": id,
		"requests":   reqs,
	})
}
