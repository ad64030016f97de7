// Package health runs periodic health checks for sparcd: a heartbeat and
// disk utilization of the volume holding the journal and logs.
package health

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sparc-project/sparcd/internal/config"
	"github.com/sparc-project/sparcd/internal/events"
	"github.com/sparc-project/sparcd/internal/util"
)

// SessionCounter reports how many sessions the wire server has accepted.
type SessionCounter interface {
	Sessions() int
}

// Monitor runs periodic health checks and emits their results on the bus.
type Monitor struct {
	cfg      config.HealthConfig
	eventBus *events.EventBus
	sessions SessionCounter
	started  time.Time

	diskUsage func(path string) (util.DiskUsage, error)
}

// NewMonitor creates a health monitor. sessions may be nil.
func NewMonitor(cfg config.HealthConfig, eventBus *events.EventBus, sessions SessionCounter) *Monitor {
	return &Monitor{
		cfg:       cfg,
		eventBus:  eventBus,
		sessions:  sessions,
		started:   time.Now(),
		diskUsage: util.GetDiskUsage,
	}
}

// Start launches each enabled check on its own ticker and blocks until ctx
// is cancelled.
func (m *Monitor) Start(ctx context.Context) {
	checks := []struct {
		name     string
		interval int
		fn       func(context.Context)
	}{
		{"heartbeat", m.cfg.HeartbeatInterval, m.heartbeat},
		{"disk_utilization", m.cfg.DiskCheckInterval, m.checkDiskUtilization},
	}

	running := 0
	for _, check := range checks {
		if check.interval <= 0 {
			continue
		}
		running++

		check := check
		go func() {
			ticker := time.NewTicker(time.Duration(check.interval) * time.Second)
			defer ticker.Stop()

			log.Debug().Str("check", check.name).Msg("running initial health check")
			check.fn(ctx)

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					check.fn(ctx)
				}
			}
		}()
	}

	log.Info().Int("checks", running).Msg("health monitor started")
	<-ctx.Done()
	log.Info().Msg("health monitor stopped")
}

func (m *Monitor) heartbeat(ctx context.Context) {
	payload := events.HeartbeatPayload{
		UptimeSec: int64(time.Since(m.started).Seconds()),
	}
	if m.sessions != nil {
		payload.Sessions = m.sessions.Sessions()
	}
	m.emit(ctx, events.EventHeartbeat, payload)
}

// checkDiskUtilization alerts at 80, 90, 95 and 100 percent.
func (m *Monitor) checkDiskUtilization(ctx context.Context) {
	path := m.cfg.DiskPath
	if path == "" {
		path = "."
	}

	usage, err := m.diskUsage(path)
	if err != nil {
		log.Warn().Err(err).Msg("disk utilization check failed")
		return
	}

	log.Debug().
		Float64("used_percent", usage.UsedPercent).
		Uint64("free_mb", usage.FreeMB).
		Msg("disk utilization")

	level := DiskAlertLevel(usage.UsedPercent)
	if level == "" {
		return
	}

	message := fmt.Sprintf("Disk usage at %.1f%% (%s free of %s)",
		usage.UsedPercent,
		util.FormatBytes(int64(usage.FreeMB)*1024*1024),
		util.FormatBytes(int64(usage.TotalMB)*1024*1024))
	log.Warn().Str("level", level).Str("path", path).Msg(message)

	m.emit(ctx, events.EventHealthAlert, events.HealthAlertPayload{
		Check:   "disk_utilization",
		Level:   level,
		Message: message,
	})
}

// DiskAlertLevel maps a used percentage to an alert level, or "" when no
// alert is due.
func DiskAlertLevel(usedPercent float64) string {
	switch {
	case usedPercent >= 100:
		return "critical"
	case usedPercent >= 95:
		return "error"
	case usedPercent >= 90:
		return "warning"
	case usedPercent >= 80:
		return "info"
	default:
		return ""
	}
}

func (m *Monitor) emit(ctx context.Context, typ events.EventType, payload interface{}) {
	if m.eventBus == nil {
		return
	}
	m.eventBus.Emit(ctx, events.Event{Type: typ, Source: "health_check", Payload: payload})
}
