package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sparc-project/sparcd/internal/config"
	"github.com/sparc-project/sparcd/internal/events"
	"github.com/sparc-project/sparcd/internal/util"
)

type fixedSessions int

func (f fixedSessions) Sessions() int { return int(f) }

type collector struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *collector) handle(_ context.Context, e events.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return nil
}

func (c *collector) all() []events.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]events.Event(nil), c.events...)
}

func newTestMonitor(t *testing.T, used float64, diskErr error) (*Monitor, *events.EventBus, *collector) {
	t.Helper()
	bus := events.NewEventBus()
	c := &collector{}
	bus.Subscribe("test", c.handle)

	m := NewMonitor(config.DefaultConfig().GetHealth(), bus, fixedSessions(3))
	m.diskUsage = func(path string) (util.DiskUsage, error) {
		return util.DiskUsage{Path: path, TotalMB: 1000, FreeMB: uint64(1000 * (100 - used) / 100), UsedPercent: used}, diskErr
	}
	return m, bus, c
}

func TestDiskAlertLevel(t *testing.T) {
	assert.Equal(t, "", DiskAlertLevel(42))
	assert.Equal(t, "info", DiskAlertLevel(80))
	assert.Equal(t, "warning", DiskAlertLevel(91))
	assert.Equal(t, "error", DiskAlertLevel(95.5))
	assert.Equal(t, "critical", DiskAlertLevel(100))
}

func TestDiskCheckEmitsAlertAboveThreshold(t *testing.T) {
	m, bus, c := newTestMonitor(t, 92, nil)
	m.checkDiskUtilization(context.Background())
	bus.Stop()

	got := c.all()
	require.Len(t, got, 1)
	assert.Equal(t, events.EventHealthAlert, got[0].Type)
	alert, ok := got[0].Payload.(events.HealthAlertPayload)
	require.True(t, ok)
	assert.Equal(t, "warning", alert.Level)
	assert.Contains(t, alert.Message, "92.0%")
}

func TestDiskCheckQuietBelowThresholdOrOnError(t *testing.T) {
	m, bus, c := newTestMonitor(t, 50, nil)
	m.checkDiskUtilization(context.Background())

	m.diskUsage = func(string) (util.DiskUsage, error) { return util.DiskUsage{}, errors.New("no such volume") }
	m.checkDiskUtilization(context.Background())
	bus.Stop()

	assert.Empty(t, c.all())
}

func TestHeartbeatReportsSessions(t *testing.T) {
	m, bus, c := newTestMonitor(t, 0, nil)
	m.heartbeat(context.Background())
	bus.Stop()

	got := c.all()
	require.Len(t, got, 1)
	hb, ok := got[0].Payload.(events.HeartbeatPayload)
	require.True(t, ok)
	assert.Equal(t, 3, hb.Sessions)
}

func TestStartRunsInitialChecksAndStops(t *testing.T) {
	m, bus, c := newTestMonitor(t, 99, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(c.all()) >= 2 }, 5*time.Second, 10*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("monitor did not stop")
	}
	bus.Stop()
}
