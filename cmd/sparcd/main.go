// sparcd - SPARC force-field socket server.
//
// sparcd listens on a single TCP port, serves one driver connection at a
// time over the sentinel-framed wire protocol, and optionally journals
// sessions to SQLite, publishes telemetry via MQTT and exposes a read-only
// status API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sparc-project/sparcd/internal/api"
	"github.com/sparc-project/sparcd/internal/calc"
	"github.com/sparc-project/sparcd/internal/config"
	"github.com/sparc-project/sparcd/internal/db"
	"github.com/sparc-project/sparcd/internal/events"
	"github.com/sparc-project/sparcd/internal/health"
	"github.com/sparc-project/sparcd/internal/scheduler"
	"github.com/sparc-project/sparcd/internal/server"
	"github.com/sparc-project/sparcd/internal/telemetry"
	"github.com/sparc-project/sparcd/internal/util"
)

var (
	configFile string
	portFlag   int
	queueFlag  int
)

var rootCmd = &cobra.Command{
	Use:   "sparcd",
	Short: "SPARC socket server for i-PI style drivers",
	Long: `sparcd serves force and stress calculations to a single driver over TCP.

Commands are text frames terminated by CRLF CRLF: STATUS, INIT, POSDATA,
GETFORCE, GETSTRESS, ABORT and ECHO. The server stops after a client sends
ABORT or on SIGINT/SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		// past this point failures are runtime errors, not usage errors
		cmd.SilenceUsage = true
		return run(cmd.Context(), cfg)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c",
		filepath.Join(config.DefaultConfigDir, config.DefaultConfigFile),
		"Configuration file (.json or .toml)")
	rootCmd.Flags().IntVarP(&portFlag, "port", "p", config.DefaultPort,
		fmt.Sprintf("TCP port to listen on (%d-65535)", config.MinPort))
	rootCmd.Flags().IntVarP(&queueFlag, "max_queue", "m", config.DefaultMaxQueue,
		"Maximum pending connections (>= 1)")

	rootCmd.AddCommand(journalCmd, configCmd)
}

// loadConfig reads the config file, overlays explicitly set flags and
// validates the result.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	applyFlags(cmd, cfg)

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			fmt.Fprintln(cmd.ErrOrStderr(), e.Error())
		}
		return nil, fmt.Errorf("invalid configuration: %s", validation.Errors[0].Message)
	}
	return cfg, nil
}

func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	srv := cfg.GetServer()
	if cmd.Flags().Changed("port") {
		srv.Port = portFlag
	}
	if cmd.Flags().Changed("max_queue") {
		srv.MaxQueue = queueFlag
	}
	cfg.SetServer(srv)
}

// run starts every enabled component and serves the wire protocol until a
// client aborts or a signal arrives.
func run(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}

	logCfg := cfg.GetLogging()
	logCloser, err := util.InitLogger(util.LogConfig{
		Level:      logCfg.Level,
		Directory:  logCfg.Directory,
		MaxBackups: logCfg.MaxBackups,
		Console:    true,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logCloser.Close()

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("version", config.Version).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Str("hostname", sysInfo.Hostname).
		Str("cpu", sysInfo.CPUModel).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Str("config", cfg.Path()).
		Msg("starting sparcd")

	computer, err := calc.NewComputer(cfg.GetCompute())
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	eventBus := events.NewEventBus()
	srv := server.New(cfg.GetServer(), eventBus, computer)
	var wg sync.WaitGroup

	healthMonitor := health.NewMonitor(cfg.GetHealth(), eventBus, srv)
	wg.Add(1)
	go func() {
		defer wg.Done()
		healthMonitor.Start(ctx)
	}()

	var journal *db.Journal
	journalCfg := cfg.GetJournal()
	if journalCfg.Enabled {
		journal, err = db.OpenJournal(journalCfg.Path)
		if err != nil {
			log.Warn().Err(err).Msg("failed to open journal, sessions will not be recorded")
		} else {
			journal.Attach(eventBus)
			sched := scheduler.NewScheduler(journalCfg, journal)
			wg.Add(1)
			go func() {
				defer wg.Done()
				sched.Start(ctx)
			}()
		}
	}

	if mqttCfg := cfg.GetMQTT(); mqttCfg.Enabled {
		mqttHandler, err := telemetry.NewMQTTHandler(mqttCfg, eventBus)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		} else {
			wg.Add(1)
			go func() {
				defer wg.Done()
				log.Info().Msg("starting MQTT telemetry")
				if err := mqttHandler.Start(ctx); err != nil {
					log.Warn().Err(err).Msg("MQTT telemetry failed")
				}
			}()
		}
	}

	if apiCfg := cfg.GetAPI(); apiCfg.Enabled {
		var reader api.JournalReader
		if journal != nil {
			reader = journal
		}
		apiServer := api.NewServer(apiCfg, logCfg.Level, eventBus, reader)
		if journal != nil {
			apiServer.SetDiskPath(filepath.Dir(journal.Path()))
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Int("port", apiCfg.Port).Msg("starting status API")
			if err := startWithRetry(ctx, "status API", apiServer.Start, 5); err != nil {
				log.Warn().Err(err).Msg("status API failed after retries (non-fatal)")
			}
		}()
	}

	serveErr := srv.Serve(ctx)
	if serveErr != nil {
		log.Error().Err(serveErr).Msg("server failed")
	}

	log.Info().Msg("initiating graceful shutdown...")
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(30 * time.Second):
		log.Warn().Msg("shutdown timed out after 30 seconds")
	}

	// The bus drains before the journal closes so the last session is recorded.
	eventBus.Stop()
	if journal != nil {
		if err := journal.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close journal")
		}
	}
	if dropped := eventBus.Dropped(); dropped > 0 {
		log.Warn().Uint64("dropped", dropped).Msg("event bus dropped events")
	}

	log.Info().Int("sessions", srv.Sessions()).Msg("sparcd stopped")
	return serveErr
}

// startWithRetry attempts to start a listener/server with retry on bind errors.
func startWithRetry(ctx context.Context, name string, startFn func(context.Context) error, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if ctx.Err() != nil {
			return nil
		}
		lastErr = startFn(ctx)
		if lastErr == nil {
			return nil
		}
		if i < maxRetries {
			log.Warn().Err(lastErr).Str("component", name).Int("retry", i+1).Int("max", maxRetries).Msg("bind failed, retrying in 3s...")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(3 * time.Second):
			}
		}
	}
	return lastErr
}
