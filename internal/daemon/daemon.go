package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/harun/nanobot/internal/config"
	"github.com/harun/nanobot/internal/observability"
	"github.com/harun/nanobot/internal/tracing"
	"github.com/harun/nanobot/pkg/agent"
	"github.com/harun/nanobot/pkg/channels"
	"github.com/harun/nanobot/pkg/cron"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

// Status is a point-in-time view of the gateway.
type Status struct {
	Running  bool                       `json:"running"`
	Uptime   time.Duration              `json:"uptime"`
	Addr     string                     `json:"addr,omitempty"`
	Channels map[string]channels.Status `json:"channels"`
	Cron     cron.Status                `json:"cron"`
	Sessions int                        `json:"sessions"`
}

// Daemon is the long-running gateway: agent loop, channels, outbound dispatch, cron,
// bootstrap file watcher and the HTTP server, supervised by one errgroup.
type Daemon struct {
	config    *config.Config
	runtime   *Runtime
	channels  *channels.Manager
	cron      *cron.Service
	lifecycle *LifecycleManager
	logger    zerolog.Logger

	mu        sync.Mutex
	running   bool
	startTime time.Time
	addr      string
	cancel    context.CancelFunc
	done      chan struct{}
	err       error
}

// New builds the gateway around rt. Cron replies and cli-bound messages are written to
// out; a nil out drops them.
func New(cfg *config.Config, rt *Runtime, out io.Writer) (*Daemon, error) {
	if out == nil {
		out = io.Discard
	}

	mgr, err := channels.NewManagerFromConfig(cfg, rt.Bus, out)
	if err != nil {
		return nil, fmt.Errorf("failed to create channels: %w", err)
	}

	cronSvc, err := cron.NewService(cron.ServiceOptions{
		StorePath: cfg.CronStorePath(),
		Handler:   cron.NewBusHandler(rt.Bus),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create cron service: %w", err)
	}

	return &Daemon{
		config:    cfg,
		runtime:   rt,
		channels:  mgr,
		cron:      cronSvc,
		lifecycle: NewLifecycleManager(cfg.PIDFile()),
		logger:    log.With().Str("component", "daemon").Logger(),
	}, nil
}

// Channels returns the channel manager.
func (d *Daemon) Channels() *channels.Manager {
	return d.channels
}

// Cron returns the scheduler.
func (d *Daemon) Cron() *cron.Service {
	return d.cron
}

// Start writes the PID file and launches every component. It returns once the HTTP
// listener is bound.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return fmt.Errorf("daemon is already running")
	}

	traceID := tracing.NewTraceID()
	logger := d.logger.With().Str("trace_id", traceID).Logger()
	logger.Info().Msg("Starting nanobot gateway")

	if err := d.lifecycle.Start(); err != nil {
		return err
	}

	addr := net.JoinHostPort(d.config.Gateway.Host, strconv.Itoa(d.config.Gateway.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		_ = d.lifecycle.Stop()
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	if err := observability.InitAuditLogger(d.config.AuditLogPath()); err != nil {
		logger.Warn().Err(err).Msg("Audit log disabled")
	}

	watcher, err := agent.NewWatcher(d.logger, d.runtime.Context)
	if err != nil {
		logger.Warn().Err(err).Msg("Bootstrap watcher disabled")
	}

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	server := &http.Server{Handler: d.routes(), ReadHeaderTimeout: 10 * time.Second}

	g.Go(func() error {
		return d.runtime.Loop.Run(gctx)
	})
	g.Go(func() error {
		return d.channels.Run(gctx)
	})
	g.Go(func() error {
		if err := d.cron.Start(gctx); err != nil {
			return fmt.Errorf("failed to start cron service: %w", err)
		}
		<-gctx.Done()
		d.cron.Stop()
		return nil
	})
	g.Go(func() error {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("gateway server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	})

	d.running = true
	d.startTime = time.Now()
	d.addr = ln.Addr().String()
	d.cancel = cancel
	d.done = make(chan struct{})
	d.err = nil

	go func() {
		err := g.Wait()
		d.runtime.Close()
		if watcher != nil {
			_ = watcher.Stop()
		}
		_ = observability.GetAuditLogger().Close()
		if stopErr := d.lifecycle.Stop(); stopErr != nil {
			d.logger.Warn().Err(stopErr).Msg("Failed to remove PID file")
		}

		d.mu.Lock()
		d.running = false
		d.err = err
		done := d.done
		d.mu.Unlock()
		close(done)

		d.logger.Info().Msg("Gateway stopped")
	}()

	logger.Info().
		Str("addr", d.addr).
		Strs("channels", d.channels.Names()).
		Bool("metrics", d.config.Gateway.MetricsEnabled).
		Msg("Gateway started")
	return nil
}

// Stop cancels every component and waits for them to exit.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	cancel := d.cancel
	d.mu.Unlock()

	d.logger.Info().Msg("Stopping gateway")
	cancel()
	return d.Wait()
}

// Wait blocks until the gateway has stopped and returns the first component error.
func (d *Daemon) Wait() error {
	d.mu.Lock()
	done := d.done
	d.mu.Unlock()
	if done == nil {
		return ErrNotStarted
	}

	<-done
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// Run starts the gateway and blocks until ctx is done.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.Start(ctx); err != nil {
		return err
	}
	return d.Wait()
}

// Status reports the gateway's current state.
func (d *Daemon) Status() Status {
	d.mu.Lock()
	st := Status{Running: d.running, Addr: d.addr}
	if d.running {
		st.Uptime = time.Since(d.startTime)
	}
	d.mu.Unlock()

	st.Channels = d.channels.Status()
	st.Cron = d.cron.Status()
	if infos, err := d.runtime.Sessions.ListSessions(); err == nil {
		st.Sessions = len(infos)
	}
	return st
}

func (d *Daemon) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", d.handleHealth)
	if d.config.Gateway.MetricsEnabled {
		mux.Handle("/metrics", observability.MetricsHandler())
	}
	if ws := d.channels.WebSocket(); ws != nil {
		mux.Handle("/ws", ws)
	}
	return mux
}

func (d *Daemon) handleHealth(w http.ResponseWriter, _ *http.Request) {
	st := d.Status()
	body := map[string]any{
		"status":   "ok",
		"uptime":   st.Uptime.Round(time.Second).String(),
		"channels": st.Channels,
		"cron":     st.Cron,
		"sessions": st.Sessions,
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		d.logger.Debug().Err(err).Msg("Failed to write health response")
	}
}
