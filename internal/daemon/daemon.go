// Package daemon runs strata in the background: a file watcher and an
// interval ticker produce snapshot triggers, a single runner executes them
// one at a time, and a control server on a Unix socket reports status and
// accepts manual triggers.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"github.com/majorcontext/strata/internal/config"
	"github.com/majorcontext/strata/internal/exclude"
	"github.com/majorcontext/strata/internal/log"
)

// ErrAlreadyRunning is returned by Run when another daemon serves the
// same repository.
var ErrAlreadyRunning = errors.New("a strata daemon is already running for this repository")

// Options configures a Daemon.
type Options struct {
	Config   *config.Config
	Snapshot Snapshotter
	Excludes *exclude.Set

	SocketPath string
	InfoPath   string
	LockPath   string
}

// Daemon owns the trigger sources, the runner and the control server.
type Daemon struct {
	cfg     *config.Config
	snap    Snapshotter
	queue   *Queue
	watcher *Watcher
	server  *Server
	opts    Options
	started time.Time

	mu   sync.Mutex
	last *RunResult
	runs int
}

// New builds a daemon. Nothing runs until Run.
func New(opts Options) *Daemon {
	d := &Daemon{
		cfg:   opts.Config,
		snap:  opts.Snapshot,
		queue: NewQueue(),
		opts:  opts,
	}
	if d.cfg.Monitor.Enabled {
		d.watcher = NewWatcher(d.cfg.SourcePaths, opts.Excludes, d.cfg.Monitor, func(reason string) {
			if !d.queue.Offer(Trigger{Source: SourceMonitor, Reason: reason}) {
				log.Debug("monitor trigger dropped; a snapshot is already pending or running")
			}
		})
	}
	d.server = NewServer(opts.SocketPath, d)
	return d
}

// Queue exposes the trigger queue.
func (d *Daemon) Queue() *Queue { return d.queue }

// Run serves until ctx is done or a shutdown is requested over the
// socket. An in-flight snapshot is interrupted through ctx.
func (d *Daemon) Run(ctx context.Context) error {
	if !d.cfg.Monitor.Enabled && d.cfg.Schedule.Duration() <= 0 {
		log.Warn("neither monitor nor schedule is enabled; only manual triggers will run")
	}

	if d.opts.LockPath != "" {
		lk := flock.New(d.opts.LockPath)
		ok, err := lk.TryLock()
		if err != nil {
			return fmt.Errorf("acquiring daemon lock: %w", err)
		}
		if !ok {
			return ErrAlreadyRunning
		}
		defer lk.Unlock()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	d.server.SetOnShutdown(cancel)

	d.started = time.Now()
	if err := d.server.Start(); err != nil {
		return fmt.Errorf("starting control server: %w", err)
	}
	if d.opts.InfoPath != "" {
		info := Info{PID: os.Getpid(), SockPath: d.opts.SocketPath, Repository: d.cfg.Repository, StartedAt: d.started}
		if err := WriteInfo(d.opts.InfoPath, info); err != nil {
			log.Warn("failed to write daemon info", "error", err)
		}
		defer RemoveInfo(d.opts.InfoPath)
	}
	log.Info("daemon started", "repository", d.cfg.Repository, "socket", d.opts.SocketPath)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.runLoop(gctx) })
	if d.watcher != nil {
		g.Go(func() error { return d.watcher.Run(gctx) })
	}
	if every := d.cfg.Schedule.Duration(); every > 0 {
		g.Go(func() error { return d.runTicker(gctx, every) })
	}
	g.Go(func() error {
		<-gctx.Done()
		stopCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		return d.server.Stop(stopCtx)
	})

	err := g.Wait()
	log.Info("daemon stopped")
	return err
}

// Status reports the daemon's current state.
func (d *Daemon) Status() StatusResponse {
	qs := d.queue.State()
	st := StatusResponse{
		Repository: d.cfg.Repository,
		StartedAt:  d.started.Format(time.RFC3339),
		InFlight:   qs.InFlight,
		Pending:    qs.Pending,
		Dropped:    qs.Dropped,
	}
	if d.cfg.Schedule.Duration() > 0 {
		st.Schedule = d.cfg.Schedule.String()
	}
	if d.watcher != nil {
		st.Monitoring = true
		st.WatchedDirs = d.watcher.WatchedDirs()
		st.PendingChanges = d.watcher.Pending()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	st.Runs = d.runs
	if d.last != nil {
		r := *d.last
		st.LastResult = &r
	}
	return st
}

// Trigger queues a manual snapshot.
func (d *Daemon) Trigger(req TriggerRequest) TriggerResponse {
	ok := d.queue.Offer(Trigger{Source: SourceManual, Reason: "manual trigger", Message: req.Message, Tags: req.Tags})
	return TriggerResponse{Queued: ok, Dropped: !ok}
}
