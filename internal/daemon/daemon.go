// Package daemon is the long-running supervisor: it acquires the
// single-instance lock, then loops on an interval checking the pause
// directive, the blocker detector, and the control flags before
// dispatching work to the iteration loop as a subprocess.
package daemon

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/zakelfassi/Ralph-Kit/internal/blocker"
	"github.com/zakelfassi/Ralph-Kit/internal/config"
	"github.com/zakelfassi/Ralph-Kit/internal/controldoc"
	"github.com/zakelfassi/Ralph-Kit/internal/lock"
	"github.com/zakelfassi/Ralph-Kit/internal/loop"
	"github.com/zakelfassi/Ralph-Kit/internal/notify"
	"github.com/zakelfassi/Ralph-Kit/internal/router"
)

// LockFileName is the single-instance lock inside the .ralph directory.
const LockFileName = "daemon.lock"

type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

func parseLogLevel(s string) LogLevel {
	switch strings.ToLower(s) {
	case "debug":
		return LogLevelDebug
	case "info":
		return LogLevelInfo
	case "warn", "warning":
		return LogLevelWarn
	case "error":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

// Daemon is the ralph supervisor process.
type Daemon struct {
	cfg      *config.Config
	logLevel LogLevel
	logger   *log.Logger
	logFile  io.Closer

	fileLock   *lock.FileLock
	control    *controldoc.Doc
	detector   *blocker.Detector
	dispatcher Dispatcher
	notifier   notify.Notifier

	// sleep is injectable for tests. It must honor ctx.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a daemon for the configured repository, logging to
// .ralph/logs/daemon.log.
func New(cfg *config.Config, notifier notify.Notifier) (*Daemon, error) {
	stateDir, err := cfg.StateDir()
	if err != nil {
		return nil, err
	}

	logPath := filepath.Join(stateDir, "logs", "daemon.log")
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open daemon log: %w", err)
	}

	disp := NewExecDispatcher(cfg)
	d := newDaemon(cfg, notifier, logFile, disp)
	disp.Logf = func(format string, args ...any) { d.log(LogLevelInfo, format, args...) }
	d.logFile = logFile
	return d, nil
}

// newDaemon is the internal constructor for testing.
func newDaemon(cfg *config.Config, notifier notify.Notifier, w io.Writer, dispatcher Dispatcher) *Daemon {
	if notifier == nil {
		notifier = notify.Discard{}
	}

	stateDir := filepath.Join(cfg.RepoDir, config.StateDirName)
	detector := blocker.NewDetector(
		cfg.QuestionDocPath(),
		blocker.NewFileStore(filepath.Join(stateDir, blocker.FileName)),
	)
	detector.Threshold = cfg.BlockerThreshold

	d := &Daemon{
		cfg:        cfg,
		logLevel:   parseLogLevel(cfg.LogLevel),
		logger:     log.New(w, "", log.LstdFlags),
		fileLock:   lock.NewFileLock(filepath.Join(stateDir, LockFileName)),
		control:    controldoc.New(cfg.RepoDir, cfg.ControlDocPath()),
		detector:   detector,
		dispatcher: dispatcher,
		notifier:   notifier,
		sleep:      sleepCtx,
	}
	d.control.Logf = func(format string, args ...any) { d.log(LogLevelInfo, format, args...) }
	d.detector.Logf = func(format string, args ...any) { d.log(LogLevelInfo, format, args...) }
	return d
}

// Run acquires the lock and cycles until ctx is cancelled. A second
// instance finding the lock held logs and exits as a no-op, not an
// error.
func (d *Daemon) Run(ctx context.Context) error {
	stateDir := filepath.Join(d.cfg.RepoDir, config.StateDirName)
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	if err := d.fileLock.TryLock(); err != nil {
		if err == lock.ErrLocked {
			d.log(LogLevelInfo, "another instance holds the lock (pid=%d), exiting",
				lock.HolderPID(filepath.Join(stateDir, LockFileName)))
			return nil
		}
		return fmt.Errorf("daemon lock: %w", err)
	}
	defer d.fileLock.Unlock()
	defer d.closeLog()

	d.log(LogLevelInfo, "daemon starting pid=%d repo=%s interval=%v",
		os.Getpid(), d.cfg.RepoDir, d.cfg.CycleInterval)

	// A control-doc change wakes the sleep early so directives take
	// effect without waiting out a full interval.
	wake := d.watchControlDoc(ctx)

	for {
		if ctx.Err() != nil {
			d.log(LogLevelInfo, "daemon stopping: %v", ctx.Err())
			return nil
		}

		d.runCycle(ctx)

		if err := d.sleepOrWake(ctx, d.cfg.CycleInterval, wake); err != nil {
			d.log(LogLevelInfo, "daemon stopping: %v", err)
			return nil
		}
	}
}

// runCycle executes one pass of the supervisor state machine:
// CHECK_PAUSE -> CHECK_BLOCKER -> CONSUME_FLAGS -> DISPATCH.
func (d *Daemon) runCycle(ctx context.Context) {
	cycle := uuid.NewString()[:8]

	// CHECK_PAUSE: the pause directive is checked, never consumed. It
	// persists until an operator removes it.
	paused, err := d.control.Has(controldoc.DirectivePause)
	if err != nil {
		d.log(LogLevelError, "cycle=%s control doc: %v", cycle, err)
		return
	}
	if paused {
		d.log(LogLevelInfo, "cycle=%s paused, skipping", cycle)
		return
	}

	// CHECK_BLOCKER: same open questions for too many cycles means the
	// loop is spinning against a wall. Back off, then reset the counter
	// for a fresh attempt.
	blocked, err := d.detector.CheckAndUpdate()
	if err != nil {
		d.log(LogLevelError, "cycle=%s blocker check: %v", cycle, err)
		return
	}
	if blocked {
		d.log(LogLevelWarn, "cycle=%s blocked on open questions, cooling down %v",
			cycle, d.cfg.BlockerCooldown)
		d.notifier.Notify(ctx, "ralph: blocked",
			fmt.Sprintf("open questions unchanged for %d cycles; pausing %v",
				d.cfg.BlockerThreshold, d.cfg.BlockerCooldown))
		if err := d.sleep(ctx, d.cfg.BlockerCooldown); err != nil {
			return
		}
		if err := d.detector.Reset(); err != nil {
			d.log(LogLevelError, "cycle=%s blocker reset: %v", cycle, err)
		}
		return
	}

	d.consumeFlags(ctx, cycle)
	d.dispatch(ctx, cycle)
}

// consumeFlags handles the one-shot directives.
func (d *Daemon) consumeFlags(ctx context.Context, cycle string) {
	if consumed, err := d.control.TryConsume(ctx, controldoc.DirectiveReplan); err != nil {
		d.log(LogLevelError, "cycle=%s consume replan: %v", cycle, err)
	} else if consumed {
		d.log(LogLevelInfo, "cycle=%s replan requested", cycle)
		if err := d.dispatcher.RunLoop(ctx, router.TaskPlanWork, 1); err != nil {
			d.log(LogLevelError, "cycle=%s replan iteration: %v", cycle, err)
		}
	}

	if consumed, err := d.control.TryConsume(ctx, controldoc.DirectiveDeploy); err != nil {
		d.log(LogLevelError, "cycle=%s consume deploy: %v", cycle, err)
	} else if consumed {
		d.runHook(ctx, cycle, "deploy", d.cfg.DeployCommand)
	}

	if consumed, err := d.control.TryConsume(ctx, controldoc.DirectiveIngestLogs); err != nil {
		d.log(LogLevelError, "cycle=%s consume ingest: %v", cycle, err)
	} else if consumed {
		d.runHook(ctx, cycle, "ingest", d.cfg.IngestCommand)
	}
}

// runHook runs a configured external command. An unconfigured hook is
// logged and notified but never fails the daemon.
func (d *Daemon) runHook(ctx context.Context, cycle, name, command string) {
	if command == "" {
		d.log(LogLevelWarn, "cycle=%s %s requested but no command configured", cycle, name)
		d.notifier.Notify(ctx, "ralph: "+name+" skipped",
			"directive consumed but no "+name+" command is configured")
		return
	}
	d.log(LogLevelInfo, "cycle=%s running %s command", cycle, name)
	if err := d.dispatcher.RunCommand(ctx, name, command); err != nil {
		d.log(LogLevelError, "cycle=%s %s command: %v", cycle, name, err)
		d.notifier.Notify(ctx, "ralph: "+name+" failed", err.Error())
	}
}

// dispatch decides the cycle's work: create a plan if none exists, run
// a batch of build iterations if items are pending, otherwise idle.
func (d *Daemon) dispatch(ctx context.Context, cycle string) {
	planPath := d.cfg.PlanDocPath()

	if !loop.PlanExists(planPath) {
		d.log(LogLevelInfo, "cycle=%s no plan document, running planning iteration", cycle)
		if err := d.dispatcher.RunLoop(ctx, router.TaskPlan, 1); err != nil {
			d.log(LogLevelError, "cycle=%s planning iteration: %v", cycle, err)
		}
		return
	}

	pending, err := loop.PendingItems(planPath)
	if err != nil {
		d.log(LogLevelError, "cycle=%s read plan: %v", cycle, err)
		return
	}
	if len(pending) == 0 {
		d.log(LogLevelInfo, "cycle=%s plan complete, idle", cycle)
		return
	}

	d.log(LogLevelInfo, "cycle=%s %d pending items, running up to %d build iterations",
		cycle, len(pending), d.cfg.MaxIterations)
	if err := d.dispatcher.RunLoop(ctx, router.TaskBuild, d.cfg.MaxIterations); err != nil {
		d.log(LogLevelError, "cycle=%s build batch: %v", cycle, err)
	}
}

// watchControlDoc returns a channel that receives when the control
// document changes. Watching is best-effort; without it the daemon
// still cycles on its interval.
func (d *Daemon) watchControlDoc(ctx context.Context) <-chan struct{} {
	wake := make(chan struct{}, 1)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		d.log(LogLevelWarn, "fsnotify unavailable, relying on interval only: %v", err)
		return wake
	}
	// Watch the directory: the control doc is rewritten via rename, so
	// watching the file itself would break after the first consume.
	if err := watcher.Add(filepath.Dir(d.cfg.ControlDocPath())); err != nil {
		d.log(LogLevelWarn, "watch control doc dir: %v", err)
		watcher.Close()
		return wake
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != filepath.Base(d.cfg.ControlDocPath()) {
					continue
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
					select {
					case wake <- struct{}{}:
					default:
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				d.log(LogLevelError, "fsnotify: %v", err)
			}
		}
	}()
	return wake
}

// sleepOrWake waits out the cycle interval, returning early when the
// control document changes or ctx is cancelled.
func (d *Daemon) sleepOrWake(ctx context.Context, interval time.Duration, wake <-chan struct{}) error {
	timer := time.NewTimer(interval)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-wake:
		d.log(LogLevelDebug, "control doc changed, waking early")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Daemon) log(level LogLevel, format string, args ...any) {
	if level < d.logLevel {
		return
	}
	prefix := [...]string{"DEBUG", "INFO", "WARN", "ERROR"}[level]
	d.logger.Printf("[%s] %s", prefix, fmt.Sprintf(format, args...))
}

func (d *Daemon) closeLog() {
	if d.logFile != nil {
		_ = d.logFile.Close()
	}
}

func sleepCtx(ctx context.Context, dur time.Duration) error {
	timer := time.NewTimer(dur)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
