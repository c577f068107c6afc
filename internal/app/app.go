// Package app wires the host application together: configuration, the
// host end of the boundary, the guest runtime with its interpreter, the
// config watcher and the terminal view. It owns the lifecycle of all of
// them.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/weftui/weft/internal/bridge"
	"github.com/weftui/weft/internal/config"
	"github.com/weftui/weft/internal/engine"
	"github.com/weftui/weft/internal/engine/luaeng"
	"github.com/weftui/weft/internal/log"
	"github.com/weftui/weft/internal/promise"
	"github.com/weftui/weft/internal/protocol"
	"github.com/weftui/weft/internal/schedule"
	"github.com/weftui/weft/internal/transport"
	"github.com/weftui/weft/internal/tree"
)

// ErrQuit signals a clean, user-requested exit.
var ErrQuit = errors.New("quit requested")

// Options configures the application.
type Options struct {
	// ConfigPath is the path to the configuration file.
	ConfigPath string

	// PluginDir is where plugin scripts live. The entry script from the
	// configuration is loaded relative to it.
	PluginDir string

	// Script is inline guest code, run instead of the entry script.
	Script string

	// Headless disables the terminal view; useful for tests and batch
	// runs.
	Headless bool

	// LogLevel overrides the configured log level when set.
	LogLevel string
}

// Application coordinates both sides of the boundary in one process.
type Application struct {
	opts   Options
	mu     sync.Mutex
	cfg    config.Config
	logger *log.Logger

	hostT  transport.Transport
	guestT transport.Transport
	host   *bridge.Bridge
	rt     *engine.Runtime
	guest  *luaeng.Engine

	watcher *config.Watcher
	view    View
	redraw  chan struct{}

	shutdown sync.Once
	done     chan struct{}
}

// New builds a fully wired application. Nothing runs until Run.
func New(opts Options) (*Application, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	level := cfg.Log.Level
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}
	logger := log.New(
		log.WithLevel(log.ParseLevel(level)),
		log.WithPrefix(cfg.Log.Prefix),
		log.WithOutput(os.Stderr),
	)

	a := &Application{
		opts:   opts,
		cfg:    cfg,
		logger: logger,
		redraw: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	a.hostT, a.guestT = transport.Pipe()

	a.host = bridge.New(a.hostT.Send,
		bridge.WithLogger(logger.WithField("side", "host")),
		bridge.WithReceiverOptions(
			tree.WithMaxBatchSize(cfg.Receiver.MaxBatchSize),
			tree.WithStrict(cfg.Receiver.Strict),
			tree.WithTopTypes(cfg.Receiver.TopTypes),
			tree.WithLogger(logger.WithField("side", "host")),
		),
	)

	a.rt = engine.NewRuntime(a.guestT.Send,
		engine.WithLogger(logger.WithField("side", "guest")),
		engine.WithScheduler(
			schedule.WithBudget(cfg.Scheduler.Budget()),
			schedule.WithMaxPending(cfg.Scheduler.MaxPending),
			schedule.WithMerge(cfg.Scheduler.Merge),
		),
		engine.WithBridge(
			bridge.WithPromiseTimeout(promise.WithTimeout(cfg.Promise.Timeout())),
		),
	)

	a.guest, err = luaeng.New(a.rt, luaeng.WithLogger(logger.WithField("side", "guest")))
	if err != nil {
		a.Shutdown()
		return nil, fmt.Errorf("starting interpreter: %w", err)
	}

	if opts.Headless {
		a.view = newHeadlessView()
	} else {
		a.view, err = newTerminalView()
		if err != nil {
			a.Shutdown()
			return nil, fmt.Errorf("creating terminal view: %w", err)
		}
	}
	return a, nil
}

// Receiver exposes the host tree, mainly for tests.
func (a *Application) Receiver() *tree.Receiver {
	return a.host.Receiver()
}

// View returns the active view.
func (a *Application) View() View {
	return a.view
}

// Run starts the pumps, loads the guest code and blocks in the UI loop
// until ctx ends or the user quits.
func (a *Application) Run(ctx context.Context) error {
	defer a.Shutdown()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Boundary pumps. Batch arrival triggers a repaint.
	go a.pump(ctx, a.hostT, func(m protocol.Message) error {
		err := a.host.HandleMessage(m)
		if m.Kind == protocol.MsgBatch {
			a.requestRedraw()
		}
		return err
	})
	go a.pump(ctx, a.guestT, a.rt.Bridge().HandleMessage)

	if err := a.view.Init(); err != nil {
		return err
	}
	defer a.view.Fini()

	if err := a.startWatcher(); err != nil {
		a.logger.Warn("config watch disabled: %v", err)
	}

	if err := a.loadGuest(ctx); err != nil {
		return err
	}
	if err := a.host.PushConfig(a.config().GuestTable()); err != nil {
		a.logger.Warn("pushing initial config: %v", err)
	}
	a.requestRedraw()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-a.done:
			return nil
		case <-a.redraw:
			a.view.Render(a.host.Receiver().Render())
		case ev, ok := <-a.view.Events():
			if !ok {
				return nil
			}
			if ev.Quit {
				return ErrQuit
			}
			if err := a.host.EmitEvent(ev.Name, ev.Payload); err != nil && !errors.Is(err, bridge.ErrClosed) {
				a.logger.Warn("emitting %s: %v", ev.Name, err)
			}
		}
	}
}

// Shutdown tears everything down in dependency order. Idempotent.
func (a *Application) Shutdown() {
	a.shutdown.Do(func() {
		close(a.done)
		if a.watcher != nil {
			a.watcher.Close()
		}
		if a.guest != nil {
			a.guest.Close()
		}
		if a.rt != nil {
			a.rt.Close()
		}
		if a.host != nil {
			a.host.Close()
		}
		a.hostT.Close()
		a.guestT.Close()
	})
}

func (a *Application) pump(ctx context.Context, t transport.Transport, handle func(protocol.Message) error) {
	err := transport.Pump(ctx, t, func(m protocol.Message) error {
		if herr := handle(m); herr != nil && !errors.Is(herr, bridge.ErrClosed) {
			a.logger.Warn("handling %s: %v", m.Kind, herr)
		}
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Warn("pump stopped: %v", err)
	}
}

func (a *Application) requestRedraw() {
	select {
	case a.redraw <- struct{}{}:
	default:
	}
}

func (a *Application) config() config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// loadGuest runs the inline script or the configured entry file.
func (a *Application) loadGuest(ctx context.Context) error {
	if a.opts.Script != "" {
		return a.guest.Evaluate(ctx, "inline", a.opts.Script)
	}

	cfg := a.config()
	dir := a.opts.PluginDir
	if dir == "" {
		dir = cfg.Plugin.Dir
	}
	if dir == "" {
		a.logger.Info("no plugin directory configured; starting empty")
		return nil
	}
	path := filepath.Join(dir, cfg.Plugin.Entry)
	code, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("loading plugin entry: %w", err)
	}
	a.logger.Info("loading %s", path)
	return a.guest.Evaluate(ctx, cfg.Plugin.Entry, string(code))
}

// startWatcher begins live reload of the configuration file, pushing each
// good reload to the guest.
func (a *Application) startWatcher() error {
	if a.opts.ConfigPath == "" {
		return nil
	}
	w, err := config.Watch(a.opts.ConfigPath, func(cfg config.Config) {
		a.mu.Lock()
		a.cfg = cfg
		a.mu.Unlock()
		if err := a.host.PushConfig(cfg.GuestTable()); err != nil && !errors.Is(err, bridge.ErrClosed) {
			a.logger.Warn("pushing config: %v", err)
		}
	}, config.WithWatchLogger(a.logger))
	if err != nil {
		return err
	}
	a.watcher = w
	return nil
}
