// Package session turns user intents into configuration reloads, operation
// launches, guarded cleanups and configuration edits.
package session

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kingrea/comfyx/internal/buildconfig"
	"github.com/kingrea/comfyx/internal/config"
	"github.com/kingrea/comfyx/internal/logbook"
	"github.com/kingrea/comfyx/internal/logging"
	"github.com/kingrea/comfyx/internal/process"
	"github.com/kingrea/comfyx/internal/safety"
)

var (
	// ErrBusy is returned when an intent would overlap a running operation.
	ErrBusy = errors.New("session: an operation is already running")
	// ErrNoBackingStore is returned when saving a configuration that was
	// never loaded from disk.
	ErrNoBackingStore = errors.New("session: configuration has no backing store")
	// ErrSaveFailed is returned when the store rejects or fails a save.
	ErrSaveFailed = errors.New("session: configuration save failed")
)

// Action is a main-menu entry.
type Action int

const (
	ActionBuild Action = iota
	ActionPackage
	ActionConfigure
	ActionCleanArchive
	ActionCleanPackage
	ActionExit
)

// Actions lists the menu in display order.
var Actions = []Action{
	ActionBuild, ActionPackage, ActionConfigure, ActionCleanArchive, ActionCleanPackage, ActionExit,
}

func (a Action) String() string {
	switch a {
	case ActionBuild:
		return "Build Archive"
	case ActionPackage:
		return "Create DMG"
	case ActionConfigure:
		return "Configuration"
	case ActionCleanArchive:
		return "Clean Archive Folder"
	case ActionCleanPackage:
		return "Clean DMG Folder"
	case ActionExit:
		return "Exit"
	default:
		return "Unknown"
	}
}

// Launcher starts operations. *process.Orchestrator implements it.
type Launcher interface {
	Launch(op process.Operation) *process.Handle
}

// Controller owns the session state. It is driven from a single goroutine.
type Controller struct {
	cfg      *config.Config
	store    *buildconfig.Store
	launcher Launcher
	guard    *safety.Guard
	book     *logbook.Logbook
	logger   *zap.Logger

	current    buildconfig.Configuration
	selected   Action
	handle     *process.Handle
	observedID string
	status     string
}

// Option customizes a Controller.
type Option func(*Controller)

// WithLogger routes diagnostics to logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Controller) {
		c.logger = logging.OrNop(logger)
	}
}

// WithGuard overrides the guard built from the data root.
func WithGuard(g *safety.Guard) Option {
	return func(c *Controller) {
		if g != nil {
			c.guard = g
		}
	}
}

// WithStore overrides the configuration store.
func WithStore(s *buildconfig.Store) Option {
	return func(c *Controller) {
		if s != nil {
			c.store = s
		}
	}
}

// New builds a controller and performs the initial configuration load. A
// load failure is logged, not returned: the session starts with an empty
// configuration.
func New(cfg *config.Config, launcher Launcher, book *logbook.Logbook, opts ...Option) (*Controller, error) {
	if cfg == nil {
		return nil, errors.New("session: config is nil")
	}
	if launcher == nil {
		return nil, errors.New("session: launcher is nil")
	}
	c := &Controller{
		cfg:      cfg,
		launcher: launcher,
		book:     book,
		logger:   logging.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.store == nil {
		c.store = buildconfig.NewStore(buildconfig.WithLogger(c.logger), buildconfig.WithLogbook(book))
	}
	if c.guard == nil {
		guard, err := safety.New(cfg.Layout.Root)
		if err != nil {
			return nil, fmt.Errorf("session: %w", err)
		}
		c.guard = guard
	}
	_ = c.Reload()
	return c, nil
}

// Configuration returns a copy of the current configuration.
func (c *Controller) Configuration() buildconfig.Configuration {
	return c.current.Clone()
}

// Status returns the transient status text.
func (c *Controller) Status() string { return c.status }

// Select records the highlighted menu action.
func (c *Controller) Select(a Action) { c.selected = a }

// Selected returns the highlighted menu action.
func (c *Controller) Selected() Action { return c.selected }

// Handle returns the most recent operation handle, if any.
func (c *Controller) Handle() *process.Handle { return c.handle }

// Busy reports whether an operation is running.
func (c *Controller) Busy() bool {
	return c.handle != nil && !c.handle.Poll().Completed()
}

// Reload re-reads the configuration store. On failure the previous
// configuration is kept and the error returned.
func (c *Controller) Reload() error {
	path := c.cfg.BuildConfigPath()
	next, err := c.store.Parse(path)
	if err != nil {
		c.book.Logf("Failed to load configuration: %v", err)
		c.logger.Warn("configuration reload failed", zap.String("path", path), zap.Error(err))
		return fmt.Errorf("session: reload: %w", err)
	}
	c.current = next
	return nil
}

// RunBuildAndExport reloads the configuration and launches archive + export.
func (c *Controller) RunBuildAndExport() (*process.Handle, error) {
	return c.launch(process.BuildAndExport)
}

// RunCreatePackage reloads the configuration and launches packaging.
func (c *Controller) RunCreatePackage() (*process.Handle, error) {
	return c.launch(process.CreatePackage)
}

func (c *Controller) launch(build func(buildconfig.Configuration) process.Operation) (*process.Handle, error) {
	if c.Busy() {
		c.status = "An operation is already running"
		return nil, ErrBusy
	}
	_ = c.Reload()
	op := build(c.current)
	h := c.launcher.Launch(op)
	c.handle = h
	c.status = fmt.Sprintf("%s running...", op.Kind)
	c.logger.Info("intent launched", zap.String("kind", string(op.Kind)), zap.String("id", h.ID))
	return h, nil
}

// Poll reports the current operation's status. The first time a handle is
// seen completed, the configuration is reloaded and the status text updated.
// ok is false when nothing was ever launched.
func (c *Controller) Poll() (status process.Status, ok bool) {
	if c.handle == nil {
		return process.Status{}, false
	}
	status = c.handle.Poll()
	if status.Completed() && c.observedID != c.handle.ID {
		c.observedID = c.handle.ID
		_ = c.Reload()
		if status.Succeeded() {
			c.status = fmt.Sprintf("%s finished", c.handle.Kind)
		} else {
			c.status = fmt.Sprintf("%s failed with exit code %d", c.handle.Kind, status.ExitCode)
		}
	}
	return status, true
}

// ValidationGaps returns the fields the given operation would be missing.
func (c *Controller) ValidationGaps(kind process.Kind) []buildconfig.Field {
	switch kind {
	case process.KindCreatePackage:
		return buildconfig.Validate(c.current, buildconfig.RequiredForPackage)
	default:
		return buildconfig.Validate(c.current, buildconfig.RequiredForBuild)
	}
}

// CheckReport summarizes the configuration for headless checks.
func (c *Controller) CheckReport() string {
	var b strings.Builder
	fmt.Fprintf(&b, "configuration: %s\n", c.cfg.BuildConfigPath())
	for _, kind := range []process.Kind{process.KindBuildAndExport, process.KindCreatePackage} {
		gaps := c.ValidationGaps(kind)
		if len(gaps) == 0 {
			fmt.Fprintf(&b, "%s: ready\n", kind)
			continue
		}
		fmt.Fprintf(&b, "%s: missing %s\n", kind, strings.Join(buildconfig.FieldNames(gaps), ", "))
	}
	return b.String()
}
