// Package process launches the archive, export and packaging toolchain
// asynchronously and reports progress through pollable handles.
package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kingrea/comfyx/internal/buildconfig"
	"github.com/kingrea/comfyx/internal/config"
	"github.com/kingrea/comfyx/internal/logbook"
	"github.com/kingrea/comfyx/internal/logging"
	"github.com/kingrea/comfyx/internal/safety"
)

// ExportOptionsName is the plist looked up in the export directory first.
const ExportOptionsName = "ExportOptions.plist"

// Orchestrator runs operations in the background.
type Orchestrator struct {
	cfg    *config.Config
	runner Runner
	book   *logbook.Logbook
	guard  *safety.Guard
	logger *zap.Logger
	now    func() time.Time

	wg sync.WaitGroup
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithGuard overrides the guard built from the data root.
func WithGuard(g *safety.Guard) Option {
	return func(o *Orchestrator) {
		if g != nil {
			o.guard = g
		}
	}
}

// WithLogger routes lifecycle diagnostics to logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logging.OrNop(logger)
	}
}

// WithClock overrides the clock used to stamp handles.
func WithClock(clock func() time.Time) Option {
	return func(o *Orchestrator) {
		if clock != nil {
			o.now = clock
		}
	}
}

// New builds an orchestrator for the project described by cfg.
func New(cfg *config.Config, runner Runner, book *logbook.Logbook, opts ...Option) (*Orchestrator, error) {
	if cfg == nil {
		return nil, errors.New("process: config is nil")
	}
	if runner == nil {
		return nil, errors.New("process: runner is nil")
	}
	o := &Orchestrator{
		cfg:    cfg,
		runner: runner,
		book:   book,
		logger: logging.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.guard == nil {
		guard, err := safety.New(cfg.Layout.Root)
		if err != nil {
			return nil, fmt.Errorf("process: %w", err)
		}
		o.guard = guard
	}
	return o, nil
}

// Launch starts op in its own goroutine and returns immediately.
func (o *Orchestrator) Launch(op Operation) *Handle {
	h := newHandle(op.Kind, o.now())
	o.logger.Info("operation launched", zap.String("id", h.ID), zap.String("kind", string(op.Kind)))
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		code := o.run(op)
		h.complete(code)
		o.logger.Info("operation completed",
			zap.String("id", h.ID),
			zap.String("kind", string(op.Kind)),
			zap.Int("exit_code", code),
			zap.Duration("elapsed", o.now().Sub(h.StartedAt)))
	}()
	return h
}

// Poll returns h's status without blocking.
func (o *Orchestrator) Poll(h *Handle) Status {
	if h == nil {
		return Status{State: StateCompleted, ExitCode: ExitLaunchFailed}
	}
	return h.Poll()
}

// Wait blocks until every launched operation has completed.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) run(op Operation) int {
	switch op.Kind {
	case KindBuildAndExport:
		return o.buildAndExport(op.Config)
	case KindCreatePackage:
		return o.createPackage(op.Config)
	default:
		o.book.Logf("Unknown operation %q", op.Kind)
		return ExitLaunchFailed
	}
}

func (o *Orchestrator) buildAndExport(cfg buildconfig.Configuration) int {
	if missing := buildconfig.Validate(cfg, buildconfig.RequiredForBuild); len(missing) > 0 {
		o.book.Logf("Missing required config for BuildAndExport: %s",
			strings.Join(buildconfig.FieldNames(missing), " "))
		return 1
	}
	layout := o.cfg.Layout
	if err := o.ensureDirs(layout.ArchiveDir(), layout.ExportDir(), layout.UpdatesDir()); err != nil {
		return 1
	}

	scheme := cfg.Text(buildconfig.FieldScheme)
	archivePath := filepath.Join(layout.ArchiveDir(), o.cfg.Settings.ArchiveFileName(scheme))
	destructive := cfg.Bool(buildconfig.FieldArchiveDestructive)

	if destructive {
		o.removeArchive(archivePath)
	}

	archive := o.command(o.cfg.Settings.Toolchain.Archive,
		"-project", cfg.Text(buildconfig.FieldProject),
		"-scheme", scheme,
		"-configuration", cfg.Text(buildconfig.FieldArchiveConfiguration),
		"archive",
		"-archivePath", archivePath,
	)
	code := o.exec(archive)
	if code != 0 {
		o.book.Logf("Archive process failed with exit code %d", code)
		o.book.Log("Archive step failed, skipping export step.")
		return code
	}

	exportOptions := o.exportOptions()
	if destructive {
		o.clearExport(exportOptions)
	}

	export := o.command(o.cfg.Settings.Toolchain.Archive,
		"-exportArchive",
		"-archivePath", archivePath,
		"-exportPath", layout.ExportDir(),
		"-exportOptionsPlist", exportOptions,
	)
	code = o.exec(export)
	if code != 0 {
		o.book.Logf("Export process failed with exit code %d", code)
		return code
	}
	o.book.Logf("Export completed successfully to %s", layout.ExportDir())
	return 0
}

func (o *Orchestrator) createPackage(cfg buildconfig.Configuration) int {
	if missing := buildconfig.Validate(cfg, buildconfig.RequiredForPackage); len(missing) > 0 {
		o.book.Logf("Missing required config for CreatePackage: %s",
			strings.Join(buildconfig.FieldNames(missing), " "))
		return 1
	}
	layout := o.cfg.Layout
	if err := o.ensureDirs(layout.UpdatesDir()); err != nil {
		return 1
	}

	appName := BaseName(cfg.Text(buildconfig.FieldAppBundleName))
	src := filepath.Join(layout.ExportDir(), appName)
	dst := filepath.Join(layout.UpdatesDir(), appName)
	if _, err := os.Lstat(src); err != nil {
		o.book.Logf("Source .app does not exist at %s, cannot copy .app.", src)
		return 1
	}
	o.book.Logf("Copying .app from %s to %s", src, dst)
	if err := CopyTree(src, dst); err != nil {
		o.book.Logf("Failed to copy .app: %v", err)
		o.logger.Error("bundle copy failed", zap.String("src", src), zap.Error(err))
		return 1
	}
	o.book.Logf(".app copied successfully to %s", dst)

	packagePath := filepath.Join(layout.UpdatesDir(), BaseName(cfg.Text(buildconfig.FieldPackageName)))
	pkg := o.command(o.cfg.Settings.Toolchain.Package, PackageArgs(
		cfg.Text(buildconfig.FieldVolumeName), appName, packagePath, layout.UpdatesDir())...)
	code := o.exec(pkg)
	if code != 0 {
		o.book.Logf("CreatePackage process failed with exit code %d", code)
		return code
	}
	o.book.Logf("DMG created successfully at %s", packagePath)
	return 0
}

// PackageArgs builds the create-dmg argument list with the installer window
// layout.
func PackageArgs(volume, appName, packagePath, sourceDir string) []string {
	return []string{
		"--volname", volume,
		"--window-pos", "200", "120",
		"--window-size", "800", "400",
		"--icon-size", "100",
		"--icon", appName, "200", "190",
		"--hide-extension", appName,
		"--app-drop-link", "600", "185",
		packagePath,
		sourceDir,
	}
}

// BaseName strips any directory part, accepting both / and \ separators.
func BaseName(name string) string {
	name = strings.TrimSpace(name)
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	return name
}

func (o *Orchestrator) command(name string, args ...string) Command {
	return Command{Name: name, Args: args, Dir: o.cfg.ProjectDir}
}

func (o *Orchestrator) exec(cmd Command) int {
	o.book.Logf("Running: %s", cmd)
	o.logger.Debug("command start", zap.String("name", cmd.Name), zap.Strings("args", cmd.Args))
	code, err := o.runner.Run(context.Background(), cmd)
	if err != nil {
		o.book.Logf("Failed to start %s: %v", cmd.Name, err)
		o.logger.Error("command failed to start", zap.String("name", cmd.Name), zap.Error(err))
		code = ExitLaunchFailed
	} else {
		o.logger.Debug("command exit", zap.String("name", cmd.Name), zap.Int("exit_code", code))
	}
	o.book.Logf("%s exited with code %d", cmd.Name, code)
	return code
}

func (o *Orchestrator) ensureDirs(dirs ...string) error {
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			o.book.Logf("Failed to create %s: %v", dir, err)
			return err
		}
	}
	return nil
}

func (o *Orchestrator) removeArchive(archivePath string) {
	if _, err := os.Lstat(archivePath); err != nil {
		o.book.Logf("Destructive mode enabled, but no existing archive found at %s", archivePath)
		return
	}
	o.book.Logf("Destructive mode enabled, deleting existing archive at %s", archivePath)
	if !o.guard.IsSafeToRemove(archivePath) {
		o.book.Logf("Refusing to delete %s: not a directory inside %s", archivePath, o.guard.Root())
		return
	}
	if err := os.RemoveAll(archivePath); err != nil {
		o.book.Logf("Failed to delete %s: %v", archivePath, err)
	}
}

// clearExport empties the export directory, keeping the options plist the
// export step is about to read.
func (o *Orchestrator) clearExport(keep string) {
	dir := o.cfg.Layout.ExportDir()
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) == 0 {
		o.book.Logf("Destructive mode enabled, but no existing export found at %s", dir)
		return
	}
	if !o.guard.IsSafeToRemove(dir) {
		o.book.Logf("Refusing to clear %s: not a directory inside %s", dir, o.guard.Root())
		return
	}
	o.book.Logf("Destructive mode enabled, deleting existing export at %s", dir)
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		if path == keep {
			continue
		}
		if err := os.RemoveAll(path); err != nil {
			o.book.Logf("Failed to delete %s: %v", path, err)
		}
	}
}

func (o *Orchestrator) exportOptions() string {
	local := filepath.Join(o.cfg.Layout.ExportDir(), ExportOptionsName)
	if _, err := os.Stat(local); err == nil {
		return local
	}
	return o.cfg.ExportOptionsFallback()
}
