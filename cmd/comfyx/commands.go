package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kingrea/comfyx/internal/config"
	"github.com/kingrea/comfyx/internal/logbook"
	"github.com/kingrea/comfyx/internal/logging"
	"github.com/kingrea/comfyx/internal/process"
	"github.com/kingrea/comfyx/internal/session"
	"github.com/kingrea/comfyx/internal/tui"
	"github.com/kingrea/comfyx/internal/watch"
)

const toolchainLogName = "toolchain.log"

// app bundles everything one invocation needs.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	book   *logbook.Logbook
	orch   *process.Orchestrator
	ctrl   *session.Controller

	toolLog *os.File
}

func bootstrap(echo io.Writer) (*app, error) {
	dir := projectDir
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("getting working directory: %w", err)
		}
		dir = cwd
	}
	if err := config.InitProject(dir); err != nil {
		return nil, fmt.Errorf("initializing project: %w", err)
	}
	cfg, err := config.NewConfig(dir)
	if err != nil {
		return nil, err
	}

	logsDir := cfg.Layout.LogsDir()
	logger, err := logging.New(logsDir, verbose)
	if err != nil {
		return nil, err
	}
	bookOpts := []logbook.Option{}
	if echo != nil {
		bookOpts = append(bookOpts, logbook.WithEcho(echo))
	}
	book, err := logbook.New(logbook.SessionPath(logsDir, time.Now()), bookOpts...)
	if err != nil {
		return nil, err
	}
	toolLog, err := os.OpenFile(filepath.Join(logsDir, toolchainLogName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening toolchain log: %w", err)
	}

	orch, err := process.New(cfg, process.NewExecRunner(toolLog), book, process.WithLogger(logger))
	if err != nil {
		toolLog.Close()
		return nil, err
	}
	ctrl, err := session.New(cfg, orch, book, session.WithLogger(logger))
	if err != nil {
		toolLog.Close()
		return nil, err
	}
	logger.Info("session started",
		zap.String("project", cfg.ProjectDir),
		zap.String("build_config", cfg.BuildConfigPath()),
		zap.String("session_log", book.Path()))
	return &app{cfg: cfg, logger: logger, book: book, orch: orch, ctrl: ctrl, toolLog: toolLog}, nil
}

func (a *app) close() {
	a.orch.Wait()
	_ = a.toolLog.Close()
	_ = a.logger.Sync()
}

func runInteractive(cmd *cobra.Command, _ []string) error {
	a, err := bootstrap(nil)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	var opts []tui.AppOption
	if a.cfg.WatchEnabled() {
		w, err := watch.New(a.cfg.BuildConfigPath(), watch.WithLogger(a.logger))
		if err == nil {
			err = w.Start(ctx)
		}
		if err != nil {
			a.logger.Warn("configuration watcher unavailable", zap.Error(err))
		} else {
			defer w.Stop()
			opts = append(opts, tui.WithWatcher(w))
		}
	}

	a.book.Log("Session started")
	p := tea.NewProgram(tui.NewApp(a.ctrl, a.book, opts...), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("running TUI: %w", err)
	}
	if a.ctrl.Busy() {
		fmt.Fprintln(os.Stderr, "Waiting for the running operation to finish...")
	}
	return nil
}

func runBuild(cmd *cobra.Command, _ []string) error {
	return runOperation(cmd, (*session.Controller).RunBuildAndExport)
}

func runPackage(cmd *cobra.Command, _ []string) error {
	return runOperation(cmd, (*session.Controller).RunCreatePackage)
}

func runOperation(cmd *cobra.Command, intent func(*session.Controller) (*process.Handle, error)) error {
	a, err := bootstrap(cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer a.close()

	h, err := intent(a.ctrl)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := h.Wait(ctx); err != nil {
		return err
	}
	status, _ := a.ctrl.Poll()
	if !status.Succeeded() {
		return exitCodeError{code: status.ExitCode}
	}
	return nil
}

func runClean(cmd *cobra.Command, args []string) error {
	a, err := bootstrap(cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer a.close()

	target := "all"
	if len(args) == 1 {
		target = args[0]
	}
	var intents []func() (session.CleanReport, error)
	switch target {
	case "archive":
		intents = append(intents, a.ctrl.CleanArchiveArtifacts)
	case "package":
		intents = append(intents, a.ctrl.CleanPackageArtifacts)
	default:
		intents = append(intents, a.ctrl.CleanArchiveArtifacts, a.ctrl.CleanPackageArtifacts)
	}
	for _, clean := range intents {
		report, err := clean()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), report.String())
		for _, refusal := range report.Refused {
			fmt.Fprintf(cmd.OutOrStdout(), "  kept %s: %s\n", refusal.Path, refusal.Reason)
		}
	}
	return nil
}

func runConfigCheck(cmd *cobra.Command, _ []string) error {
	a, err := bootstrap(cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.ctrl.Reload(); err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), a.ctrl.CheckReport())
	return nil
}

func runInit(cmd *cobra.Command, _ []string) error {
	dir := projectDir
	if dir == "" {
		dir = "."
	}
	if err := config.InitProject(dir); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Initialized %s in %s\n", config.DataRootName, dir)
	return nil
}
