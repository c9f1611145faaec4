package process

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/kingrea/comfyx/internal/buildconfig"
	"github.com/kingrea/comfyx/internal/config"
	"github.com/kingrea/comfyx/internal/logbook"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls []Command
	codes []int
	hook  func(Command)
	err   error
}

func (f *fakeRunner) Run(_ context.Context, cmd Command) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hook != nil {
		f.hook(cmd)
	}
	f.calls = append(f.calls, cmd)
	if f.err != nil {
		return ExitLaunchFailed, f.err
	}
	if len(f.codes) == 0 {
		return 0, nil
	}
	code := f.codes[0]
	f.codes = f.codes[1:]
	return code, nil
}

func (f *fakeRunner) Calls() []Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Command(nil), f.calls...)
}

type fixture struct {
	cfg    *config.Config
	book   *logbook.Logbook
	runner *fakeRunner
	orch   *Orchestrator
}

func newFixture(t *testing.T, codes ...int) *fixture {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, config.InitProject(dir))
	cfg, err := config.NewConfig(dir)
	require.NoError(t, err)
	book, err := logbook.New("")
	require.NoError(t, err)
	runner := &fakeRunner{codes: codes}
	orch, err := New(cfg, runner, book)
	require.NoError(t, err)
	return &fixture{cfg: cfg, book: book, runner: runner, orch: orch}
}

func (f *fixture) wait(t *testing.T, h *Handle) Status {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	status, err := h.Wait(ctx)
	require.NoError(t, err)
	f.orch.Wait()
	return status
}

func (f *fixture) logContains(t *testing.T, fragment string) {
	t.Helper()
	for _, line := range f.book.Lines() {
		if strings.Contains(line, fragment) {
			return
		}
	}
	t.Fatalf("log does not contain %q:\n%s", fragment, strings.Join(f.book.Lines(), "\n"))
}

func str(v string) *string { return &v }
func flag(v bool) *bool    { return &v }

func buildConfig() buildconfig.Configuration {
	return buildconfig.Configuration{
		Project:              str("App.xcodeproj"),
		Scheme:               str("App"),
		ArchiveConfiguration: str("Release"),
	}
}

func packageConfig() buildconfig.Configuration {
	return buildconfig.Configuration{
		PackageName:   str("dist/App-Installer.dmg"),
		AppBundleName: str("App.app"),
		VolumeName:    str("App Installer"),
	}
}

func TestBuildMissingConfigurationRunsNothing(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newFixture(t)
	cfg := buildConfig()
	cfg.ArchiveConfiguration = nil

	status := f.wait(t, f.orch.Launch(BuildAndExport(cfg)))
	require.Equal(t, Status{State: StateCompleted, ExitCode: 1}, status)
	require.Empty(t, f.runner.Calls())
	f.logContains(t, "Missing required config for BuildAndExport")
}

func TestBuildArchiveFailureSkipsExport(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newFixture(t, 65)

	status := f.wait(t, f.orch.Launch(BuildAndExport(buildConfig())))
	require.Equal(t, 65, status.ExitCode)
	calls := f.runner.Calls()
	require.Len(t, calls, 1)
	require.Contains(t, calls[0].Args, "archive")
	f.logContains(t, "Archive step failed, skipping export step.")
}

func TestBuildRunsArchiveThenExport(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newFixture(t, 0, 0)

	status := f.wait(t, f.orch.Launch(BuildAndExport(buildConfig())))
	require.True(t, status.Succeeded())

	archivePath := filepath.Join(f.cfg.Layout.ArchiveDir(), "App.xcarchive")
	calls := f.runner.Calls()
	require.Len(t, calls, 2)
	require.Equal(t, "xcodebuild", calls[0].Name)
	require.Equal(t, []string{
		"-project", "App.xcodeproj", "-scheme", "App", "-configuration", "Release",
		"archive", "-archivePath", archivePath,
	}, calls[0].Args)
	require.Equal(t, []string{
		"-exportArchive", "-archivePath", archivePath,
		"-exportPath", f.cfg.Layout.ExportDir(),
		"-exportOptionsPlist", f.cfg.ExportOptionsFallback(),
	}, calls[1].Args)
	require.Equal(t, f.cfg.ProjectDir, calls[0].Dir)
	f.logContains(t, "Running: xcodebuild -project App.xcodeproj")
}

func (f *fixture) logCount(fragment string) int {
	n := 0
	for _, line := range f.book.Lines() {
		if strings.Contains(line, fragment) {
			n++
		}
	}
	return n
}

func TestBuildLogsEveryExitStatus(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newFixture(t, 0, 0)

	status := f.wait(t, f.orch.Launch(BuildAndExport(buildConfig())))
	require.True(t, status.Succeeded())
	require.Equal(t, 2, f.logCount("Running: xcodebuild"))
	require.Equal(t, 2, f.logCount("xcodebuild exited with code 0"))
}

func TestLaunchFailureLogsExitStatus(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newFixture(t)
	f.runner.err = errors.New("executable file not found")

	status := f.wait(t, f.orch.Launch(BuildAndExport(buildConfig())))
	require.Equal(t, ExitLaunchFailed, status.ExitCode)
	require.Len(t, f.runner.Calls(), 1)
	f.logContains(t, "Failed to start xcodebuild: executable file not found")
	f.logContains(t, "xcodebuild exited with code -1")
	f.logContains(t, "Archive step failed, skipping export step.")
}

func TestBuildPrefersExportDirOptions(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newFixture(t)
	local := filepath.Join(f.cfg.Layout.ExportDir(), ExportOptionsName)
	require.NoError(t, os.WriteFile(local, []byte("<plist/>"), 0o644))

	f.wait(t, f.orch.Launch(BuildAndExport(buildConfig())))
	calls := f.runner.Calls()
	require.Len(t, calls, 2)
	require.Equal(t, local, calls[1].Args[len(calls[1].Args)-1])
}

func TestDestructiveBuildRemovesExistingArchive(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newFixture(t, 0, 0)
	archivePath := filepath.Join(f.cfg.Layout.ArchiveDir(), "App.xcarchive")
	require.NoError(t, os.MkdirAll(filepath.Join(archivePath, "Products"), 0o755))
	stale := filepath.Join(f.cfg.Layout.ExportDir(), "Old.app")
	require.NoError(t, os.MkdirAll(stale, 0o755))
	local := filepath.Join(f.cfg.Layout.ExportDir(), ExportOptionsName)
	require.NoError(t, os.WriteFile(local, []byte("<plist/>"), 0o644))

	var archiveSeen bool
	f.runner.hook = func(cmd Command) {
		if len(f.runner.calls) == 0 {
			_, err := os.Stat(archivePath)
			archiveSeen = err == nil
		}
	}
	cfg := buildConfig()
	cfg.ArchiveDestructive = flag(true)

	status := f.wait(t, f.orch.Launch(BuildAndExport(cfg)))
	require.True(t, status.Succeeded())
	require.False(t, archiveSeen, "archive must be removed before the archive step")
	f.logContains(t, "Destructive mode enabled, deleting existing archive at "+archivePath)

	_, err := os.Stat(stale)
	require.True(t, os.IsNotExist(err), "stale export should be cleared")
	_, err = os.Stat(local)
	require.NoError(t, err, "export options must survive the clear")
}

func TestDestructiveBuildLogsMissingArchive(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newFixture(t)
	cfg := buildConfig()
	cfg.ArchiveDestructive = flag(true)

	f.wait(t, f.orch.Launch(BuildAndExport(cfg)))
	f.logContains(t, "Destructive mode enabled, but no existing archive found at")
}

func TestCreatePackageCopiesBundleAndRunsPackager(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newFixture(t, 0)
	bundle := filepath.Join(f.cfg.Layout.ExportDir(), "App.app", "Contents", "MacOS")
	require.NoError(t, os.MkdirAll(bundle, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(bundle, "App"), []byte("bin"), 0o755))

	status := f.wait(t, f.orch.Launch(CreatePackage(packageConfig())))
	require.True(t, status.Succeeded())

	copied, err := os.ReadFile(filepath.Join(f.cfg.Layout.UpdatesDir(), "App.app", "Contents", "MacOS", "App"))
	require.NoError(t, err)
	require.Equal(t, "bin", string(copied))

	calls := f.runner.Calls()
	require.Len(t, calls, 1)
	require.Equal(t, "create-dmg", calls[0].Name)
	updates := f.cfg.Layout.UpdatesDir()
	require.Equal(t, PackageArgs("App Installer", "App.app",
		filepath.Join(updates, "App-Installer.dmg"), updates), calls[0].Args)
}

func TestCreatePackageMissingBundle(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newFixture(t)

	status := f.wait(t, f.orch.Launch(CreatePackage(packageConfig())))
	require.Equal(t, 1, status.ExitCode)
	require.Empty(t, f.runner.Calls())
	f.logContains(t, "Source .app does not exist")
}

func TestCreatePackageMissingConfiguration(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newFixture(t)
	cfg := packageConfig()
	cfg.VolumeName = str("  ")

	status := f.wait(t, f.orch.Launch(CreatePackage(cfg)))
	require.Equal(t, 1, status.ExitCode)
	f.logContains(t, "Missing required config for CreatePackage: volumeName")
}

func TestPollIsIdempotentAfterCompletion(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newFixture(t, 3)
	cfg := buildConfig()
	h := f.orch.Launch(BuildAndExport(cfg))
	first := f.wait(t, h)
	for i := 0; i < 5; i++ {
		require.Equal(t, first, f.orch.Poll(h))
	}
	require.Equal(t, Status{State: StateCompleted, ExitCode: 3}, first)
}

func TestLaunchCopiesConfiguration(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newFixture(t)
	cfg := buildConfig()
	op := BuildAndExport(cfg)
	*cfg.Scheme = "Changed"

	f.wait(t, f.orch.Launch(op))
	require.Contains(t, f.runner.Calls()[0].Args, "App")
}

func TestBaseName(t *testing.T) {
	for in, want := range map[string]string{
		"App.dmg":            "App.dmg",
		"dist/App.dmg":       "App.dmg",
		`C:\out\App.dmg`:     "App.dmg",
		" nested/dir\\x.dmg": "x.dmg",
	} {
		require.Equal(t, want, BaseName(in), in)
	}
}

func TestCommandString(t *testing.T) {
	cmd := Command{Name: "create-dmg", Args: []string{"--volname", "App Installer"}}
	require.Equal(t, "create-dmg --volname 'App Installer'", cmd.String())
}
