// internal/config/config.go
//
// This package handles application settings and the fixed data-root layout.
// Every project that uses comfyx gets a ComfyXData/ folder next to its
// config/ folder; all generated archives, exports, logs and packages live there.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// DataRootName is the fixed directory that confines every generated file.
	DataRootName = "ComfyXData"

	// ConfigDir holds the settings file, the build configuration store and
	// the fallback export options.
	ConfigDir = "config"

	settingsFileName = "comfyx.yaml"

	defaultBuildConfig   = "config/comfyx.ini"
	defaultExportOptions = "config/ExportOptions.plist"
	defaultArchiveTool   = "xcodebuild"
	defaultPackageTool   = "create-dmg"
)

// Names of the four fixed subdirectories of the data root.
const (
	ArchiveDirName = "Archive"
	ExportDirName  = "Export"
	LogsDirName    = "Logs"
	UpdatesDirName = "Updates"
)

const defaultSettingsYAML = `# comfyx settings
version: 1

# INI store holding project, scheme, archive and dmg options.
build_config: config/comfyx.ini

# Archive bundle name inside ComfyXData/Archive. Defaults to <scheme>.xcarchive.
archive_name: ""

# Used when ComfyXData/Export/ExportOptions.plist does not exist.
export_options: config/ExportOptions.plist

toolchain:
  archive: xcodebuild
  package: create-dmg

# Reload the build configuration when it changes on disk.
watch_config: true
`

const defaultBuildConfigINI = `[build]
project =
scheme =

[archive]
configuration = Release
destructive = false

[dmg]
name =
app_name =
volume_name =
move_from_archive = false
`

// Toolchain names the external executables comfyx drives.
type Toolchain struct {
	Archive string `yaml:"archive"`
	Package string `yaml:"package"`
}

// Settings models config/comfyx.yaml.
type Settings struct {
	Version       int       `yaml:"version"`
	BuildConfig   string    `yaml:"build_config"`
	ArchiveName   string    `yaml:"archive_name"`
	ExportOptions string    `yaml:"export_options"`
	Toolchain     Toolchain `yaml:"toolchain"`
	WatchConfig   *bool     `yaml:"watch_config,omitempty"`
}

// Config holds the runtime configuration for comfyx.
type Config struct {
	// ProjectDir is the directory comfyx was started from (or --dir).
	ProjectDir string

	Layout   Layout
	Settings Settings
}

// Layout resolves the fixed data-root directories.
type Layout struct {
	Root string
}

// NewLayout returns the layout rooted at projectDir/ComfyXData.
func NewLayout(projectDir string) Layout {
	return Layout{Root: filepath.Join(projectDir, DataRootName)}
}

// ArchiveDir returns the directory that receives .xcarchive bundles.
func (l Layout) ArchiveDir() string {
	return filepath.Join(l.Root, ArchiveDirName)
}

// ExportDir returns the directory that receives exported app bundles.
func (l Layout) ExportDir() string {
	return filepath.Join(l.Root, ExportDirName)
}

// LogsDir returns the directory for session and toolchain logs.
func (l Layout) LogsDir() string {
	return filepath.Join(l.Root, LogsDirName)
}

// UpdatesDir returns the directory that receives packaged disk images.
func (l Layout) UpdatesDir() string {
	return filepath.Join(l.Root, UpdatesDirName)
}

// Dirs lists the four subdirectories in a stable order.
func (l Layout) Dirs() []string {
	return []string{l.ArchiveDir(), l.ExportDir(), l.LogsDir(), l.UpdatesDir()}
}

// InitProject creates the data-root structure and default settings files in
// the given project directory. Existing files are never overwritten.
//
// Structure created:
// ComfyXData/
// ├── Archive/
// ├── Export/
// ├── Logs/
// └── Updates/
// config/
// ├── comfyx.yaml
// └── comfyx.ini
func InitProject(projectDir string) error {
	layout := NewLayout(projectDir)
	dirs := append(layout.Dirs(), filepath.Join(projectDir, ConfigDir))
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: create %s: %w", dir, err)
		}
	}
	if err := ensureFile(filepath.Join(projectDir, ConfigDir, settingsFileName), defaultSettingsYAML); err != nil {
		return err
	}
	cfg, err := NewConfig(projectDir)
	if err != nil {
		return err
	}
	return ensureFile(cfg.BuildConfigPath(), defaultBuildConfigINI)
}

// NewConfig creates a Config populated with project settings.
func NewConfig(projectDir string) (*Config, error) {
	abs, err := filepath.Abs(projectDir)
	if err != nil {
		return nil, fmt.Errorf("config: resolve project dir: %w", err)
	}
	cfg := &Config{
		ProjectDir: abs,
		Layout:     NewLayout(abs),
		Settings:   defaultSettings(),
	}
	if err := cfg.loadSettings(); err != nil {
		return nil, err
	}
	cfg.Settings.applyEnvOverrides()
	return cfg, nil
}

// SettingsPath returns the on-disk location for the settings file.
func (c *Config) SettingsPath() string {
	return filepath.Join(c.ProjectDir, ConfigDir, settingsFileName)
}

// BuildConfigPath returns the absolute path of the INI build configuration.
func (c *Config) BuildConfigPath() string {
	return resolvePath(c.ProjectDir, c.Settings.BuildConfig)
}

// ExportOptionsFallback returns the export options plist used when the export
// directory does not provide one.
func (c *Config) ExportOptionsFallback() string {
	return resolvePath(c.ProjectDir, c.Settings.ExportOptions)
}

// WatchEnabled reports whether the build configuration should be watched.
func (c *Config) WatchEnabled() bool {
	return c.Settings.WatchConfig == nil || *c.Settings.WatchConfig
}

// ArchiveFileName returns the archive bundle name for the given scheme.
func (s Settings) ArchiveFileName(scheme string) string {
	if name := strings.TrimSpace(s.ArchiveName); name != "" {
		return filepath.Base(name)
	}
	scheme = strings.TrimSpace(scheme)
	if scheme == "" {
		scheme = "App"
	}
	return filepath.Base(scheme) + ".xcarchive"
}

func (c *Config) loadSettings() error {
	path := c.SettingsPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	parsed := defaultSettings()
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	parsed.applyDefaults()
	parsed.normalize()
	if err := parsed.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	c.Settings = parsed
	return nil
}

func defaultSettings() Settings {
	return Settings{
		Version:       1,
		BuildConfig:   defaultBuildConfig,
		ExportOptions: defaultExportOptions,
		Toolchain: Toolchain{
			Archive: defaultArchiveTool,
			Package: defaultPackageTool,
		},
	}
}

func (s *Settings) applyDefaults() {
	if s.Version == 0 {
		s.Version = 1
	}
	if strings.TrimSpace(s.BuildConfig) == "" {
		s.BuildConfig = defaultBuildConfig
	}
	if strings.TrimSpace(s.ExportOptions) == "" {
		s.ExportOptions = defaultExportOptions
	}
	if strings.TrimSpace(s.Toolchain.Archive) == "" {
		s.Toolchain.Archive = defaultArchiveTool
	}
	if strings.TrimSpace(s.Toolchain.Package) == "" {
		s.Toolchain.Package = defaultPackageTool
	}
}

func (s *Settings) normalize() {
	s.BuildConfig = strings.TrimSpace(s.BuildConfig)
	s.ArchiveName = strings.TrimSpace(s.ArchiveName)
	s.ExportOptions = strings.TrimSpace(s.ExportOptions)
	s.Toolchain.Archive = strings.TrimSpace(s.Toolchain.Archive)
	s.Toolchain.Package = strings.TrimSpace(s.Toolchain.Package)
}

func (s *Settings) validate() error {
	if s.Version < 1 {
		return fmt.Errorf("settings version must be >= 1")
	}
	if strings.ContainsAny(s.ArchiveName, `/\`) {
		return fmt.Errorf("archive_name must be a file name, not a path")
	}
	if s.ArchiveName != "" && !strings.HasSuffix(s.ArchiveName, ".xcarchive") {
		return fmt.Errorf("archive_name must end in .xcarchive")
	}
	return nil
}

func (s *Settings) applyEnvOverrides() {
	if tool := strings.TrimSpace(os.Getenv("COMFYX_ARCHIVE_TOOL")); tool != "" {
		s.Toolchain.Archive = tool
	}
	if tool := strings.TrimSpace(os.Getenv("COMFYX_PACKAGE_TOOL")); tool != "" {
		s.Toolchain.Package = tool
	}
}

func resolvePath(base, candidate string) string {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		return ""
	}
	if filepath.IsAbs(trimmed) {
		return filepath.Clean(trimmed)
	}
	return filepath.Clean(filepath.Join(base, trimmed))
}

func ensureFile(path, contents string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(contents), 0o644)
}
