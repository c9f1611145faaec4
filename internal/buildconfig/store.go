package buildconfig

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/ini.v1"

	"github.com/kingrea/comfyx/internal/logbook"
	"github.com/kingrea/comfyx/internal/logging"
)

// TempSuffix names the staging sibling used for atomic saves.
const TempSuffix = ".tmp"

// ParseError reports an unreadable or structurally malformed store.
type ParseError struct {
	Path   string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("buildconfig: parse %s: %s", e.Path, e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Store reads and writes the INI build configuration.
type Store struct {
	logger *zap.Logger
	book   *logbook.Logbook
}

// StoreOption customizes a Store during construction.
type StoreOption func(*Store)

// WithLogger routes diagnostics to logger.
func WithLogger(logger *zap.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logging.OrNop(logger)
	}
}

// WithLogbook mirrors user-facing diagnostics to the session log.
func WithLogbook(book *logbook.Logbook) StoreOption {
	return func(s *Store) {
		s.book = book
	}
}

// NewStore builds a store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{logger: logging.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Parse reads the store at path. Missing required keys never fail the parse;
// they are reported as a diagnostic and the partial record is returned.
func (s *Store) Parse(path string) (Configuration, error) {
	cfg, err := parseFile(path)
	if err != nil {
		s.logger.Warn("configuration parse failed", zap.String("path", path), zap.Error(err))
		return Configuration{}, err
	}
	if missing := Validate(cfg, RequiredForSave); len(missing) > 0 {
		names := FieldNames(missing)
		s.logger.Warn("configuration missing required keys",
			zap.String("path", path), zap.Strings("missing", names))
		s.book.Logf("Warning: Missing required config keys: %s", strings.Join(names, " "))
	}
	return cfg, nil
}

// Save persists cfg to cfg.SourcePath. The record is sanitized, written to a
// .tmp sibling, re-parsed and compared, and only then renamed over the store.
// It returns false without touching the store when there is no backing path,
// when required fields are missing, or when any write step fails.
func (s *Store) Save(cfg Configuration) bool {
	path := cfg.SourcePath
	if path == "" {
		s.logger.Warn("save skipped: configuration has no backing store")
		s.book.Log("Save aborted: configuration has no backing store")
		return false
	}
	clean := Sanitize(cfg)
	if missing := Validate(clean, RequiredForSave); len(missing) > 0 {
		names := FieldNames(missing)
		s.logger.Warn("save skipped: missing required keys", zap.String("path", path), zap.Strings("missing", names))
		s.book.Logf("Save aborted: missing required config keys: %s", strings.Join(names, " "))
		return false
	}
	if err := s.writeVerified(path, clean); err != nil {
		s.logger.Error("save failed", zap.String("path", path), zap.Error(err))
		s.book.Logf("Save failed for %s: %v", path, err)
		return false
	}
	s.logger.Info("configuration saved", zap.String("path", path))
	s.book.Logf("Saved configuration to %s", path)
	return true
}

func (s *Store) writeVerified(path string, clean Configuration) error {
	tmp := path + TempSuffix
	defer os.Remove(tmp)

	data, err := encode(path, clean)
	if err != nil {
		return err
	}
	if err := writeSynced(tmp, data); err != nil {
		return fmt.Errorf("write temp: %w", err)
	}
	reparsed, err := parseFile(tmp)
	if err != nil {
		return fmt.Errorf("verify temp: %w", err)
	}
	if !reparsed.Equal(clean) {
		return errors.New("verify temp: re-parsed values differ from the saved record")
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace store: %w", err)
	}
	return nil
}

// encode renders clean on top of the existing store so unknown sections,
// keys and comments survive a save.
func encode(path string, clean Configuration) ([]byte, error) {
	file, err := loadINI(path)
	if err != nil {
		file = ini.Empty()
	}
	for _, f := range Fields {
		file.Section(f.Section()).Key(f.Key()).SetValue(clean.Text(f))
	}
	var buf bytes.Buffer
	if _, err := file.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return buf.Bytes(), nil
}

func writeSynced(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// loadINI keeps surrounding quotes as part of the value so a quoted value
// written by Save reads back unchanged.
func loadINI(path string) (*ini.File, error) {
	return ini.LoadSources(ini.LoadOptions{
		SpaceBeforeInlineComment: true,
		PreserveSurroundedQuote:  true,
	}, path)
}

func parseFile(path string) (Configuration, error) {
	info, err := os.Stat(path)
	if err != nil {
		reason := "unreadable"
		if errors.Is(err, fs.ErrNotExist) {
			reason = "file does not exist"
		}
		return Configuration{}, &ParseError{Path: path, Reason: reason, Err: err}
	}
	if info.IsDir() {
		return Configuration{}, &ParseError{Path: path, Reason: "path is a directory"}
	}
	file, err := loadINI(path)
	if err != nil {
		return Configuration{}, &ParseError{Path: path, Reason: err.Error(), Err: err}
	}
	cfg := Configuration{SourcePath: path}
	for _, f := range Fields {
		sec, err := file.GetSection(f.Section())
		if err != nil || !sec.HasKey(f.Key()) {
			continue
		}
		cfg.Set(f, sec.Key(f.Key()).String())
	}
	return cfg, nil
}
