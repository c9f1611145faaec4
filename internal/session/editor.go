package session

import (
	"fmt"
	"strings"

	"github.com/kingrea/comfyx/internal/buildconfig"
)

// EditorState is the editor's mode.
type EditorState int

const (
	Browsing EditorState = iota
	EditingField
)

// Editor edits the configuration field by field. Committed values are held
// as text until Save applies them all at once.
type Editor struct {
	c      *Controller
	fields []buildconfig.Field
	values []string
	cursor int
	state  EditorState
	buffer string
}

// EditConfiguration reloads the store and opens an editor on it.
func (c *Controller) EditConfiguration() *Editor {
	_ = c.Reload()
	e := &Editor{c: c, fields: buildconfig.Fields}
	e.load(c.current)
	return e
}

func (e *Editor) load(cfg buildconfig.Configuration) {
	e.values = make([]string, len(e.fields))
	for i, f := range e.fields {
		e.values[i] = cfg.Text(f)
	}
}

// State returns the current mode.
func (e *Editor) State() EditorState { return e.state }

// Cursor returns the highlighted field index.
func (e *Editor) Cursor() int { return e.cursor }

// Fields returns the edited fields in display order.
func (e *Editor) Fields() []buildconfig.Field { return e.fields }

// Value returns the committed text of field i.
func (e *Editor) Value(i int) string {
	if i < 0 || i >= len(e.values) {
		return ""
	}
	return e.values[i]
}

// Buffer returns the in-progress text while editing.
func (e *Editor) Buffer() string { return e.buffer }

// Next moves the cursor down, wrapping.
func (e *Editor) Next() {
	if e.state != Browsing || len(e.fields) == 0 {
		return
	}
	e.cursor = (e.cursor + 1) % len(e.fields)
}

// Prev moves the cursor up, wrapping.
func (e *Editor) Prev() {
	if e.state != Browsing || len(e.fields) == 0 {
		return
	}
	e.cursor = (e.cursor - 1 + len(e.fields)) % len(e.fields)
}

// Enter starts editing the highlighted field.
func (e *Editor) Enter() {
	if e.state != Browsing || len(e.fields) == 0 {
		return
	}
	e.state = EditingField
	e.buffer = e.values[e.cursor]
}

// Input replaces the edit buffer.
func (e *Editor) Input(text string) {
	if e.state != EditingField {
		return
	}
	e.buffer = text
}

// Commit keeps the edit buffer as the field's value.
func (e *Editor) Commit() {
	if e.state != EditingField {
		return
	}
	e.values[e.cursor] = e.buffer
	e.buffer = ""
	e.state = Browsing
}

// Discard drops the edit buffer.
func (e *Editor) Discard() {
	if e.state != EditingField {
		return
	}
	e.buffer = ""
	e.state = Browsing
}

// Save applies every field, sanitizes and validates the result and writes it
// to the store. On failure the pre-save configuration is restored in memory
// and written back to disk on a best-effort basis, while the typed values
// stay in the editor for correction. On success the editor is refreshed from
// disk.
func (e *Editor) Save() error {
	if e.state != Browsing {
		return fmt.Errorf("session: finish editing before saving")
	}
	c := e.c
	snapshot := c.current.Clone()

	next := snapshot.Clone()
	for i, f := range e.fields {
		next.Set(f, e.values[i])
	}
	next = buildconfig.Sanitize(next)

	if next.SourcePath == "" {
		c.status = "No configuration file to save to"
		c.book.Log("Save aborted: configuration has no backing store")
		e.revert(snapshot, false)
		return ErrNoBackingStore
	}
	if missing := buildconfig.Validate(next, buildconfig.RequiredForSave); len(missing) > 0 {
		names := strings.Join(buildconfig.FieldNames(missing), ", ")
		c.status = "Save failed: missing " + names
		c.book.Logf("Save aborted: missing required config keys: %s", names)
		e.revert(snapshot, true)
		return fmt.Errorf("%w: missing %s", ErrSaveFailed, names)
	}
	if !c.store.Save(next) {
		c.status = "Save failed, configuration reverted"
		e.revert(snapshot, true)
		return ErrSaveFailed
	}
	c.current = next
	_ = c.Reload()
	e.load(c.current)
	c.status = "Configuration saved"
	return nil
}

func (e *Editor) revert(snapshot buildconfig.Configuration, disk bool) {
	c := e.c
	c.current = snapshot
	if !disk || snapshot.SourcePath == "" {
		return
	}
	c.book.Logf("Reverting configuration at %s", snapshot.SourcePath)
	if !c.store.Save(snapshot) {
		c.logger.Warn("configuration revert did not write")
	}
}
