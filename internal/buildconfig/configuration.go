package buildconfig

import "strings"

// Configuration is the build configuration record. Every persisted field is
// optional; nil means absent. SourcePath is the store the record was read
// from and will be saved to; an empty SourcePath means there is no backing
// store at all.
type Configuration struct {
	Project              *string
	Scheme               *string
	ArchiveConfiguration *string
	ArchiveDestructive   *bool
	PackageName          *string
	AppBundleName        *string
	VolumeName           *string
	MoveFromArchive      *bool

	SourcePath string
}

// Clone returns a deep copy that shares no pointers with c.
func (c Configuration) Clone() Configuration {
	out := Configuration{SourcePath: c.SourcePath}
	for _, f := range Fields {
		spec := f.spec()
		switch spec.kind {
		case KindBool:
			if v := *spec.flag(&c); v != nil {
				copied := *v
				*spec.flag(&out) = &copied
			}
		default:
			if v := *spec.str(&c); v != nil {
				copied := *v
				*spec.str(&out) = &copied
			}
		}
	}
	return out
}

// IsSet reports whether the field holds a value. Strings that are empty
// after trimming count as absent.
func (c Configuration) IsSet(f Field) bool {
	spec := f.spec()
	switch spec.kind {
	case KindBool:
		return spec.flag != nil && *spec.flag(&c) != nil
	default:
		if spec.str == nil {
			return false
		}
		v := *spec.str(&c)
		return v != nil && strings.TrimSpace(*v) != ""
	}
}

// Value returns the field rendered as text and whether it is set.
func (c Configuration) Value(f Field) (string, bool) {
	if !c.IsSet(f) {
		return "", false
	}
	spec := f.spec()
	if spec.kind == KindBool {
		return FormatBool(**spec.flag(&c)), true
	}
	return **spec.str(&c), true
}

// Text returns the field as text, or "" when absent.
func (c Configuration) Text(f Field) string {
	v, _ := c.Value(f)
	return v
}

// Set stores raw text into the field. Empty text clears it; boolean fields
// normalize through ParseBool.
func (c *Configuration) Set(f Field, raw string) {
	spec := f.spec()
	if strings.TrimSpace(raw) == "" {
		c.Clear(f)
		return
	}
	switch spec.kind {
	case KindBool:
		if spec.flag == nil {
			return
		}
		v := ParseBool(raw)
		*spec.flag(c) = &v
	default:
		if spec.str == nil {
			return
		}
		v := raw
		*spec.str(c) = &v
	}
}

// Clear removes the field's value.
func (c *Configuration) Clear(f Field) {
	spec := f.spec()
	switch spec.kind {
	case KindBool:
		if spec.flag != nil {
			*spec.flag(c) = nil
		}
	default:
		if spec.str != nil {
			*spec.str(c) = nil
		}
	}
}

// Bool returns the boolean field's value, false when absent.
func (c Configuration) Bool(f Field) bool {
	spec := f.spec()
	if spec.kind != KindBool || spec.flag == nil {
		return false
	}
	v := *spec.flag(&c)
	return v != nil && *v
}

// Equal compares every persisted field. SourcePath is not compared.
func (c Configuration) Equal(other Configuration) bool {
	for _, f := range Fields {
		a, aok := c.Value(f)
		b, bok := other.Value(f)
		if aok != bok || a != b {
			return false
		}
	}
	return true
}

// Validate returns the fields of required, in order, that cfg lacks.
func Validate(cfg Configuration, required []Field) []Field {
	var missing []Field
	for _, f := range required {
		if !cfg.IsSet(f) {
			missing = append(missing, f)
		}
	}
	return missing
}

// Sanitize trims string fields, strips embedded line breaks and drops
// strings that end up empty. Booleans are left as they are.
func Sanitize(cfg Configuration) Configuration {
	out := cfg.Clone()
	for _, f := range Fields {
		spec := f.spec()
		if spec.kind != KindString {
			continue
		}
		ptr := spec.str(&out)
		if *ptr == nil {
			continue
		}
		clean := sanitizeString(**ptr)
		if clean == "" {
			*ptr = nil
			continue
		}
		*ptr = &clean
	}
	return out
}

func sanitizeString(v string) string {
	v = strings.NewReplacer("\r\n", "", "\n", "", "\r", "").Replace(v)
	return strings.TrimSpace(v)
}
