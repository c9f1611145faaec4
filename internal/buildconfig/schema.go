package buildconfig

import "strings"

// Field identifies one persisted configuration value.
type Field int

const (
	FieldProject Field = iota
	FieldScheme
	FieldArchiveConfiguration
	FieldArchiveDestructive
	FieldPackageName
	FieldAppBundleName
	FieldVolumeName
	FieldMoveFromArchive
)

// Kind is the value type stored behind a Field.
type Kind int

const (
	KindString Kind = iota
	KindBool
)

// INI section names.
const (
	SectionBuild   = "build"
	SectionArchive = "archive"
	SectionDMG     = "dmg"
)

// Fields lists every field in editor and file order.
var Fields = []Field{
	FieldProject,
	FieldScheme,
	FieldArchiveConfiguration,
	FieldArchiveDestructive,
	FieldPackageName,
	FieldAppBundleName,
	FieldVolumeName,
	FieldMoveFromArchive,
}

// Requirement sets. Validation is scoped to the operation being attempted.
var (
	RequiredForBuild   = []Field{FieldProject, FieldScheme, FieldArchiveConfiguration}
	RequiredForPackage = []Field{FieldAppBundleName, FieldPackageName, FieldVolumeName}
	RequiredForSave    = RequiredForBuild
)

type fieldSpec struct {
	section string
	key     string
	name    string
	label   string
	kind    Kind
	str     func(*Configuration) **string
	flag    func(*Configuration) **bool
}

// schema maps each field to its (section, key) location and typed accessor.
// Keys that do not appear here are never read, so unknown entries are inert.
var schema = [...]fieldSpec{
	FieldProject: {
		section: SectionBuild, key: "project", name: "project", label: "Project",
		kind: KindString, str: func(c *Configuration) **string { return &c.Project },
	},
	FieldScheme: {
		section: SectionBuild, key: "scheme", name: "scheme", label: "Scheme",
		kind: KindString, str: func(c *Configuration) **string { return &c.Scheme },
	},
	FieldArchiveConfiguration: {
		section: SectionArchive, key: "configuration", name: "archiveConfiguration", label: "Configuration",
		kind: KindString, str: func(c *Configuration) **string { return &c.ArchiveConfiguration },
	},
	FieldArchiveDestructive: {
		section: SectionArchive, key: "destructive", name: "archiveDestructive", label: "Destructive",
		kind: KindBool, flag: func(c *Configuration) **bool { return &c.ArchiveDestructive },
	},
	FieldPackageName: {
		section: SectionDMG, key: "name", name: "packageName", label: "DMG Name",
		kind: KindString, str: func(c *Configuration) **string { return &c.PackageName },
	},
	FieldAppBundleName: {
		section: SectionDMG, key: "app_name", name: "appBundleName", label: "DMG App Name",
		kind: KindString, str: func(c *Configuration) **string { return &c.AppBundleName },
	},
	FieldVolumeName: {
		section: SectionDMG, key: "volume_name", name: "volumeName", label: "DMG Volume Name",
		kind: KindString, str: func(c *Configuration) **string { return &c.VolumeName },
	},
	FieldMoveFromArchive: {
		section: SectionDMG, key: "move_from_archive", name: "moveFromArchive", label: "DMG Move From Archive",
		kind: KindBool, flag: func(c *Configuration) **bool { return &c.MoveFromArchive },
	},
}

func (f Field) spec() fieldSpec {
	if f < 0 || int(f) >= len(schema) {
		return fieldSpec{name: "unknown"}
	}
	return schema[f]
}

// String returns the field's configuration name, e.g. "archiveConfiguration".
func (f Field) String() string { return f.spec().name }

// Section returns the INI section holding the field.
func (f Field) Section() string { return f.spec().section }

// Key returns the INI key inside Section.
func (f Field) Key() string { return f.spec().key }

// Label returns the human-readable editor label.
func (f Field) Label() string { return f.spec().label }

// Kind reports the stored value type.
func (f Field) Kind() Kind { return f.spec().kind }

// ParseBool normalizes free-form boolean text: "true", "1" and "yes" in any
// case and surrounded by any whitespace are true, everything else is false.
func ParseBool(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "1", "yes":
		return true
	default:
		return false
	}
}

// FormatBool renders a boolean the way the store persists it.
func FormatBool(v bool) string {
	if v {
		return "true"
	}
	return "false"
}

// FieldNames renders fields as their configuration names.
func FieldNames(fields []Field) []string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.String()
	}
	return names
}
