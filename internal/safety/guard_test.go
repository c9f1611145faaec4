package safety

import (
	"os"
	"path/filepath"
	"testing"
)

func newDataRoot(t *testing.T) (string, *Guard) {
	t.Helper()
	project := t.TempDir()
	root := filepath.Join(project, "ComfyXData")
	for _, dir := range []string{"Archive", "Export", "Logs", "Updates"} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	guard, err := New(root)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return root, guard
}

func TestIsSafeToRemoveBoundaries(t *testing.T) {
	root, guard := newDataRoot(t)
	sibling := root + "Evil"
	if err := os.MkdirAll(sibling, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "Logs", "run.log"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name string
		path string
		want bool
	}{
		{"empty", "", false},
		{"filesystem root", "/", false},
		{"data root", root, false},
		{"data root with trailing slash", root + string(filepath.Separator), false},
		{"archive dir", filepath.Join(root, "Archive"), true},
		{"dot dot escape", filepath.Join(root, "Archive", "..", ".."), false},
		{"prefix sibling", sibling, false},
		{"missing child", filepath.Join(root, "Nope"), false},
		{"regular file", filepath.Join(root, "Logs", "run.log"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := guard.IsSafeToRemove(tc.path); got != tc.want {
				t.Fatalf("IsSafeToRemove(%q) = %v, want %v", tc.path, got, tc.want)
			}
		})
	}
}

func TestIsSafeToRemoveRejectsSymlinkEscape(t *testing.T) {
	root, guard := newDataRoot(t)
	outside := t.TempDir()
	link := filepath.Join(root, "Export", "escape")
	if err := os.Symlink(outside, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	if guard.IsSafeToRemove(link) {
		t.Fatalf("symlink resolving outside the data root must not be removable")
	}
}

func TestContainsForbiddenContent(t *testing.T) {
	for _, name := range []string{"x.swift", "x.cpp", "nested/deep/x.h", "Thing.xcodeproj/project.pbxproj"} {
		t.Run(name, func(t *testing.T) {
			root, guard := newDataRoot(t)
			target := filepath.Join(root, "Updates", name)
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				t.Fatal(err)
			}
			if err := os.WriteFile(target, []byte("//"), 0o644); err != nil {
				t.Fatal(err)
			}
			if !guard.ContainsForbiddenContent(filepath.Join(root, "Updates")) {
				t.Fatalf("expected %s to be detected", name)
			}
			verdict := guard.Check(filepath.Join(root, "Updates"))
			if verdict.Allowed || verdict.Reason == "" {
				t.Fatalf("Check should refuse with a reason, got %+v", verdict)
			}
		})
	}
}

func TestContainsForbiddenContentAllowsBuildOutput(t *testing.T) {
	root, guard := newDataRoot(t)
	dir := filepath.Join(root, "Updates", "App.app", "Contents")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "Info.plist"), []byte("<plist/>"), 0o644); err != nil {
		t.Fatal(err)
	}
	if guard.ContainsForbiddenContent(filepath.Join(root, "Updates")) {
		t.Fatalf("app bundle output should not be forbidden")
	}
	if guard.ContainsForbiddenContent(filepath.Join(root, "Missing")) {
		t.Fatalf("missing directory holds nothing forbidden")
	}
	if v := guard.Check(filepath.Join(root, "Updates")); !v.Allowed {
		t.Fatalf("Check refused clean directory: %+v", v)
	}
}

func TestNewRejectsEmptyRoot(t *testing.T) {
	if _, err := New("  "); err == nil {
		t.Fatalf("expected error for empty data root")
	}
}
