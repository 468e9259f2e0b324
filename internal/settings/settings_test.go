package settings

import (
	"path/filepath"
	"testing"
)

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")

	s, err := OpenFileStore(path)
	if err != nil {
		t.Fatalf("OpenFileStore: %v", err)
	}
	if got := s.DisabledServers(); len(got) != 0 {
		t.Errorf("fresh store disabled = %v, want empty", got)
	}

	if err := s.SetServerDisabled("github", true); err != nil {
		t.Fatalf("SetServerDisabled: %v", err)
	}
	if err := s.SetServerDisabled("filesystem", true); err != nil {
		t.Fatalf("SetServerDisabled: %v", err)
	}
	if !s.IsServerDisabled("github") {
		t.Error("github should be disabled")
	}

	// A fresh store over the same file must see the persisted state.
	reopened, err := OpenFileStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got := reopened.DisabledServers()
	if len(got) != 2 || got[0] != "filesystem" || got[1] != "github" {
		t.Errorf("reopened disabled = %v", got)
	}

	if err := reopened.SetServerDisabled("github", false); err != nil {
		t.Fatalf("SetServerDisabled(false): %v", err)
	}
	if reopened.IsServerDisabled("github") {
		t.Error("github should be re-enabled")
	}
}

func TestFileStoreMissingFile(t *testing.T) {
	s, err := OpenFileStore(filepath.Join(t.TempDir(), "nope", "settings.json"))
	if err != nil {
		t.Fatalf("OpenFileStore on missing file: %v", err)
	}
	// First write creates the parent directory.
	if err := s.SetServerDisabled("x", true); err != nil {
		t.Fatalf("SetServerDisabled: %v", err)
	}
}
