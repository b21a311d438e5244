package portal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func TestTokenRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tokens", "restore_token")
	if err := SaveToken(path, "abc123", zerolog.Nop()); err != nil {
		t.Fatalf("saving token: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat token file: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("unexpected permissions: %o", perm)
	}

	if got := LoadToken(path, zerolog.Nop()); got != "abc123" {
		t.Fatalf("unexpected token: %q", got)
	}
}

func TestLoadTokenMissingFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "restore_token")
	if got := LoadToken(path, zerolog.Nop()); got != "" {
		t.Fatalf("expected empty token, got %q", got)
	}
}

func TestLoadTokenTrimsWhitespace(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "restore_token")
	if err := os.WriteFile(path, []byte("  tok\n"), 0o600); err != nil {
		t.Fatalf("writing token: %v", err)
	}
	if got := LoadToken(path, zerolog.Nop()); got != "tok" {
		t.Fatalf("unexpected token: %q", got)
	}
}

func TestLoadTokenEmptyFileStartsFresh(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "restore_token")
	if err := os.WriteFile(path, []byte("\n"), 0o600); err != nil {
		t.Fatalf("writing token: %v", err)
	}
	if got := LoadToken(path, zerolog.Nop()); got != "" {
		t.Fatalf("expected empty token, got %q", got)
	}
}

func TestLoadTokenUnreadableFileIsRemoved(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "restore_token")
	// A directory at the token path cannot be read as a file.
	if err := os.Mkdir(path, 0o700); err != nil {
		t.Fatalf("creating blocker: %v", err)
	}

	if got := LoadToken(path, zerolog.Nop()); got != "" {
		t.Fatalf("expected empty token, got %q", got)
	}
}

func TestSaveTokenOverwritesExisting(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "restore_token")
	if err := SaveToken(path, "old", zerolog.Nop()); err != nil {
		t.Fatalf("saving first token: %v", err)
	}
	if err := SaveToken(path, "new", zerolog.Nop()); err != nil {
		t.Fatalf("saving second token: %v", err)
	}
	if got := LoadToken(path, zerolog.Nop()); got != "new" {
		t.Fatalf("unexpected token: %q", got)
	}
}

func TestDeleteTokenMissingFileIsFine(t *testing.T) {
	t.Parallel()

	DeleteToken(filepath.Join(t.TempDir(), "restore_token"), zerolog.Nop())
}
