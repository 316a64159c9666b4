package preseed

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/preservd-dev/preservd/internal/config"
)

func TestMarkerStore_WriteReadRoundtrip(t *testing.T) {
	store := NewMarkerStore(t.TempDir(), zerolog.Nop())

	err := store.Write(Marker{
		Service: "gitea",
		State:   MarkerRestored,
		Method:  config.MethodReplica,
	})
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	marker, err := store.Read("gitea")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if marker == nil {
		t.Fatal("Read returned nil for existing marker")
	}
	if marker.State != MarkerRestored {
		t.Errorf("state = %q, want restored", marker.State)
	}
	if marker.Method != config.MethodReplica {
		t.Errorf("method = %q, want replica", marker.Method)
	}
	if marker.CreatedAt.IsZero() {
		t.Error("CreatedAt was not stamped")
	}
}

func TestMarkerStore_ReadAbsent(t *testing.T) {
	store := NewMarkerStore(t.TempDir(), zerolog.Nop())

	marker, err := store.Read("gitea")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if marker != nil {
		t.Errorf("Read = %+v, want nil for absent marker", marker)
	}
}

func TestMarkerStore_ReadCorrupt(t *testing.T) {
	dir := t.TempDir()
	store := NewMarkerStore(dir, zerolog.Nop())

	if err := os.WriteFile(filepath.Join(dir, "gitea.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := store.Read("gitea"); err == nil {
		t.Error("expected error for corrupt marker, got nil")
	}
}

func TestMarkerStore_Clear(t *testing.T) {
	store := NewMarkerStore(t.TempDir(), zerolog.Nop())

	if err := store.Clear("gitea"); err == nil {
		t.Error("expected error clearing absent marker, got nil")
	}

	if err := store.Write(Marker{Service: "gitea", State: MarkerBootstrapEmpty}); err != nil {
		t.Fatal(err)
	}
	if err := store.Clear("gitea"); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	marker, err := store.Read("gitea")
	if err != nil {
		t.Fatal(err)
	}
	if marker != nil {
		t.Error("marker survived Clear")
	}
}

func TestMarkerStore_List(t *testing.T) {
	dir := t.TempDir()
	store := NewMarkerStore(dir, zerolog.Nop())

	for _, service := range []string{"gitea", "vaultwarden"} {
		if err := store.Write(Marker{Service: service, State: MarkerRestored}); err != nil {
			t.Fatal(err)
		}
	}

	// Stray files must not surface as markers
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	markers, err := store.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(markers) != 2 {
		t.Fatalf("List returned %d markers, want 2", len(markers))
	}
}

func TestMarkerStore_ListSkipsCorruptMarker(t *testing.T) {
	dir := t.TempDir()
	store := NewMarkerStore(dir, zerolog.Nop())

	for _, service := range []string{"gitea", "vaultwarden"} {
		if err := store.Write(Marker{Service: service, State: MarkerRestored}); err != nil {
			t.Fatal(err)
		}
	}

	// One damaged file must not hide the healthy markers
	if err := os.WriteFile(filepath.Join(dir, "postgres.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	markers, err := store.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(markers) != 2 {
		t.Fatalf("List returned %d markers, want 2", len(markers))
	}
	for _, marker := range markers {
		if marker.Service == "postgres" {
			t.Error("corrupt marker surfaced in listing")
		}
	}
}

func TestMarkerStore_WriteLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store := NewMarkerStore(dir, zerolog.Nop())

	if err := store.Write(Marker{Service: "gitea", State: MarkerRestored}); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".") {
			t.Errorf("temp file %s left behind", entry.Name())
		}
	}
}
