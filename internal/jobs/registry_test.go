package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/preservd-dev/preservd/internal/config"
)

// fakeUnits returns unit names the way the systemd adapter does: without
// the .service suffix.
type fakeUnits struct {
	byPattern map[string][]string
	active    map[string]bool
}

func (f *fakeUnits) ListUnits(ctx context.Context, pattern string) ([]string, error) {
	return f.byPattern[pattern], nil
}

func (f *fakeUnits) IsActive(ctx context.Context, unit string) (bool, error) {
	return f.active[unit], nil
}

func (f *fakeUnits) Start(ctx context.Context, unit string) error { return nil }
func (f *fakeUnits) Stop(ctx context.Context, unit string) error  { return nil }
func (f *fakeUnits) Result(ctx context.Context, unit string) (string, error) {
	return "success", nil
}

func testRegistry() (*Registry, *fakeUnits) {
	units := &fakeUnits{
		byPattern: map[string][]string{
			"snapshot-*.service":   {"snapshot-tank"},
			"replicate-*.service":  {"replicate-tank", "replicate-prune"},
			"filebackup-*.service": {"filebackup-gitea", "filebackup-paperless"},
		},
		active: make(map[string]bool),
	}
	policy := config.JobsPolicy{
		SnapshotPattern:    "snapshot-*.service",
		ReplicationPattern: "replicate-*.service",
		DatabaseUnits:      []string{"pgbackrest-full.service"},
		FileBackupPattern:  "filebackup-*.service",
		Denylist:           []string{"replicate-prune.service"},
		DefaultTimeout:     config.Duration{Duration: 90 * time.Minute},
	}
	return NewRegistry(units, policy, zerolog.Nop()), units
}

func TestDiscover_ClassifiesAndFilters(t *testing.T) {
	registry, _ := testRegistry()

	discovered, err := registry.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}

	byName := make(map[string]Job, len(discovered))
	for _, job := range discovered {
		byName[job.Name] = job
	}

	if len(discovered) != 5 {
		t.Fatalf("discovered = %d jobs, want 5", len(discovered))
	}

	if _, ok := byName["replicate-prune"]; ok {
		t.Error("denylisted utility unit was discovered as a job")
	}

	wantKinds := map[string]Kind{
		"snapshot-tank":        KindSnapshot,
		"replicate-tank":       KindReplication,
		"pgbackrest-full":      KindDatabaseBackup,
		"filebackup-gitea":     KindFileBackup,
		"filebackup-paperless": KindFileBackup,
	}
	for name, kind := range wantKinds {
		job, ok := byName[name]
		if !ok {
			t.Errorf("job %s missing", name)
			continue
		}
		if job.Kind != kind {
			t.Errorf("%s kind = %q, want %q", name, job.Kind, kind)
		}
		if job.Timeout != 90*time.Minute {
			t.Errorf("%s timeout = %s, want 90m", name, job.Timeout)
		}
	}
}

func TestDiscover_ExplicitUnitSuffixTrimmed(t *testing.T) {
	registry, _ := testRegistry()

	discovered, err := registry.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	for _, job := range discovered {
		if job.Name == "pgbackrest-full.service" {
			t.Error("explicit database unit kept its .service suffix")
		}
	}
}

func TestDiscover_DenylistCoversExplicitUnits(t *testing.T) {
	registry, _ := testRegistry()
	registry.policy.Denylist = append(registry.policy.Denylist, "pgbackrest-full")

	discovered, err := registry.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	for _, job := range discovered {
		if job.Name == "pgbackrest-full" {
			t.Error("denylisted database unit was discovered")
		}
	}
}

func TestIsActive(t *testing.T) {
	registry, units := testRegistry()
	units.active["replicate-tank"] = true

	active, err := registry.IsActive(context.Background(), Job{Name: "replicate-tank"})
	if err != nil {
		t.Fatal(err)
	}
	if !active {
		t.Error("IsActive = false for running unit")
	}

	active, err = registry.IsActive(context.Background(), Job{Name: "snapshot-tank"})
	if err != nil {
		t.Fatal(err)
	}
	if active {
		t.Error("IsActive = true for idle unit")
	}
}
