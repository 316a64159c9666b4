package preseed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/preservd-dev/preservd/internal/capability"
	"github.com/preservd-dev/preservd/internal/config"
	"github.com/preservd-dev/preservd/internal/notify"
)

// fakeSnapshotter is an in-memory Snapshotter that records every call
type fakeSnapshotter struct {
	datasets map[string]bool
	latest   map[string]string

	occupancy capability.Occupancy
	// occupancySeq, when non-empty, is consumed one reading per call
	// before falling back to occupancy
	occupancySeq []capability.Occupancy
	occupancyErr error

	snapshotErr error
	rollbackErr error
	holdErr     error

	calls []string
}

func newFakeSnapshotter() *fakeSnapshotter {
	return &fakeSnapshotter{
		datasets: make(map[string]bool),
		latest:   make(map[string]string),
	}
}

func (f *fakeSnapshotter) record(format string, args ...interface{}) {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *fakeSnapshotter) called(prefix string) bool {
	for _, call := range f.calls {
		if strings.HasPrefix(call, prefix) {
			return true
		}
	}
	return false
}

func (f *fakeSnapshotter) DatasetExists(ctx context.Context, dataset string) (bool, error) {
	f.record("exists %s", dataset)
	return f.datasets[dataset], nil
}

func (f *fakeSnapshotter) CreateDataset(ctx context.Context, dataset, mountpoint string) error {
	f.record("create %s %s", dataset, mountpoint)
	f.datasets[dataset] = true
	return nil
}

func (f *fakeSnapshotter) Snapshot(ctx context.Context, dataset, name string) (string, error) {
	f.record("snapshot %s@%s", dataset, name)
	if f.snapshotErr != nil {
		return "", f.snapshotErr
	}
	return dataset + "@" + name, nil
}

func (f *fakeSnapshotter) LatestSnapshot(ctx context.Context, dataset string) (string, error) {
	f.record("latest %s", dataset)
	return f.latest[dataset], nil
}

func (f *fakeSnapshotter) Rollback(ctx context.Context, snapshot string) error {
	f.record("rollback %s", snapshot)
	return f.rollbackErr
}

func (f *fakeSnapshotter) Hold(ctx context.Context, snapshot, tag string) error {
	f.record("hold %s %s", snapshot, tag)
	return f.holdErr
}

func (f *fakeSnapshotter) Release(ctx context.Context, snapshot, tag string) error {
	f.record("release %s %s", snapshot, tag)
	return nil
}

func (f *fakeSnapshotter) Occupancy(ctx context.Context, dataset string) (capability.Occupancy, error) {
	f.record("occupancy %s", dataset)
	if f.occupancyErr != nil {
		return capability.Occupancy{}, f.occupancyErr
	}
	if len(f.occupancySeq) > 0 {
		occ := f.occupancySeq[0]
		f.occupancySeq = f.occupancySeq[1:]
		return occ, nil
	}
	return f.occupancy, nil
}

type fakeReplicator struct {
	err   error
	pulls []string
}

func (f *fakeReplicator) Pull(ctx context.Context, host, remoteDataset, localDataset string) error {
	f.pulls = append(f.pulls, fmt.Sprintf("%s:%s -> %s", host, remoteDataset, localDataset))
	if f.err != nil {
		return f.err
	}
	return nil
}

type fakeOffsite struct {
	latestID   string
	latestErr  error
	restoreErr error
	restores   []string
}

func (f *fakeOffsite) LatestSnapshotID(ctx context.Context, repo capability.RepoSpec) (string, error) {
	return f.latestID, f.latestErr
}

func (f *fakeOffsite) Restore(ctx context.Context, repo capability.RepoSpec, targetDir string) error {
	f.restores = append(f.restores, targetDir)
	return f.restoreErr
}

type fakeNotifier struct {
	events []notify.Event
}

func (f *fakeNotifier) Send(ctx context.Context, event notify.Event) error {
	f.events = append(f.events, event)
	return nil
}

func (f *fakeNotifier) lastEvent(t *testing.T) notify.Event {
	t.Helper()
	if len(f.events) == 0 {
		t.Fatal("no notification was sent")
	}
	return f.events[len(f.events)-1]
}

type engineFixture struct {
	snaps    *fakeSnapshotter
	repl     *fakeReplicator
	offsite  *fakeOffsite
	markers  *MarkerStore
	notifier *fakeNotifier
	engine   *Engine
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()

	f := &engineFixture{
		snaps:    newFakeSnapshotter(),
		repl:     &fakeReplicator{},
		offsite:  &fakeOffsite{},
		markers:  NewMarkerStore(t.TempDir(), zerolog.Nop()),
		notifier: &fakeNotifier{},
	}
	guard := NewGuard(f.snaps, 4<<20, 8<<20, zerolog.Nop())
	f.engine = NewEngine(f.snaps, f.repl, f.offsite, f.markers, guard, f.notifier, zerolog.Nop())
	f.engine.now = func() time.Time {
		return time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	}
	return f
}

func testTarget() config.Target {
	return config.Target{
		Service:        "gitea",
		Dataset:        "tank/services/gitea",
		Mountpoint:     "/srv/gitea",
		Methods:        []config.RestoreMethod{config.MethodReplica, config.MethodLocalSnapshot},
		ReplicaHost:    "standby.example.com",
		ReplicaDataset: "tank/services/gitea",
	}
}

func TestEngine_MarkerShortCircuits(t *testing.T) {
	f := newEngineFixture(t)
	if err := f.markers.Write(Marker{Service: "gitea", State: MarkerRestored}); err != nil {
		t.Fatal(err)
	}

	result, err := f.engine.Run(context.Background(), testTarget())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if !result.AlreadySeeded {
		t.Error("AlreadySeeded = false, want true")
	}
	if result.State != MarkerRestored {
		t.Errorf("state = %q, want restored", result.State)
	}
	if len(f.snaps.calls) != 0 {
		t.Errorf("marker did not suppress capability calls: %v", f.snaps.calls)
	}
	if len(f.repl.pulls) != 0 {
		t.Errorf("marker did not suppress replication: %v", f.repl.pulls)
	}
}

func TestEngine_AdoptsExistingData(t *testing.T) {
	f := newEngineFixture(t)
	f.snaps.datasets["tank/services/gitea"] = true
	f.snaps.occupancy = capability.Occupancy{LogicalBytes: 100 << 20, UsedBytes: 50 << 20}

	result, err := f.engine.Run(context.Background(), testTarget())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if !result.AdoptedExisting {
		t.Error("AdoptedExisting = false, want true")
	}
	if len(f.repl.pulls) != 0 {
		t.Error("adoption must not trigger any restore method")
	}
	if !f.snaps.called("snapshot tank/services/gitea@preseed-adopted") {
		t.Errorf("no protective snapshot of adopted data: %v", f.snaps.calls)
	}

	marker, err := f.markers.Read("gitea")
	if err != nil || marker == nil {
		t.Fatalf("marker = %v, %v", marker, err)
	}
	if marker.State != MarkerRestored {
		t.Errorf("marker state = %q, want restored", marker.State)
	}
}

func TestEngine_ReplicaWins(t *testing.T) {
	f := newEngineFixture(t)

	result, err := f.engine.Run(context.Background(), testTarget())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.State != MarkerRestored {
		t.Errorf("state = %q, want restored", result.State)
	}
	if result.Method != config.MethodReplica {
		t.Errorf("method = %q, want replica", result.Method)
	}
	if len(result.Attempts) != 1 {
		t.Fatalf("attempts = %d, want 1 (later methods must not be tried)", len(result.Attempts))
	}
	if len(f.repl.pulls) != 1 {
		t.Fatalf("pulls = %d, want 1", len(f.repl.pulls))
	}
	if f.repl.pulls[0] != "standby.example.com:tank/services/gitea -> tank/services/gitea" {
		t.Errorf("pull = %q", f.repl.pulls[0])
	}
	if !f.snaps.called("snapshot tank/services/gitea@preseed-restored") {
		t.Error("no protective snapshot of restored state")
	}

	marker, _ := f.markers.Read("gitea")
	if marker == nil || marker.Method != config.MethodReplica {
		t.Errorf("marker = %+v, want method replica", marker)
	}
}

func TestEngine_FallsBackToLocalSnapshot(t *testing.T) {
	f := newEngineFixture(t)
	f.repl.err = errors.New("standby unreachable")
	f.snaps.datasets["tank/services/gitea"] = true
	f.snaps.latest["tank/services/gitea"] = "tank/services/gitea@daily-2026-03-13"

	result, err := f.engine.Run(context.Background(), testTarget())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.Method != config.MethodLocalSnapshot {
		t.Errorf("method = %q, want local-snapshot", result.Method)
	}
	if len(result.Attempts) != 2 {
		t.Fatalf("attempts = %d, want 2", len(result.Attempts))
	}
	if result.Attempts[0].Outcome != AttemptFailed {
		t.Errorf("replica attempt = %q, want failed", result.Attempts[0].Outcome)
	}
	if !result.Attempts[1].DestroyedTarget {
		t.Error("rollback attempt must record DestroyedTarget")
	}

	if !f.snaps.called("hold tank/services/gitea@daily-2026-03-13 preservd-preseed") {
		t.Errorf("rollback target was not held: %v", f.snaps.calls)
	}
	if !f.snaps.called("snapshot tank/services/gitea@preseed-pre-rollback") {
		t.Error("no protective snapshot before rollback")
	}
	if !f.snaps.called("rollback tank/services/gitea@daily-2026-03-13") {
		t.Error("rollback was not invoked")
	}
	if !f.snaps.called("release tank/services/gitea@daily-2026-03-13 preservd-preseed") {
		t.Error("hold was not released")
	}
}

func TestEngine_GuardAbortsRun(t *testing.T) {
	f := newEngineFixture(t)
	f.snaps.datasets["tank/services/gitea"] = true
	// Empty at the adoption check, occupied immediately before the
	// destructive receive
	f.snaps.occupancySeq = []capability.Occupancy{
		{},
		{LogicalBytes: 100 << 20, UsedBytes: 50 << 20},
	}

	_, err := f.engine.Run(context.Background(), testTarget())
	if !errors.Is(err, ErrNotEmpty) {
		t.Fatalf("err = %v, want ErrNotEmpty", err)
	}

	if len(f.repl.pulls) != 0 {
		t.Error("destructive pull ran despite guard violation")
	}
	if marker, _ := f.markers.Read("gitea"); marker != nil {
		t.Errorf("marker written despite aborted run: %+v", marker)
	}

	event := f.notifier.lastEvent(t)
	if event.Severity != "critical" {
		t.Errorf("notification severity = %q, want critical", event.Severity)
	}
}

func TestEngine_BootstrapsEmptyWhenNoSourceHasData(t *testing.T) {
	f := newEngineFixture(t)
	target := testTarget()
	target.Methods = []config.RestoreMethod{config.MethodLocalSnapshot}

	result, err := f.engine.Run(context.Background(), target)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.State != MarkerBootstrapEmpty {
		t.Errorf("state = %q, want bootstrap-empty", result.State)
	}
	if !f.snaps.called("create tank/services/gitea /srv/gitea") {
		t.Errorf("empty dataset was not created: %v", f.snaps.calls)
	}

	marker, _ := f.markers.Read("gitea")
	if marker == nil || marker.State != MarkerBootstrapEmpty {
		t.Errorf("marker = %+v, want bootstrap-empty", marker)
	}

	event := f.notifier.lastEvent(t)
	if event.Type != notify.EventRestoreBootstrapEmpty {
		t.Errorf("event = %q, want restore-bootstrap-empty", event.Type)
	}
	if event.Severity != "warning" {
		t.Errorf("severity = %q, want warning", event.Severity)
	}
}

func TestEngine_StrictModeBlocksBootstrap(t *testing.T) {
	f := newEngineFixture(t)
	target := testTarget()
	target.Methods = []config.RestoreMethod{config.MethodLocalSnapshot}
	target.Strict = true

	_, err := f.engine.Run(context.Background(), target)
	if err == nil {
		t.Fatal("expected error in strict mode, got nil")
	}

	if f.snaps.called("create") {
		t.Error("strict mode must not create the dataset")
	}
	if marker, _ := f.markers.Read("gitea"); marker != nil {
		t.Errorf("strict mode must not write a marker: %+v", marker)
	}
	if event := f.notifier.lastEvent(t); event.Severity != "critical" {
		t.Errorf("severity = %q, want critical", event.Severity)
	}
}

func TestEngine_OffsiteRestore(t *testing.T) {
	f := newEngineFixture(t)
	f.offsite.latestID = "4f2a91c8"

	target := testTarget()
	target.Methods = []config.RestoreMethod{config.MethodOffsiteBackup}
	target.Repository = config.Repository{
		URL:          "s3:s3.example.com/backups/gitea",
		PasswordFile: "/etc/preservd/restic-password",
	}
	target.AllowFullReseed = true

	result, err := f.engine.Run(context.Background(), target)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.Method != config.MethodOffsiteBackup {
		t.Errorf("method = %q, want offsite-backup", result.Method)
	}
	if !f.snaps.called("create tank/services/gitea /srv/gitea") {
		t.Error("dataset was not created before the file restore")
	}
	if len(f.offsite.restores) != 1 || f.offsite.restores[0] != "/srv/gitea" {
		t.Errorf("restores = %v, want [/srv/gitea]", f.offsite.restores)
	}
}

func TestEngine_OffsiteEmptyRepositoryNotApplicable(t *testing.T) {
	f := newEngineFixture(t)

	target := testTarget()
	target.Methods = []config.RestoreMethod{config.MethodOffsiteBackup}
	target.Repository = config.Repository{URL: "s3:s3.example.com/backups/gitea"}
	target.AllowFullReseed = true

	result, err := f.engine.Run(context.Background(), target)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.State != MarkerBootstrapEmpty {
		t.Errorf("state = %q, want bootstrap-empty", result.State)
	}
	if len(result.Attempts) != 1 || result.Attempts[0].Outcome != AttemptNotApplicable {
		t.Errorf("attempts = %+v, want one not-applicable", result.Attempts)
	}
	if len(f.offsite.restores) != 0 {
		t.Error("restore ran against an empty repository")
	}
}

func TestEngine_SecondRunIsNoOp(t *testing.T) {
	f := newEngineFixture(t)

	if _, err := f.engine.Run(context.Background(), testTarget()); err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	f.snaps.calls = nil
	f.repl.pulls = nil

	result, err := f.engine.Run(context.Background(), testTarget())
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if !result.AlreadySeeded {
		t.Error("second run did not short-circuit on the marker")
	}
	if len(f.snaps.calls) != 0 || len(f.repl.pulls) != 0 {
		t.Errorf("second run touched capabilities: %v %v", f.snaps.calls, f.repl.pulls)
	}
}
