package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// RestoreMethod identifies one source the preseed engine can restore from.
// The set is closed; unknown names are rejected at policy load.
type RestoreMethod string

const (
	MethodReplica       RestoreMethod = "replica"
	MethodLocalSnapshot RestoreMethod = "local-snapshot"
	MethodOffsiteBackup RestoreMethod = "offsite-backup"
)

// Valid reports whether the method is one of the closed set.
func (m RestoreMethod) Valid() bool {
	switch m {
	case MethodReplica, MethodLocalSnapshot, MethodOffsiteBackup:
		return true
	}
	return false
}

// Duration wraps time.Duration for YAML decoding of values like "45m".
type Duration struct {
	time.Duration
}

// UnmarshalYAML decodes a duration string
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Policy is the host protection policy: which jobs run, in which stages,
// how full the destinations may be, and how each service restores itself.
type Policy struct {
	// Cron expression for scheduled runs (5-field), empty = on-demand only
	Schedule string `yaml:"schedule"`

	Notify    NotifyPolicy    `yaml:"notify"`
	Preflight PreflightPolicy `yaml:"preflight"`
	Jobs      JobsPolicy      `yaml:"jobs"`
	Preseed   PreseedPolicy   `yaml:"preseed"`
	Targets   []Target        `yaml:"targets" validate:"dive"`
}

// NotifyPolicy configures the webhook notification gateway
type NotifyPolicy struct {
	WebhookURL string   `yaml:"webhook_url" validate:"omitempty,url"`
	Token      string   `yaml:"token"`
	Timeout    Duration `yaml:"timeout"`
}

// PreflightPolicy maps destination paths to minimum free bytes
type PreflightPolicy struct {
	MinFreeBytes map[string]int64 `yaml:"min_free_bytes" validate:"dive,gt=0"`
}

// JobsPolicy describes how protection jobs are discovered and bounded
type JobsPolicy struct {
	// systemd unit globs per job kind
	SnapshotPattern    string   `yaml:"snapshot_pattern" validate:"required"`
	ReplicationPattern string   `yaml:"replication_pattern" validate:"required"`
	DatabaseUnits      []string `yaml:"database_backup_units"`
	FileBackupPattern  string   `yaml:"file_backup_pattern" validate:"required"`

	// Connection string used to verify the cluster accepts connections
	// before the full backup is triggered; empty skips the check
	DatabaseURL string `yaml:"database_url"`

	// Utility units that match the globs but perform no protection work
	Denylist []string `yaml:"denylist"`

	FileBackupConcurrency int      `yaml:"file_backup_concurrency" validate:"omitempty,gt=0"`
	DefaultTimeout        Duration `yaml:"default_timeout"`
}

// PreseedPolicy holds restore-engine wide settings
type PreseedPolicy struct {
	MarkerDir string `yaml:"marker_dir" validate:"required"`

	// Occupancy thresholds below which a dataset counts as effectively empty
	MaxLogicalBytes int64 `yaml:"max_logical_bytes" validate:"omitempty,gt=0"`
	MaxUsedBytes    int64 `yaml:"max_used_bytes" validate:"omitempty,gt=0"`
}

// Repository is the offsite object-store repository for one target
type Repository struct {
	URL          string `yaml:"url"`
	PasswordFile string `yaml:"password_file"`
}

// Target is one service's restore configuration
type Target struct {
	Service    string          `yaml:"service" validate:"required"`
	Dataset    string          `yaml:"dataset" validate:"required"`
	Mountpoint string          `yaml:"mountpoint" validate:"required"`
	Methods    []RestoreMethod `yaml:"methods"`

	// Replica source (required when methods include replica)
	ReplicaHost    string `yaml:"replica_host"`
	ReplicaDataset string `yaml:"replica_dataset"`

	Repository Repository `yaml:"repository"`

	// Restoring from the offsite repository abandons the incremental
	// replication lineage; the next replication runs as a full send.
	// Listing offsite-backup without acknowledging that is a load error.
	AllowFullReseed bool `yaml:"allow_full_reseed"`

	// Strict mode blocks startup instead of bootstrapping empty when
	// every restore method fails
	Strict bool `yaml:"strict"`
}

const (
	defaultFileBackupConcurrency = 3
	defaultJobTimeout            = 2 * time.Hour
	defaultNotifyTimeout         = 10 * time.Second
	defaultMaxLogicalBytes       = 4 << 20
	defaultMaxUsedBytes          = 8 << 20
	defaultMarkerDir             = "/var/lib/preservd/markers"
)

// LoadFile reads and validates the policy file
func LoadFile(path string) (*Policy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}

	var policy Policy
	if err := yaml.Unmarshal(raw, &policy); err != nil {
		return nil, fmt.Errorf("failed to parse policy file: %w", err)
	}

	policy.applyDefaults()

	if err := policy.Validate(); err != nil {
		return nil, err
	}

	return &policy, nil
}

func (p *Policy) applyDefaults() {
	if p.Jobs.FileBackupConcurrency == 0 {
		p.Jobs.FileBackupConcurrency = defaultFileBackupConcurrency
	}
	if p.Jobs.DefaultTimeout.Duration == 0 {
		p.Jobs.DefaultTimeout.Duration = defaultJobTimeout
	}
	if p.Notify.Timeout.Duration == 0 {
		p.Notify.Timeout.Duration = defaultNotifyTimeout
	}
	if p.Preseed.MarkerDir == "" {
		p.Preseed.MarkerDir = defaultMarkerDir
	}
	if p.Preseed.MaxLogicalBytes == 0 {
		p.Preseed.MaxLogicalBytes = defaultMaxLogicalBytes
	}
	if p.Preseed.MaxUsedBytes == 0 {
		p.Preseed.MaxUsedBytes = defaultMaxUsedBytes
	}
}

// Validate rejects malformed policies at load time rather than at the
// point of use. Closed-enum and cross-field checks run after the struct
// tag validation.
func (p *Policy) Validate() error {
	validate := validator.New()
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("policy validation failed: %w", err)
	}

	seen := make(map[string]bool, len(p.Targets))
	for i := range p.Targets {
		t := &p.Targets[i]
		if seen[t.Service] {
			return fmt.Errorf("duplicate restore target %q", t.Service)
		}
		seen[t.Service] = true

		if err := t.validate(); err != nil {
			return fmt.Errorf("target %q: %w", t.Service, err)
		}
	}
	return nil
}

func (t *Target) validate() error {
	methodSeen := make(map[RestoreMethod]bool, len(t.Methods))
	for _, m := range t.Methods {
		if !m.Valid() {
			return fmt.Errorf("unknown restore method %q", m)
		}
		if methodSeen[m] {
			return fmt.Errorf("restore method %q listed twice", m)
		}
		methodSeen[m] = true
	}

	if methodSeen[MethodReplica] && (t.ReplicaHost == "" || t.ReplicaDataset == "") {
		return fmt.Errorf("replica method requires replica_host and replica_dataset")
	}
	if methodSeen[MethodOffsiteBackup] {
		if t.Repository.URL == "" {
			return fmt.Errorf("offsite-backup method requires repository.url")
		}
		if !t.AllowFullReseed {
			return fmt.Errorf("offsite-backup restore abandons the incremental replication lineage; set allow_full_reseed to accept that")
		}
	}
	return nil
}

// TargetFor returns the restore target for a service name
func (p *Policy) TargetFor(service string) (*Target, error) {
	for i := range p.Targets {
		if p.Targets[i].Service == service {
			return &p.Targets[i], nil
		}
	}
	return nil, fmt.Errorf("no restore target configured for service %q", service)
}
