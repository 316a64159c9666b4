package orchestrator

import (
	"github.com/preservd-dev/preservd/internal/assert"
	"github.com/preservd-dev/preservd/internal/config"
	"github.com/preservd-dev/preservd/internal/jobs"
)

// Stage is one ordered phase of a run. Stages never overlap; every job in
// a stage reaches a terminal state before the next stage starts.
type Stage struct {
	Name string
	Kind jobs.Kind

	// Critical stages abort the remaining stages when any job fails.
	// Advisory stages log and continue.
	Critical bool

	// Parallelism bounds concurrent jobs in the stage; 0 means all jobs
	// start together, 1 means strictly sequential.
	Parallelism int
}

// planStages returns the fixed stage order for a run.
//
// Snapshot creation is advisory and sequential: it also runs on its own
// frequent timer, so a failure here just means the run replicates whatever
// snapshots already exist. Replication is network-bound and jobs are
// independent, so all start together. Database backups run one at a time;
// concurrent invocations against the same cluster contend for an internal
// lock. File backups get a small fixed cap to bound memory and network
// pressure.
func planStages(policy config.JobsPolicy) []Stage {
	assert.Positive(policy.FileBackupConcurrency, "file backup concurrency")

	return []Stage{
		{Name: "snapshot", Kind: jobs.KindSnapshot, Parallelism: 1},
		{Name: "replication", Kind: jobs.KindReplication, Parallelism: 0},
		{Name: "database-backup", Kind: jobs.KindDatabaseBackup, Parallelism: 1},
		{Name: "file-backup", Kind: jobs.KindFileBackup, Parallelism: policy.FileBackupConcurrency},
	}
}

// groupByKind buckets discovered jobs per kind, preserving discovery order
func groupByKind(all []jobs.Job) map[jobs.Kind][]jobs.Job {
	grouped := make(map[jobs.Kind][]jobs.Job)
	for _, job := range all {
		grouped[job.Kind] = append(grouped[job.Kind], job)
	}
	return grouped
}
