// Package recovery implements boot recovery: at process start, scan the
// WAL directory for abandoned transactions and roll each one back.
// Every reclaimed entry is rolled back unconditionally; there is no
// notion of completing an in-flight commit forward.
package recovery

import (
	"time"

	"github.com/shayonpal/mcp-lifeos/internal/logging"
	"github.com/shayonpal/mcp-lifeos/internal/vault/metrics"
	"github.com/shayonpal/mcp-lifeos/internal/vault/txn"
	"github.com/shayonpal/mcp-lifeos/internal/vault/txnerr"
	"github.com/shayonpal/mcp-lifeos/internal/vault/wal"
)

// DefaultMinAge is the staleness floor below which a WAL entry is left
// alone because it may belong to an active transaction.
const DefaultMinAge = 60 * time.Second

// EntryOutcome records what Boot Recovery did with one reclaimed entry.
type EntryOutcome struct {
	WALPath       string
	CorrelationID string
	Status        string // "success", "partial", "failure"
	Partial       *txnerr.PartialRollback
}

// Report summarizes one Boot Recovery pass.
type Report struct {
	Scanned   int
	Reclaimed []EntryOutcome
	Corrupt   []string
}

// Runner drives Boot Recovery against a WAL manager and transaction
// manager pair.
type Runner struct {
	WAL     *wal.Manager
	Txn     *txn.Manager
	Metrics *metrics.Collector
	Logger  logging.Logger
	MinAge  time.Duration
}

// New constructs a Runner. A zero MinAge defaults to DefaultMinAge; a
// nil Metrics defaults to metrics.Global.
func New(walMgr *wal.Manager, txnMgr *txn.Manager, m *metrics.Collector, logger logging.Logger, minAge time.Duration) *Runner {
	if minAge <= 0 {
		minAge = DefaultMinAge
	}
	if m == nil {
		m = metrics.Global
	}
	if logger == nil {
		logger = walMgr.Logger
	}
	return &Runner{WAL: walMgr, Txn: txnMgr, Metrics: m, Logger: logger, MinAge: minAge}
}

// Run executes one boot recovery pass: scan, then roll back every
// reclaimed entry. All failures are logged and startup continues
// regardless. Running Run twice in a row is idempotent because
// Rollback itself is idempotent: a second pass finds either a deleted
// WAL (already cleaned up) or a WAL whose rollback work has nothing
// left to do.
func (r *Runner) Run() Report {
	r.Metrics.RecordRecoveryRun()

	var report Report
	pending, err := r.WAL.ScanPending(r.MinAge, func(path string, scanErr error) {
		report.Corrupt = append(report.Corrupt, path)
		r.Logger.Error("boot recovery: skipping unreadable wal entry path=%s error=%v", path, scanErr)
	})
	if err != nil {
		r.Logger.Error("boot recovery: scan failed error=%v", err)
		return report
	}

	report.Scanned = len(pending)

	for _, p := range pending {
		partial := r.Txn.Rollback(p.Entry, p.Path)

		status := "success"
		switch {
		case partial == nil:
			status = "success"
		case len(partial.Failed) > 0 && len(partial.RolledBack) > 0:
			status = "partial"
		case len(partial.Failed) > 0:
			status = "failure"
		}

		if status == "success" {
			r.Metrics.RecordRollbackSuccess()
		} else {
			r.Metrics.RecordRollbackFailed()
		}

		r.Logger.Info("boot recovery: reclaimed correlation=%s wal=%s status=%s age=%s",
			p.Entry.CorrelationID, p.Path, status, p.Age)

		report.Reclaimed = append(report.Reclaimed, EntryOutcome{
			WALPath:       p.Path,
			CorrelationID: p.Entry.CorrelationID,
			Status:        status,
			Partial:       partial,
		})
	}

	return report
}
