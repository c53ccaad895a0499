// Package server is the thin tool-dispatch boundary around the
// Transaction Manager: it translates the external rename request shape
// into a txn.Request, calls Execute, and renders the external response
// shape, never leaking an inner *txnerr.Error directly to a caller.
package server

import (
	"github.com/shayonpal/mcp-lifeos/internal/logging"
	"github.com/shayonpal/mcp-lifeos/internal/vault/metrics"
	"github.com/shayonpal/mcp-lifeos/internal/vault/txn"
	"github.com/shayonpal/mcp-lifeos/internal/vault/txnerr"
)

// RenameRequest is the external request shape.
type RenameRequest struct {
	OldPath     string `json:"oldPath"`
	NewPath     string `json:"newPath"`
	UpdateLinks bool   `json:"updateLinks"`
	// DryRun is accepted for forward compatibility but not yet
	// implemented; requests setting it are rejected rather than
	// silently executed.
	DryRun bool `json:"dryRun"`
}

// RenameResponse is the external response shape. Exactly one of the
// success fields or Error is populated.
type RenameResponse struct {
	Success       bool                   `json:"success"`
	OldPath       string                 `json:"oldPath,omitempty"`
	NewPath       string                 `json:"newPath,omitempty"`
	CorrelationID string                 `json:"correlationId,omitempty"`
	AffectedFiles int                    `json:"affectedFiles,omitempty"`
	PhaseTimings  metrics.MillisSnapshot `json:"phaseTimingsMs,omitempty"`
	Message       string                 `json:"message,omitempty"`
	Error         *ErrorResponse         `json:"error,omitempty"`
}

// ErrorResponse is the stable, external-facing error shape. It never
// exposes Go error chains or the internal Kind/Phase taxonomy.
type ErrorResponse struct {
	Code            string                  `json:"code"`
	Message         string                  `json:"message"`
	Path            string                  `json:"path,omitempty"`
	RecoveryHint    string                  `json:"recoveryHint,omitempty"`
	CorrelationID   string                  `json:"correlationId,omitempty"`
	PartialRollback *txnerr.PartialRollback `json:"partialRollback,omitempty"`
}

// AnalyticsSink is the minimal telemetry surface RenameTool emits to;
// satisfied by internal/vault/analytics.Recorder.
type AnalyticsSink interface {
	RecordInvocation(tool string, success bool)
}

// RenameTool dispatches rename requests to a Transaction Manager,
// rendering results at the stable external boundary.
type RenameTool struct {
	Manager   *txn.Manager
	Analytics AnalyticsSink
	Logger    logging.Logger
}

// New constructs a RenameTool. A nil AnalyticsSink disables telemetry.
func New(manager *txn.Manager, analytics AnalyticsSink, logger logging.Logger) *RenameTool {
	if logger == nil {
		logger = logging.Global()
	}
	return &RenameTool{Manager: manager, Analytics: analytics, Logger: logger}
}

// Rename executes req and renders the result at the external boundary.
func (t *RenameTool) Rename(req RenameRequest) RenameResponse {
	if req.DryRun {
		return RenameResponse{Success: false, Error: &ErrorResponse{
			Code:    string(txnerr.InvalidPath),
			Message: "dryRun is not yet implemented",
		}}
	}

	result, txErr := t.Manager.Execute(txn.Request{
		OldPath:     req.OldPath,
		NewPath:     req.NewPath,
		UpdateLinks: req.UpdateLinks,
	})

	if t.Analytics != nil {
		t.Analytics.RecordInvocation("rename", txErr == nil)
	}

	if txErr != nil {
		return RenameResponse{Success: false, Error: renderError(txErr)}
	}

	return RenameResponse{
		Success:       true,
		OldPath:       result.OldPath,
		NewPath:       result.NewPath,
		CorrelationID: result.CorrelationID,
		AffectedFiles: result.AffectedFiles,
		PhaseTimings:  result.PhaseTimings.Millis(),
		Message:       result.Message,
	}
}

// renderError maps an internal *txnerr.Error onto the stable external
// error shape, dropping what must not leak past the tool boundary (the
// Go error chain, internal Kind/Phase values).
func renderError(e *txnerr.Error) *ErrorResponse {
	message := string(e.Code)
	if e.Err != nil {
		message = e.Err.Error()
	}
	return &ErrorResponse{
		Code:            string(e.Code),
		Message:         message,
		Path:            e.Path,
		RecoveryHint:    e.RecoveryHint,
		CorrelationID:   e.CorrelationID,
		PartialRollback: e.PartialRollback,
	}
}
