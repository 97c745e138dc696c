package shared

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// ApprovalAction enumerates workflow log actions.
type ApprovalAction string

const (
	ApprovalSubmit  ApprovalAction = "SUBMIT"
	ApprovalApprove ApprovalAction = "APPROVE"
	ApprovalOrder   ApprovalAction = "ORDER"
	ApprovalCancel  ApprovalAction = "CANCEL"
)

// approvalNamespace seeds deterministic ref ids so every module/entity pair maps
// to one stable uuid.
var approvalNamespace = uuid.MustParse("5b0f3c1e-8a54-4c0e-9d39-7c2f2f6b7a10")

// ApprovalRef derives the approvals.ref_id for an entity.
func ApprovalRef(module string, id int64) uuid.UUID {
	return uuid.NewSHA1(approvalNamespace, []byte(fmt.Sprintf("%s:%d", module, id)))
}

// ApprovalLog represents a single workflow transition.
type ApprovalLog struct {
	ID      int64
	Module  string
	RefID   uuid.UUID
	ActorID int64
	Action  ApprovalAction
	Note    string
	At      time.Time
}

// ApprovalRecorder persists workflow history into approvals.
type ApprovalRecorder struct {
	db     DBTX
	logger *slog.Logger
}

// NewApprovalRecorder constructs ApprovalRecorder.
func NewApprovalRecorder(db DBTX, logger *slog.Logger) *ApprovalRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &ApprovalRecorder{db: db, logger: logger}
}

// Record writes one approval entry.
func (r *ApprovalRecorder) Record(ctx context.Context, log ApprovalLog) error {
	if r == nil || r.db == nil {
		return errors.New("approval recorder not initialised")
	}
	switch {
	case log.Module == "":
		return errors.New("approval module required")
	case log.ActorID == 0:
		return errors.New("approval actor required")
	case log.RefID == uuid.Nil:
		return errors.New("approval ref id required")
	case log.Action == "":
		return errors.New("approval action required")
	}
	var at any
	if !log.At.IsZero() {
		at = log.At
	}
	_, err := r.db.Exec(ctx, `INSERT INTO approvals (module, ref_id, actor_id, action, note, at)
VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))`, log.Module, log.RefID, log.ActorID, string(log.Action), log.Note, at)
	if err != nil {
		r.logger.Error("record approval", slog.String("module", log.Module), slog.Any("error", err))
		return err
	}
	return nil
}

// List returns the approval history of one entity, oldest first.
func (r *ApprovalRecorder) List(ctx context.Context, module string, ref uuid.UUID) ([]ApprovalLog, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("approval recorder not initialised")
	}
	rows, err := r.db.Query(ctx, `SELECT id, module, ref_id, actor_id, action, note, at
FROM approvals WHERE module=$1 AND ref_id=$2 ORDER BY at ASC, id ASC`, module, ref)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var logs []ApprovalLog
	for rows.Next() {
		var l ApprovalLog
		var action string
		if err := rows.Scan(&l.ID, &l.Module, &l.RefID, &l.ActorID, &action, &l.Note, &l.At); err != nil {
			return nil, err
		}
		l.Action = ApprovalAction(action)
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
