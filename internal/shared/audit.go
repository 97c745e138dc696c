package shared

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// AuditLog represents a row in audit_logs.
type AuditLog struct {
	ActorID  int64
	Action   string
	Entity   string
	EntityID string
	Meta     map[string]any
	At       time.Time
}

// AuditLogger writes audit_logs rows after a successful domain operation.
type AuditLogger struct {
	db DBTX
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(db DBTX) *AuditLogger {
	return &AuditLogger{db: db}
}

// Record persists the log entry. A zero At defaults to NOW() in the database.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil || l.db == nil {
		return errors.New("audit logger not initialised")
	}
	if log.Action == "" || log.Entity == "" || log.EntityID == "" {
		return errors.New("audit log requires action/entity/entity_id")
	}
	meta, err := json.Marshal(log.Meta)
	if err != nil {
		return err
	}
	var at any
	if !log.At.IsZero() {
		at = log.At
	}
	_, err = l.db.Exec(ctx, `INSERT INTO audit_logs (actor_id, action, entity, entity_id, meta, occurred_at)
VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))`, nullActor(log.ActorID), log.Action, log.Entity, log.EntityID, meta, at)
	return err
}

func nullActor(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}
