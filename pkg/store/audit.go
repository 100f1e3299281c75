package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agentmesh/agentmesh/pkg/models"
)

// AuditStore appends bus events to the agent_events table for replay and
// debugging. Rows are never updated or deleted.
type AuditStore struct {
	db *sql.DB
}

// NewAuditStore creates the repository.
func NewAuditStore(db *sql.DB) *AuditStore {
	return &AuditStore{db: db}
}

// Append inserts one audit row.
func (s *AuditStore) Append(ctx context.Context, e *models.AuditEvent) error {
	payload, err := marshalJSON(e.Payload)
	if err != nil {
		return err
	}
	var agentID, taskID any
	if e.AgentID != nil {
		agentID = e.AgentID.String()
	}
	if e.TaskID != nil {
		taskID = e.TaskID.String()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agent_events (id, event_type, agent_id, task_id, payload, trace_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.EventType, agentID, taskID, payload, e.TraceID, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append audit event: %w", err)
	}
	return nil
}

// AuditFilter narrows Query results.
type AuditFilter struct {
	EventType models.EventType
	AgentID   *uuid.UUID
	TaskID    *uuid.UUID
	TraceID   string
	Since     *time.Time
	Until     *time.Time
	Limit     int
}

// Query returns audit rows matching the filter, newest first.
func (s *AuditStore) Query(ctx context.Context, f AuditFilter) ([]*models.AuditEvent, error) {
	where := ` WHERE 1=1`
	args := []any{}
	if f.EventType != "" {
		args = append(args, f.EventType)
		where += fmt.Sprintf(" AND event_type = $%d", len(args))
	}
	if f.AgentID != nil {
		args = append(args, f.AgentID.String())
		where += fmt.Sprintf(" AND agent_id = $%d", len(args))
	}
	if f.TaskID != nil {
		args = append(args, f.TaskID.String())
		where += fmt.Sprintf(" AND task_id = $%d", len(args))
	}
	if f.TraceID != "" {
		args = append(args, f.TraceID)
		where += fmt.Sprintf(" AND trace_id = $%d", len(args))
	}
	if f.Since != nil {
		args = append(args, *f.Since)
		where += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if f.Until != nil {
		args = append(args, *f.Until)
		where += fmt.Sprintf(" AND created_at < $%d", len(args))
	}
	if f.Limit <= 0 || f.Limit > 1000 {
		f.Limit = 100
	}
	args = append(args, f.Limit)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_type, agent_id, task_id, payload, trace_id, created_at
		FROM agent_events`+where+
		fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args)), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []*models.AuditEvent
	for rows.Next() {
		var (
			e          models.AuditEvent
			agentID    sql.NullString
			taskID     sql.NullString
			payloadRaw []byte
		)
		if err := rows.Scan(&e.ID, &e.EventType, &agentID, &taskID, &payloadRaw,
			&e.TraceID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		if e.Payload, err = unmarshalJSON(payloadRaw); err != nil {
			return nil, err
		}
		if agentID.Valid {
			id, err := uuid.Parse(agentID.String)
			if err == nil {
				e.AgentID = &id
			}
		}
		if taskID.Valid {
			id, err := uuid.Parse(taskID.String)
			if err == nil {
				e.TaskID = &id
			}
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}
