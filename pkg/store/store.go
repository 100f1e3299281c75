// Package store contains the SQL repositories for agents, tasks,
// dependencies, pools, and the audit log.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// Stores bundles all repositories over one connection pool.
type Stores struct {
	Agents       *AgentStore
	Tasks        *TaskStore
	Dependencies *DependencyStore
	Pools        *PoolStore
	Audit        *AuditStore

	db *sql.DB
}

// New creates all repositories on top of db.
func New(db *sql.DB) *Stores {
	return &Stores{
		db:           db,
		Agents:       NewAgentStore(db),
		Tasks:        NewTaskStore(db),
		Dependencies: NewDependencyStore(db),
		Pools:        NewPoolStore(db),
		Audit:        NewAuditStore(db),
	}
}

// marshalJSON encodes v for a jsonb column. Nil maps become the empty object
// so NOT NULL columns stay satisfied.
func marshalJSON(v any) ([]byte, error) {
	if v == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode jsonb value: %w", err)
	}
	return b, nil
}

// unmarshalJSON decodes a jsonb column into a map, tolerating NULL.
func unmarshalJSON(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to decode jsonb value: %w", err)
	}
	return m, nil
}
