package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/uptrace/bun"
)

// Organization is a tenant. Profiles and emulation sessions may be scoped to one.
type Organization struct {
	bun.BaseModel `bun:"table:organizations,alias:o"`

	ID        string    `bun:"id,pk"`
	Name      string    `bun:"name,notnull"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

// Profile is the application identity for a provider user.
// Emulation holds the identity's emulation state; at most one per identity.
type Profile struct {
	bun.BaseModel `bun:"table:profiles,alias:p"`

	UserID    string           `bun:"user_id,pk"`
	Email     string           `bun:"email"`
	Role      string           `bun:"role,notnull,default:'user'"`
	OrgID     *string          `bun:"org_id"`
	Emulation *EmulationColumn `bun:"emulation,type:jsonb"`
	CreatedAt time.Time        `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time        `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

// EmulationColumn is the JSON form of an identity's emulation state.
type EmulationColumn struct {
	Active        bool       `json:"active"`
	EmulatedRole  string     `json:"emulated_role,omitempty"`
	OriginalRole  string     `json:"original_role,omitempty"`
	EmulatedOrgID *string    `json:"emulated_org_id,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
}

// Scan implements sql.Scanner for reading from database
func (e *EmulationColumn) Scan(value any) error {
	var data []byte
	switch v := value.(type) {
	case nil:
		*e = EmulationColumn{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("failed to scan EmulationColumn: expected []byte or string, got %T", value)
	}
	if len(data) == 0 {
		*e = EmulationColumn{}
		return nil
	}
	return json.Unmarshal(data, e)
}

// Value implements driver.Valuer for writing to database
func (e *EmulationColumn) Value() (driver.Value, error) {
	if e == nil {
		return nil, nil
	}
	bytes, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return string(bytes), nil
}

// RolePermission grants a permission to a role. Duplicate rows are tolerated;
// readers collapse them.
type RolePermission struct {
	bun.BaseModel `bun:"table:role_permissions,alias:rp"`

	ID         string    `bun:"id,pk"`
	Role       string    `bun:"role,notnull"`
	Permission string    `bun:"permission,notnull"`
	CreatedAt  time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

// Emulation session audit statuses.
const (
	EmulationStatusActive     = "active"
	EmulationStatusEnded      = "ended"
	EmulationStatusSuperseded = "superseded"
)

// RoleEmulationSession is the audit trail of emulation start/stop events.
type RoleEmulationSession struct {
	bun.BaseModel `bun:"table:role_emulation_sessions,alias:res"`

	ID            string     `bun:"id,pk"`
	UserID        string     `bun:"user_id,notnull"`
	OriginalRole  string     `bun:"original_role,notnull"`
	EmulatedRole  string     `bun:"emulated_role,notnull"`
	EmulatedOrgID *string    `bun:"emulated_org_id"`
	Status        string     `bun:"status,notnull"`
	StartedAt     time.Time  `bun:"started_at,notnull"`
	ExpiresAt     time.Time  `bun:"expires_at,notnull"`
	EndedAt       *time.Time `bun:"ended_at"`
	IPAddress     *string    `bun:"ip_address"`
	UserAgent     *string    `bun:"user_agent"`
}
