package auth

import "time"

// EmulationState is the emulation value attached to an identity's session record.
//
// Expiry is never stored: a state is expired when now > ExpiresAt, and an
// expired state must be treated exactly like an absent one.
type EmulationState struct {
	Active        bool       `json:"active"`
	EmulatedRole  Role       `json:"emulated_role,omitempty"`
	OriginalRole  Role       `json:"original_role,omitempty"`
	EmulatedOrgID *string    `json:"emulated_org_id,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
}

// IsRecorded reports whether the state is marked active with an original role,
// independent of expiry.
func (s *EmulationState) IsRecorded() bool {
	return s != nil && s.Active && s.OriginalRole != ""
}

// ExpiredAt reports whether an active state has passed its expiry at now.
// A state marked active without an expiry is malformed and counts as expired.
func (s *EmulationState) ExpiredAt(now time.Time) bool {
	if s == nil || !s.Active {
		return false
	}
	if s.ExpiresAt == nil {
		return true
	}
	return now.After(*s.ExpiresAt)
}

// ActiveAt reports whether the state is active and unexpired at now.
func (s *EmulationState) ActiveAt(now time.Time) bool {
	return s != nil && s.Active && s.OriginalRole != "" && !s.ExpiredAt(now)
}

// Inactive returns the cleared state.
func Inactive() *EmulationState {
	return &EmulationState{}
}
