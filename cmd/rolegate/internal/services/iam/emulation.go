package iam

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/terraconstructs/rolegate/cmd/rolegate/internal/auth"
	"github.com/terraconstructs/rolegate/cmd/rolegate/internal/db/models"
	"github.com/terraconstructs/rolegate/cmd/rolegate/internal/repository"
	"github.com/terraconstructs/rolegate/cmd/rolegate/internal/telemetry"
)

// StartInput carries an authorized emulation start.
type StartInput struct {
	UserID        string
	OriginalRole  auth.Role
	TargetRole    auth.Role
	EmulatedOrgID *string
	Duration      time.Duration
	IPAddress     string
	UserAgent     string
}

// EmulationManager owns the emulation state machine.
//
// States are Inactive and Active. Expired is derived on read from
// now > expiresAt; nothing ever writes it.
type EmulationManager struct {
	repo    repository.EmulationRepository
	now     func() time.Time
	logger  logrus.FieldLogger
	metrics *telemetry.Metrics
}

// NewEmulationManager creates a manager. now defaults to time.Now.
func NewEmulationManager(repo repository.EmulationRepository, now func() time.Time, logger logrus.FieldLogger, metrics *telemetry.Metrics) *EmulationManager {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &EmulationManager{
		repo:    repo,
		now:     now,
		logger:  logger.WithField("component", "role_emulation"),
		metrics: metrics,
	}
}

// Now returns the manager's clock reading.
func (m *EmulationManager) Now() time.Time {
	return m.now()
}

// Validate returns ErrEmulationExpired once an active state is past its expiry.
// Inactive states always validate.
func (m *EmulationManager) Validate(state *auth.EmulationState) error {
	if state == nil || !state.Active {
		return nil
	}
	if state.ExpiredAt(m.now()) {
		return auth.ErrEmulationExpired
	}
	return nil
}

// IsExpired reports now > expiresAt for an active state.
func (m *EmulationManager) IsExpired(state *auth.EmulationState) bool {
	return state.ExpiredAt(m.now())
}

// IsExpiringSoon reports now > expiresAt - window, mirroring the strict
// comparison IsExpired uses.
func (m *EmulationManager) IsExpiringSoon(state *auth.EmulationState, window time.Duration) bool {
	if state == nil || !state.Active || state.ExpiresAt == nil {
		return false
	}
	return m.now().After(state.ExpiresAt.Add(-window))
}

// Load reads the identity's stored emulation state. Missing state is Inactive.
func (m *EmulationManager) Load(ctx context.Context, userID string) (*auth.EmulationState, error) {
	column, err := m.repo.Load(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", auth.ErrProfileNotFound, userID)
		}
		return nil, fmt.Errorf("%w: %v", auth.ErrBackingStoreUnavailable, err)
	}
	return StateFromColumn(column), nil
}

// Start records a new emulation, superseding any earlier one for the identity.
// The caller must already have checked that the non-emulated authority is super admin.
func (m *EmulationManager) Start(ctx context.Context, in StartInput) (*auth.EmulationState, error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.TracerIAM, "iam.StartEmulation",
		attribute.String(telemetry.AttrUserID, in.UserID),
		attribute.String(telemetry.AttrEmulatedRole, string(in.TargetRole)),
		attribute.String(telemetry.AttrOriginalRole, string(in.OriginalRole)),
	)
	defer span.End()

	if in.OriginalRole == "" {
		return nil, fmt.Errorf("%w: original role is required", auth.ErrInvalidRole)
	}
	if in.Duration <= 0 {
		return nil, ErrInvalidDuration
	}

	startedAt := m.now().UTC()
	expiresAt := startedAt.Add(in.Duration)
	state := &auth.EmulationState{
		Active:        true,
		EmulatedRole:  in.TargetRole,
		OriginalRole:  in.OriginalRole,
		EmulatedOrgID: in.EmulatedOrgID,
		StartedAt:     &startedAt,
		ExpiresAt:     &expiresAt,
	}

	audit := &models.RoleEmulationSession{
		UserID:        in.UserID,
		OriginalRole:  string(in.OriginalRole),
		EmulatedRole:  string(in.TargetRole),
		EmulatedOrgID: in.EmulatedOrgID,
		Status:        models.EmulationStatusActive,
		StartedAt:     startedAt,
		ExpiresAt:     expiresAt,
		IPAddress:     optionalString(in.IPAddress),
		UserAgent:     optionalString(in.UserAgent),
	}

	if err := m.repo.Start(ctx, ColumnFromState(state), audit); err != nil {
		telemetry.RecordError(span, err)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", auth.ErrProfileNotFound, in.UserID)
		}
		return nil, fmt.Errorf("%w: %v", auth.ErrBackingStoreUnavailable, err)
	}

	m.metrics.RecordEmulationOperation("start")
	m.logger.WithFields(logrus.Fields{
		"user_id":       in.UserID,
		"original_role": in.OriginalRole,
		"emulated_role": in.TargetRole,
		"expires_at":    expiresAt,
	}).Info("role emulation started")

	return state, nil
}

// Stop clears the identity's emulation back to Inactive, regardless of expiry.
func (m *EmulationManager) Stop(ctx context.Context, userID string) (*auth.EmulationState, error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.TracerIAM, "iam.StopEmulation",
		attribute.String(telemetry.AttrUserID, userID),
	)
	defer span.End()

	ended, err := m.repo.Stop(ctx, userID, m.now().UTC())
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("%w: %v", auth.ErrBackingStoreUnavailable, err)
	}

	m.metrics.RecordEmulationOperation("stop")
	m.logger.WithFields(logrus.Fields{
		"user_id":        userID,
		"sessions_ended": ended,
	}).Info("role emulation stopped")

	return auth.Inactive(), nil
}

// History returns the identity's audit trail, newest first.
func (m *EmulationManager) History(ctx context.Context, userID string, limit int) ([]models.RoleEmulationSession, error) {
	sessions, err := m.repo.History(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", auth.ErrBackingStoreUnavailable, err)
	}
	return sessions, nil
}

// StateFromColumn converts the stored column into an emulation state.
// A nil column is Inactive.
func StateFromColumn(c *models.EmulationColumn) *auth.EmulationState {
	if c == nil {
		return auth.Inactive()
	}
	return &auth.EmulationState{
		Active:        c.Active,
		EmulatedRole:  auth.Role(c.EmulatedRole),
		OriginalRole:  auth.Role(c.OriginalRole),
		EmulatedOrgID: c.EmulatedOrgID,
		StartedAt:     c.StartedAt,
		ExpiresAt:     c.ExpiresAt,
	}
}

// ColumnFromState converts a state into its stored form.
func ColumnFromState(s *auth.EmulationState) *models.EmulationColumn {
	if s == nil || !s.Active {
		return nil
	}
	return &models.EmulationColumn{
		Active:        s.Active,
		EmulatedRole:  string(s.EmulatedRole),
		OriginalRole:  string(s.OriginalRole),
		EmulatedOrgID: s.EmulatedOrgID,
		StartedAt:     s.StartedAt,
		ExpiresAt:     s.ExpiresAt,
	}
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
