package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/terraconstructs/rolegate/cmd/rolegate/internal/db/bunx"
	"github.com/terraconstructs/rolegate/cmd/rolegate/internal/db/models"
)

// BunEmulationRepository implements EmulationRepository using Bun ORM
type BunEmulationRepository struct {
	db *bun.DB
}

// NewBunEmulationRepository creates a new Bun-based emulation repository
func NewBunEmulationRepository(db *bun.DB) EmulationRepository {
	return &BunEmulationRepository{db: db}
}

// Load returns the emulation column stored on the profile
func (r *BunEmulationRepository) Load(ctx context.Context, userID string) (*models.EmulationColumn, error) {
	profile := new(models.Profile)
	err := r.db.NewSelect().
		Model(profile).
		Column("emulation").
		Where("user_id = ?", userID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("profile %s: %w", userID, ErrNotFound)
		}
		return nil, fmt.Errorf("load emulation: %w", err)
	}
	if profile.Emulation == nil || !profile.Emulation.Active {
		return nil, nil
	}
	return profile.Emulation, nil
}

// Start records a new emulation for the audit row's user
func (r *BunEmulationRepository) Start(ctx context.Context, state *models.EmulationColumn, audit *models.RoleEmulationSession) error {
	if audit.ID == "" {
		audit.ID = bunx.NewUUIDv7()
	}
	if audit.Status == "" {
		audit.Status = models.EmulationStatusActive
	}

	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		// Invalidate any prior emulation for this identity first
		_, err := tx.NewUpdate().
			Model((*models.RoleEmulationSession)(nil)).
			Set("status = ?", models.EmulationStatusSuperseded).
			Set("ended_at = ?", audit.StartedAt).
			Where("user_id = ?", audit.UserID).
			Where("status = ?", models.EmulationStatusActive).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("supersede emulation sessions: %w", err)
		}

		result, err := tx.NewUpdate().
			Model((*models.Profile)(nil)).
			Set("emulation = ?", state).
			Set("updated_at = ?", time.Now().UTC()).
			Where("user_id = ?", audit.UserID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("store emulation state: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("check rows affected: %w", err)
		}
		if rows == 0 {
			return fmt.Errorf("profile %s: %w", audit.UserID, ErrNotFound)
		}

		if _, err := tx.NewInsert().Model(audit).Exec(ctx); err != nil {
			return fmt.Errorf("record emulation session: %w", err)
		}
		return nil
	})
}

// Stop clears the emulation column and closes active audit rows
func (r *BunEmulationRepository) Stop(ctx context.Context, userID string, endedAt time.Time) (int64, error) {
	var ended int64
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewUpdate().
			Model((*models.Profile)(nil)).
			Set("emulation = NULL").
			Set("updated_at = ?", time.Now().UTC()).
			Where("user_id = ?", userID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("clear emulation state: %w", err)
		}

		result, err := tx.NewUpdate().
			Model((*models.RoleEmulationSession)(nil)).
			Set("status = ?", models.EmulationStatusEnded).
			Set("ended_at = ?", endedAt).
			Where("user_id = ?", userID).
			Where("status = ?", models.EmulationStatusActive).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("end emulation sessions: %w", err)
		}
		ended, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}
	return ended, nil
}

// History lists audit rows for a user, newest first
func (r *BunEmulationRepository) History(ctx context.Context, userID string, limit int) ([]models.RoleEmulationSession, error) {
	if limit <= 0 {
		limit = 50
	}

	var sessions []models.RoleEmulationSession
	err := r.db.NewSelect().
		Model(&sessions).
		Where("user_id = ?", userID).
		OrderExpr("started_at DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list emulation sessions: %w", err)
	}
	return sessions, nil
}
