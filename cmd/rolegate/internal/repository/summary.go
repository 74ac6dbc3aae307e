package repository

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/terraconstructs/rolegate/cmd/rolegate/internal/db/models"
)

// Summary is a row-count snapshot of the identity tables.
type Summary struct {
	Profiles           int
	Organizations      int
	StoredEmulations   int
	PermissionsByRole  map[string]int
	EmulationsByStatus map[string]int
}

type groupCount struct {
	Key string `bun:"key"`
	N   int    `bun:"n"`
}

// Summarize counts profiles, organizations, seeded permissions per role and
// emulation audit rows per status.
func Summarize(ctx context.Context, db bun.IDB) (*Summary, error) {
	var (
		s   Summary
		err error
	)

	if s.Profiles, err = db.NewSelect().Model((*models.Profile)(nil)).Count(ctx); err != nil {
		return nil, fmt.Errorf("count profiles: %w", err)
	}
	if s.Organizations, err = db.NewSelect().Model((*models.Organization)(nil)).Count(ctx); err != nil {
		return nil, fmt.Errorf("count organizations: %w", err)
	}
	s.StoredEmulations, err = db.NewSelect().
		Model((*models.Profile)(nil)).
		Where("emulation IS NOT NULL").
		Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("count stored emulations: %w", err)
	}

	if s.PermissionsByRole, err = countBy(ctx, db, (*models.RolePermission)(nil), "role"); err != nil {
		return nil, fmt.Errorf("count role permissions: %w", err)
	}
	if s.EmulationsByStatus, err = countBy(ctx, db, (*models.RoleEmulationSession)(nil), "status"); err != nil {
		return nil, fmt.Errorf("count emulation sessions: %w", err)
	}
	return &s, nil
}

func countBy(ctx context.Context, db bun.IDB, model any, column string) (map[string]int, error) {
	var rows []groupCount
	err := db.NewSelect().
		Model(model).
		ColumnExpr("? AS key", bun.Ident(column)).
		ColumnExpr("COUNT(*) AS n").
		GroupExpr("?", bun.Ident(column)).
		Scan(ctx, &rows)
	if err != nil {
		return nil, err
	}

	out := make(map[string]int, len(rows))
	for _, r := range rows {
		out[r.Key] = r.N
	}
	return out, nil
}
