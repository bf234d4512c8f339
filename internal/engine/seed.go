package engine

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"refurbline/internal/domain"
)

// Seed loads the racks and spare parts declared in config. Existing racks
// take the configured stage, capacity and active flag; existing parts keep
// their stock on hand.
func (e Engine) Seed(ctx context.Context) error {
	if e.Config == nil {
		return nil
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, r := range e.Config.Racks {
		if err := e.Repo.UpsertRack(ctx, tx, domain.Rack{
			ID:       newID(),
			Code:     strings.TrimSpace(r.Code),
			Stage:    r.Stage,
			Capacity: r.Capacity,
			Active:   r.IsActive(),
		}); err != nil {
			return err
		}
	}
	for _, p := range e.Config.SpareParts {
		if err := e.Repo.UpsertSparePart(ctx, tx, domain.SparePart{
			ID:           newID(),
			PartCode:     p.Code,
			Name:         p.Name,
			CurrentStock: p.CurrentStock,
			MinStock:     p.MinStock,
			MaxStock:     p.MaxStock,
		}); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.logger().Debug("seeded from config",
		zap.Int("racks", len(e.Config.Racks)),
		zap.Int("spare_parts", len(e.Config.SpareParts)))
	return nil
}
