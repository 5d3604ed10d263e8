package postgres

import (
	"context"
	"time"

	"gorm.io/gorm/clause"
)

// UpsertToken inserts a token on first sighting; an existing mint keeps its
// original first-seen time and only metadata is refreshed.
func (p *PostgresClient) UpsertToken(ctx context.Context, record *TokenRecord) error {
	return p.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "mint"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"symbol", "name", "logo_uri",
		}),
	}).Create(record).Error
}

// UpsertCurveState overwrites the per-mint curve state with fresher values.
func (p *PostgresClient) UpsertCurveState(ctx context.Context, record *CurveStateRecord) error {
	return p.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "mint"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"sol_in_curve", "progress", "stage", "observed_at",
		}),
	}).Create(record).Error
}

// SetMigrationStage marks a mint as migrated to the given stage.
func (p *PostgresClient) SetMigrationStage(ctx context.Context, mint, stage string, observedAt time.Time) error {
	return p.UpsertCurveState(ctx, &CurveStateRecord{
		Mint:       mint,
		SolInCurve: 0,
		Progress:   100,
		Stage:      stage,
		ObservedAt: observedAt,
	})
}

// GetCurveState fetches the latest stored curve state for a mint.
func (p *PostgresClient) GetCurveState(ctx context.Context, mint string) (*CurveStateRecord, error) {
	var rec CurveStateRecord
	err := p.DB.WithContext(ctx).
		Where("mint = ?", mint).
		First(&rec).Error

	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// DeleteStaleCurveStates removes curve rows not observed since the cutoff.
func (p *PostgresClient) DeleteStaleCurveStates(ctx context.Context, before time.Time) error {
	return p.DB.WithContext(ctx).
		Where("observed_at < ?", before).
		Delete(&CurveStateRecord{}).Error
}
