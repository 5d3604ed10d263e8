package postgres

import "time"

// TokenRecord is a token first sighted on the live stream or in a provider
// feed.
type TokenRecord struct {
	ID uint `gorm:"primaryKey"`

	Mint    string `gorm:"type:text;not null;uniqueIndex:idx_token_mint"`
	Symbol  string `gorm:"type:text"`
	Name    string `gorm:"type:text"`
	LogoURI string `gorm:"type:text"`

	FirstSeenAt time.Time `gorm:"not null;index:idx_token_first_seen"`
	RecordedAt  time.Time `gorm:"autoCreateTime"`
}

// TableName overrides the default table name for GORM.
func (TokenRecord) TableName() string {
	return "token_record"
}

// CurveStateRecord is the latest derived bonding-curve state for a token.
// One row per mint, overwritten as the stream pushes fresher state.
type CurveStateRecord struct {
	ID uint `gorm:"primaryKey"`

	Mint string `gorm:"type:text;not null;uniqueIndex:idx_curve_mint"`

	SolInCurve float64 `gorm:"type:numeric;not null"`
	// Progress toward the migration threshold, percent in [0,100].
	Progress float64 `gorm:"type:numeric;not null"`
	Stage    string  `gorm:"type:text"`

	ObservedAt time.Time `gorm:"not null;index:idx_curve_observed"`
	RecordedAt time.Time `gorm:"autoCreateTime"`
}

// TableName overrides the default table name for GORM.
func (CurveStateRecord) TableName() string {
	return "curve_state_record"
}
