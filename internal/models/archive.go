package models

import "time"

// PriceArchive mirrors price records into MySQL. The unique index is the
// natural key used for upserts.
type PriceArchive struct {
	ID          uint     `json:"id" gorm:"primaryKey"`
	State       string   `json:"state" gorm:"size:64;not null;uniqueIndex:idx_price_natural_key,priority:1"`
	District    string   `json:"district" gorm:"size:64;not null;uniqueIndex:idx_price_natural_key,priority:2"`
	Market      string   `json:"market" gorm:"size:96;not null;uniqueIndex:idx_price_natural_key,priority:3"`
	Commodity   string   `json:"commodity" gorm:"size:96;not null;uniqueIndex:idx_price_natural_key,priority:4;index"`
	Variety     string   `json:"variety" gorm:"size:96;not null;default:'';uniqueIndex:idx_price_natural_key,priority:5"`
	Date        string   `json:"date" gorm:"size:10;not null;uniqueIndex:idx_price_natural_key,priority:6;index"`
	Unit        string   `json:"unit" gorm:"size:32;default:'Quintal'"`
	MinPrice    *float64 `json:"min_price"`
	MaxPrice    *float64 `json:"max_price"`
	ModalPrice  float64  `json:"modal_price" gorm:"not null"`
	Source      string   `json:"source" gorm:"size:32"`
	Grade       string   `json:"grade" gorm:"size:32"`
	ArrivalBags *int     `json:"arrival_bags"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName keeps the table name stable regardless of naming strategy.
func (PriceArchive) TableName() string { return "mandi_prices" }

// NewPriceArchive converts a stored record into an archive row.
func NewPriceArchive(r PriceRecord) PriceArchive {
	return PriceArchive{
		State:       r.State,
		District:    r.District,
		Market:      r.Market,
		Commodity:   r.Commodity,
		Variety:     r.Variety,
		Date:        r.Date,
		Unit:        r.Unit,
		MinPrice:    r.MinPrice,
		MaxPrice:    r.MaxPrice,
		ModalPrice:  r.ModalPrice,
		Source:      string(r.Source),
		Grade:       r.Grade,
		ArrivalBags: r.ArrivalBags,
	}
}
