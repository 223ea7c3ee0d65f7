package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"agriassist-prices/internal/models"
)

// batchSize is the number of rows per upsert statement.
const batchSize = 500

// Initialize opens the MySQL archive and migrates its schema.
func Initialize(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("empty database dsn")
	}

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MySQL database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&models.PriceArchive{}); err != nil {
		return nil, fmt.Errorf("migrate price archive: %w", err)
	}

	slog.Info("price archive initialized")
	return db, nil
}

// Archive mirrors written price records into MySQL for long-term history.
// It is write-only from the service's point of view.
type Archive struct {
	db *gorm.DB
}

func NewArchive(db *gorm.DB) *Archive {
	return &Archive{db: db}
}

// UpsertPrices inserts records keyed by (state, district, market, commodity,
// variety, date). Existing rows get their price fields overwritten.
func (a *Archive) UpsertPrices(ctx context.Context, records []models.PriceRecord) (int64, error) {
	var total int64
	for start := 0; start < len(records); start += batchSize {
		end := min(start+batchSize, len(records))
		rows := make([]models.PriceArchive, 0, end-start)
		for _, r := range records[start:end] {
			rows = append(rows, models.NewPriceArchive(r))
		}

		res := upsertBatch(a.db.WithContext(ctx), rows)
		if res.Error != nil {
			return total, fmt.Errorf("upsert prices %d-%d: %w", start, end, res.Error)
		}
		total += res.RowsAffected
	}
	return total, nil
}

// Close releases the underlying connection pool.
func (a *Archive) Close() error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func upsertBatch(db *gorm.DB, rows []models.PriceArchive) *gorm.DB {
	return db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "state"}, {Name: "district"}, {Name: "market"},
			{Name: "commodity"}, {Name: "variety"}, {Name: "date"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"unit", "min_price", "max_price", "modal_price", "source", "grade", "arrival_bags", "updated_at",
		}),
	}).Create(&rows)
}
