package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"agriassist-prices/internal/models"
)

func dryRunDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(mysql.New(mysql.Config{
		DSN:                       "user:pass@tcp(127.0.0.1:3306)/agriassist?parseTime=true",
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		DryRun:                 true,
		DisableAutomaticPing:   true,
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	return db
}

func TestUpsertBatch_OnDuplicateKeyUpdatesPrices(t *testing.T) {
	rows := []models.PriceArchive{
		models.NewPriceArchive(models.PriceRecord{
			State: "Punjab", District: "Ludhiana", Market: "Khanna", Commodity: "Wheat",
			Unit: models.DefaultUnit, ModalPrice: 2300, MinPrice: models.Float(2200),
			Date: "2024-01-15", Source: models.SourceExternalAPI,
		}),
	}

	stmt := upsertBatch(dryRunDB(t), rows).Statement
	sql := stmt.SQL.String()

	assert.Contains(t, sql, "INSERT INTO `mandi_prices`")
	assert.Contains(t, sql, "ON DUPLICATE KEY UPDATE")
	assert.Contains(t, sql, "`modal_price`=VALUES(`modal_price`)")
	assert.Contains(t, sql, "`updated_at`=VALUES(`updated_at`)")
	assert.NotContains(t, sql, "`created_at`=VALUES")
	assert.Contains(t, stmt.Vars, 2300.0)
}

func TestNewPriceArchive_CopiesFields(t *testing.T) {
	row := models.NewPriceArchive(models.PriceRecord{
		State: "Maharashtra", District: "Pune", Market: "Pune", Commodity: "Onion", Variety: "Red",
		Unit: models.DefaultUnit, ModalPrice: 2000, Date: "2024-01-15",
		Source: models.SourceScraped, ArrivalBags: models.Int(40),
	})
	assert.Equal(t, "scraped", row.Source)
	assert.Equal(t, "Red", row.Variety)
	require.NotNil(t, row.ArrivalBags)
	assert.Equal(t, 40, *row.ArrivalBags)
	assert.Equal(t, "mandi_prices", row.TableName())
}

func TestInitialize_EmptyDSN(t *testing.T) {
	_, err := Initialize("")
	assert.Error(t, err)
}
