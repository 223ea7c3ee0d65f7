package agmarknet

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand"
	"strings"

	"agriassist-prices/internal/models"
)

type syntheticMarket struct {
	state, district, market string
}

var syntheticMarkets = []syntheticMarket{
	{"Maharashtra", "Pune", "Pune"},
	{"Maharashtra", "Nashik", "Lasalgaon"},
	{"Maharashtra", "Nagpur", "Kalamna"},
	{"Karnataka", "Bangalore", "Binny Mill"},
	{"Karnataka", "Mysore", "Mysore"},
	{"Tamil Nadu", "Coimbatore", "Coimbatore"},
	{"Tamil Nadu", "Madurai", "Madurai"},
	{"Punjab", "Ludhiana", "Khanna"},
	{"Uttar Pradesh", "Agra", "Agra"},
	{"Gujarat", "Rajkot", "Rajkot"},
}

var syntheticCommodities = []struct {
	name, variety string
	base          float64
}{
	{"Rice", "Common", 2800},
	{"Wheat", "Dara", 2300},
	{"Onion", "Red", 1800},
	{"Tomato", "Hybrid", 1500},
	{"Potato", "Desi", 1200},
	{"Cotton", "Medium Staple", 6800},
	{"Soyabean", "Yellow", 4600},
	{"Maize", "Yellow", 2100},
}

// Synthetic generates plausible, deterministic prices for a date. It is only
// wired in when synthetic fallback is explicitly enabled.
type Synthetic struct{}

func (Synthetic) Name() string { return string(models.SourceSyntheticFallback) }

func (Synthetic) Fetch(ctx context.Context, req models.FetchRequest) ([]models.PriceRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	date := req.Date.Format(models.DateLayout)

	h := fnv.New64a()
	h.Write([]byte(date))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))

	var out []models.PriceRecord
	for _, m := range syntheticMarkets {
		for _, c := range syntheticCommodities {
			// draw before filtering so a state's prices do not depend on the filter
			swing := 0.85 + rng.Float64()*0.3
			spread := 0.05 + rng.Float64()*0.1
			if req.State != "" && !strings.EqualFold(req.State, m.state) {
				continue
			}
			modal := round(c.base * swing)
			out = append(out, models.PriceRecord{
				State:      m.state,
				District:   m.district,
				Market:     m.market,
				Commodity:  c.name,
				Variety:    c.variety,
				Unit:       models.DefaultUnit,
				MinPrice:   models.Float(round(modal * (1 - spread))),
				MaxPrice:   models.Float(round(modal * (1 + spread))),
				ModalPrice: modal,
				Date:       date,
				Source:     models.SourceSyntheticFallback,
			})
		}
	}
	if len(out) == 0 {
		return nil, ErrNoData
	}
	return out, nil
}

func round(v float64) float64 { return math.Round(v) }
