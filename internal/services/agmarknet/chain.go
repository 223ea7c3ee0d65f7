package agmarknet

import (
	"context"
	"errors"
	"log/slog"

	"agriassist-prices/internal/models"
)

// Chain tries each source in order and returns the first non-empty result.
type Chain []Source

func (c Chain) Name() string { return "chain" }

// Fetch returns the joined source errors when every source fails.
func (c Chain) Fetch(ctx context.Context, req models.FetchRequest) ([]models.PriceRecord, error) {
	if len(c) == 0 {
		return nil, errors.New("no price sources configured")
	}

	var errs []error
	for _, src := range c {
		records, err := src.Fetch(ctx, req)
		if err == nil && len(records) > 0 {
			return records, nil
		}
		if err == nil {
			err = ErrNoData
		}
		slog.Warn("price source failed", "source", src.Name(), "state", req.State, "error", err)
		errs = append(errs, &SourceError{Source: src.Name(), Err: err})
		if ctx.Err() != nil {
			break
		}
	}
	return nil, errors.Join(errs...)
}
