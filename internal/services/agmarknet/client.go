package agmarknet

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"agriassist-prices/internal/models"
)

// pageSize is the number of records requested per API call.
const pageSize = 500

// maxPages bounds a single fetch in case the API misreports its total.
const maxPages = 200

// Client reads the data.gov.in Agmarknet daily price resource.
type Client struct {
	baseURL string
	apiKey  string
	client  *resty.Client
}

type apiRecord struct {
	State       string     `json:"state"`
	District    string     `json:"district"`
	Market      string     `json:"market"`
	Commodity   string     `json:"commodity"`
	Variety     string     `json:"variety"`
	Grade       string     `json:"grade"`
	ArrivalDate string     `json:"arrival_date"`
	MinPrice    flexNumber `json:"min_price"`
	MaxPrice    flexNumber `json:"max_price"`
	ModalPrice  flexNumber `json:"modal_price"`
}

type apiResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message"`
	Total   flexNumber  `json:"total"`
	Count   flexNumber  `json:"count"`
	Records []apiRecord `json:"records"`
}

// NewClient builds an API client. timeout bounds each HTTP request.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	client := resty.New()
	client.SetTimeout(timeout)
	client.SetRetryCount(2)
	client.SetRetryWaitTime(500 * time.Millisecond)
	client.SetHeader("Accept", "application/json")

	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  client,
	}
}

func (c *Client) Name() string { return string(models.SourceExternalAPI) }

// Fetch pages through the resource until the reported total is reached.
func (c *Client) Fetch(ctx context.Context, req models.FetchRequest) ([]models.PriceRecord, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("api key not configured")
	}

	var out []models.PriceRecord
	offset := 0
	for page := 0; page < maxPages; page++ {
		body, err := c.fetchPage(ctx, req, offset)
		if err != nil {
			return nil, err
		}

		for _, r := range body.Records {
			rec, err := r.toRecord()
			if err != nil {
				slog.Debug("skipping api record", "market", r.Market, "commodity", r.Commodity, "error", err)
				continue
			}
			out = append(out, rec)
		}

		offset += len(body.Records)
		if len(body.Records) == 0 || !body.Total.Valid || offset >= int(body.Total.Value) {
			break
		}
	}

	if len(out) == 0 {
		return nil, ErrNoData
	}
	return out, nil
}

func (c *Client) fetchPage(ctx context.Context, req models.FetchRequest, offset int) (*apiResponse, error) {
	params := map[string]string{
		"api-key": c.apiKey,
		"format":  "json",
		"limit":   strconv.Itoa(pageSize),
		"offset":  strconv.Itoa(offset),
	}
	if !req.Date.IsZero() {
		params["filters[arrival_date]"] = req.Date.Format(arrivalLayout)
	}
	if req.State != "" {
		params["filters[state]"] = req.State
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(params).
		Get(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("request agmarknet api: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("agmarknet api returned %d", resp.StatusCode())
	}

	var body apiResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, fmt.Errorf("decode agmarknet api response: %w", err)
	}
	if body.Status == "error" {
		return nil, fmt.Errorf("agmarknet api error: %s", body.Message)
	}
	return &body, nil
}

func (r apiRecord) toRecord() (models.PriceRecord, error) {
	if !r.ModalPrice.Valid {
		return models.PriceRecord{}, fmt.Errorf("missing modal price")
	}
	date, err := parseArrivalDate(r.ArrivalDate)
	if err != nil {
		return models.PriceRecord{}, err
	}
	rec := models.PriceRecord{
		State:      r.State,
		District:   r.District,
		Market:     r.Market,
		Commodity:  r.Commodity,
		Variety:    r.Variety,
		Grade:      r.Grade,
		MinPrice:   optional(r.MinPrice),
		MaxPrice:   optional(r.MaxPrice),
		ModalPrice: r.ModalPrice.Value,
		Date:       date,
		Source:     models.SourceExternalAPI,
	}
	rec.Normalize()
	return rec, nil
}
