package agmarknet

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"

	"agriassist-prices/internal/models"
)

// Scraper reads the Agmarknet "price and arrivals" HTML report.
type Scraper struct {
	reportURL string
	client    *resty.Client
}

// column names as they appear in the report header, lowercased
var reportColumns = map[string]string{
	"state":       "state",
	"district":    "district",
	"market":      "market",
	"commodity":   "commodity",
	"variety":     "variety",
	"grade":       "grade",
	"min price":   "min",
	"max price":   "max",
	"modal price": "modal",
	"price date":  "date",
	"arrival":     "arrivals",
}

func NewScraper(reportURL string, timeout time.Duration) *Scraper {
	client := resty.New()
	client.SetTimeout(timeout)
	client.SetRetryCount(2)
	client.SetHeader("User-Agent", "Mozilla/5.0 (compatible; agriassist-prices)")

	return &Scraper{reportURL: reportURL, client: client}
}

func (s *Scraper) Name() string { return string(models.SourceScraped) }

func (s *Scraper) Fetch(ctx context.Context, req models.FetchRequest) ([]models.PriceRecord, error) {
	if s.reportURL == "" {
		return nil, fmt.Errorf("report url not configured")
	}

	params := map[string]string{}
	if !req.Date.IsZero() {
		params["date"] = req.Date.Format(arrivalLayout)
	}
	if req.State != "" {
		params["state"] = req.State
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParams(params).
		Get(s.reportURL)
	if err != nil {
		return nil, fmt.Errorf("request agmarknet report: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("agmarknet report returned %d", resp.StatusCode())
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body()))
	if err != nil {
		return nil, fmt.Errorf("parse agmarknet report: %w", err)
	}

	fallbackDate := ""
	if !req.Date.IsZero() {
		fallbackDate = req.Date.Format(models.DateLayout)
	}
	records := parseReport(doc, req.State, fallbackDate)
	if len(records) == 0 {
		return nil, ErrNoData
	}
	return records, nil
}

// parseReport walks every table whose header has a modal price column.
func parseReport(doc *goquery.Document, state, fallbackDate string) []models.PriceRecord {
	var out []models.PriceRecord

	doc.Find("table").Each(func(_ int, table *goquery.Selection) {
		cols := map[string]int{}
		table.Find("tr").First().Find("th, td").Each(func(i int, cell *goquery.Selection) {
			header := strings.ToLower(strings.Join(strings.Fields(cell.Text()), " "))
			for prefix, key := range reportColumns {
				if _, taken := cols[key]; !taken && strings.Contains(header, prefix) {
					cols[key] = i
					break
				}
			}
		})
		if _, ok := cols["modal"]; !ok {
			return
		}

		table.Find("tr").Slice(1, goquery.ToEnd).Each(func(_ int, row *goquery.Selection) {
			var cells []string
			row.Find("td").Each(func(_ int, td *goquery.Selection) {
				cells = append(cells, strings.TrimSpace(td.Text()))
			})
			cell := func(key string) string {
				if i, ok := cols[key]; ok && i < len(cells) {
					return cells[i]
				}
				return ""
			}

			modal, ok := parseNumber(cell("modal"))
			if !ok {
				return
			}
			rec := models.PriceRecord{
				State:      firstNonEmpty(cell("state"), state),
				District:   cell("district"),
				Market:     cell("market"),
				Commodity:  cell("commodity"),
				Variety:    cell("variety"),
				Grade:      cell("grade"),
				ModalPrice: modal,
				Date:       fallbackDate,
				Source:     models.SourceScraped,
			}
			if v, ok := parseNumber(cell("min")); ok {
				rec.MinPrice = models.Float(v)
			}
			if v, ok := parseNumber(cell("max")); ok {
				rec.MaxPrice = models.Float(v)
			}
			if v, ok := parseNumber(cell("arrivals")); ok {
				rec.ArrivalBags = models.Int(int(v))
			}
			if d, err := parseArrivalDate(cell("date")); err == nil {
				rec.Date = d
			}
			rec.Normalize()
			out = append(out, rec)
		})
	})

	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
