// Package export renders resolved price records as downloadable files.
package export

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"agriassist-prices/internal/models"
)

// Format is an export file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatXLSX Format = "xlsx"
)

const sheetName = "Prices"

// Header is the fixed column order of tabular exports.
var Header = []string{"State", "District", "Market", "Commodity", "Variety", "Min Price", "Modal Price", "Max Price", "Date"}

// ParseFormat accepts csv, json or xlsx in any case. Empty means csv.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatCSV, nil
	case FormatCSV, FormatJSON, FormatXLSX:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", s)
	}
}

// Filename returns the attachment name for a date.
func Filename(date string, f Format) string {
	return fmt.Sprintf("mandi-prices-%s.%s", date, f)
}

func ContentType(f Format) string {
	switch f {
	case FormatJSON:
		return "application/json"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "text/csv; charset=utf-8"
	}
}

// Render writes records to w in format f.
func Render(w io.Writer, f Format, records []models.PriceRecord) error {
	switch f {
	case FormatCSV:
		return renderCSV(w, records)
	case FormatJSON:
		return renderJSON(w, records)
	case FormatXLSX:
		return renderXLSX(w, records)
	default:
		return fmt.Errorf("unsupported export format %q", f)
	}
}

func row(r *models.PriceRecord) []string {
	return []string{
		r.State,
		r.District,
		r.Market,
		r.Commodity,
		r.Variety,
		formatPrice(r.MinPrice),
		strconv.FormatFloat(r.ModalPrice, 'f', -1, 64),
		formatPrice(r.MaxPrice),
		r.Date,
	}
}

func formatPrice(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

// renderCSV quotes every field, doubling embedded quotes.
func renderCSV(w io.Writer, records []models.PriceRecord) error {
	bw := bufio.NewWriter(w)
	writeLine := func(fields []string) {
		for i, f := range fields {
			if i > 0 {
				bw.WriteByte(',')
			}
			bw.WriteByte('"')
			bw.WriteString(strings.ReplaceAll(f, `"`, `""`))
			bw.WriteByte('"')
		}
		bw.WriteString("\r\n")
	}

	writeLine(Header)
	for i := range records {
		writeLine(row(&records[i]))
	}
	return bw.Flush()
}

func renderJSON(w io.Writer, records []models.PriceRecord) error {
	if records == nil {
		records = []models.PriceRecord{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}

func renderXLSX(w io.Writer, records []models.PriceRecord) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	header := make([]interface{}, len(Header))
	for i, h := range Header {
		header[i] = h
	}
	if err := f.SetSheetRow(sheetName, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for i := range records {
		r := &records[i]
		values := []interface{}{r.State, r.District, r.Market, r.Commodity, r.Variety,
			cellPrice(r.MinPrice), r.ModalPrice, cellPrice(r.MaxPrice), r.Date}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheetName, cell, &values); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	if err := f.SetColWidth(sheetName, "A", "E", 18); err != nil {
		return err
	}
	_, err := f.WriteTo(w)
	return err
}

func cellPrice(v *float64) interface{} {
	if v == nil {
		return ""
	}
	return *v
}
