// Package marketdata loads historical FX rate series from CSV files in the
// wide layout used by Eurostat bilateral rate exports: the header row lists
// dates, each following row starts with a quote numeraire followed by the
// rates against the base numeraire.
package marketdata

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cambistlabs/cambist/internal/pricegraph"
	"github.com/cambistlabs/cambist/internal/simulator"
	"github.com/cambistlabs/cambist/pkg/quant"
)

// Cells Eurostat uses for missing observations.
var missingCells = map[string]bool{"": true, ":": true, "n/a": true, "NA": true}

// LoadCSV parses the wide FX layout from r. Every rate cell is the price of
// one unit of base in the row's quote numeraire, producing one (base, quote)
// series per row. Blank cells are skipped; malformed or non-positive rates
// are rejected.
func LoadCSV(r io.Reader, base string) (*simulator.MapSeriesStore, error) {
	if err := quant.CheckID(base); err != nil {
		return nil, fmt.Errorf("base numeraire: %w", err)
	}
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("malformed CSV: %w", err)
	}
	if len(rows) < 2 || len(rows[0]) < 2 {
		return nil, fmt.Errorf("CSV must have a date header row and at least one rate row")
	}

	header := rows[0]
	dates := make([]time.Time, len(header))
	for i := 1; i < len(header); i++ {
		t, err := parseDate(strings.TrimSpace(header[i]))
		if err != nil {
			return nil, fmt.Errorf("header column %d: %w", i, err)
		}
		dates[i] = t
	}

	series := make(map[pricegraph.Edge][]quant.Observation)
	for rowIdx, row := range rows[1:] {
		quote := strings.TrimSpace(row[0])
		if quote == "" {
			continue
		}
		if err := quant.CheckID(quote); err != nil {
			return nil, fmt.Errorf("row %d numeraire: %w", rowIdx+2, err)
		}
		if quote == base {
			continue
		}
		edge := pricegraph.Edge{Num0: base, Num1: quote}
		for i := 1; i < len(row) && i < len(dates); i++ {
			cell := strings.TrimSpace(row[i])
			if missingCells[cell] {
				continue
			}
			rate, err := decimal.NewFromString(cell)
			if err != nil {
				return nil, fmt.Errorf("row %d column %d: malformed rate %q: %w", rowIdx+2, i, cell, err)
			}
			if !rate.IsPositive() {
				return nil, fmt.Errorf("row %d column %d: non-positive rate %s", rowIdx+2, i, rate)
			}
			series[edge] = append(series[edge], quant.Observation{Time: dates[i], Value: rate.InexactFloat64()})
		}
	}
	return simulator.NewMapSeriesStore(series)
}

// LoadCSVFile is LoadCSV over a file path.
func LoadCSVFile(path, base string) (*simulator.MapSeriesStore, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open data file: %w", err)
	}
	defer f.Close()
	return LoadCSV(f, base)
}

// parseDate accepts ISO dates and the Eurostat 2021M09D20 form.
func parseDate(s string) (time.Time, error) {
	if strings.ContainsRune(s, 'M') {
		t, err := time.ParseInLocation("2006M01D02", s, time.UTC)
		if err != nil {
			return time.Time{}, fmt.Errorf("malformed date %q: %w", s, err)
		}
		return t, nil
	}
	t, err := time.ParseInLocation("2006-01-02", s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed date %q: %w", s, err)
	}
	return t, nil
}
