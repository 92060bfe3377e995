// Package export writes widget results in downloadable formats.
package export

import (
	"encoding/csv"
	"io"

	"github.com/mind-edu/mind-insights/internal/analytics"
	"github.com/mind-edu/mind-insights/internal/warehouse"
)

// ContentType is the media type of WriteResultCSV output.
const ContentType = "text/csv; charset=utf-8"

// WriteResultCSV serialises a result with its column order. NULL values are
// written as empty cells.
func WriteResultCSV(w io.Writer, res warehouse.Result) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()

	if err := writer.Write(res.Columns); err != nil {
		return err
	}
	record := make([]string, len(res.Columns))
	for _, row := range res.Rows {
		for i, col := range res.Columns {
			record[i] = cell(row, col)
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func cell(row warehouse.Row, col string) string {
	if row[col] == nil {
		return ""
	}
	if analytics.IsTimeColumn(col) {
		if t := row.Time(col); t.Valid {
			return t.Time.Format("2006-01-02T15:04:05Z07:00")
		}
	}
	return row.String(col).String
}

// Filename builds the download name of a widget export.
func Filename(page, widget string) string {
	return page + "-" + widget + ".csv"
}
