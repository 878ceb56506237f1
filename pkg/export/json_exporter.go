package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// JSONExporter renders datasets as a JSON document wrapped with report metadata.
type JSONExporter struct {
	now func() time.Time
}

// NewJSONExporter builds a JSON exporter.
func NewJSONExporter() *JSONExporter {
	return &JSONExporter{now: time.Now}
}

type jsonReport struct {
	ReportGenerated time.Time        `json:"report_generated"`
	ReportType      string           `json:"report_type"`
	Data            []map[string]any `json:"data"`
}

// Render encodes rows in header order under {report_generated, report_type, data}.
func (e *JSONExporter) Render(data Dataset, reportType string) ([]byte, error) {
	rows := make([]map[string]any, 0, len(data.Rows))
	for _, row := range data.Rows {
		out := make(map[string]any, len(data.Headers))
		for _, header := range data.Headers {
			out[header] = normalize(row[header])
		}
		rows = append(rows, out)
	}
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(jsonReport{
		ReportGenerated: e.now().UTC(),
		ReportType:      reportType,
		Data:            rows,
	}); err != nil {
		return nil, fmt.Errorf("encode json report: %w", err)
	}
	return buf.Bytes(), nil
}

func normalize(v any) any {
	switch val := v.(type) {
	case *float64:
		if val == nil {
			return nil
		}
		return *val
	case *int:
		if val == nil {
			return nil
		}
		return *val
	case *time.Time:
		if val == nil {
			return nil
		}
		return val.UTC()
	case time.Time:
		return val.UTC()
	default:
		return v
	}
}
