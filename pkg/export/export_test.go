package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDataset() Dataset {
	avg := 3.7
	return Dataset{
		Headers: []string{"class_name", "completion_rate", "average_fluency", "students"},
		Rows: []map[string]any{
			{"class_name": "Room 4", "completion_rate": 66.7, "average_fluency": &avg, "students": 3},
			{"class_name": "Room 5, East", "completion_rate": 0.0, "average_fluency": (*float64)(nil), "students": 0},
		},
	}
}

func TestCSVExporterRender(t *testing.T) {
	out, err := NewCSVExporter().Render(sampleDataset())
	require.NoError(t, err)

	records, err := csv.NewReader(bytes.NewReader(out)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, []string{"class_name", "completion_rate", "average_fluency", "students"}, records[0])
	assert.Equal(t, []string{"Room 4", "66.7", "3.7", "3"}, records[1])
	assert.Equal(t, []string{"Room 5, East", "0", "", "0"}, records[2])
}

func TestCSVExporterRequiresHeaders(t *testing.T) {
	_, err := NewCSVExporter().Render(Dataset{})
	require.Error(t, err)
}

func TestJSONExporterRenderMatchesCSVValues(t *testing.T) {
	exporter := NewJSONExporter()
	exporter.now = func() time.Time { return time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC) }

	out, err := exporter.Render(sampleDataset(), "teacher_summary")
	require.NoError(t, err)

	var doc struct {
		ReportGenerated time.Time        `json:"report_generated"`
		ReportType      string           `json:"report_type"`
		Data            []map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(out, &doc))
	assert.Equal(t, "teacher_summary", doc.ReportType)
	assert.True(t, doc.ReportGenerated.Equal(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)))
	require.Len(t, doc.Data, 2)
	assert.Equal(t, 66.7, doc.Data[0]["completion_rate"])
	assert.Equal(t, 3.7, doc.Data[0]["average_fluency"])
	assert.Nil(t, doc.Data[1]["average_fluency"])
	assert.Equal(t, FormatCell(66.7), "66.7")
}

func TestPDFExporterRender(t *testing.T) {
	out, err := NewPDFExporter().Render(sampleDataset(), "class_performance")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))
}

func TestFormatCell(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	assert.Equal(t, "2024-01-02T03:04:05Z", FormatCell(ts))
	assert.Equal(t, "", FormatCell((*time.Time)(nil)))
	assert.Equal(t, "true", FormatCell(true))
	assert.Equal(t, "42", FormatCell(int64(42)))
}
