package service

import (
	"fmt"
	"time"

	"github.com/noah-isme/readaloud-api/internal/models"
	"github.com/noah-isme/readaloud-api/pkg/export"
)

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type jsonRenderer interface {
	Render(data export.Dataset, reportType string) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ExportService renders report datasets into downloadable files.
type ExportService struct {
	csv  csvRenderer
	json jsonRenderer
	pdf  pdfRenderer
	now  func() time.Time
}

// NewExportService constructs an ExportService. Nil renderers fall back to the pkg/export defaults.
func NewExportService(csv csvRenderer, json jsonRenderer, pdf pdfRenderer) *ExportService {
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if json == nil {
		json = export.NewJSONExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{csv: csv, json: json, pdf: pdf, now: time.Now}
}

// Render encodes data in the requested format and names the file {type}_{YYYYMMDD}.{ext}.
func (s *ExportService) Render(reportType models.ReportType, format models.ReportFormat, title string, data export.Dataset) (*models.ReportFile, error) {
	var (
		content     []byte
		contentType string
		err         error
	)
	switch format {
	case models.ReportFormatCSV:
		content, err = s.csv.Render(data)
		contentType = "text/csv"
	case models.ReportFormatJSON:
		content, err = s.json.Render(data, string(reportType))
		contentType = "application/json"
	case models.ReportFormatPDF:
		content, err = s.pdf.Render(data, title)
		contentType = "application/pdf"
	default:
		return nil, fmt.Errorf("unsupported report format %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("render %s report: %w", format, err)
	}
	return &models.ReportFile{
		Filename:    fmt.Sprintf("%s_%s.%s", reportType, s.now().UTC().Format("20060102"), format),
		ContentType: contentType,
		Content:     content,
	}, nil
}
