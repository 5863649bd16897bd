package service

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sfu-fas/coursys-sub000/internal/models"
	"github.com/sfu-fas/coursys-sub000/pkg/export"
	"github.com/sfu-fas/coursys-sub000/pkg/storage"
)

// Report formats.
const (
	ReportFormatCSV = "csv"
	ReportFormatPDF = "pdf"
)

type reportStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	Latest(ext string) (storage.Entry, bool, error)
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

// ReportConfig tunes report persistence.
type ReportConfig struct {
	Format    string
	Retention time.Duration
}

// ReportService renders run reports and keeps them in storage.
type ReportService struct {
	storage   reportStorage
	renderers map[string]export.Renderer
	cfg       ReportConfig
	logger    *zap.Logger
}

// NewReportService constructs a ReportService. store may be nil when reports
// are only rendered on demand.
func NewReportService(store reportStorage, cfg ReportConfig, logger *zap.Logger) *ReportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Format == "" {
		cfg.Format = ReportFormatCSV
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 30 * 24 * time.Hour
	}
	return &ReportService{
		storage: store,
		renderers: map[string]export.Renderer{
			ReportFormatCSV: export.NewCSVExporter(),
			ReportFormatPDF: export.NewPDFExporter(),
		},
		cfg:    cfg,
		logger: logger,
	}
}

// FormatForPath picks the report format from a file extension.
func FormatForPath(path string) (string, error) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	switch ext {
	case ReportFormatCSV, ReportFormatPDF:
		return ext, nil
	default:
		return "", fmt.Errorf("unsupported report extension %q (want .csv or .pdf)", filepath.Ext(path))
	}
}

// Dataset flattens a run report into a summary and one row per finding.
func Dataset(report *models.RunReport) export.Dataset {
	mode := "apply"
	if report.DryRun {
		mode = "dry run"
	}
	summary := []export.Field{
		{Label: "Run", Value: report.RunID},
		{Label: "Mode", Value: mode},
		{Label: "Started", Value: report.StartedAt.Format(time.RFC3339)},
		{Label: "Finished", Value: report.FinishedAt.Format(time.RFC3339)},
		{Label: "Persons", Value: strconv.Itoa(report.Persons)},
		{Label: "Succeeded", Value: strconv.Itoa(report.Succeeded)},
		{Label: "Failed", Value: strconv.Itoa(len(report.Failures))},
		{Label: "Skipped", Value: strconv.Itoa(report.Skipped)},
		{Label: "Careers created", Value: strconv.Itoa(report.CareersCreated)},
		{Label: "Careers matched", Value: strconv.Itoa(report.CareersMatched)},
		{Label: "Careers abandoned", Value: strconv.Itoa(report.CareersAbandoned)},
		{Label: "Dropped happenings", Value: strconv.Itoa(report.Dropped)},
	}
	for _, kind := range sortedKinds(report.Created, report.Updated) {
		summary = append(summary, export.Field{
			Label: "Records " + string(kind),
			Value: fmt.Sprintf("%d created, %d updated", report.Created[kind], report.Updated[kind]),
		})
	}
	if report.Aborted != "" {
		summary = append(summary, export.Field{Label: "Aborted", Value: report.Aborted})
	}

	rows := make([][]string, 0, len(report.Failures)+len(report.Warnings))
	for _, f := range report.Failures {
		rows = append(rows, []string{"failure", f.EmplID, f.Code, f.Error})
	}
	for _, w := range report.Warnings {
		emplid, msg := w, ""
		if i := strings.Index(w, ": "); i >= 0 {
			emplid, msg = w[:i], w[i+2:]
		}
		rows = append(rows, []string{"warning", emplid, "", msg})
	}

	return export.Dataset{
		Title:   "Graduate student import",
		Summary: summary,
		Headers: []string{"type", "emplid", "code", "detail"},
		Rows:    rows,
	}
}

func sortedKinds(maps ...map[models.RecordKind]int) []models.RecordKind {
	seen := map[models.RecordKind]bool{}
	for _, m := range maps {
		for k := range m {
			seen[k] = true
		}
	}
	kinds := make([]models.RecordKind, 0, len(seen))
	for k := range seen {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Render produces the report body in the given format.
func (s *ReportService) Render(report *models.RunReport, format string) ([]byte, error) {
	if report == nil {
		return nil, fmt.Errorf("report nil")
	}
	renderer, ok := s.renderers[format]
	if !ok {
		return nil, fmt.Errorf("unsupported report format %s", format)
	}
	return renderer.Render(Dataset(report))
}

// WriteFile renders the report to an arbitrary path chosen by its extension.
func (s *ReportService) WriteFile(report *models.RunReport, path string) error {
	format, err := FormatForPath(path)
	if err != nil {
		return err
	}
	body, err := s.Render(report, format)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return fmt.Errorf("write report %s: %w", path, err)
	}
	return nil
}

// Save stores the report in the configured format and returns its name.
func (s *ReportService) Save(report *models.RunReport) (string, error) {
	if s.storage == nil {
		return "", fmt.Errorf("report storage not configured")
	}
	body, err := s.Render(report, s.cfg.Format)
	if err != nil {
		return "", err
	}
	name := fmt.Sprintf("%s/run_%s_%s.%s",
		report.StartedAt.UTC().Format("2006-01"),
		report.StartedAt.UTC().Format("20060102_150405"),
		shortID(report.RunID),
		s.cfg.Format,
	)
	saved, err := s.storage.Save(name, body)
	if err != nil {
		return "", err
	}
	s.logger.Info("run report saved", zap.String("run_id", report.RunID), zap.String("file", saved))
	return saved, nil
}

// Latest opens the newest stored report in the configured format.
func (s *ReportService) Latest() (*os.File, storage.Entry, error) {
	if s.storage == nil {
		return nil, storage.Entry{}, os.ErrNotExist
	}
	entry, ok, err := s.storage.Latest(s.cfg.Format)
	if err != nil {
		return nil, storage.Entry{}, err
	}
	if !ok {
		return nil, storage.Entry{}, os.ErrNotExist
	}
	f, err := s.storage.Open(entry.Name)
	if err != nil {
		return nil, storage.Entry{}, err
	}
	return f, entry, nil
}

// Cleanup removes reports older than the retention period.
func (s *ReportService) Cleanup() ([]string, error) {
	if s.storage == nil {
		return nil, nil
	}
	deleted, err := s.storage.CleanupOlderThan(s.cfg.Retention)
	if err != nil {
		return nil, err
	}
	if len(deleted) > 0 {
		s.logger.Info("expired run reports removed", zap.Int("count", len(deleted)))
	}
	return deleted, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
