package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sfu-fas/coursys-sub000/internal/importer"
	"github.com/sfu-fas/coursys-sub000/internal/models"
	"github.com/sfu-fas/coursys-sub000/pkg/config"
)

const (
	graduateEmplID  = "300000001"
	ambiguousEmplID = "300000002"
)

type lookupStub struct {
	err error
}

func (l lookupStub) Semesters(context.Context) ([]models.Semester, error) {
	if l.err != nil {
		return nil, l.err
	}
	var out []models.Semester
	for year := 2013; year <= 2016; year++ {
		yy := year % 100
		out = append(out,
			models.Semester{Name: fmt.Sprintf("1%02d1", yy), Start: time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC), End: time.Date(year, time.April, 30, 0, 0, 0, 0, time.UTC)},
			models.Semester{Name: fmt.Sprintf("1%02d4", yy), Start: time.Date(year, time.May, 1, 0, 0, 0, 0, time.UTC), End: time.Date(year, time.August, 31, 0, 0, 0, 0, time.UTC)},
			models.Semester{Name: fmt.Sprintf("1%02d7", yy), Start: time.Date(year, time.September, 1, 0, 0, 0, 0, time.UTC), End: time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC)},
		)
	}
	return out, nil
}

func (l lookupStub) Programs(context.Context, []string) ([]models.GradProgram, error) {
	return []models.GradProgram{
		{ID: "prog-cmpt-phd", Unit: "CMPT", Label: "PhD", AcadProg: "CMPTPHD"},
		{ID: "prog-cmpt-msc", Unit: "CMPT", Label: "MSc", AcadProg: "CMPTMSC"},
	}, nil
}

type fetcherStub struct {
	mu      sync.Mutex
	rows    []models.SourceRow
	err     error
	queries []models.SourceQuery
}

func (f *fetcherStub) FetchAll(_ context.Context, q models.SourceQuery) ([]models.SourceRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	if f.err != nil {
		return nil, f.err
	}
	return f.rows, nil
}

func day(s string) *time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return &t
}

func programRow(emplid, carNbr, acadProg, status, action, effdt string) models.SourceRow {
	return models.SourceRow{
		Kind:        models.SourceProgramStatus,
		EmplID:      emplid,
		Unit:        "CMPT",
		StdntCarNbr: carNbr,
		AcadProg:    acadProg,
		ProgStatus:  status,
		ProgAction:  action,
		EffDate:     day(effdt),
		AdmitTerm:   "1137",
	}
}

// graduateRows describe one student who enrols in 1137 and graduates.
func graduateRows() []models.SourceRow {
	grad := programRow(graduateEmplID, "0", "CMPTPHD", "CM", "COMP", "2014-03-10")
	grad.DegrChkoutStat = "AW"
	return []models.SourceRow{
		programRow(graduateEmplID, "0", "CMPTPHD", "AC", "MATR", "2013-08-20"),
		{Kind: models.SourceGradSemester, EmplID: graduateEmplID, Unit: "CMPT", StdntCarNbr: "0", AcadProg: "CMPTPHD", Strm: "1137"},
		grad,
		{Kind: models.SourceMetadata, EmplID: graduateEmplID, Language: "English", Email: "grad@example.com"},
	}
}

// ambiguousRows give a student two careers and a leave that fits both.
func ambiguousRows() []models.SourceRow {
	leave := programRow(ambiguousEmplID, "", "CMPTPHD", "LA", "LEAV", "2014-01-10")
	return []models.SourceRow{
		programRow(ambiguousEmplID, "0", "CMPTPHD", "AC", "MATR", "2013-08-20"),
		programRow(ambiguousEmplID, "1", "CMPTMSC", "AC", "MATR", "2013-08-21"),
		leave,
	}
}

func importConfig() config.ImportConfig {
	return config.ImportConfig{
		Units:                 []string{"CMPT"},
		HorizonGraceSemesters: 3,
		Workers:               2,
		Retries:               2,
		RetryDelay:            time.Millisecond,
	}
}

func tickingClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

// flakyRunner fails the first n transactions with a transient error.
type flakyRunner struct {
	mu    sync.Mutex
	inner TxRunner
	fails int
	calls int
}

func (f *flakyRunner) WithinTx(ctx context.Context, commit bool, fn func(importer.Store) error) error {
	f.mu.Lock()
	f.calls++
	fail := f.calls <= f.fails
	f.mu.Unlock()
	if fail {
		return fmt.Errorf("begin grad tx: connection reset")
	}
	return f.inner.WithinTx(ctx, commit, fn)
}
