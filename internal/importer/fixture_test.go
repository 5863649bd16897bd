package importer

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sfu-fas/coursys-sub000/internal/importer/memstore"
	"github.com/sfu-fas/coursys-sub000/internal/models"
)

const (
	testEmplID = "301000001"
	testAppl   = "00012345"
)

func date(s string) time.Time {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func datePtr(s string) *time.Time {
	t := date(s)
	return &t
}

// testSemesters covers 2013 to 2016 with contiguous terms.
func testSemesters() []models.Semester {
	var out []models.Semester
	for year := 2013; year <= 2016; year++ {
		yy := year % 100
		out = append(out,
			models.Semester{Name: fmt.Sprintf("1%02d1", yy), Start: time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC), End: time.Date(year, time.April, 30, 0, 0, 0, 0, time.UTC)},
			models.Semester{Name: fmt.Sprintf("1%02d4", yy), Start: time.Date(year, time.May, 1, 0, 0, 0, 0, time.UTC), End: time.Date(year, time.August, 31, 0, 0, 0, 0, time.UTC)},
			models.Semester{Name: fmt.Sprintf("1%02d7", yy), Start: time.Date(year, time.September, 1, 0, 0, 0, 0, time.UTC), End: time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC)},
		)
	}
	return out
}

func testPrograms() []models.GradProgram {
	return []models.GradProgram{
		{ID: "prog-cmpt-phd", Unit: "CMPT", Label: "PhD", AcadProg: "CMPTPHD"},
		{ID: "prog-cmpt-msc", Unit: "CMPT", Label: "MSc", AcadProg: "CMPTMSC"},
		{ID: "prog-ensc-phd", Unit: "ENSC", Label: "PhD", AcadProg: "ENSCPHD"},
	}
}

func testLookups(t *testing.T, tweak ...func(*Settings)) *Lookups {
	t.Helper()
	settings := DefaultSettings()
	settings.ApplicationOnlyCutoff = "1151"
	for _, fn := range tweak {
		fn(&settings)
	}
	lk, err := NewLookups(testSemesters(), testPrograms(), map[string]string{"309999999": "300000042"}, settings)
	require.NoError(t, err)
	return lk
}

// progRow builds a program-feed row for the test student in CMPT.
func progRow(kind models.SourceKind, appl, status, action, effdt, admit string) models.SourceRow {
	return models.SourceRow{
		Kind:        kind,
		EmplID:      testEmplID,
		Unit:        "CMPT",
		AdmApplNbr:  appl,
		StdntCarNbr: "0",
		AcadProg:    "CMPTPHD",
		ProgStatus:  status,
		ProgAction:  action,
		EffDate:     datePtr(effdt),
		AdmitTerm:   admit,
	}
}

func semRow(unit, prog, strm string) models.SourceRow {
	return models.SourceRow{
		Kind:        models.SourceGradSemester,
		EmplID:      testEmplID,
		Unit:        unit,
		StdntCarNbr: "0",
		AcadProg:    prog,
		Strm:        strm,
	}
}

func committeeRow(unit, sup, role, effdt string) models.SourceRow {
	return models.SourceRow{
		Kind:          models.SourceCommittee,
		EmplID:        testEmplID,
		Unit:          unit,
		CommitteeID:   "C" + sup,
		SupEmplID:     sup,
		CommitteeRole: role,
		EffDate:       datePtr(effdt),
	}
}

func metadataRow() models.SourceRow {
	return models.SourceRow{
		Kind:        models.SourceMetadata,
		EmplID:      testEmplID,
		Language:    "English",
		Citizenship: "Canada",
		Email:       "student@example.com",
	}
}

func resolveAll(t *testing.T, lk *Lookups, rows []models.SourceRow) []Happening {
	t.Helper()
	var out []Happening
	for _, row := range rows {
		h, err := Resolve(row, lk)
		require.NoError(t, err)
		if h != nil {
			out = append(out, h)
		}
	}
	return out
}

func splitTimeline(t *testing.T, lk *Lookups, rows []models.SourceRow) *Timeline {
	t.Helper()
	tl := NewTimeline(testEmplID, resolveAll(t, lk, rows), lk)
	require.NoError(t, tl.SplitCareers())
	return tl
}

var _ Store = (*memstore.Store)(nil)

// tickingClock hands out strictly increasing timestamps.
func tickingClock() func() time.Time {
	now := time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		now = now.Add(time.Second)
		return now
	}
}

// reconcileRows resolves, splits and reconciles rows in one committed transaction.
func reconcileRows(t *testing.T, store *memstore.Store, lk *Lookups, rows []models.SourceRow) *Result {
	t.Helper()
	tl := splitTimeline(t, lk, rows)
	rec := NewReconciler(lk, NewPersonCache(), zap.NewNop(), 0)
	var result *Result
	err := store.WithinTx(context.Background(), true, func(s *memstore.Store) error {
		var err error
		result, err = rec.ReconcilePerson(context.Background(), s, tl, nil)
		return err
	})
	require.NoError(t, err)
	return result
}

func statusCodes(statuses []models.GradStatus) []models.StatusCode {
	info := NewStudentInfo(&models.GradStudent{}, statuses, nil, nil)
	out := make([]models.StatusCode, 0, len(info.Statuses))
	for _, s := range info.Statuses {
		out = append(out, s.Status)
	}
	return out
}

func sumCounts(m map[models.RecordKind]int) int {
	total := 0
	for _, n := range m {
		total += n
	}
	return total
}
