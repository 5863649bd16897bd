package importer

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/sfu-fas/coursys-sub000/internal/models"
	appErrors "github.com/sfu-fas/coursys-sub000/pkg/errors"
)

// Semester codes are CYYT: century digit, two year digits and the term
// (1 spring, 4 summer, 7 fall). 1137 is Fall 2013.
func semesterIndex(strm string) (int, error) {
	if len(strm) != 4 {
		return 0, fmt.Errorf("bad semester code %q", strm)
	}
	n, err := strconv.Atoi(strm)
	if err != nil {
		return 0, fmt.Errorf("bad semester code %q", strm)
	}
	year, term := n/10, n%10
	switch term {
	case 1:
		return year*3 + 0, nil
	case 4:
		return year*3 + 1, nil
	case 7:
		return year*3 + 2, nil
	}
	return 0, fmt.Errorf("bad semester code %q", strm)
}

func semesterFromIndex(idx int) string {
	year, term := idx/3, idx%3
	return fmt.Sprintf("%03d%d", year, term*3+1)
}

// SemesterOffset returns the semester n terms after strm (n may be negative).
func SemesterOffset(strm string, n int) (string, error) {
	idx, err := semesterIndex(strm)
	if err != nil {
		return "", err
	}
	return semesterFromIndex(idx + n), nil
}

// SemesterDistance returns how many terms b is after a.
func SemesterDistance(a, b string) (int, error) {
	ia, err := semesterIndex(a)
	if err != nil {
		return 0, err
	}
	ib, err := semesterIndex(b)
	if err != nil {
		return 0, err
	}
	return ib - ia, nil
}

// Calendar maps dates onto the configured semesters. The first semester's start
// is the data horizon: anything earlier is not imported.
type Calendar struct {
	semesters []models.Semester
	byName    map[string]int
}

// NewCalendar sorts and indexes the semester table.
func NewCalendar(semesters []models.Semester) (*Calendar, error) {
	if len(semesters) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "semester calendar is empty")
	}
	sorted := append([]models.Semester(nil), semesters...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })
	byName := make(map[string]int, len(sorted))
	for i, s := range sorted {
		if _, err := semesterIndex(s.Name); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ScopeRun, "invalid semester calendar")
		}
		byName[s.Name] = i
	}
	return &Calendar{semesters: sorted, byName: byName}, nil
}

// Horizon is the start of the first known semester.
func (c *Calendar) Horizon() time.Time {
	return c.semesters[0].Start
}

// First is the earliest semester code in the calendar.
func (c *Calendar) First() string {
	return c.semesters[0].Name
}

// Start returns the first day of the semester, if it is in the calendar.
func (c *Calendar) Start(strm string) (time.Time, bool) {
	i, ok := c.byName[strm]
	if !ok {
		return time.Time{}, false
	}
	return c.semesters[i].Start, true
}

// StrmFor returns the semester containing d. A semester runs from its start to
// the next semester's start; the last one ends at its End.
func (c *Calendar) StrmFor(d time.Time) (string, error) {
	if d.Before(c.Horizon()) {
		return "", nil
	}
	i := sort.Search(len(c.semesters), func(i int) bool { return c.semesters[i].Start.After(d) }) - 1
	last := len(c.semesters) - 1
	if i == last && d.After(c.semesters[last].End) {
		return "", appErrors.Clonef(appErrors.ErrUnmappedDate, "no semester for %s", d.Format("2006-01-02"))
	}
	return c.semesters[i].Name, nil
}

// Flavor selects the offset applied before the semester lookup.
type Flavor int

const (
	// FlavorDefault events land in the semester shortly after they are recorded.
	FlavorDefault Flavor = iota
	// FlavorStart events are recorded well before the semester they start.
	FlavorStart
)

// EffdtToStrm maps an effective date to a semester code. Dates before the data
// horizon map to "" and the caller drops the happening.
func (c *Calendar) EffdtToStrm(d time.Time, flavor Flavor, s Settings) (string, error) {
	if d.Before(c.Horizon()) {
		return "", nil
	}
	offset := s.Offset
	if flavor == FlavorStart {
		offset = s.StartOffset
	}
	return c.StrmFor(d.Add(offset))
}
