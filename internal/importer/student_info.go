package importer

import (
	"sort"
	"time"

	"github.com/sfu-fas/coursys-sub000/internal/models"
)

// StudentInfo accumulates the local records of one career while it is being
// reconciled. Matches found in the find pass are consumed by the update pass.
type StudentInfo struct {
	Student     *models.GradStudent
	Statuses    []*models.GradStatus
	Programs    []*models.GradProgramHistory
	Supervisors []*models.Supervisor

	statusMatch     map[Happening]*models.GradStatus
	programMatch    map[Happening]*models.GradProgramHistory
	supervisorMatch map[Happening]*models.Supervisor
	applKeys        map[string]*models.GradStatus
	supervisorKeys  map[string]*models.Supervisor
	claimed         map[string]bool
	programsByStrm  map[string]*models.GradProgramHistory
	// semesterPrograms is the last program the feeds report in each semester.
	semesterPrograms map[string]string
	dirty            bool
}

// NewStudentInfo wraps the loaded records of a GradStudent.
func NewStudentInfo(student *models.GradStudent, statuses []models.GradStatus, programs []models.GradProgramHistory, supervisors []models.Supervisor) *StudentInfo {
	info := &StudentInfo{
		Student:          student,
		statusMatch:      map[Happening]*models.GradStatus{},
		programMatch:     map[Happening]*models.GradProgramHistory{},
		supervisorMatch:  map[Happening]*models.Supervisor{},
		applKeys:         map[string]*models.GradStatus{},
		supervisorKeys:   map[string]*models.Supervisor{},
		claimed:          map[string]bool{},
		programsByStrm:   map[string]*models.GradProgramHistory{},
		semesterPrograms: map[string]string{},
	}
	for i := range statuses {
		info.Statuses = append(info.Statuses, &statuses[i])
	}
	for i := range programs {
		info.Programs = append(info.Programs, &programs[i])
	}
	for i := range supervisors {
		info.Supervisors = append(info.Supervisors, &supervisors[i])
	}
	info.sortStatuses()
	info.sortPrograms()
	return info
}

func dateLess(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b != nil
	}
	return a.Before(*b)
}

func sameDay(a *time.Time, b time.Time) bool {
	if a == nil {
		return false
	}
	return a.Format(dateLayout) == b.Format(dateLayout)
}

func (info *StudentInfo) sortStatuses() {
	sort.SliceStable(info.Statuses, func(i, j int) bool {
		a, b := info.Statuses[i], info.Statuses[j]
		if a.StartSemester != b.StartSemester {
			return a.StartSemester < b.StartSemester
		}
		if dateLess(a.StartDate, b.StartDate) || dateLess(b.StartDate, a.StartDate) {
			return dateLess(a.StartDate, b.StartDate)
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
}

func (info *StudentInfo) sortPrograms() {
	sort.SliceStable(info.Programs, func(i, j int) bool {
		a, b := info.Programs[i], info.Programs[j]
		if a.StartSemester != b.StartSemester {
			return a.StartSemester < b.StartSemester
		}
		return dateLess(a.Starting, b.Starting)
	})
}

// AddStatus inserts a status and keeps the list in semester order.
func (info *StudentInfo) AddStatus(s *models.GradStatus) {
	info.Statuses = append(info.Statuses, s)
	info.sortStatuses()
}

// AddProgram inserts a program history entry and keeps the list ordered.
func (info *StudentInfo) AddProgram(p *models.GradProgramHistory) {
	info.Programs = append(info.Programs, p)
	info.sortPrograms()
}

// StatusAsOf returns the visible status in effect at strm on date. Statuses in
// the same semester count when they start on or before date.
func (info *StudentInfo) StatusAsOf(strm string, date *time.Time) models.StatusCode {
	var current models.StatusCode
	for _, s := range info.Statuses {
		if s.Hidden {
			continue
		}
		if s.StartSemester > strm {
			break
		}
		if s.StartSemester == strm && date != nil && s.StartDate != nil && s.StartDate.After(*date) {
			continue
		}
		current = s.Status
	}
	return current
}

// CurrentStatus returns the last visible status and its semester.
func (info *StudentInfo) CurrentStatus() (models.StatusCode, string) {
	for i := len(info.Statuses) - 1; i >= 0; i-- {
		if s := info.Statuses[i]; !s.Hidden {
			return s.Status, s.StartSemester
		}
	}
	return "", ""
}

// ProgramAsOf returns the program in effect at strm.
func (info *StudentInfo) ProgramAsOf(strm string) string {
	var program string
	for _, p := range info.Programs {
		if p.StartSemester > strm {
			break
		}
		program = p.ProgramID
	}
	return program
}

// NextProgramAfter returns the first program entry starting after strm.
func (info *StudentInfo) NextProgramAfter(strm string) *models.GradProgramHistory {
	for _, p := range info.Programs {
		if p.StartSemester > strm {
			return p
		}
	}
	return nil
}

// NotePrograms records the program each semester ends in, so several program
// rows in one semester settle on a single entry.
func (info *StudentInfo) NotePrograms(happenings []Happening) {
	hs := append([]Happening(nil), happenings...)
	SortHappenings(hs)
	for _, h := range hs {
		if _, ok := programChangeOf(h); !ok {
			continue
		}
		if id := programIDOf(h); id != "" {
			info.semesterPrograms[h.Base().Strm] = id
		}
	}
}

// programFor is the program a program row should leave in its semester.
func (info *StudentInfo) programFor(h Happening) string {
	if id, ok := info.semesterPrograms[h.Base().Strm]; ok {
		return id
	}
	return programIDOf(h)
}

func (info *StudentInfo) claim(id string) {
	info.claimed[id] = true
}

func (info *StudentInfo) isClaimed(id string) bool {
	return info.claimed[id]
}
