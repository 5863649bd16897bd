package importer

import (
	"fmt"
	"sort"
	"time"

	"github.com/sfu-fas/coursys-sub000/internal/models"
	appErrors "github.com/sfu-fas/coursys-sub000/pkg/errors"
)

// Career is one enrollment episode of a person in one unit. It maps onto
// exactly one local GradStudent record.
type Career struct {
	EmplID        string
	ApplicationID string
	Unit          string
	CareerNumber  string
	Happenings    []Happening
}

// NewCareer starts a career seeded by h.
func NewCareer(h Happening) *Career {
	ev := h.Base()
	c := &Career{
		EmplID:        ev.EmplID,
		ApplicationID: ev.ApplicationID,
		Unit:          ev.Unit,
		CareerNumber:  ev.CareerNumber,
	}
	c.Add(h)
	return c
}

// Add appends a happening to the career.
func (c *Career) Add(h Happening) {
	h.Base().InCareer = true
	if c.CareerNumber == "" && h.Kind() != KindMetadata {
		c.CareerNumber = h.Base().CareerNumber
	}
	c.Happenings = append(c.Happenings, h)
}

// Prepend puts a happening before all others.
func (c *Career) Prepend(h Happening) {
	h.Base().InCareer = true
	c.Happenings = append([]Happening{h}, c.Happenings...)
}

// AdmitTerm is the admit term reported by the program feeds, falling back to
// the first semester the career was seen.
func (c *Career) AdmitTerm() string {
	for _, h := range c.Happenings {
		if pc, ok := programChangeOf(h); ok && pc.AdmitTerm != "" {
			return pc.AdmitTerm
		}
	}
	for _, h := range c.Happenings {
		if h.Kind() != KindMetadata && h.Kind() != KindResearchArea {
			return h.Base().Strm
		}
	}
	return ""
}

// LastProgram is the most recent program reported for the career.
func (c *Career) LastProgram() string {
	var last string
	for _, h := range c.Happenings {
		switch h.(type) {
		case *ProgramStatusChange, *ApplProgramChange, *GradSemester:
			if id := programIDOf(h); id != "" {
				last = id
			}
		}
	}
	return last
}

// ProgramAsOf returns the program the career was in on d.
func (c *Career) ProgramAsOf(d time.Time) string {
	var prog string
	var at time.Time
	for _, h := range c.Happenings {
		pc, ok := programChangeOf(h)
		if !ok || pc.EffDate.After(d) {
			continue
		}
		if prog == "" || !pc.EffDate.Before(at) {
			prog, at = pc.ProgramID, pc.EffDate
		}
	}
	return prog
}

// ProgramSeenBefore reports whether the career was ever in program on or before d.
func (c *Career) ProgramSeenBefore(program string, d time.Time) bool {
	if program == "" {
		return false
	}
	for _, h := range c.Happenings {
		if pc, ok := programChangeOf(h); ok && pc.ProgramID == program && !pc.EffDate.After(d) {
			return true
		}
	}
	return false
}

func placeholder(h Happening) bool {
	switch h.(type) {
	case *GradMetadata, *GradResearchArea:
		return true
	}
	return false
}

// FirstDate is the earliest date of a dated happening in the career.
func (c *Career) FirstDate() time.Time {
	var first time.Time
	found := false
	for _, h := range c.Happenings {
		if placeholder(h) {
			continue
		}
		if d := h.Base().EffDate; !found || d.Before(first) {
			first, found = d, true
		}
	}
	return first
}

func (c *Career) firstStrm() string {
	var first time.Time
	var strm string
	for _, h := range c.Happenings {
		if placeholder(h) {
			continue
		}
		if ev := h.Base(); strm == "" || ev.EffDate.Before(first) {
			first, strm = ev.EffDate, ev.Strm
		}
	}
	return strm
}

// ImportKey is stored on the GradStudent created for the career.
func (c *Career) ImportKey() string {
	if c.ApplicationID != "" {
		return fmt.Sprintf("car:%s:%s:%s", c.EmplID, c.Unit, c.ApplicationID)
	}
	return fmt.Sprintf("car:%s:%s:%s:%s", c.EmplID, c.Unit, c.CareerNumber, c.AdmitTerm())
}

// LegacyImportKeys are older career key shapes.
func (c *Career) LegacyImportKeys() []string {
	if c.ApplicationID != "" {
		return []string{fmt.Sprintf("%s:%s", c.EmplID, c.ApplicationID)}
	}
	return []string{fmt.Sprintf("%s:%s:%s", c.EmplID, c.CareerNumber, c.AdmitTerm())}
}

// PossiblyActiveOn reports whether the student could have been taking courses
// on d: matriculated by then and not yet completed or cancelled.
func (c *Career) PossiblyActiveOn(d time.Time, cal *Calendar) bool {
	var matr time.Time
	matriculated := false
	for _, h := range c.Happenings {
		pc, ok := programChangeOf(h)
		if !ok || (pc.ProgAction != "MATR" && pc.ProgAction != "RADM") {
			continue
		}
		start, ok := cal.Start(pc.Strm)
		if !ok || start.After(d) {
			continue
		}
		if !matriculated || pc.EffDate.Before(matr) {
			matr, matriculated = pc.EffDate, true
		}
	}
	if !matriculated {
		return false
	}

	var completed, cancelled time.Time
	hasCompleted, hasCancelled := false, false
	for _, h := range c.Happenings {
		pc, ok := programChangeOf(h)
		if !ok || pc.EffDate.Before(matr) {
			continue
		}
		switch pc.ProgAction {
		case "COMP":
			if !hasCompleted || pc.EffDate.After(completed) {
				completed, hasCompleted = pc.EffDate, true
			}
		case "DISC", "WADM", "WAPP":
			if !hasCancelled || pc.EffDate.Before(cancelled) {
				cancelled, hasCancelled = pc.EffDate, true
			}
		}
	}
	if hasCompleted && d.After(completed) {
		return false
	}
	if hasCancelled && !d.Before(cancelled) {
		return false
	}
	return true
}

func matchesKey(stored *string, keys ...string) bool {
	if stored == nil {
		return false
	}
	for _, k := range keys {
		if *stored == k {
			return true
		}
	}
	return false
}

// newest picks the most recently created record.
func newest(records []*models.GradStudent) *models.GradStudent {
	sort.SliceStable(records, func(i, j int) bool { return records[i].CreatedAt.After(records[j].CreatedAt) })
	return records[0]
}

// FindGradStudent links the career to one of the person's existing local
// records. It returns nil when none matches. Records already claimed by an
// earlier career of the same run are only eligible through their import key.
func (c *Career) FindGradStudent(records []models.GradStudent, claimed map[string]bool, window int) (*models.GradStudent, error) {
	keys := append([]string{c.ImportKey()}, c.LegacyImportKeys()...)
	var byKey []*models.GradStudent
	for i := range records {
		if matchesKey(records[i].ImportKey, keys...) {
			byKey = append(byKey, &records[i])
		}
	}
	if len(byKey) > 1 {
		return nil, appErrors.Clonef(appErrors.ErrAmbiguousMatch, "%d records carry import key %s", len(byKey), c.ImportKey())
	}
	if len(byKey) == 1 {
		return byKey[0], nil
	}

	if c.ApplicationID != "" {
		var byAppl []*models.GradStudent
		for i := range records {
			r := &records[i]
			if !claimed[r.ID] && r.AdmApplNbr != nil && *r.AdmApplNbr == c.ApplicationID {
				byAppl = append(byAppl, r)
			}
		}
		if len(byAppl) > 1 {
			return nil, appErrors.Clonef(appErrors.ErrAmbiguousMatch, "%d records carry application %s", len(byAppl), c.ApplicationID)
		}
		if len(byAppl) == 1 {
			return byAppl[0], nil
		}
	}

	program, admit := c.LastProgram(), c.AdmitTerm()
	if program == "" || admit == "" {
		return nil, nil
	}
	var exact, similar []*models.GradStudent
	for i := range records {
		r := &records[i]
		if claimed[r.ID] || r.ImportKey != nil || r.ProgramID != program {
			continue
		}
		if r.StartSemester == admit {
			exact = append(exact, r)
			continue
		}
		if dist, err := SemesterDistance(admit, r.StartSemester); err == nil && dist >= -window && dist <= window {
			similar = append(similar, r)
		}
	}
	if len(exact) > 0 {
		return newest(exact), nil
	}
	if len(similar) > 0 {
		return newest(similar), nil
	}
	return nil, nil
}
