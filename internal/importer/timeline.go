package importer

import (
	"sort"
	"time"

	appErrors "github.com/sfu-fas/coursys-sub000/pkg/errors"
)

// significantActions change whether a student is active, so they only fit
// careers that could be active on their date.
var significantActions = map[string]bool{
	"LEAV": true,
	"RADM": true,
	"DISC": true,
	"WADM": true,
	"COMP": true,
}

// Timeline is every happening of one person and the careers they split into.
type Timeline struct {
	EmplID     string
	Happenings []Happening
	Careers    []*Career
	// Dropped are happenings deliberately left out of every career.
	Dropped []Happening

	lk *Lookups
}

// NewTimeline sorts the happenings of one person.
func NewTimeline(emplid string, happenings []Happening, lk *Lookups) *Timeline {
	hs := append([]Happening(nil), happenings...)
	SortHappenings(hs)
	return &Timeline{EmplID: emplid, Happenings: hs, lk: lk}
}

// SplitCareers segments the happenings into careers. Every happening ends up
// in a career or in Dropped unless an error is returned.
func (t *Timeline) SplitCareers() error {
	t.Careers, t.Dropped = nil, nil
	for _, h := range t.Happenings {
		h.Base().InCareer = false
	}

	t.groupByApplication()
	if err := t.placeStatusChanges(); err != nil {
		return err
	}
	t.attachMetadata()
	if err := t.placeRemaining(); err != nil {
		return err
	}
	t.synthesizeTransfers()
	t.pruneApplications()
	return nil
}

func (t *Timeline) drop(h Happening) {
	t.Dropped = append(t.Dropped, h)
}

func (t *Timeline) careersIn(unit string) []*Career {
	var out []*Career
	for _, c := range t.Careers {
		if c.Unit == unit {
			out = append(out, c)
		}
	}
	return out
}

func (t *Timeline) groupByApplication() {
	for _, h := range t.Happenings {
		ev := h.Base()
		if ev.ApplicationID == "" {
			// unkeyed program changes are placed with the status feed
			if h.Kind() == KindResearchArea {
				t.drop(h)
			}
			continue
		}
		switch h.(type) {
		case *GradMetadata:
			continue
		case *GradResearchArea:
			// attaches to the latest career of the application, never seeds one
			var target *Career
			for _, c := range t.Careers {
				if c.ApplicationID == ev.ApplicationID {
					target = c
				}
			}
			if target == nil {
				t.drop(h)
				continue
			}
			target.Add(h)
			continue
		}

		placed := false
		for _, c := range t.Careers {
			if c.Unit == ev.Unit && c.ApplicationID == ev.ApplicationID {
				c.Add(h)
				placed = true
				break
			}
		}
		if !placed {
			t.Careers = append(t.Careers, NewCareer(h))
		}
	}
}

func (t *Timeline) placeStatusChanges() error {
	for _, h := range t.Happenings {
		psc, ok := programChangeOf(h)
		if !ok || psc.InCareer {
			continue
		}

		var candidates []*Career
		for _, c := range t.careersIn(psc.Unit) {
			if psc.CareerNumber == "" || c.CareerNumber == "" || c.CareerNumber == psc.CareerNumber {
				candidates = append(candidates, c)
			}
		}
		if len(candidates) == 0 {
			t.Careers = append(t.Careers, NewCareer(h))
			continue
		}

		candidates = narrow(candidates, func(c *Career) bool { return c.AdmitTerm() == psc.AdmitTerm })
		if significantActions[psc.ProgAction] {
			candidates = narrow(candidates, func(c *Career) bool { return c.PossiblyActiveOn(psc.EffDate, t.lk.Calendar) })
		}

		switch {
		case len(candidates) == 1:
			candidates[0].Add(h)
		case psc.Status != "":
			return appErrors.Clonef(appErrors.ErrAmbiguousCareer, "%s %s/%s on %s fits %d careers in %s",
				psc.EmplID, psc.ProgStatus, psc.ProgAction, psc.EffDate.Format(dateLayout), len(candidates), psc.Unit)
		default:
			t.drop(h)
		}
	}
	return nil
}

// narrow keeps the careers matching keep, unless none do.
func narrow(careers []*Career, keep func(*Career) bool) []*Career {
	var out []*Career
	for _, c := range careers {
		if keep(c) {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return careers
	}
	return out
}

func (t *Timeline) attachMetadata() {
	for _, h := range t.Happenings {
		if _, ok := h.(*GradMetadata); !ok {
			continue
		}
		if len(t.Careers) == 0 {
			t.drop(h)
			continue
		}
		for _, c := range t.Careers {
			c.Add(h)
		}
	}
}

func (t *Timeline) placeRemaining() error {
	for _, h := range t.Happenings {
		ev := h.Base()
		if ev.InCareer {
			continue
		}
		switch h.(type) {
		case *CommitteeMembership, *GradSemester:
		default:
			continue
		}

		if c := t.careerFor(h); c != nil {
			c.Add(h)
			continue
		}

		switch v := h.(type) {
		case *CommitteeMembership:
			// a committee formed before admission belongs to the next career
			var target *Career
			for _, c := range t.careersIn(v.Unit) {
				if first := c.FirstDate(); !first.Before(v.EffDate) && (target == nil || first.Before(target.FirstDate())) {
					target = c
				}
			}
			if target != nil {
				target.Add(h)
			} else {
				t.drop(h)
			}
		case *GradSemester:
			dist, err := SemesterDistance(t.lk.Calendar.First(), v.Strm)
			if err == nil && dist < t.lk.Settings.HorizonGraceSemesters {
				t.drop(h)
				continue
			}
			return appErrors.Clonef(appErrors.ErrUnplaceable, "%s semester %s in %s fits no career", v.EmplID, v.Strm, v.Unit)
		}
	}
	return nil
}

// careerFor places committee and semester happenings by unit and program.
func (t *Timeline) careerFor(h Happening) *Career {
	ev := h.Base()
	inUnit := t.careersIn(ev.Unit)
	if len(inUnit) == 1 {
		return inUnit[0]
	}
	if len(inUnit) == 0 {
		return nil
	}

	program := programIDOf(h)
	if program == "" {
		return nil
	}
	pick := func(keep func(*Career) bool) *Career {
		var matches []*Career
		for _, c := range inUnit {
			if keep(c) {
				matches = append(matches, c)
			}
		}
		if len(matches) == 0 {
			return nil
		}
		matches = narrow(matches, func(c *Career) bool { return c.PossiblyActiveOn(ev.EffDate, t.lk.Calendar) })
		best := matches[0]
		for _, c := range matches[1:] {
			if c.AdmitTerm() > best.AdmitTerm() {
				best = c
			}
		}
		return best
	}
	if c := pick(func(c *Career) bool { return c.ProgramAsOf(ev.EffDate) == program }); c != nil {
		return c
	}
	return pick(func(c *Career) bool { return c.ProgramSeenBefore(program, ev.EffDate) })
}

type transferGroup struct {
	application  string
	careerNumber string
}

func (t *Timeline) synthesizeTransfers() {
	groups := map[transferGroup][]*Career{}
	var order []transferGroup
	for _, c := range t.Careers {
		if c.ApplicationID == "" {
			continue
		}
		g := transferGroup{c.ApplicationID, c.CareerNumber}
		if _, ok := groups[g]; !ok {
			order = append(order, g)
		}
		groups[g] = append(groups[g], c)
	}

	for _, g := range order {
		careers := groups[g]
		if len(careers) < 2 {
			continue
		}
		sort.SliceStable(careers, func(i, j int) bool { return careers[i].FirstDate().Before(careers[j].FirstDate()) })
		for i := 0; i+1 < len(careers); i++ {
			from, to := careers[i], careers[i+1]
			at, strm := to.FirstDate(), to.firstStrm()
			from.Add(&CareerUnitChangeOut{
				Event:     transferEvent(t.EmplID, from.Unit, at, strm, g),
				OtherUnit: to.Unit,
			})
			to.Prepend(&CareerUnitChangeIn{
				Event:     transferEvent(t.EmplID, to.Unit, at, strm, g),
				OtherUnit: from.Unit,
			})
		}
	}
}

func transferEvent(emplid, unit string, at time.Time, strm string, g transferGroup) Event {
	return Event{
		EmplID:        emplid,
		Unit:          unit,
		EffDate:       at,
		Strm:          strm,
		ApplicationID: g.application,
		CareerNumber:  g.careerNumber,
	}
}

// pruneApplications discards careers that are nothing but an old application.
// Metadata left without any career is dropped with them.
func (t *Timeline) pruneApplications() {
	cutoff := t.lk.Settings.ApplicationOnlyCutoff
	var orphans []Happening
	kept := t.Careers[:0]
	for _, c := range t.Careers {
		var real []Happening
		for _, h := range c.Happenings {
			if h.Kind() != KindMetadata {
				real = append(real, h)
			}
		}
		if len(real) == 1 {
			if apc, ok := real[0].(*ApplProgramChange); ok && apc.ProgStatus == "AP" && apc.ProgAction == "APPL" &&
				cutoff != "" && apc.AdmitTerm < cutoff {
				apc.InCareer = false
				t.drop(apc)
				for _, h := range c.Happenings {
					if h.Kind() == KindMetadata {
						orphans = append(orphans, h)
					}
				}
				continue
			}
		}
		kept = append(kept, c)
	}
	t.Careers = kept

	placed := map[Happening]bool{}
	for _, c := range kept {
		for _, h := range c.Happenings {
			placed[h] = true
		}
	}
	for _, h := range orphans {
		if placed[h] || !h.Base().InCareer {
			continue
		}
		h.Base().InCareer = false
		t.drop(h)
	}
}
