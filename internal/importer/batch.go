package importer

import (
	"sort"

	"github.com/sfu-fas/coursys-sub000/internal/models"
)

// ResolveRows classifies every row before anything is written. The first
// run-fatal error (unmapped status, role, program or date) aborts the batch.
// Rows dropped at the data horizon are counted, not returned.
func ResolveRows(rows []models.SourceRow, lk *Lookups) ([]Happening, int, error) {
	happenings := make([]Happening, 0, len(rows))
	dropped := 0
	for _, row := range rows {
		h, err := Resolve(row, lk)
		if err != nil {
			return nil, dropped, err
		}
		if h == nil {
			dropped++
			continue
		}
		happenings = append(happenings, h)
	}
	return happenings, dropped, nil
}

// GroupTimelines splits happenings into one timeline per person, ordered by
// emplid. Timelines are not yet segmented into careers.
func GroupTimelines(happenings []Happening, lk *Lookups) []*Timeline {
	byPerson := map[string][]Happening{}
	for _, h := range happenings {
		emplid := h.Base().EmplID
		byPerson[emplid] = append(byPerson[emplid], h)
	}
	emplids := make([]string, 0, len(byPerson))
	for emplid := range byPerson {
		emplids = append(emplids, emplid)
	}
	sort.Strings(emplids)

	timelines := make([]*Timeline, 0, len(emplids))
	for _, emplid := range emplids {
		timelines = append(timelines, NewTimeline(emplid, byPerson[emplid], lk))
	}
	return timelines
}
