package importer

import (
	"strings"
	"time"

	"github.com/sfu-fas/coursys-sub000/internal/models"
	appErrors "github.com/sfu-fas/coursys-sub000/pkg/errors"
)

// Settings holds the tunable offsets and cutoffs of an import run.
type Settings struct {
	// StartOffset is added to status-start effective dates before the semester lookup.
	StartOffset time.Duration
	// Offset is added to every other effective date.
	Offset time.Duration
	// RelevanceCutoff abandons careers admitted before this semester.
	RelevanceCutoff string
	// ApplicationOnlyCutoff prunes bare applications admitted before this semester.
	ApplicationOnlyCutoff string
	// StrictUnitCutoffs suppresses record creation per unit before the given semester.
	StrictUnitCutoffs map[string]string
	// HorizonGraceSemesters lets unplaceable semesters this close to the horizon drop.
	HorizonGraceSemesters int
	// SimilarStartWindow is the +/- semester window for fuzzy start matching.
	SimilarStartWindow int
}

// DefaultSettings mirrors the configuration defaults.
func DefaultSettings() Settings {
	return Settings{
		StartOffset:           90 * 24 * time.Hour,
		Offset:                30 * 24 * time.Hour,
		HorizonGraceSemesters: 3,
		SimilarStartWindow:    2,
	}
}

// ProgramMap resolves (unit, external program code) to a local program.
type ProgramMap struct {
	byCode map[string]models.GradProgram
	byID   map[string]models.GradProgram
}

func programKey(unit, acadProg string) string {
	return strings.ToUpper(unit) + "/" + strings.ToUpper(acadProg)
}

// NewProgramMap indexes the local program table.
func NewProgramMap(programs []models.GradProgram) *ProgramMap {
	m := &ProgramMap{
		byCode: make(map[string]models.GradProgram, len(programs)),
		byID:   make(map[string]models.GradProgram, len(programs)),
	}
	for _, p := range programs {
		m.byCode[programKey(p.Unit, p.AcadProg)] = p
		m.byID[p.ID] = p
	}
	return m
}

// Lookup returns the local program for an external code.
func (m *ProgramMap) Lookup(unit, acadProg string) (models.GradProgram, error) {
	p, ok := m.byCode[programKey(unit, acadProg)]
	if !ok {
		return models.GradProgram{}, appErrors.Clonef(appErrors.ErrUnmappedProgram, "no program for %s in %s", acadProg, unit)
	}
	return p, nil
}

// ByID returns the program with the given local id.
func (m *ProgramMap) ByID(id string) (models.GradProgram, bool) {
	p, ok := m.byID[id]
	return p, ok
}

// Lookups bundles the read-only tables every stage of an import needs. It is
// built once per run and shared by all workers.
type Lookups struct {
	Calendar *Calendar
	Programs *ProgramMap
	// Aliases maps known duplicate emplids to the one that is kept.
	Aliases  map[string]string
	Settings Settings
}

// NewLookups validates and assembles the tables.
func NewLookups(semesters []models.Semester, programs []models.GradProgram, aliases map[string]string, settings Settings) (*Lookups, error) {
	cal, err := NewCalendar(semesters)
	if err != nil {
		return nil, err
	}
	if aliases == nil {
		aliases = map[string]string{}
	}
	if settings.SimilarStartWindow == 0 {
		settings.SimilarStartWindow = 2
	}
	return &Lookups{
		Calendar: cal,
		Programs: NewProgramMap(programs),
		Aliases:  aliases,
		Settings: settings,
	}, nil
}

// CanonicalEmplID follows the alias table.
func (lk *Lookups) CanonicalEmplID(emplid string) string {
	if to, ok := lk.Aliases[emplid]; ok {
		return to
	}
	return emplid
}

// strictCutoff reports whether creation is suppressed for a unit at admitTerm.
func (lk *Lookups) strictCutoff(unit, admitTerm string) bool {
	cut, ok := lk.Settings.StrictUnitCutoffs[unit]
	return ok && admitTerm != "" && admitTerm < cut
}
