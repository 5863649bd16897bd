package importer

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sfu-fas/coursys-sub000/internal/models"
	appErrors "github.com/sfu-fas/coursys-sub000/pkg/errors"
)

// Kind discriminates the closed set of happenings.
type Kind string

// Happening kinds. The first six match the source row kinds.
const (
	KindProgramStatus Kind = "ProgramStatusChange"
	KindApplProgram   Kind = "ApplProgramChange"
	KindSemester      Kind = "GradSemester"
	KindCommittee     Kind = "CommitteeMembership"
	KindResearchArea  Kind = "GradResearchArea"
	KindMetadata      Kind = "GradMetadata"
	KindTransferOut   Kind = "CareerUnitChangeOut"
	KindTransferIn    Kind = "CareerUnitChangeIn"
)

const dateLayout = "2006-01-02"

var (
	farFuture     = time.Date(9999, time.December, 31, 0, 0, 0, 0, time.UTC)
	farFutureStrm = "9999"
)

// actions whose effective date is recorded well before the semester they start
var startActions = map[string]bool{
	"MATR": true,
	"RADM": true,
	"ACTV": true,
	"RLOA": true,
	"LEAV": true,
	"DEIN": true,
}

// Event holds the fields every happening shares.
type Event struct {
	EmplID        string
	Unit          string
	EffDate       time.Time
	Strm          string
	ApplicationID string
	CareerNumber  string
	InCareer      bool
}

// Base returns the shared fields.
func (e *Event) Base() *Event { return e }

// Happening is one dated external fact about a person. The set of
// implementations is closed; dispatch with a type switch.
type Happening interface {
	Kind() Kind
	Base() *Event
	// ImportKey is stored on local records created from the happening.
	ImportKey() string
	// LegacyImportKeys are older key shapes still accepted when matching.
	LegacyImportKeys() []string
	happening()
}

type programChange struct {
	Event
	ProgramCode    string
	ProgramID      string
	ProgStatus     string
	ProgAction     string
	ProgReason     string
	EffSeq         int
	AdmitTerm      string
	ExpGradTerm    string
	DegreeCheckout string
	// Status is empty when the row changes no status.
	Status models.StatusCode
}

func (p *programChange) happening() {}

// applKey identifies the application-stage fact behind a row, so the status and
// application feeds reporting the same event land on one status.
func (p *programChange) applKey() string {
	if p.ApplicationID == "" {
		return ""
	}
	return fmt.Sprintf("appl:%s:%s:%s:%s", p.ApplicationID, p.ProgStatus, p.ProgAction, p.EffDate.Format(dateLayout))
}

// ProgramStatusChange is a row from the program-status feed.
type ProgramStatusChange struct {
	programChange
}

// Kind implements Happening.
func (h *ProgramStatusChange) Kind() Kind { return KindProgramStatus }

// ImportKey implements Happening.
func (h *ProgramStatusChange) ImportKey() string {
	return fmt.Sprintf("ps:%s:%s:%s:%s:%d", h.EmplID, h.CareerNumber, h.ProgramCode, h.EffDate.Format(dateLayout), h.EffSeq)
}

// LegacyImportKeys implements Happening.
func (h *ProgramStatusChange) LegacyImportKeys() []string {
	return []string{fmt.Sprintf("ps:%s:%s:%s", h.EmplID, h.EffDate.Format(dateLayout), h.ProgAction)}
}

// ApplProgramChange is a row from the application feed.
type ApplProgramChange struct {
	programChange
}

// Kind implements Happening.
func (h *ApplProgramChange) Kind() Kind { return KindApplProgram }

// ImportKey implements Happening.
func (h *ApplProgramChange) ImportKey() string {
	return fmt.Sprintf("ap:%s:%s:%s:%s:%d", h.EmplID, h.ApplicationID, h.ProgramCode, h.EffDate.Format(dateLayout), h.EffSeq)
}

// LegacyImportKeys implements Happening.
func (h *ApplProgramChange) LegacyImportKeys() []string { return nil }

// GradSemester records that the student was enrolled in a semester.
type GradSemester struct {
	Event
	ProgramCode string
	ProgramID   string
}

func (h *GradSemester) happening() {}

// Kind implements Happening.
func (h *GradSemester) Kind() Kind { return KindSemester }

// ImportKey implements Happening.
func (h *GradSemester) ImportKey() string {
	return fmt.Sprintf("sem:%s:%s:%s", h.EmplID, h.CareerNumber, h.Strm)
}

// LegacyImportKeys implements Happening.
func (h *GradSemester) LegacyImportKeys() []string {
	return []string{fmt.Sprintf("sem:%s:%s", h.EmplID, h.Strm)}
}

// CommitteeMembership is a supervisor or committee member of the student.
type CommitteeMembership struct {
	Event
	CommitteeID      string
	SupervisorEmplID string
	RoleCode         string
	SupervisorType   models.SupervisorType
	ProgramCode      string
	ProgramID        string
}

func (h *CommitteeMembership) happening() {}

// Kind implements Happening.
func (h *CommitteeMembership) Kind() Kind { return KindCommittee }

// ImportKey implements Happening.
func (h *CommitteeMembership) ImportKey() string {
	return fmt.Sprintf("cm:%s:%s:%s:%s", h.EmplID, h.CommitteeID, h.SupervisorEmplID, h.RoleCode)
}

// LegacyImportKeys implements Happening.
func (h *CommitteeMembership) LegacyImportKeys() []string { return nil }

// GradResearchArea is a research interest declared on an application.
type GradResearchArea struct {
	Event
	AreaOrg  string
	AreaCode string
	Choice   string
}

func (h *GradResearchArea) happening() {}

// Kind implements Happening.
func (h *GradResearchArea) Kind() Kind { return KindResearchArea }

// ImportKey implements Happening.
func (h *GradResearchArea) ImportKey() string {
	return fmt.Sprintf("ra:%s:%s:%s:%s", h.EmplID, h.ApplicationID, h.AreaCode, h.Choice)
}

// LegacyImportKeys implements Happening.
func (h *GradResearchArea) LegacyImportKeys() []string { return nil }

// Description is the text stored on the local record.
func (h *GradResearchArea) Description() string {
	return strings.TrimSpace(h.AreaOrg + " " + h.AreaCode)
}

// GradMetadata carries personal details that apply to every career.
type GradMetadata struct {
	Event
	Language    string
	Citizenship string
	Visa        string
	Email       string
}

func (h *GradMetadata) happening() {}

// Kind implements Happening.
func (h *GradMetadata) Kind() Kind { return KindMetadata }

// ImportKey implements Happening.
func (h *GradMetadata) ImportKey() string { return "meta:" + h.EmplID }

// LegacyImportKeys implements Happening.
func (h *GradMetadata) LegacyImportKeys() []string { return nil }

// CareerUnitChangeOut ends a career that continues in another unit.
type CareerUnitChangeOut struct {
	Event
	OtherUnit string
}

func (h *CareerUnitChangeOut) happening() {}

// Kind implements Happening.
func (h *CareerUnitChangeOut) Kind() Kind { return KindTransferOut }

// ImportKey implements Happening.
func (h *CareerUnitChangeOut) ImportKey() string {
	return fmt.Sprintf("xo:%s:%s:%s:%s", h.EmplID, h.ApplicationID, h.Unit, h.OtherUnit)
}

// LegacyImportKeys implements Happening.
func (h *CareerUnitChangeOut) LegacyImportKeys() []string { return nil }

// CareerUnitChangeIn starts a career that continues one from another unit.
type CareerUnitChangeIn struct {
	Event
	OtherUnit string
}

func (h *CareerUnitChangeIn) happening() {}

// Kind implements Happening.
func (h *CareerUnitChangeIn) Kind() Kind { return KindTransferIn }

// ImportKey implements Happening.
func (h *CareerUnitChangeIn) ImportKey() string {
	return fmt.Sprintf("xi:%s:%s:%s:%s", h.EmplID, h.ApplicationID, h.OtherUnit, h.Unit)
}

// LegacyImportKeys implements Happening.
func (h *CareerUnitChangeIn) LegacyImportKeys() []string { return nil }

// StatusOf returns the local status a happening sets, or "" when it sets none.
func StatusOf(h Happening) models.StatusCode {
	switch v := h.(type) {
	case *ProgramStatusChange:
		return v.Status
	case *ApplProgramChange:
		return v.Status
	case *GradSemester:
		return models.StatusActive
	case *CareerUnitChangeOut:
		return models.StatusTransferredOut
	case *CareerUnitChangeIn:
		return models.StatusTransferredIn
	}
	return ""
}

// programChangeOf exposes the shared program-change fields of either feed.
func programChangeOf(h Happening) (*programChange, bool) {
	switch v := h.(type) {
	case *ProgramStatusChange:
		return &v.programChange, true
	case *ApplProgramChange:
		return &v.programChange, true
	}
	return nil, false
}

// programIDOf is the local program a happening reports, if any.
func programIDOf(h Happening) string {
	switch v := h.(type) {
	case *ProgramStatusChange:
		return v.ProgramID
	case *ApplProgramChange:
		return v.ProgramID
	case *GradSemester:
		return v.ProgramID
	case *CommitteeMembership:
		return v.ProgramID
	}
	return ""
}

func isApplicationStage(row models.SourceRow) bool {
	if row.Kind == models.SourceApplProgram {
		return true
	}
	switch row.ProgStatus {
	case "AP", "AD", "PM":
		return true
	}
	switch row.ProgAction {
	case "WAPP", "WADM", "DENY":
		return true
	}
	return false
}

// Resolve builds the happening for one source row. It returns nil without an
// error when the row falls before the data horizon.
func Resolve(row models.SourceRow, lk *Lookups) (Happening, error) {
	switch row.Kind {
	case models.SourceProgramStatus, models.SourceApplProgram:
		return resolveProgramChange(row, lk)
	case models.SourceGradSemester:
		return resolveSemester(row, lk)
	case models.SourceCommittee:
		return resolveCommittee(row, lk)
	case models.SourceResearchArea:
		return &GradResearchArea{
			Event: Event{
				EmplID:        row.EmplID,
				Unit:          row.Unit,
				EffDate:       farFuture,
				Strm:          farFutureStrm,
				ApplicationID: row.AdmApplNbr,
			},
			AreaOrg:  row.AreaOrg,
			AreaCode: row.AreaCode,
			Choice:   row.AreaChoice,
		}, nil
	case models.SourceMetadata:
		return &GradMetadata{
			Event:       Event{EmplID: row.EmplID},
			Language:    row.Language,
			Citizenship: row.Citizenship,
			Visa:        row.Visa,
			Email:       row.Email,
		}, nil
	}
	return nil, appErrors.Clonef(appErrors.ErrUnknownKind, "unknown source row kind %q", row.Kind)
}

func effDateOf(row models.SourceRow) (time.Time, error) {
	if row.EffDate == nil {
		return time.Time{}, appErrors.Clonef(appErrors.ErrUnmappedDate, "%s row for %s has no effective date", row.Kind, row.EmplID)
	}
	return *row.EffDate, nil
}

func resolveProgramChange(row models.SourceRow, lk *Lookups) (Happening, error) {
	effdt, err := effDateOf(row)
	if err != nil {
		return nil, err
	}
	status, err := ResolveStatus(row.ProgStatus, row.ProgAction, row.ProgReason, row.DegrChkoutStat)
	if err != nil {
		return nil, err
	}
	program, err := lk.Programs.Lookup(row.Unit, row.AcadProg)
	if err != nil {
		return nil, err
	}
	if effdt.Before(lk.Calendar.Horizon()) {
		return nil, nil
	}

	var strm string
	switch {
	case isApplicationStage(row) && row.AdmitTerm != "":
		strm = row.AdmitTerm
		if strm < lk.Calendar.First() {
			return nil, nil
		}
	case startActions[row.ProgAction]:
		strm, err = lk.Calendar.EffdtToStrm(effdt, FlavorStart, lk.Settings)
	default:
		strm, err = lk.Calendar.EffdtToStrm(effdt, FlavorDefault, lk.Settings)
	}
	if err != nil {
		return nil, err
	}
	if strm == "" {
		return nil, nil
	}

	pc := programChange{
		Event: Event{
			EmplID:        row.EmplID,
			Unit:          row.Unit,
			EffDate:       effdt,
			Strm:          strm,
			ApplicationID: row.AdmApplNbr,
			CareerNumber:  row.StdntCarNbr,
		},
		ProgramCode:    row.AcadProg,
		ProgramID:      program.ID,
		ProgStatus:     row.ProgStatus,
		ProgAction:     row.ProgAction,
		ProgReason:     row.ProgReason,
		EffSeq:         row.EffSeq,
		AdmitTerm:      row.AdmitTerm,
		ExpGradTerm:    row.ExpGradTerm,
		DegreeCheckout: row.DegrChkoutStat,
		Status:         status,
	}
	if row.Kind == models.SourceApplProgram {
		return &ApplProgramChange{programChange: pc}, nil
	}
	return &ProgramStatusChange{programChange: pc}, nil
}

func resolveSemester(row models.SourceRow, lk *Lookups) (Happening, error) {
	if row.Strm == "" || row.Strm < lk.Calendar.First() {
		return nil, nil
	}
	start, ok := lk.Calendar.Start(row.Strm)
	if !ok {
		return nil, appErrors.Clonef(appErrors.ErrUnmappedDate, "semester %s is not in the calendar", row.Strm)
	}
	program, err := lk.Programs.Lookup(row.Unit, row.AcadProg)
	if err != nil {
		return nil, err
	}
	return &GradSemester{
		Event: Event{
			EmplID:       row.EmplID,
			Unit:         row.Unit,
			EffDate:      start,
			Strm:         row.Strm,
			CareerNumber: row.StdntCarNbr,
		},
		ProgramCode: row.AcadProg,
		ProgramID:   program.ID,
	}, nil
}

func resolveCommittee(row models.SourceRow, lk *Lookups) (Happening, error) {
	effdt, err := effDateOf(row)
	if err != nil {
		return nil, err
	}
	supType, err := ResolveSupervisorType(row.CommitteeRole)
	if err != nil {
		return nil, err
	}
	var programID string
	if row.AcadProg != "" {
		program, err := lk.Programs.Lookup(row.Unit, row.AcadProg)
		if err != nil {
			return nil, err
		}
		programID = program.ID
	}
	strm, err := lk.Calendar.EffdtToStrm(effdt, FlavorDefault, lk.Settings)
	if err != nil {
		return nil, err
	}
	if strm == "" {
		return nil, nil
	}
	return &CommitteeMembership{
		Event: Event{
			EmplID:       row.EmplID,
			Unit:         row.Unit,
			EffDate:      effdt,
			Strm:         strm,
			CareerNumber: row.StdntCarNbr,
		},
		CommitteeID:      row.CommitteeID,
		SupervisorEmplID: lk.CanonicalEmplID(row.SupEmplID),
		RoleCode:         row.CommitteeRole,
		SupervisorType:   supType,
		ProgramCode:      row.AcadProg,
		ProgramID:        programID,
	}, nil
}

func kindRank(h Happening) int {
	switch h.(type) {
	case *GradMetadata:
		return 0
	case *ProgramStatusChange:
		return 1
	case *ApplProgramChange:
		return 2
	case *CareerUnitChangeOut, *CareerUnitChangeIn:
		return 3
	case *GradSemester:
		return 4
	case *CommitteeMembership:
		return 5
	}
	return 6
}

func effSeqOf(h Happening) int {
	if pc, ok := programChangeOf(h); ok {
		return pc.EffSeq
	}
	return 0
}

// SortHappenings orders happenings by semester, date, kind and sequence.
// Metadata sorts first and research areas last.
func SortHappenings(hs []Happening) {
	sort.SliceStable(hs, func(i, j int) bool {
		a, b := hs[i].Base(), hs[j].Base()
		if a.Strm != b.Strm {
			return a.Strm < b.Strm
		}
		if !a.EffDate.Equal(b.EffDate) {
			return a.EffDate.Before(b.EffDate)
		}
		if ra, rb := kindRank(hs[i]), kindRank(hs[j]); ra != rb {
			return ra < rb
		}
		return effSeqOf(hs[i]) < effSeqOf(hs[j])
	})
}
