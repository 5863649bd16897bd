package models

import "time"

// SourceKind is the discriminator carried by every external row.
type SourceKind string

// Row kinds produced by the student-records source.
const (
	SourceProgramStatus SourceKind = "ProgramStatusChange"
	SourceApplProgram   SourceKind = "ApplProgramChange"
	SourceGradSemester  SourceKind = "GradSemester"
	SourceCommittee     SourceKind = "CommitteeMembership"
	SourceResearchArea  SourceKind = "GradResearchArea"
	SourceMetadata      SourceKind = "GradMetadata"
)

// SourceKinds lists every kind the driver fetches, in fetch order.
var SourceKinds = []SourceKind{
	SourceProgramStatus,
	SourceApplProgram,
	SourceGradSemester,
	SourceCommittee,
	SourceResearchArea,
	SourceMetadata,
}

// SourceRow is one row from the student-records source. Columns a kind does
// not select stay at their zero value.
type SourceRow struct {
	Kind           SourceKind `db:"kind" json:"kind"`
	EmplID         string     `db:"emplid" json:"emplid"`
	Unit           string     `db:"unit" json:"unit,omitempty"`
	AdmApplNbr     string     `db:"adm_appl_nbr" json:"adm_appl_nbr,omitempty"`
	StdntCarNbr    string     `db:"stdnt_car_nbr" json:"stdnt_car_nbr,omitempty"`
	AcadProg       string     `db:"acad_prog" json:"acad_prog,omitempty"`
	ProgStatus     string     `db:"prog_status" json:"prog_status,omitempty"`
	ProgAction     string     `db:"prog_action" json:"prog_action,omitempty"`
	ProgReason     string     `db:"prog_reason" json:"prog_reason,omitempty"`
	EffDate        *time.Time `db:"effdt" json:"effdt,omitempty"`
	EffSeq         int        `db:"effseq" json:"effseq,omitempty"`
	AdmitTerm      string     `db:"admit_term" json:"admit_term,omitempty"`
	ExpGradTerm    string     `db:"exp_grad_term" json:"exp_grad_term,omitempty"`
	DegrChkoutStat string     `db:"degr_chkout_stat" json:"degr_chkout_stat,omitempty"`
	Strm           string     `db:"strm" json:"strm,omitempty"`
	CommitteeID    string     `db:"committee_id" json:"committee_id,omitempty"`
	SupEmplID      string     `db:"sup_emplid" json:"sup_emplid,omitempty"`
	CommitteeRole  string     `db:"committee_role" json:"committee_role,omitempty"`
	AreaOrg        string     `db:"area_org" json:"area_org,omitempty"`
	AreaCode       string     `db:"area_code" json:"area_code,omitempty"`
	AreaChoice     string     `db:"area_choice" json:"area_choice,omitempty"`
	Language       string     `db:"language" json:"language,omitempty"`
	Citizenship    string     `db:"citizenship" json:"citizenship,omitempty"`
	Visa           string     `db:"visa" json:"visa,omitempty"`
	Email          string     `db:"email" json:"email,omitempty"`
}

// SourceQuery bounds one fetch from the source.
type SourceQuery struct {
	Units      []string `json:"units"`
	CutoffStrm string   `json:"cutoff_strm"`
	EmplIDs    []string `json:"emplids,omitempty"`
}
