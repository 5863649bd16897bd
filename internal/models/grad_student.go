package models

import "time"

// StatusCode is the local graduate status vocabulary.
type StatusCode string

// Possible graduate statuses.
const (
	StatusIncomplete     StatusCode = "INCO"
	StatusComplete       StatusCode = "COMP"
	StatusInReview       StatusCode = "INRE"
	StatusHold           StatusCode = "HOLD"
	StatusOfferOut       StatusCode = "OFFO"
	StatusRejected       StatusCode = "REJE"
	StatusDeclined       StatusCode = "DECL"
	StatusExpired        StatusCode = "EXPI"
	StatusConfirmed      StatusCode = "CONF"
	StatusCancelled      StatusCode = "CANC"
	StatusArrived        StatusCode = "ARIV"
	StatusActive         StatusCode = "ACTI"
	StatusPartTime       StatusCode = "PART"
	StatusLeave          StatusCode = "LEAV"
	StatusWithdrawn      StatusCode = "WIDR"
	StatusGraduated      StatusCode = "GRAD"
	StatusNonDegree      StatusCode = "NOND"
	StatusGone           StatusCode = "GONE"
	StatusTransferredIn  StatusCode = "TRIN"
	StatusTransferredOut StatusCode = "TROU"
)

// IsActive reports whether the status means the student is taking courses.
func (s StatusCode) IsActive() bool {
	return s == StatusActive || s == StatusPartTime
}

// IsTerminal reports whether the status ends a career.
func (s StatusCode) IsTerminal() bool {
	switch s {
	case StatusGraduated, StatusWithdrawn, StatusTransferredOut, StatusGone,
		StatusRejected, StatusDeclined, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// SupervisorType classifies committee membership roles.
type SupervisorType string

// Possible committee roles.
const (
	SupervisorSenior    SupervisorType = "SEN"
	SupervisorCoSenior  SupervisorType = "COS"
	SupervisorCommittee SupervisorType = "COM"
	SupervisorChair     SupervisorType = "CHA"
	SupervisorExternal  SupervisorType = "EXT"
	SupervisorInternal  SupervisorType = "SFU"
	SupervisorPotential SupervisorType = "POT"
)

// GradStudent is the local record of one enrollment episode (career) in one unit.
type GradStudent struct {
	ID            string     `db:"id" json:"id"`
	PersonID      string     `db:"person_id" json:"person_id"`
	ProgramID     string     `db:"program_id" json:"program_id"`
	Unit          string     `db:"unit" json:"unit"`
	StartSemester string     `db:"start_semester" json:"start_semester"`
	EndSemester   *string    `db:"end_semester" json:"end_semester,omitempty"`
	CurrentStatus StatusCode `db:"current_status" json:"current_status"`
	ImportKey     *string    `db:"import_key" json:"import_key,omitempty"`
	AdmApplNbr    *string    `db:"adm_appl_nbr" json:"adm_appl_nbr,omitempty"`
	ResearchArea  string     `db:"research_area" json:"research_area"`
	Language      string     `db:"language" json:"language"`
	Citizenship   string     `db:"citizenship" json:"citizenship"`
	Visa          string     `db:"visa" json:"visa"`
	ApplicEmail   string     `db:"applic_email" json:"applic_email"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

// GradStatus is one dated status of a GradStudent.
type GradStatus struct {
	ID            string     `db:"id" json:"id"`
	GradStudentID string     `db:"grad_student_id" json:"grad_student_id"`
	Status        StatusCode `db:"status" json:"status"`
	StartSemester string     `db:"start_semester" json:"start_semester"`
	StartDate     *time.Time `db:"start_date" json:"start_date,omitempty"`
	ImportKey     *string    `db:"import_key" json:"import_key,omitempty"`
	Hidden        bool       `db:"hidden" json:"hidden"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
}

// GradProgramHistory records which program a GradStudent was in from a semester on.
type GradProgramHistory struct {
	ID            string     `db:"id" json:"id"`
	GradStudentID string     `db:"grad_student_id" json:"grad_student_id"`
	ProgramID     string     `db:"program_id" json:"program_id"`
	StartSemester string     `db:"start_semester" json:"start_semester"`
	Starting      *time.Time `db:"starting" json:"starting,omitempty"`
	ImportKey     *string    `db:"import_key" json:"import_key,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
}

// Supervisor is a committee membership of a GradStudent.
type Supervisor struct {
	ID             string         `db:"id" json:"id"`
	GradStudentID  string         `db:"grad_student_id" json:"grad_student_id"`
	SupervisorID   string         `db:"supervisor_id" json:"supervisor_id"`
	SupervisorType SupervisorType `db:"supervisor_type" json:"supervisor_type"`
	ImportKey      *string        `db:"import_key" json:"import_key,omitempty"`
	Removed        bool           `db:"removed" json:"removed"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
}
