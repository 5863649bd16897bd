package models

import "time"

// Semester is a named term with its calendar range. Name is the four digit
// term code used by the student-records system (e.g. 1137 for Fall 2013).
type Semester struct {
	Name  string    `db:"name" json:"name"`
	Start time.Time `db:"start_date" json:"start_date"`
	End   time.Time `db:"end_date" json:"end_date"`
}

// GradProgram is a local program, with the external program code it imports from.
type GradProgram struct {
	ID       string `db:"id" json:"id"`
	Unit     string `db:"unit" json:"unit"`
	Label    string `db:"label" json:"label"`
	AcadProg string `db:"acad_prog" json:"acad_prog"`
}
