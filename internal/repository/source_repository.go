package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/sfu-fas/coursys-sub000/internal/models"
	appErrors "github.com/sfu-fas/coursys-sub000/pkg/errors"
)

// sourceQueries select each row kind from the student-records reporting
// tables. Every query takes the unit list, then the cutoff term; an emplid
// filter is appended when the run is restricted to a subset of people.
var sourceQueries = map[models.SourceKind]string{
	models.SourceProgramStatus: `SELECT 'ProgramStatusChange' AS kind, emplid, acad_org AS unit, COALESCE(adm_appl_nbr, '') AS adm_appl_nbr,
        stdnt_car_nbr, acad_prog, prog_status, COALESCE(prog_action, '') AS prog_action, COALESCE(prog_reason, '') AS prog_reason,
        effdt, effseq, COALESCE(admit_term, '') AS admit_term, COALESCE(exp_grad_term, '') AS exp_grad_term,
        COALESCE(degr_chkout_stat, '') AS degr_chkout_stat
        FROM ps_acad_prog WHERE acad_org IN (?) AND COALESCE(admit_term, '9999') >= ?`,
	models.SourceApplProgram: `SELECT 'ApplProgramChange' AS kind, emplid, acad_org AS unit, adm_appl_nbr,
        COALESCE(stdnt_car_nbr, '') AS stdnt_car_nbr, acad_prog, prog_status, COALESCE(prog_action, '') AS prog_action,
        COALESCE(prog_reason, '') AS prog_reason, effdt, effseq, COALESCE(admit_term, '') AS admit_term
        FROM ps_adm_appl_prog WHERE acad_org IN (?) AND COALESCE(admit_term, '9999') >= ?`,
	models.SourceGradSemester: `SELECT 'GradSemester' AS kind, emplid, acad_org AS unit, stdnt_car_nbr, acad_prog, strm
        FROM ps_stdnt_car_term WHERE acad_org IN (?) AND strm >= ? AND withdraw_code = 'NWD'`,
	models.SourceCommittee: `SELECT 'CommitteeMembership' AS kind, c.emplid, c.acad_org AS unit, c.stdnt_car_nbr,
        COALESCE(c.acad_prog, '') AS acad_prog, c.effdt, c.committee_id, m.sup_emplid, m.committee_role
        FROM ps_committee c JOIN ps_committee_members m ON m.committee_id = c.committee_id AND m.effdt = c.effdt
        WHERE c.acad_org IN (?) AND c.strm >= ?`,
	models.SourceResearchArea: `SELECT 'GradResearchArea' AS kind, emplid, adm_appl_nbr, area_org, area_code,
        COALESCE(area_choice, '') AS area_choice
        FROM ps_research_area WHERE area_org IN (?) AND COALESCE(admit_term, '9999') >= ?`,
	models.SourceMetadata: `SELECT 'GradMetadata' AS kind, p.emplid, COALESCE(p.language, '') AS language,
        COALESCE(p.citizenship, '') AS citizenship, COALESCE(p.visa, '') AS visa, COALESCE(p.email, '') AS email
        FROM ps_personal_data p WHERE p.emplid IN (SELECT a.emplid FROM ps_acad_prog a WHERE a.acad_org IN (?)
        AND COALESCE(a.admit_term, '9999') >= ?)`,
}

// emplidColumn is the column the optional emplid filter applies to, per kind.
var emplidColumn = map[models.SourceKind]string{
	models.SourceProgramStatus: "emplid",
	models.SourceApplProgram:   "emplid",
	models.SourceGradSemester:  "emplid",
	models.SourceCommittee:     "c.emplid",
	models.SourceResearchArea:  "emplid",
	models.SourceMetadata:      "p.emplid",
}

// SourceRepository reads external rows from the student-records source,
// either the PostgreSQL reporting replica or an SQLite snapshot.
type SourceRepository struct {
	db *sqlx.DB
}

// NewSourceRepository constructs a SourceRepository.
func NewSourceRepository(db *sqlx.DB) *SourceRepository {
	return &SourceRepository{db: db}
}

// Fetch returns every row of one kind matching the query bounds.
func (r *SourceRepository) Fetch(ctx context.Context, kind models.SourceKind, q models.SourceQuery) ([]models.SourceRow, error) {
	base, ok := sourceQueries[kind]
	if !ok {
		return nil, appErrors.Clonef(appErrors.ErrUnknownKind, "unknown source row kind %q", kind)
	}
	if len(q.Units) == 0 {
		return []models.SourceRow{}, nil
	}

	query := base
	args := []interface{}{q.Units, q.CutoffStrm}
	if len(q.EmplIDs) > 0 {
		query += fmt.Sprintf(" AND %s IN (?)", emplidColumn[kind])
		args = append(args, q.EmplIDs)
	}

	expanded, expandedArgs, err := sqlx.In(query, args...)
	if err != nil {
		return nil, fmt.Errorf("build %s query: %w", kind, err)
	}

	rows := make([]models.SourceRow, 0)
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(expanded), expandedArgs...); err != nil {
		return nil, fmt.Errorf("fetch %s rows: %w", kind, err)
	}
	return rows, nil
}
