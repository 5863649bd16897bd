package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/sfu-fas/coursys-sub000/internal/models"
)

// GradRepository persists local graduate records. All writes happen through
// a GradTx so one person's changes commit or roll back together.
type GradRepository struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewGradRepository constructs a GradRepository.
func NewGradRepository(db *sqlx.DB) *GradRepository {
	return &GradRepository{db: db, now: time.Now}
}

// Semesters loads the semester calendar.
func (r *GradRepository) Semesters(ctx context.Context) ([]models.Semester, error) {
	const query = `SELECT name, start_date, end_date FROM semesters ORDER BY name`
	var semesters []models.Semester
	if err := r.db.SelectContext(ctx, &semesters, query); err != nil {
		return nil, fmt.Errorf("list semesters: %w", err)
	}
	return semesters, nil
}

// Programs loads local programs for the given units.
func (r *GradRepository) Programs(ctx context.Context, units []string) ([]models.GradProgram, error) {
	query := `SELECT id, unit, label, acad_prog FROM grad_programs`
	var args []interface{}
	if len(units) > 0 {
		q, a, err := sqlx.In(query+` WHERE unit IN (?)`, units)
		if err != nil {
			return nil, fmt.Errorf("build program query: %w", err)
		}
		query, args = r.db.Rebind(q), a
	}
	var programs []models.GradProgram
	if err := r.db.SelectContext(ctx, &programs, query+` ORDER BY unit, acad_prog`, args...); err != nil {
		return nil, fmt.Errorf("list grad programs: %w", err)
	}
	return programs, nil
}

// WithinTx runs fn inside one database transaction. The transaction commits
// only when fn succeeds and commit is true; otherwise it rolls back.
func (r *GradRepository) WithinTx(ctx context.Context, commit bool, fn func(*GradTx) error) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin grad tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err = fn(&GradTx{tx: tx, now: r.now}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if !commit {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback grad tx: %w", rbErr)
		}
		return nil
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit grad tx: %w", err)
	}
	return nil
}

// GradTx is the per-person view of the local store.
type GradTx struct {
	tx  *sqlx.Tx
	now func() time.Time
}

func (t *GradTx) stamp() time.Time {
	return t.now().UTC()
}

// FindPersonByEmplID returns nil when nobody has the emplid.
func (t *GradTx) FindPersonByEmplID(ctx context.Context, emplid string) (*models.Person, error) {
	const query = `SELECT id, emplid, created_at FROM people WHERE emplid = $1`
	var person models.Person
	if err := t.tx.GetContext(ctx, &person, query, emplid); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find person %s: %w", emplid, err)
	}
	return &person, nil
}

// CreatePerson inserts a person.
func (t *GradTx) CreatePerson(ctx context.Context, person *models.Person) error {
	if person.ID == "" {
		person.ID = uuid.NewString()
	}
	person.CreatedAt = t.stamp()
	const query = `INSERT INTO people (id, emplid, created_at) VALUES (:id, :emplid, :created_at)`
	if _, err := t.tx.NamedExecContext(ctx, query, person); err != nil {
		return fmt.Errorf("create person: %w", err)
	}
	return nil
}

const gradStudentColumns = `id, person_id, program_id, unit, start_semester, end_semester, current_status, import_key,
        adm_appl_nbr, research_area, language, citizenship, visa, applic_email, created_at, updated_at`

// GradStudentsForPerson lists a person's records, oldest first.
func (t *GradTx) GradStudentsForPerson(ctx context.Context, personID string) ([]models.GradStudent, error) {
	query := `SELECT ` + gradStudentColumns + ` FROM grad_students WHERE person_id = $1 ORDER BY created_at, id`
	var students []models.GradStudent
	if err := t.tx.SelectContext(ctx, &students, query, personID); err != nil {
		return nil, fmt.Errorf("list grad students: %w", err)
	}
	return students, nil
}

// CreateGradStudent inserts a record.
func (t *GradTx) CreateGradStudent(ctx context.Context, student *models.GradStudent) error {
	if student.ID == "" {
		student.ID = uuid.NewString()
	}
	student.CreatedAt = t.stamp()
	student.UpdatedAt = student.CreatedAt
	const query = `INSERT INTO grad_students (id, person_id, program_id, unit, start_semester, end_semester, current_status, import_key,
        adm_appl_nbr, research_area, language, citizenship, visa, applic_email, created_at, updated_at)
        VALUES (:id, :person_id, :program_id, :unit, :start_semester, :end_semester, :current_status, :import_key,
        :adm_appl_nbr, :research_area, :language, :citizenship, :visa, :applic_email, :created_at, :updated_at)`
	if _, err := t.tx.NamedExecContext(ctx, query, student); err != nil {
		return fmt.Errorf("create grad student: %w", err)
	}
	return nil
}

// UpdateGradStudent saves every mutable column of a record.
func (t *GradTx) UpdateGradStudent(ctx context.Context, student *models.GradStudent) error {
	student.UpdatedAt = t.stamp()
	const query = `UPDATE grad_students SET program_id = :program_id, unit = :unit, start_semester = :start_semester,
        end_semester = :end_semester, current_status = :current_status, import_key = :import_key, adm_appl_nbr = :adm_appl_nbr,
        research_area = :research_area, language = :language, citizenship = :citizenship, visa = :visa,
        applic_email = :applic_email, updated_at = :updated_at WHERE id = :id`
	if _, err := t.tx.NamedExecContext(ctx, query, student); err != nil {
		return fmt.Errorf("update grad student: %w", err)
	}
	return nil
}

// Statuses lists the statuses of a record.
func (t *GradTx) Statuses(ctx context.Context, gradStudentID string) ([]models.GradStatus, error) {
	const query = `SELECT id, grad_student_id, status, start_semester, start_date, import_key, hidden, created_at
        FROM grad_statuses WHERE grad_student_id = $1 ORDER BY created_at, id`
	var statuses []models.GradStatus
	if err := t.tx.SelectContext(ctx, &statuses, query, gradStudentID); err != nil {
		return nil, fmt.Errorf("list grad statuses: %w", err)
	}
	return statuses, nil
}

// CreateStatus inserts a status.
func (t *GradTx) CreateStatus(ctx context.Context, status *models.GradStatus) error {
	if status.ID == "" {
		status.ID = uuid.NewString()
	}
	status.CreatedAt = t.stamp()
	const query = `INSERT INTO grad_statuses (id, grad_student_id, status, start_semester, start_date, import_key, hidden, created_at)
        VALUES (:id, :grad_student_id, :status, :start_semester, :start_date, :import_key, :hidden, :created_at)`
	if _, err := t.tx.NamedExecContext(ctx, query, status); err != nil {
		return fmt.Errorf("create grad status: %w", err)
	}
	return nil
}

// UpdateStatus saves a status.
func (t *GradTx) UpdateStatus(ctx context.Context, status *models.GradStatus) error {
	const query = `UPDATE grad_statuses SET status = :status, start_semester = :start_semester, start_date = :start_date,
        import_key = :import_key, hidden = :hidden WHERE id = :id`
	if _, err := t.tx.NamedExecContext(ctx, query, status); err != nil {
		return fmt.Errorf("update grad status: %w", err)
	}
	return nil
}

// ProgramHistory lists the program entries of a record.
func (t *GradTx) ProgramHistory(ctx context.Context, gradStudentID string) ([]models.GradProgramHistory, error) {
	const query = `SELECT id, grad_student_id, program_id, start_semester, starting, import_key, created_at
        FROM grad_program_history WHERE grad_student_id = $1 ORDER BY created_at, id`
	var entries []models.GradProgramHistory
	if err := t.tx.SelectContext(ctx, &entries, query, gradStudentID); err != nil {
		return nil, fmt.Errorf("list program history: %w", err)
	}
	return entries, nil
}

// CreateProgramHistory inserts a program entry.
func (t *GradTx) CreateProgramHistory(ctx context.Context, entry *models.GradProgramHistory) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	entry.CreatedAt = t.stamp()
	const query = `INSERT INTO grad_program_history (id, grad_student_id, program_id, start_semester, starting, import_key, created_at)
        VALUES (:id, :grad_student_id, :program_id, :start_semester, :starting, :import_key, :created_at)`
	if _, err := t.tx.NamedExecContext(ctx, query, entry); err != nil {
		return fmt.Errorf("create program history: %w", err)
	}
	return nil
}

// UpdateProgramHistory saves a program entry.
func (t *GradTx) UpdateProgramHistory(ctx context.Context, entry *models.GradProgramHistory) error {
	const query = `UPDATE grad_program_history SET program_id = :program_id, start_semester = :start_semester,
        starting = :starting, import_key = :import_key WHERE id = :id`
	if _, err := t.tx.NamedExecContext(ctx, query, entry); err != nil {
		return fmt.Errorf("update program history: %w", err)
	}
	return nil
}

// Supervisors lists the committee of a record.
func (t *GradTx) Supervisors(ctx context.Context, gradStudentID string) ([]models.Supervisor, error) {
	const query = `SELECT id, grad_student_id, supervisor_id, supervisor_type, import_key, removed, created_at
        FROM grad_supervisors WHERE grad_student_id = $1 ORDER BY created_at, id`
	var supervisors []models.Supervisor
	if err := t.tx.SelectContext(ctx, &supervisors, query, gradStudentID); err != nil {
		return nil, fmt.Errorf("list supervisors: %w", err)
	}
	return supervisors, nil
}

// CreateSupervisor inserts a committee membership.
func (t *GradTx) CreateSupervisor(ctx context.Context, supervisor *models.Supervisor) error {
	if supervisor.ID == "" {
		supervisor.ID = uuid.NewString()
	}
	supervisor.CreatedAt = t.stamp()
	const query = `INSERT INTO grad_supervisors (id, grad_student_id, supervisor_id, supervisor_type, import_key, removed, created_at)
        VALUES (:id, :grad_student_id, :supervisor_id, :supervisor_type, :import_key, :removed, :created_at)`
	if _, err := t.tx.NamedExecContext(ctx, query, supervisor); err != nil {
		return fmt.Errorf("create supervisor: %w", err)
	}
	return nil
}

// UpdateSupervisor saves a committee membership.
func (t *GradTx) UpdateSupervisor(ctx context.Context, supervisor *models.Supervisor) error {
	const query = `UPDATE grad_supervisors SET supervisor_id = :supervisor_id, supervisor_type = :supervisor_type,
        import_key = :import_key, removed = :removed WHERE id = :id`
	if _, err := t.tx.NamedExecContext(ctx, query, supervisor); err != nil {
		return fmt.Errorf("update supervisor: %w", err)
	}
	return nil
}
