// Package memstore is an in-memory transactional store for local graduate
// records. It backs offline dry runs and the reconciliation tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sfu-fas/coursys-sub000/internal/models"
)

type state struct {
	people      map[string]models.Person
	students    map[string]models.GradStudent
	statuses    map[string]models.GradStatus
	programs    map[string]models.GradProgramHistory
	supervisors map[string]models.Supervisor
}

func newState() state {
	return state{
		people:      map[string]models.Person{},
		students:    map[string]models.GradStudent{},
		statuses:    map[string]models.GradStatus{},
		programs:    map[string]models.GradProgramHistory{},
		supervisors: map[string]models.Supervisor{},
	}
}

func (s state) clone() state {
	c := newState()
	for k, v := range s.people {
		c.people[k] = v
	}
	for k, v := range s.students {
		c.students[k] = v
	}
	for k, v := range s.statuses {
		c.statuses[k] = v
	}
	for k, v := range s.programs {
		c.programs[k] = v
	}
	for k, v := range s.supervisors {
		c.supervisors[k] = v
	}
	return c
}

// Store keeps every record in maps guarded by a mutex. Transactions are
// serialised and roll back by restoring a snapshot.
type Store struct {
	txMu  sync.Mutex
	mu    sync.RWMutex
	state state
	now   func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used for created_at stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns an empty store.
func New(opts ...Option) *Store {
	s := &Store{state: newState(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithinTx runs fn against the store. The changes are kept only when fn
// succeeds and commit is true.
func (s *Store) WithinTx(ctx context.Context, commit bool, fn func(*Store) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	snapshot := s.state.clone()
	s.mu.RUnlock()

	err := fn(s)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil || !commit {
		s.mu.Lock()
		s.state = snapshot
		s.mu.Unlock()
	}
	return err
}

func (s *Store) stamp() time.Time {
	return s.now().UTC()
}

// FindPersonByEmplID returns nil when nobody has the emplid.
func (s *Store) FindPersonByEmplID(_ context.Context, emplid string) (*models.Person, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.state.people {
		if p.EmplID == emplid {
			person := p
			return &person, nil
		}
	}
	return nil, nil
}

// CreatePerson inserts a person.
func (s *Store) CreatePerson(_ context.Context, person *models.Person) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if person.ID == "" {
		person.ID = uuid.NewString()
	}
	person.CreatedAt = s.stamp()
	s.state.people[person.ID] = *person
	return nil
}

// GradStudentsForPerson lists a person's records, oldest first.
func (s *Store) GradStudentsForPerson(_ context.Context, personID string) ([]models.GradStudent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.GradStudent
	for _, g := range s.state.students {
		if g.PersonID == personID {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// CreateGradStudent inserts a record.
func (s *Store) CreateGradStudent(_ context.Context, student *models.GradStudent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if student.ID == "" {
		student.ID = uuid.NewString()
	}
	student.CreatedAt = s.stamp()
	student.UpdatedAt = student.CreatedAt
	s.state.students[student.ID] = *student
	return nil
}

// UpdateGradStudent replaces a record.
func (s *Store) UpdateGradStudent(_ context.Context, student *models.GradStudent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	student.UpdatedAt = s.stamp()
	s.state.students[student.ID] = *student
	return nil
}

// Statuses lists the statuses of a record.
func (s *Store) Statuses(_ context.Context, gradStudentID string) ([]models.GradStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.GradStatus
	for _, st := range s.state.statuses {
		if st.GradStudentID == gradStudentID {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// CreateStatus inserts a status.
func (s *Store) CreateStatus(_ context.Context, status *models.GradStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status.ID == "" {
		status.ID = uuid.NewString()
	}
	status.CreatedAt = s.stamp()
	s.state.statuses[status.ID] = *status
	return nil
}

// UpdateStatus replaces a status.
func (s *Store) UpdateStatus(_ context.Context, status *models.GradStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.statuses[status.ID] = *status
	return nil
}

// ProgramHistory lists the program entries of a record.
func (s *Store) ProgramHistory(_ context.Context, gradStudentID string) ([]models.GradProgramHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.GradProgramHistory
	for _, p := range s.state.programs {
		if p.GradStudentID == gradStudentID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// CreateProgramHistory inserts a program entry.
func (s *Store) CreateProgramHistory(_ context.Context, entry *models.GradProgramHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	entry.CreatedAt = s.stamp()
	s.state.programs[entry.ID] = *entry
	return nil
}

// UpdateProgramHistory replaces a program entry.
func (s *Store) UpdateProgramHistory(_ context.Context, entry *models.GradProgramHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.programs[entry.ID] = *entry
	return nil
}

// Supervisors lists the committee of a record.
func (s *Store) Supervisors(_ context.Context, gradStudentID string) ([]models.Supervisor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Supervisor
	for _, sup := range s.state.supervisors {
		if sup.GradStudentID == gradStudentID {
			out = append(out, sup)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// CreateSupervisor inserts a committee membership.
func (s *Store) CreateSupervisor(_ context.Context, supervisor *models.Supervisor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if supervisor.ID == "" {
		supervisor.ID = uuid.NewString()
	}
	supervisor.CreatedAt = s.stamp()
	s.state.supervisors[supervisor.ID] = *supervisor
	return nil
}

// UpdateSupervisor replaces a committee membership.
func (s *Store) UpdateSupervisor(_ context.Context, supervisor *models.Supervisor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.supervisors[supervisor.ID] = *supervisor
	return nil
}

// Counts reports how many records of each kind are stored.
func (s *Store) Counts() map[models.RecordKind]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[models.RecordKind]int{
		models.RecordPerson:      len(s.state.people),
		models.RecordGradStudent: len(s.state.students),
		models.RecordStatus:      len(s.state.statuses),
		models.RecordProgram:     len(s.state.programs),
		models.RecordSupervisor:  len(s.state.supervisors),
	}
}

// AllGradStudents lists every record, oldest first.
func (s *Store) AllGradStudents() []models.GradStudent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.GradStudent, 0, len(s.state.students))
	for _, g := range s.state.students {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
