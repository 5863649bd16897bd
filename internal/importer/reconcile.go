package importer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sfu-fas/coursys-sub000/internal/models"
	appErrors "github.com/sfu-fas/coursys-sub000/pkg/errors"
)

// Store is the local persistence the reconciler writes through. One Store is
// scoped to one person's transaction.
type Store interface {
	FindPersonByEmplID(ctx context.Context, emplid string) (*models.Person, error)
	CreatePerson(ctx context.Context, person *models.Person) error

	GradStudentsForPerson(ctx context.Context, personID string) ([]models.GradStudent, error)
	CreateGradStudent(ctx context.Context, student *models.GradStudent) error
	UpdateGradStudent(ctx context.Context, student *models.GradStudent) error

	Statuses(ctx context.Context, gradStudentID string) ([]models.GradStatus, error)
	CreateStatus(ctx context.Context, status *models.GradStatus) error
	UpdateStatus(ctx context.Context, status *models.GradStatus) error

	ProgramHistory(ctx context.Context, gradStudentID string) ([]models.GradProgramHistory, error)
	CreateProgramHistory(ctx context.Context, entry *models.GradProgramHistory) error
	UpdateProgramHistory(ctx context.Context, entry *models.GradProgramHistory) error

	Supervisors(ctx context.Context, gradStudentID string) ([]models.Supervisor, error)
	CreateSupervisor(ctx context.Context, supervisor *models.Supervisor) error
	UpdateSupervisor(ctx context.Context, supervisor *models.Supervisor) error
}

// PersonCache remembers people by emplid across the whole run. People created
// inside a transaction are only added once that transaction commits.
type PersonCache struct {
	mu     sync.RWMutex
	people map[string]models.Person
	// creating is held by the one transaction allowed to create people.
	creating sync.Mutex
}

// NewPersonCache returns an empty cache.
func NewPersonCache() *PersonCache {
	return &PersonCache{people: map[string]models.Person{}}
}

// Get returns a cached person.
func (c *PersonCache) Get(emplid string) (models.Person, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.people[emplid]
	return p, ok
}

// Commit adds people whose creation has been committed.
func (c *PersonCache) Commit(people []models.Person) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range people {
		c.people[p.EmplID] = p
	}
}

// Session returns the handle one transaction uses to create people.
func (c *PersonCache) Session() *Session {
	return &Session{cache: c}
}

// Session serializes person creation between concurrent transactions. The
// first creation takes the cache's lock and Release gives it back, so a
// person created by one transaction is visible before the next one looks.
type Session struct {
	cache *PersonCache
	held  bool
}

// acquire reports whether this call took the lock.
func (s *Session) acquire() bool {
	if s == nil || s.held {
		return false
	}
	s.cache.creating.Lock()
	s.held = true
	return true
}

// Release caches the people of a committed transaction and unlocks creation.
// Pass nil after a rollback.
func (s *Session) Release(committed []models.Person) {
	if s == nil {
		return
	}
	s.cache.Commit(committed)
	if s.held {
		s.held = false
		s.cache.creating.Unlock()
	}
}

// Len returns the number of cached people.
func (c *PersonCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.people)
}

// Result describes what reconciling one person did.
type Result struct {
	EmplID           string
	CareersCreated   int
	CareersMatched   int
	CareersAbandoned int
	Dropped          int
	Created          map[models.RecordKind]int
	Updated          map[models.RecordKind]int
	Warnings         []string
	// NewPeople must be passed to Session.Release once the transaction commits.
	NewPeople []models.Person
}

func newResult(emplid string) *Result {
	return &Result{
		EmplID:  emplid,
		Created: map[models.RecordKind]int{},
		Updated: map[models.RecordKind]int{},
	}
}

func (r *Result) warn(format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Reconciler fills and updates local records from a person's timeline.
type Reconciler struct {
	lk        *Lookups
	people    *PersonCache
	logger    *zap.Logger
	verbosity int
}

// NewReconciler constructs a Reconciler.
func NewReconciler(lk *Lookups, people *PersonCache, logger *zap.Logger, verbosity int) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if people == nil {
		people = NewPersonCache()
	}
	return &Reconciler{lk: lk, people: people, logger: logger, verbosity: verbosity}
}

// personRun is the state of reconciling one person inside one transaction.
type personRun struct {
	store   Store
	session *Session
	result  *Result
	pending map[string]models.Person
	// owner is nil until the person is found or a career needs a record.
	owner *models.Person
}

// ReconcilePerson writes the careers of a split timeline through store. Any
// error leaves the caller to roll the transaction back. The caller releases
// session after the transaction ends.
func (r *Reconciler) ReconcilePerson(ctx context.Context, store Store, tl *Timeline, session *Session) (*Result, error) {
	run := &personRun{store: store, session: session, result: newResult(tl.EmplID), pending: map[string]models.Person{}}
	run.result.Dropped = len(tl.Dropped)
	if r.verbosity >= 3 {
		for _, h := range tl.Dropped {
			r.logger.Debug("Dropping happening", zap.String("emplid", tl.EmplID), zap.String("kind", string(h.Kind())), zap.String("key", h.ImportKey()))
		}
	}
	if len(tl.Careers) == 0 {
		return run.result, nil
	}

	owner, err := r.existingPerson(ctx, run, tl.EmplID)
	if err != nil {
		return nil, err
	}
	var records []models.GradStudent
	if owner != nil {
		run.owner = owner
		if records, err = store.GradStudentsForPerson(ctx, owner.ID); err != nil {
			return nil, err
		}
	}

	claimed := map[string]bool{}
	for _, c := range tl.Careers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		student, err := r.careerRecord(ctx, run, c, records, claimed)
		if err != nil {
			return nil, err
		}
		if student == nil {
			continue
		}
		claimed[student.ID] = true
		if err := r.fillCareer(ctx, run, c, student); err != nil {
			return nil, err
		}
	}

	for _, p := range run.pending {
		run.result.NewPeople = append(run.result.NewPeople, p)
	}
	return run.result, nil
}

// person finds or creates the local person for emplid.
func (r *Reconciler) person(ctx context.Context, run *personRun, emplid string) (*models.Person, error) {
	if p, ok := r.people.Get(emplid); ok {
		return &p, nil
	}
	if p, ok := run.pending[emplid]; ok {
		return &p, nil
	}
	p, err := run.store.FindPersonByEmplID(ctx, emplid)
	if err != nil {
		return nil, err
	}
	if p != nil {
		return p, nil
	}
	if run.session.acquire() {
		// another transaction may have created them while we waited
		if cached, ok := r.people.Get(emplid); ok {
			return &cached, nil
		}
		if p, err = run.store.FindPersonByEmplID(ctx, emplid); err != nil || p != nil {
			return p, err
		}
	}
	p = &models.Person{EmplID: emplid}
	if err := run.store.CreatePerson(ctx, p); err != nil {
		return nil, err
	}
	run.pending[emplid] = *p
	run.result.Created[models.RecordPerson]++
	return p, nil
}

// existingPerson looks a person up without creating one.
func (r *Reconciler) existingPerson(ctx context.Context, run *personRun, emplid string) (*models.Person, error) {
	if p, ok := r.people.Get(emplid); ok {
		return &p, nil
	}
	if p, ok := run.pending[emplid]; ok {
		return &p, nil
	}
	return run.store.FindPersonByEmplID(ctx, emplid)
}

func strPtr(s string) *string {
	return &s
}

func timePtr(t time.Time) *time.Time {
	return &t
}

// careerRecord finds or creates the GradStudent of a career. It returns nil
// when the career is abandoned.
func (r *Reconciler) careerRecord(ctx context.Context, run *personRun, c *Career, records []models.GradStudent, claimed map[string]bool) (*models.GradStudent, error) {
	settings := r.lk.Settings
	admit := c.AdmitTerm()
	if settings.RelevanceCutoff != "" && admit < settings.RelevanceCutoff {
		run.result.CareersAbandoned++
		return nil, nil
	}

	found, err := c.FindGradStudent(records, claimed, settings.SimilarStartWindow)
	if err != nil {
		return nil, err
	}
	if found != nil {
		run.result.CareersMatched++
		if found.Unit != c.Unit {
			run.result.warn("%s: record %s is in %s but the career is in %s", c.EmplID, found.ID, found.Unit, c.Unit)
		}
		student := *found
		return &student, nil
	}

	if r.lk.strictCutoff(c.Unit, admit) {
		run.result.CareersAbandoned++
		return nil, nil
	}
	program := c.LastProgram()
	if program == "" {
		return nil, appErrors.Clonef(appErrors.ErrInternal, "%s: career in %s has no program", c.EmplID, c.Unit)
	}
	if run.owner == nil {
		owner, err := r.person(ctx, run, c.EmplID)
		if err != nil {
			return nil, err
		}
		run.owner = owner
	}
	student := &models.GradStudent{
		PersonID:      run.owner.ID,
		ProgramID:     program,
		Unit:          c.Unit,
		StartSemester: admit,
		ImportKey:     strPtr(c.ImportKey()),
	}
	if c.ApplicationID != "" {
		student.AdmApplNbr = strPtr(c.ApplicationID)
	}
	if err := run.store.CreateGradStudent(ctx, student); err != nil {
		return nil, err
	}
	r.logger.Debug("Adding grad student", zap.String("emplid", c.EmplID), zap.String("unit", c.Unit), zap.String("start", admit))
	run.result.CareersCreated++
	run.result.Created[models.RecordGradStudent]++
	return student, nil
}

func (r *Reconciler) fillCareer(ctx context.Context, run *personRun, c *Career, student *models.GradStudent) error {
	statuses, err := run.store.Statuses(ctx, student.ID)
	if err != nil {
		return err
	}
	programs, err := run.store.ProgramHistory(ctx, student.ID)
	if err != nil {
		return err
	}
	supervisors, err := run.store.Supervisors(ctx, student.ID)
	if err != nil {
		return err
	}
	info := NewStudentInfo(student, statuses, programs, supervisors)
	info.NotePrograms(c.Happenings)

	for _, h := range c.Happenings {
		if err := r.find(ctx, run, info, h); err != nil {
			return err
		}
	}
	for _, h := range c.Happenings {
		if err := r.update(ctx, run, info, c, h); err != nil {
			return err
		}
	}
	return r.finish(ctx, run, info, c)
}

func (r *Reconciler) find(ctx context.Context, run *personRun, info *StudentInfo, h Happening) error {
	if code := StatusOf(h); code != "" {
		r.findStatus(info, h, code)
	}
	switch v := h.(type) {
	case *ProgramStatusChange, *ApplProgramChange:
		r.findProgram(info, h)
	case *CommitteeMembership:
		return r.findSupervisor(ctx, run, info, v)
	}
	return nil
}

func (r *Reconciler) update(ctx context.Context, run *personRun, info *StudentInfo, c *Career, h Happening) error {
	if code := StatusOf(h); code != "" {
		if err := r.updateStatus(ctx, run, info, h, code); err != nil {
			return err
		}
	}
	switch v := h.(type) {
	case *ProgramStatusChange, *ApplProgramChange:
		return r.updateProgram(ctx, run, info, h)
	case *CommitteeMembership:
		return r.updateSupervisor(ctx, run, info, v)
	case *GradMetadata:
		r.updateMetadata(run, info, v)
	case *GradResearchArea:
		if info.Student.ResearchArea == "" && v.Description() != "" {
			info.Student.ResearchArea = v.Description()
			info.dirty = true
			run.result.Updated[models.RecordMetadata]++
		}
	}
	return nil
}

func applKeyOf(h Happening) string {
	if pc, ok := programChangeOf(h); ok {
		return pc.applKey()
	}
	return ""
}

func (r *Reconciler) findStatus(info *StudentInfo, h Happening, code models.StatusCode) {
	ev := h.Base()
	match := func(s *models.GradStatus) {
		info.claim(s.ID)
		info.statusMatch[h] = s
		if k := applKeyOf(h); k != "" {
			info.applKeys[k] = s
		}
	}

	if k := applKeyOf(h); k != "" {
		if s, ok := info.applKeys[k]; ok {
			info.statusMatch[h] = s
			return
		}
	}

	keys := append([]string{h.ImportKey()}, h.LegacyImportKeys()...)
	for _, s := range info.Statuses {
		if !info.isClaimed(s.ID) && matchesKey(s.ImportKey, keys...) {
			match(s)
			return
		}
	}

	var candidate *models.GradStatus
	for _, s := range info.Statuses {
		if info.isClaimed(s.ID) || s.ImportKey != nil || s.StartSemester != ev.Strm || s.Status != code {
			continue
		}
		if sameDay(s.StartDate, ev.EffDate) {
			candidate = s
			break
		}
		if candidate == nil {
			candidate = s
		}
	}
	if candidate != nil {
		match(candidate)
	}
}

func (r *Reconciler) updateStatus(ctx context.Context, run *personRun, info *StudentInfo, h Happening, code models.StatusCode) error {
	ev := h.Base()
	key := h.ImportKey()

	if s, ok := info.statusMatch[h]; ok {
		changed := false
		if s.StartSemester != ev.Strm {
			s.StartSemester = ev.Strm
			changed = true
		}
		if !sameDay(s.StartDate, ev.EffDate) {
			s.StartDate = timePtr(ev.EffDate)
			changed = true
		}
		if s.ImportKey == nil {
			s.ImportKey = strPtr(key)
			changed = true
		}
		if !changed {
			return nil
		}
		if err := run.store.UpdateStatus(ctx, s); err != nil {
			return err
		}
		info.sortStatuses()
		run.result.Updated[models.RecordStatus]++
		return nil
	}

	if _, ok := h.(*GradSemester); ok && info.StatusAsOf(ev.Strm, &ev.EffDate).IsActive() {
		return nil
	}
	if k := applKeyOf(h); k != "" {
		if s, ok := info.applKeys[k]; ok {
			info.statusMatch[h] = s
			return nil
		}
	}

	s := &models.GradStatus{
		GradStudentID: info.Student.ID,
		Status:        code,
		StartSemester: ev.Strm,
		StartDate:     timePtr(ev.EffDate),
		ImportKey:     strPtr(key),
	}
	if err := run.store.CreateStatus(ctx, s); err != nil {
		return err
	}
	info.claim(s.ID)
	info.statusMatch[h] = s
	if k := applKeyOf(h); k != "" {
		info.applKeys[k] = s
	}
	info.AddStatus(s)
	r.logger.Debug("Adding status",
		zap.String("emplid", ev.EmplID),
		zap.String("status", string(code)),
		zap.String("semester", ev.Strm),
		zap.String("key", key),
	)
	run.result.Created[models.RecordStatus]++
	return nil
}

func (r *Reconciler) findProgram(info *StudentInfo, h Happening) {
	ev := h.Base()
	program := info.programFor(h)
	keys := append([]string{h.ImportKey()}, h.LegacyImportKeys()...)
	for _, p := range info.Programs {
		if !info.isClaimed(p.ID) && matchesKey(p.ImportKey, keys...) {
			info.claim(p.ID)
			info.programMatch[h] = p
			return
		}
	}

	var candidate *models.GradProgramHistory
	for _, p := range info.Programs {
		if info.isClaimed(p.ID) || p.ImportKey != nil || p.StartSemester != ev.Strm || p.ProgramID != program {
			continue
		}
		if sameDay(p.Starting, ev.EffDate) {
			candidate = p
			break
		}
		if candidate == nil {
			candidate = p
		}
	}
	if candidate != nil {
		info.claim(candidate.ID)
		info.programMatch[h] = candidate
	}
}

func (r *Reconciler) updateProgram(ctx context.Context, run *personRun, info *StudentInfo, h Happening) error {
	ev := h.Base()
	program := info.programFor(h)
	key := h.ImportKey()

	if p, ok := info.programMatch[h]; ok {
		changed := false
		if p.ProgramID != program {
			p.ProgramID = program
			changed = true
		}
		if p.StartSemester != ev.Strm {
			p.StartSemester = ev.Strm
			changed = true
		}
		if !sameDay(p.Starting, ev.EffDate) {
			p.Starting = timePtr(ev.EffDate)
			changed = true
		}
		if p.ImportKey == nil {
			p.ImportKey = strPtr(key)
			changed = true
		}
		info.programsByStrm[ev.Strm] = p
		if !changed {
			return nil
		}
		if err := run.store.UpdateProgramHistory(ctx, p); err != nil {
			return err
		}
		info.sortPrograms()
		run.result.Updated[models.RecordProgram]++
		return nil
	}

	// the semester's entry was already settled by an earlier row
	if p, ok := info.programsByStrm[ev.Strm]; ok {
		if p.ProgramID == program {
			return nil
		}
		p.ProgramID = program
		if err := run.store.UpdateProgramHistory(ctx, p); err != nil {
			return err
		}
		run.result.Updated[models.RecordProgram]++
		return nil
	}

	if info.ProgramAsOf(ev.Strm) == program {
		return nil
	}

	if next := info.NextProgramAfter(ev.Strm); next != nil && next.ProgramID == program && next.ImportKey == nil {
		next.StartSemester = ev.Strm
		next.Starting = timePtr(ev.EffDate)
		next.ImportKey = strPtr(key)
		if err := run.store.UpdateProgramHistory(ctx, next); err != nil {
			return err
		}
		info.claim(next.ID)
		info.programsByStrm[ev.Strm] = next
		info.sortPrograms()
		run.result.Updated[models.RecordProgram]++
		return nil
	}

	p := &models.GradProgramHistory{
		GradStudentID: info.Student.ID,
		ProgramID:     program,
		StartSemester: ev.Strm,
		Starting:      timePtr(ev.EffDate),
		ImportKey:     strPtr(key),
	}
	if err := run.store.CreateProgramHistory(ctx, p); err != nil {
		return err
	}
	info.claim(p.ID)
	info.programsByStrm[ev.Strm] = p
	info.AddProgram(p)
	r.logger.Debug("Adding program history", zap.String("emplid", ev.EmplID), zap.String("program", program), zap.String("semester", ev.Strm))
	run.result.Created[models.RecordProgram]++
	return nil
}

func (r *Reconciler) findSupervisor(ctx context.Context, run *personRun, info *StudentInfo, h *CommitteeMembership) error {
	key := h.ImportKey()
	if s, ok := info.supervisorKeys[key]; ok {
		info.supervisorMatch[h] = s
		return nil
	}
	match := func(s *models.Supervisor) {
		info.claim(s.ID)
		info.supervisorMatch[h] = s
		info.supervisorKeys[key] = s
	}
	for _, s := range info.Supervisors {
		if !info.isClaimed(s.ID) && matchesKey(s.ImportKey, key) {
			match(s)
			return nil
		}
	}

	sup, err := r.existingPerson(ctx, run, h.SupervisorEmplID)
	if err != nil {
		return err
	}
	if sup == nil {
		return nil
	}
	for _, s := range info.Supervisors {
		if info.isClaimed(s.ID) || s.ImportKey != nil || s.Removed {
			continue
		}
		if s.SupervisorID == sup.ID && s.SupervisorType == h.SupervisorType {
			match(s)
			return nil
		}
	}
	return nil
}

func (r *Reconciler) updateSupervisor(ctx context.Context, run *personRun, info *StudentInfo, h *CommitteeMembership) error {
	if s, ok := info.supervisorMatch[h]; ok {
		if s.ImportKey != nil {
			return nil
		}
		s.ImportKey = strPtr(h.ImportKey())
		if err := run.store.UpdateSupervisor(ctx, s); err != nil {
			return err
		}
		run.result.Updated[models.RecordSupervisor]++
		return nil
	}
	// several rows of one membership share a key
	if s, ok := info.supervisorKeys[h.ImportKey()]; ok {
		info.supervisorMatch[h] = s
		return nil
	}

	sup, err := r.person(ctx, run, h.SupervisorEmplID)
	if err != nil {
		return err
	}
	s := &models.Supervisor{
		GradStudentID:  info.Student.ID,
		SupervisorID:   sup.ID,
		SupervisorType: h.SupervisorType,
		ImportKey:      strPtr(h.ImportKey()),
	}
	if err := run.store.CreateSupervisor(ctx, s); err != nil {
		return err
	}
	info.claim(s.ID)
	info.supervisorMatch[h] = s
	info.supervisorKeys[h.ImportKey()] = s
	info.Supervisors = append(info.Supervisors, s)
	r.logger.Debug("Adding supervisor",
		zap.String("emplid", h.EmplID),
		zap.String("supervisor", h.SupervisorEmplID),
		zap.String("type", string(h.SupervisorType)),
	)
	run.result.Created[models.RecordSupervisor]++
	return nil
}

func (r *Reconciler) updateMetadata(run *personRun, info *StudentInfo, h *GradMetadata) {
	fields := []struct {
		local *string
		feed  string
	}{
		{&info.Student.Language, h.Language},
		{&info.Student.Citizenship, h.Citizenship},
		{&info.Student.Visa, h.Visa},
		{&info.Student.ApplicEmail, h.Email},
	}
	for _, f := range fields {
		if *f.local == "" && f.feed != "" {
			*f.local = f.feed
			info.dirty = true
			run.result.Updated[models.RecordMetadata]++
		}
	}
}

// finish refreshes the derived fields of the GradStudent and saves it.
func (r *Reconciler) finish(ctx context.Context, run *personRun, info *StudentInfo, c *Career) error {
	student := info.Student
	current, since := info.CurrentStatus()
	if current != "" && current != student.CurrentStatus {
		student.CurrentStatus = current
		info.dirty = true
	}
	if current.IsTerminal() && (student.EndSemester == nil || *student.EndSemester != since) {
		student.EndSemester = strPtr(since)
		info.dirty = true
	}
	if student.AdmApplNbr == nil && c.ApplicationID != "" {
		student.AdmApplNbr = strPtr(c.ApplicationID)
		info.dirty = true
	}
	if student.ImportKey == nil {
		student.ImportKey = strPtr(c.ImportKey())
		info.dirty = true
	}
	if !info.dirty {
		return nil
	}
	if err := run.store.UpdateGradStudent(ctx, student); err != nil {
		return err
	}
	run.result.Updated[models.RecordGradStudent]++
	return nil
}
