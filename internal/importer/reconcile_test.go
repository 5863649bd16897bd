package importer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sfu-fas/coursys-sub000/internal/importer/memstore"
	"github.com/sfu-fas/coursys-sub000/internal/models"
	appErrors "github.com/sfu-fas/coursys-sub000/pkg/errors"
)

func studentStatuses(t *testing.T, store *memstore.Store, g models.GradStudent) []models.GradStatus {
	t.Helper()
	statuses, err := store.Statuses(context.Background(), g.ID)
	require.NoError(t, err)
	return statuses
}

func TestReconcileScenarioA(t *testing.T) {
	lk := testLookups(t)
	store := memstore.New(memstore.WithClock(tickingClock()))

	result := reconcileRows(t, store, lk, scenarioARows())
	assert.Equal(t, 1, result.CareersCreated)
	assert.Empty(t, result.Warnings)

	students := store.AllGradStudents()
	require.Len(t, students, 1)
	g := students[0]
	assert.Equal(t, "CMPT", g.Unit)
	assert.Equal(t, "1137", g.StartSemester)
	assert.Equal(t, models.StatusGraduated, g.CurrentStatus)
	require.NotNil(t, g.EndSemester)
	assert.Equal(t, "1141", *g.EndSemester)
	require.NotNil(t, g.AdmApplNbr)
	assert.Equal(t, testAppl, *g.AdmApplNbr)
	assert.Equal(t, "car:301000001:CMPT:00012345", *g.ImportKey)
	assert.Equal(t, "English", g.Language)
	assert.Equal(t, "student@example.com", g.ApplicEmail)
	assert.Equal(t, "CMPT AI", g.ResearchArea)

	assert.Equal(t,
		[]models.StatusCode{models.StatusComplete, models.StatusConfirmed, models.StatusActive, models.StatusGraduated},
		statusCodes(studentStatuses(t, store, g)))

	programs, err := store.ProgramHistory(context.Background(), g.ID)
	require.NoError(t, err)
	require.Len(t, programs, 1)
	assert.Equal(t, "prog-cmpt-phd", programs[0].ProgramID)
}

func TestReconcileIsIdempotent(t *testing.T) {
	lk := testLookups(t)
	store := memstore.New(memstore.WithClock(tickingClock()))
	rows := append(scenarioARows(), committeeRow("CMPT", "300000042", "SNRS", "2013-10-01"))

	first := reconcileRows(t, store, lk, rows)
	assert.Positive(t, sumCounts(first.Created))
	before := store.Counts()

	second := reconcileRows(t, store, lk, rows)
	assert.Zero(t, sumCounts(second.Created))
	assert.Zero(t, sumCounts(second.Updated))
	assert.Equal(t, 1, second.CareersMatched)
	assert.Equal(t, before, store.Counts())
}

func TestReconcileScenarioB(t *testing.T) {
	lk := testLookups(t)
	store := memstore.New(memstore.WithClock(tickingClock()))
	rows := []models.SourceRow{
		progRow(models.SourceApplProgram, testAppl, "AP", "APPL", "2013-02-01", "1137"),
		progRow(models.SourceProgramStatus, testAppl, "AC", "MATR", "2013-08-20", "1137"),
		progRow(models.SourceApplProgram, "00067890", "AP", "APPL", "2014-02-01", "1147"),
	}

	result := reconcileRows(t, store, lk, rows)
	assert.Equal(t, 1, result.CareersCreated)
	assert.Equal(t, 1, result.Dropped)
	require.Len(t, store.AllGradStudents(), 1)
}

func TestReconcileScenarioC(t *testing.T) {
	lk := testLookups(t)
	store := memstore.New(memstore.WithClock(tickingClock()))

	result := reconcileRows(t, store, lk, transferRows())
	assert.Equal(t, 2, result.CareersCreated)

	students := store.AllGradStudents()
	require.Len(t, students, 2)
	cmpt, ensc := students[0], students[1]
	assert.Equal(t, "CMPT", cmpt.Unit)
	assert.Equal(t, "ENSC", ensc.Unit)

	cmptStatuses := studentStatuses(t, store, cmpt)
	enscStatuses := studentStatuses(t, store, ensc)
	assert.Equal(t, []models.StatusCode{models.StatusComplete, models.StatusActive, models.StatusTransferredOut}, statusCodes(cmptStatuses))
	assert.Equal(t, []models.StatusCode{models.StatusTransferredIn, models.StatusActive}, statusCodes(enscStatuses))

	var out, in models.GradStatus
	for _, s := range cmptStatuses {
		if s.Status == models.StatusTransferredOut {
			out = s
		}
	}
	for _, s := range enscStatuses {
		if s.Status == models.StatusTransferredIn {
			in = s
		}
	}
	require.NotNil(t, out.StartDate)
	require.NotNil(t, in.StartDate)
	assert.True(t, out.StartDate.Equal(*in.StartDate))
	assert.Equal(t, models.StatusTransferredOut, cmpt.CurrentStatus)
	assert.Equal(t, models.StatusActive, ensc.CurrentStatus)

	again := reconcileRows(t, store, lk, transferRows())
	assert.Zero(t, sumCounts(again.Created))
	assert.Equal(t, 2, again.CareersMatched)
}

func TestReconcileScenarioDWritesNothing(t *testing.T) {
	lk := testLookups(t)
	rows := append(scenarioARows(), progRow(models.SourceProgramStatus, testAppl, "XX", "ZZZZ", "2014-01-10", "1137"))

	var err error
	for _, row := range rows {
		if _, err = Resolve(row, lk); err != nil {
			break
		}
	}
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrUnmappedStatus))
	assert.True(t, appErrors.IsRunFatal(err))
}

func TestReconcileMatchesHandEnteredRecords(t *testing.T) {
	lk := testLookups(t)
	store := memstore.New(memstore.WithClock(tickingClock()))
	ctx := context.Background()

	person := &models.Person{EmplID: testEmplID}
	require.NoError(t, store.CreatePerson(ctx, person))
	g := &models.GradStudent{PersonID: person.ID, ProgramID: "prog-cmpt-phd", Unit: "CMPT", StartSemester: "1137"}
	require.NoError(t, store.CreateGradStudent(ctx, g))
	confirmed := &models.GradStatus{GradStudentID: g.ID, Status: models.StatusConfirmed, StartSemester: "1137"}
	require.NoError(t, store.CreateStatus(ctx, confirmed))
	g.Language = "French"
	require.NoError(t, store.UpdateGradStudent(ctx, g))

	result := reconcileRows(t, store, lk, scenarioARows())
	assert.Equal(t, 1, result.CareersMatched)
	assert.Zero(t, result.CareersCreated)

	students := store.AllGradStudents()
	require.Len(t, students, 1)
	assert.Equal(t, "French", students[0].Language, "hand-entered fields are kept")
	require.NotNil(t, students[0].ImportKey)

	statuses := studentStatuses(t, store, students[0])
	var confs int
	for _, s := range statuses {
		if s.Status == models.StatusConfirmed {
			confs++
			assert.Equal(t, confirmed.ID, s.ID)
			require.NotNil(t, s.ImportKey)
			require.NotNil(t, s.StartDate)
			assert.Equal(t, date("2013-05-15"), *s.StartDate)
		}
	}
	assert.Equal(t, 1, confs)
}

func TestReconcileCutoffsAbandonCareers(t *testing.T) {
	store := memstore.New(memstore.WithClock(tickingClock()))

	lk := testLookups(t, func(s *Settings) { s.RelevanceCutoff = "1141" })
	result := reconcileRows(t, store, lk, scenarioARows())
	assert.Equal(t, 1, result.CareersAbandoned)
	assert.Empty(t, store.AllGradStudents())

	assertNoPerson(t, store, result)

	lk = testLookups(t, func(s *Settings) { s.StrictUnitCutoffs = map[string]string{"CMPT": "1141"} })
	result = reconcileRows(t, store, lk, scenarioARows())
	assert.Equal(t, 1, result.CareersAbandoned)
	assert.Empty(t, store.AllGradStudents())
	assertNoPerson(t, store, result)
}

func assertNoPerson(t *testing.T, store *memstore.Store, result *Result) {
	t.Helper()
	p, err := store.FindPersonByEmplID(context.Background(), testEmplID)
	require.NoError(t, err)
	assert.Nil(t, p, "abandoned careers leave no person behind")
	assert.Zero(t, result.Created[models.RecordPerson])
	assert.Empty(t, result.NewPeople)
}

func TestReconcileCommitteeRowsShareOneSupervisor(t *testing.T) {
	lk := testLookups(t)
	store := memstore.New(memstore.WithClock(tickingClock()))
	rows := append(scenarioARows(),
		committeeRow("CMPT", "300000042", "SNRS", "2013-10-01"),
		committeeRow("CMPT", "300000042", "SNRS", "2014-02-01"),
	)

	first := reconcileRows(t, store, lk, rows)
	assert.Equal(t, 1, first.Created[models.RecordSupervisor])
	students := store.AllGradStudents()
	require.Len(t, students, 1)
	sups, err := store.Supervisors(context.Background(), students[0].ID)
	require.NoError(t, err)
	require.Len(t, sups, 1)
	before := store.Counts()

	second := reconcileRows(t, store, lk, rows)
	assert.Zero(t, sumCounts(second.Created))
	assert.Zero(t, sumCounts(second.Updated))
	assert.Equal(t, before, store.Counts())
}

// seedStudent stores the test person with one hand-entered CMPT record.
func seedStudent(t *testing.T, store *memstore.Store, g *models.GradStudent) *models.GradStudent {
	t.Helper()
	ctx := context.Background()
	person := &models.Person{EmplID: testEmplID}
	require.NoError(t, store.CreatePerson(ctx, person))
	g.PersonID = person.ID
	require.NoError(t, store.CreateGradStudent(ctx, g))
	return g
}

func programsOf(t *testing.T, store *memstore.Store, g *models.GradStudent) []models.GradProgramHistory {
	t.Helper()
	programs, err := store.ProgramHistory(context.Background(), g.ID)
	require.NoError(t, err)
	return programs
}

func TestReconcileWarnsWhenMatchedRecordIsInAnotherUnit(t *testing.T) {
	lk := testLookups(t)
	store := memstore.New(memstore.WithClock(tickingClock()))
	g := seedStudent(t, store, &models.GradStudent{
		ProgramID: "prog-ensc-phd", Unit: "ENSC", StartSemester: "1137", AdmApplNbr: strPtr(testAppl),
	})

	result := reconcileRows(t, store, lk, scenarioARows())
	assert.Equal(t, 1, result.CareersMatched)
	assert.Zero(t, result.CareersCreated)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "record "+g.ID+" is in ENSC but the career is in CMPT")

	students := store.AllGradStudents()
	require.Len(t, students, 1)
	assert.Equal(t, "ENSC", students[0].Unit)
}

func TestReconcileSettlesOneProgramPerSemester(t *testing.T) {
	lk := testLookups(t)
	store := memstore.New(memstore.WithClock(tickingClock()))
	msc := progRow(models.SourceProgramStatus, testAppl, "AC", "MATR", "2013-08-20", "1137")
	msc.AcadProg = "CMPTMSC"
	rows := []models.SourceRow{
		msc,
		progRow(models.SourceProgramStatus, testAppl, "AC", "PRGC", "2013-09-15", "1137"),
	}

	first := reconcileRows(t, store, lk, rows)
	assert.Equal(t, 1, first.Created[models.RecordProgram])
	assert.Zero(t, first.Updated[models.RecordProgram])

	students := store.AllGradStudents()
	require.Len(t, students, 1)
	programs := programsOf(t, store, &students[0])
	require.Len(t, programs, 1)
	assert.Equal(t, "prog-cmpt-phd", programs[0].ProgramID)
	assert.Equal(t, "1137", programs[0].StartSemester)

	for i := 0; i < 2; i++ {
		again := reconcileRows(t, store, lk, rows)
		assert.Zero(t, again.Created[models.RecordProgram])
		assert.Zero(t, again.Updated[models.RecordProgram], "run %d rewrote the program history", i+2)
	}
	programs = programsOf(t, store, &students[0])
	require.Len(t, programs, 1)
	assert.Equal(t, "prog-cmpt-phd", programs[0].ProgramID)
}

func TestReconcileMovesLaterProgramEntryEarlier(t *testing.T) {
	lk := testLookups(t)
	store := memstore.New(memstore.WithClock(tickingClock()))
	g := seedStudent(t, store, &models.GradStudent{ProgramID: "prog-cmpt-phd", Unit: "CMPT", StartSemester: "1137"})
	entry := &models.GradProgramHistory{GradStudentID: g.ID, ProgramID: "prog-cmpt-phd", StartSemester: "1141"}
	require.NoError(t, store.CreateProgramHistory(context.Background(), entry))
	rows := []models.SourceRow{progRow(models.SourceProgramStatus, testAppl, "AC", "MATR", "2013-08-20", "1137")}

	result := reconcileRows(t, store, lk, rows)
	assert.Zero(t, result.Created[models.RecordProgram])
	assert.Equal(t, 1, result.Updated[models.RecordProgram])

	programs := programsOf(t, store, g)
	require.Len(t, programs, 1)
	assert.Equal(t, entry.ID, programs[0].ID)
	assert.Equal(t, "1137", programs[0].StartSemester)
	require.NotNil(t, programs[0].Starting)
	assert.Equal(t, date("2013-08-20"), *programs[0].Starting)
	assert.NotNil(t, programs[0].ImportKey)

	again := reconcileRows(t, store, lk, rows)
	assert.Zero(t, again.Created[models.RecordProgram])
	assert.Zero(t, again.Updated[models.RecordProgram])
}

func TestReconcileSkipsProgramAlreadyInEffect(t *testing.T) {
	lk := testLookups(t)
	store := memstore.New(memstore.WithClock(tickingClock()))
	g := seedStudent(t, store, &models.GradStudent{ProgramID: "prog-cmpt-phd", Unit: "CMPT", StartSemester: "1137"})
	entry := &models.GradProgramHistory{GradStudentID: g.ID, ProgramID: "prog-cmpt-phd", StartSemester: "1134"}
	require.NoError(t, store.CreateProgramHistory(context.Background(), entry))

	result := reconcileRows(t, store, lk, []models.SourceRow{
		progRow(models.SourceProgramStatus, testAppl, "AC", "MATR", "2013-08-20", "1137"),
	})
	assert.Zero(t, result.Created[models.RecordProgram])
	assert.Zero(t, result.Updated[models.RecordProgram])

	programs := programsOf(t, store, g)
	require.Len(t, programs, 1)
	assert.Equal(t, entry.ID, programs[0].ID)
	assert.Equal(t, "1134", programs[0].StartSemester)
	assert.Nil(t, programs[0].ImportKey)
}

func TestReconcileSerializesPersonCreation(t *testing.T) {
	lk := testLookups(t)
	cache := NewPersonCache()
	rec := NewReconciler(lk, cache, zap.NewNop(), 0)
	ctx := context.Background()

	first := splitTimeline(t, lk, append(scenarioARows(), committeeRow("CMPT", "300000077", "COSP", "2013-10-01")))
	otherRows := append(scenarioARows(), committeeRow("CMPT", "300000077", "COSP", "2013-10-01"))
	for i := range otherRows {
		otherRows[i].EmplID = "301000002"
	}
	other := NewTimeline("301000002", resolveAll(t, lk, otherRows), lk)
	require.NoError(t, other.SplitCareers())

	firstSession := cache.Session()
	firstResult, err := rec.ReconcilePerson(ctx, memstore.New(memstore.WithClock(tickingClock())), first, firstSession)
	require.NoError(t, err)
	assert.Equal(t, 2, firstResult.Created[models.RecordPerson])

	otherStore := memstore.New(memstore.WithClock(tickingClock()))
	otherSession := cache.Session()
	done := make(chan *Result, 1)
	go func() {
		result, err := rec.ReconcilePerson(ctx, otherStore, other, otherSession)
		assert.NoError(t, err)
		done <- result
	}()

	select {
	case <-done:
		t.Fatal("second transaction created people while the first held creation")
	case <-time.After(50 * time.Millisecond):
	}
	firstSession.Release(firstResult.NewPeople)

	var otherResult *Result
	select {
	case otherResult = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("second transaction never resumed")
	}
	otherSession.Release(otherResult.NewPeople)

	require.NotNil(t, otherResult)
	assert.Equal(t, 1, otherResult.Created[models.RecordPerson], "the supervisor comes from the cache")
	assert.Equal(t, 1, otherResult.Created[models.RecordSupervisor])

	supervisor, ok := cache.Get("300000077")
	require.True(t, ok)
	students := otherStore.AllGradStudents()
	require.Len(t, students, 1)
	sups, err := otherStore.Supervisors(ctx, students[0].ID)
	require.NoError(t, err)
	require.Len(t, sups, 1)
	assert.Equal(t, supervisor.ID, sups[0].SupervisorID)
	assert.Equal(t, 3, cache.Len())
}

func TestReconcileSupervisorPeopleWaitForCommit(t *testing.T) {
	lk := testLookups(t)
	store := memstore.New(memstore.WithClock(tickingClock()))
	rows := append(scenarioARows(), committeeRow("CMPT", "300000077", "COSP", "2013-10-01"))
	tl := splitTimeline(t, lk, rows)

	cache := NewPersonCache()
	rec := NewReconciler(lk, cache, zap.NewNop(), 3)
	var result *Result
	err := store.WithinTx(context.Background(), false, func(s *memstore.Store) error {
		var err error
		result, err = rec.ReconcilePerson(context.Background(), s, tl, nil)
		return err
	})
	require.NoError(t, err)
	assert.Len(t, result.NewPeople, 2)
	assert.Equal(t, 1, result.Created[models.RecordSupervisor])
	assert.Zero(t, cache.Len(), "nothing cached before commit")
	assert.Empty(t, store.AllGradStudents(), "dry run rolls back")
}

func TestStudentInfoStatusAsOf(t *testing.T) {
	info := NewStudentInfo(&models.GradStudent{}, []models.GradStatus{
		{ID: "2", Status: models.StatusActive, StartSemester: "1137", StartDate: datePtr("2013-08-20")},
		{ID: "1", Status: models.StatusConfirmed, StartSemester: "1137", StartDate: datePtr("2013-05-15")},
		{ID: "3", Status: models.StatusLeave, StartSemester: "1141", Hidden: true},
	}, nil, nil)

	assert.Equal(t, models.StatusConfirmed, info.StatusAsOf("1137", datePtr("2013-06-01")))
	assert.Equal(t, models.StatusActive, info.StatusAsOf("1137", datePtr("2013-09-01")))
	assert.Equal(t, models.StatusActive, info.StatusAsOf("1141", nil), "hidden statuses are ignored")
	assert.Equal(t, models.StatusCode(""), info.StatusAsOf("1134", nil))

	info.AddStatus(&models.GradStatus{ID: "4", Status: models.StatusOfferOut, StartSemester: "1137"})
	assert.Equal(t, "4", info.Statuses[0].ID, "undated statuses sort first in their semester")
}
