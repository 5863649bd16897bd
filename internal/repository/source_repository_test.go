package repository

import (
	"context"
	"testing"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sfu-fas/coursys-sub000/internal/models"
	appErrors "github.com/sfu-fas/coursys-sub000/pkg/errors"
)

const snapshotSchema = `
CREATE TABLE ps_acad_prog (emplid TEXT, acad_org TEXT, adm_appl_nbr TEXT, stdnt_car_nbr TEXT, acad_prog TEXT,
    prog_status TEXT, prog_action TEXT, prog_reason TEXT, effdt DATE, effseq INTEGER, admit_term TEXT,
    exp_grad_term TEXT, degr_chkout_stat TEXT);
CREATE TABLE ps_adm_appl_prog (emplid TEXT, acad_org TEXT, adm_appl_nbr TEXT, stdnt_car_nbr TEXT, acad_prog TEXT,
    prog_status TEXT, prog_action TEXT, prog_reason TEXT, effdt DATE, effseq INTEGER, admit_term TEXT);
CREATE TABLE ps_stdnt_car_term (emplid TEXT, acad_org TEXT, stdnt_car_nbr TEXT, acad_prog TEXT, strm TEXT, withdraw_code TEXT);
CREATE TABLE ps_committee (committee_id TEXT, emplid TEXT, acad_org TEXT, stdnt_car_nbr TEXT, acad_prog TEXT, effdt DATE, strm TEXT);
CREATE TABLE ps_committee_members (committee_id TEXT, effdt DATE, sup_emplid TEXT, committee_role TEXT);
CREATE TABLE ps_research_area (emplid TEXT, adm_appl_nbr TEXT, area_org TEXT, area_code TEXT, area_choice TEXT, admit_term TEXT);
CREATE TABLE ps_personal_data (emplid TEXT, language TEXT, citizenship TEXT, visa TEXT, email TEXT);

INSERT INTO ps_acad_prog VALUES ('300000001', 'CMPT', '00912345', '0', 'CMPTPHD', 'AC', 'MATR', NULL, '2013-08-20', 0, '1137', NULL, NULL);
INSERT INTO ps_acad_prog VALUES ('300000001', 'CMPT', NULL, '0', 'CMPTPHD', 'AC', 'PRGC', 'CN', '2014-01-10', 1, '1137', NULL, NULL);
INSERT INTO ps_acad_prog VALUES ('300000002', 'CMPT', '00900001', '0', 'CMPTMSC', 'AC', 'MATR', NULL, '2009-09-01', 0, '1097', NULL, NULL);
INSERT INTO ps_acad_prog VALUES ('300000003', 'MATH', '00900002', '0', 'MATHPHD', 'AC', 'MATR', NULL, '2013-09-01', 0, '1137', NULL, NULL);
INSERT INTO ps_adm_appl_prog VALUES ('300000001', 'CMPT', '00912345', NULL, 'CMPTPHD', 'AP', 'APPL', NULL, '2013-02-01', 0, '1137');
INSERT INTO ps_stdnt_car_term VALUES ('300000001', 'CMPT', '0', 'CMPTPHD', '1137', 'NWD');
INSERT INTO ps_stdnt_car_term VALUES ('300000001', 'CMPT', '0', 'CMPTPHD', '1141', 'WDR');
INSERT INTO ps_committee VALUES ('C1', '300000001', 'CMPT', '0', 'CMPTPHD', '2014-02-01', '1141');
INSERT INTO ps_committee_members VALUES ('C1', '2014-02-01', '200000009', 'SNRS');
INSERT INTO ps_research_area VALUES ('300000001', '00912345', 'CMPT', 'AI', NULL, '1137');
INSERT INTO ps_personal_data VALUES ('300000001', 'EN', 'CAN', NULL, 'student@example.com');
INSERT INTO ps_personal_data VALUES ('300000003', 'FR', 'FRA', 'STUDY', NULL);
`

func newSnapshotSource(t *testing.T) *SourceRepository {
	db, err := sqlx.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	_, err = db.Exec(snapshotSchema)
	require.NoError(t, err)
	return NewSourceRepository(db)
}

func TestSourceRepositoryFetchProgramStatus(t *testing.T) {
	repo := newSnapshotSource(t)
	rows, err := repo.Fetch(context.Background(), models.SourceProgramStatus, models.SourceQuery{Units: []string{"CMPT"}, CutoffStrm: "1101"})
	require.NoError(t, err)
	require.Len(t, rows, 2)

	first := rows[0]
	if first.EffSeq != 0 {
		first = rows[1]
	}
	assert.Equal(t, models.SourceProgramStatus, first.Kind)
	assert.Equal(t, "CMPT", first.Unit)
	assert.Equal(t, "00912345", first.AdmApplNbr)
	assert.Equal(t, "MATR", first.ProgAction)
	assert.Equal(t, "", first.ProgReason)
	require.NotNil(t, first.EffDate)
	assert.Equal(t, 2013, first.EffDate.Year())
}

func TestSourceRepositoryFetchEachKind(t *testing.T) {
	repo := newSnapshotSource(t)
	q := models.SourceQuery{Units: []string{"CMPT"}, CutoffStrm: "1101"}

	cases := map[models.SourceKind]int{
		models.SourceApplProgram:  1,
		models.SourceGradSemester: 1,
		models.SourceCommittee:    1,
		models.SourceResearchArea: 1,
		models.SourceMetadata:     1,
	}
	for kind, want := range cases {
		rows, err := repo.Fetch(context.Background(), kind, q)
		require.NoError(t, err, kind)
		assert.Len(t, rows, want, kind)
		for _, row := range rows {
			assert.Equal(t, kind, row.Kind)
			assert.Equal(t, "300000001", row.EmplID)
		}
	}

	committee, err := repo.Fetch(context.Background(), models.SourceCommittee, q)
	require.NoError(t, err)
	assert.Equal(t, "200000009", committee[0].SupEmplID)
	assert.Equal(t, "SNRS", committee[0].CommitteeRole)

	meta, err := repo.Fetch(context.Background(), models.SourceMetadata, q)
	require.NoError(t, err)
	assert.Equal(t, "student@example.com", meta[0].Email)
	assert.Equal(t, "", meta[0].Visa)
}

func TestSourceRepositoryFetchEmplIDSubset(t *testing.T) {
	repo := newSnapshotSource(t)
	rows, err := repo.Fetch(context.Background(), models.SourceProgramStatus, models.SourceQuery{
		Units:      []string{"CMPT", "MATH"},
		CutoffStrm: "1000",
		EmplIDs:    []string{"300000002", "300000003"},
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	got := []string{rows[0].EmplID, rows[1].EmplID}
	assert.ElementsMatch(t, []string{"300000002", "300000003"}, got)
}

func TestSourceRepositoryFetchNoUnits(t *testing.T) {
	repo := newSnapshotSource(t)
	rows, err := repo.Fetch(context.Background(), models.SourceProgramStatus, models.SourceQuery{})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestSourceRepositoryFetchUnknownKind(t *testing.T) {
	repo := newSnapshotSource(t)
	_, err := repo.Fetch(context.Background(), models.SourceKind("Bogus"), models.SourceQuery{Units: []string{"CMPT"}})
	require.ErrorIs(t, err, appErrors.ErrUnknownKind)
}
