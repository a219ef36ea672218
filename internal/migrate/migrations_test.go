package migrate

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bountyline/internal/db"
)

func TestMigrateIsIdempotent(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()

	migrations, err := Load()
	require.NoError(t, err)
	require.NotEmpty(t, migrations)
	latest := migrations[len(migrations)-1].Version

	require.NoError(t, Migrate(conn))
	require.NoError(t, Migrate(conn))
	v, err := Version(conn)
	require.NoError(t, err)
	assert.Equal(t, latest, v)

	var n int
	require.NoError(t, conn.QueryRow(`SELECT COUNT(*) FROM schema_version`).Scan(&n))
	assert.Equal(t, 1, n)
	for _, table := range []string{"bounties", "applications", "milestones", "releases", "events", "treasury_accounts", "votes", "org_members"} {
		var name string
		err := conn.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		assert.NoError(t, err, table)
	}
}

func TestFailedMigrationKeepsEarlierVersions(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()

	err = apply(conn, []Migration{
		{Version: 1, Name: "001_ok.sql", UpSQL: `CREATE TABLE a(id INTEGER);`},
		{Version: 2, Name: "002_bad.sql", UpSQL: `CREATE TABLE b(id INTEGER); CREATE TABL oops;`},
	})
	require.Error(t, err)
	v, err := Version(conn)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestLoadRejectsBadNames(t *testing.T) {
	_, err := load(fstest.MapFS{"sql/init.sql": {Data: []byte("SELECT 1;")}})
	require.Error(t, err)

	_, err = load(fstest.MapFS{
		"sql/001_a.sql": {Data: []byte("SELECT 1;")},
		"sql/1_b.sql":   {Data: []byte("SELECT 1;")},
	})
	require.ErrorContains(t, err, "share version 1")

	got, err := load(fstest.MapFS{
		"sql/002_b.sql": {Data: []byte("SELECT 2;")},
		"sql/001_a.sql": {Data: []byte("SELECT 1;")},
		"sql/README.md": {Data: []byte("notes")},
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "001_a.sql", got[0].Name)
}
