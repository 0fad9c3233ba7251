package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSchemaMigrations(t *testing.T) {
	loaded, err := loadSchemaMigrations()
	require.NoError(t, err)
	require.NotEmpty(t, loaded)

	assert.Equal(t, 1, loaded[0].version)
	assert.Equal(t, "initial_schema", loaded[0].name)
	require.NotEmpty(t, loaded[0].statements)
	assert.Contains(t, loaded[0].statements[0], "CREATE TABLE")

	for i := 1; i < len(loaded); i++ {
		assert.Greater(t, loaded[i].version, loaded[i-1].version)
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		base    string
		version int
		name    string
		wantErr bool
	}{
		{base: "001_initial_schema.sql", version: 1, name: "initial_schema"},
		{base: "012_add_triggers.sql", version: 12, name: "add_triggers"},
		{base: "schema.sql", wantErr: true},
		{base: "abc_schema.sql", wantErr: true},
		{base: "000_zero.sql", wantErr: true},
		{base: "7_.sql", wantErr: true},
	}
	for _, tt := range tests {
		version, name, err := parseMigrationFilename(tt.base)
		if tt.wantErr {
			assert.Error(t, err, tt.base)
			continue
		}
		require.NoError(t, err, tt.base)
		assert.Equal(t, tt.version, version, tt.base)
		assert.Equal(t, tt.name, name, tt.base)
	}
}

func TestSQLStatements(t *testing.T) {
	script := `-- leading comment
CREATE TABLE a (id TEXT);

-- another comment
CREATE INDEX idx_a ON a(id);
`
	stmts := sqlStatements(script)
	require.Len(t, stmts, 2)
	assert.Equal(t, "CREATE TABLE a (id TEXT);", stmts[0])
	assert.Equal(t, "CREATE INDEX idx_a ON a(id);", stmts[1])

	assert.Empty(t, sqlStatements("-- only comments\n-- nothing else\n"))
}
