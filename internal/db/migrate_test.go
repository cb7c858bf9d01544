package db

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrationsAreGooseAnnotated(t *testing.T) {
	files, err := fs.Glob(migrationsFS, migrationsDir+"/*.sql")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, name := range files {
		b, err := fs.ReadFile(migrationsFS, name)
		require.NoError(t, err)
		body := string(b)
		assert.Contains(t, body, "-- +goose Up", name)
		assert.Contains(t, body, "-- +goose Down", name)
	}
}

func TestSchemaKeepsLedgerInvariants(t *testing.T) {
	b, err := fs.ReadFile(migrationsFS, migrationsDir+"/00001_ledger_core.sql")
	require.NoError(t, err)
	schema := string(b)

	for _, want := range []string{
		"reference_number      TEXT NOT NULL UNIQUE",
		"reversal_of_id        BIGINT UNIQUE",
		"account_id            BIGINT REFERENCES accounts(id)",
		"BEFORE UPDATE OR DELETE ON ledger_postings",
		"CHECK (amount > 0)",
	} {
		assert.True(t, strings.Contains(schema, want), "schema is missing %q", want)
	}
}
