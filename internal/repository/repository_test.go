package repository

import (
	"fmt"
	"io/fs"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailtriage/internal/model"
)

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})))
	assert.False(t, isUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, isUniqueViolation(ErrNotFound))
}

func TestEncodeJSONColumns(t *testing.T) {
	items, suggestions, err := encodeJSONColumns(nil, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(items))
	assert.Nil(t, suggestions)

	items, suggestions, err = encodeJSONColumns([]model.ActionItem{{Task: "Reply"}}, []string{"Who?"})
	require.NoError(t, err)
	assert.JSONEq(t, `[{"task":"Reply"}]`, string(items))
	assert.JSONEq(t, `["Who?"]`, string(suggestions))
}

func TestDecodeJSONColumnsToleratesNull(t *testing.T) {
	a := &model.EmailAnalysis{EmailID: 1}
	require.NoError(t, decodeJSONColumns(a, nil, nil))
	assert.Equal(t, []model.ActionItem{}, a.ActionItems)
	assert.Nil(t, a.Suggestions)

	require.NoError(t, decodeJSONColumns(a, []byte(`["Call Bob"]`), []byte(`["a","b"]`)))
	assert.Equal(t, []model.ActionItem{{Task: "Call Bob"}}, a.ActionItems)
	assert.Equal(t, []string{"a", "b"}, a.Suggestions)
}

func TestMigrationsAreEmbedded(t *testing.T) {
	files, err := fs.Glob(embedMigrations, "migrations/*.sql")
	require.NoError(t, err)
	assert.Equal(t, []string{"migrations/00001_triage.sql", "migrations/00002_outbox.sql"}, files)
}
