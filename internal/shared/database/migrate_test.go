package database

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrationsOrder(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/002_requests.sql":  {Data: []byte("SELECT 2;")},
		"migrations/001_registry.sql":  {Data: []byte("SELECT 1;")},
		"migrations/README.md":         {Data: []byte("notes")},
		"migrations/old/000_seed.sql":  {Data: []byte("SELECT 0;")},
		"migrations/003_donations.sql": {Data: []byte("SELECT 3;")},
	}

	got, err := embeddedMigrations(fsys)
	require.NoError(t, err)

	require.Len(t, got, 3)
	assert.Equal(t, "001_registry", got[0].Version)
	assert.Equal(t, "migrations/001_registry.sql", got[0].File)
	assert.Equal(t, "002_requests", got[1].Version)
	assert.Equal(t, "003_donations", got[2].Version)
}

func TestShippedMigrations(t *testing.T) {
	got, err := embeddedMigrations(migrationsFS)
	require.NoError(t, err)

	var versions []string
	for _, m := range got {
		versions = append(versions, m.Version)
	}
	assert.Equal(t, []string{"001_registry", "002_requests", "003_donations", "004_forms_transfers_notices"}, versions)
}
