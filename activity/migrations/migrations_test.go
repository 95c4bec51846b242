package migrations

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(FS, ".")
	require.NoError(t, err)

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		}
	}

	require.NotEmpty(t, ups)
	assert.Equal(t, ups, downs)
}

func TestInitMigrationEnforcesSingleActiveImpersonation(t *testing.T) {
	sql, err := fs.ReadFile(FS, "001_init.up.sql")
	require.NoError(t, err)

	assert.Contains(t, string(sql), "impersonation_logs_one_active_per_admin")
	assert.Contains(t, string(sql), "WHERE status = 'ACTIVE'")
	assert.Contains(t, string(sql), "sessions_session_token_key")
}

func TestRun_RejectsUnknownDirection(t *testing.T) {
	_, _, err := Run("postgres://localhost/none", "sideways")
	assert.ErrorContains(t, err, "direction")
}
