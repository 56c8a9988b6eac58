package sql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProbeAccepts(t *testing.T) {
	queries := []string{
		"SELECT 1",
		"  select 1;  ",
		"SELECT now()",
		"SELECT 1 UNION ALL SELECT 2",
		"WITH x AS (SELECT 1 AS v) SELECT v FROM x",
		"SELECT count(*) FROM pg_stat_activity WHERE state = 'active'",
	}
	for _, q := range queries {
		p, err := ParseProbe(q)
		require.NoError(t, err, q)
		assert.NotEmpty(t, p.Fingerprint, q)
		assert.NotEmpty(t, p.Normalized, q)
	}
}

func TestParseProbeNormalizes(t *testing.T) {
	p, err := ParseProbe("SELECT 1")
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1", p.Query)
	assert.Equal(t, "SELECT $1", p.Normalized)

	other, err := ParseProbe("SELECT 2")
	require.NoError(t, err)
	assert.Equal(t, p.Fingerprint, other.Fingerprint)
}

func TestParseProbeRejects(t *testing.T) {
	queries := []string{
		"",
		"   ",
		"SELEC 1",
		"SELECT 1; SELECT 2",
		"INSERT INTO t VALUES (1)",
		"UPDATE t SET a = 1",
		"DELETE FROM t",
		"BEGIN",
		"SELECT * INTO new_table FROM t",
		"SELECT * FROM t FOR UPDATE",
		"SELECT 1 UNION SELECT * FROM t FOR SHARE",
		"WITH d AS (DELETE FROM t RETURNING *) SELECT * FROM d",
		"SELECT",
		"SELECT 1, 2",
		"SELECT * FROM pg_stat_activity",
		"SELECT t.* FROM t",
		"SELECT 1 UNION ALL SELECT 1, 2",
		"VALUES (1)",
	}
	for _, q := range queries {
		err := ValidateProbe(q)
		assert.ErrorIs(t, err, ErrInvalidProbe, q)
	}
}
