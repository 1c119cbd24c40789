package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsAllowedUsersToOperator(t *testing.T) {
	t.Setenv("TOKEN", "123:abc")
	t.Setenv("OPERATOR_ID", "42")

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, []int64{42}, cfg.AllowedUsers)
	require.Equal(t, GroupByCompany, cfg.DigestGroupBy)
	require.Equal(t, 3500, cfg.DigestChunkSize)
	require.Equal(t, "0 10 * * *", cfg.Schedule)
	require.True(t, cfg.SendEmptyDigest)
}

func TestLoadAppendsOperatorToAllowedUsers(t *testing.T) {
	t.Setenv("TOKEN", "123:abc")
	t.Setenv("OPERATOR_ID", "42")
	t.Setenv("ALLOWED_USERS", "7,8")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, []int64{7, 8, 42}, cfg.AllowedUsers)
}

func TestLoadRequiresToken(t *testing.T) {
	t.Setenv("TOKEN", "")
	t.Setenv("OPERATOR_ID", "42")

	_, err := Load()
	require.Error(t, err)
}

func TestValidateRejectsUnknownGroupBy(t *testing.T) {
	t.Setenv("TOKEN", "123:abc")
	t.Setenv("OPERATOR_ID", "42")
	t.Setenv("DIGEST_GROUP_BY", "vendor")

	_, err := Load()
	require.ErrorContains(t, err, "DIGEST_GROUP_BY")
}

func TestValidateRejectsBadTimezone(t *testing.T) {
	t.Setenv("TOKEN", "123:abc")
	t.Setenv("OPERATOR_ID", "42")
	t.Setenv("TIMEZONE", "Mars/Olympus")

	_, err := Load()
	require.ErrorContains(t, err, "TIMEZONE")
}
