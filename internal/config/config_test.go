package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Teqed/FediFetcher-sub000/internal/config"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_YAMLWithDefaults(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
server: https://home.example/
access_token: secret-token
home_timeline_length: 200
external_feeds: feed1.example,feed2.example
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	require.Equal(t, "home.example", cfg.Server)
	require.Equal(t, []string{"secret-token"}, cfg.AccessToken)
	require.Equal(t, 200, cfg.HomeTimelineLength)
	require.Equal(t, []string{"feed1.example", "feed2.example"}, cfg.ExternalFeeds)

	require.Equal(t, config.DefaultRememberUsersForHours, cfg.RememberUsersForHours)
	require.Equal(t, config.DefaultHTTPTimeoutSeconds, cfg.HTTPTimeout)
	require.Equal(t, config.DefaultLockHours, cfg.LockHours)
	require.Equal(t, config.DefaultStateDir, cfg.StateDir)
	require.Equal(t, filepath.Join(config.DefaultStateDir, config.DefaultLockFileName), cfg.LockFile)
	require.False(t, cfg.HasDatabase())
}

func TestLoad_JSONTokenList(t *testing.T) {
	path := writeConfig(t, "config.json", `{
  "server": "home.example",
  "access_token": ["admin-token", "second-token"],
  "external_tokens": {"peer.example": "peer-token"},
  "database": {"password": "pg-secret"}
}`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	require.Equal(t, []string{"admin-token", "second-token"}, cfg.AccessToken)
	require.Equal(t, "admin-token", cfg.AdminToken())
	require.Equal(t, "peer-token", cfg.ExternalTokens["peer.example"])
	require.True(t, cfg.HasDatabase())
	require.Equal(t, config.DefaultDBHost, cfg.Database.Host)
	require.Equal(t, config.DefaultDBPort, cfg.Database.Port)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
server: file.example
access_token: file-token
`)

	t.Setenv("FEDIFETCH_SERVER", "env.example")
	t.Setenv("FEDIFETCH_ACCESS_TOKEN", "env-token-1,env-token-2")
	t.Setenv("FEDIFETCH_LOG_LEVEL", "10")
	t.Setenv("PGPASSWORD", "env-pg")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	require.Equal(t, "env.example", cfg.Server)
	require.Equal(t, []string{"env-token-1", "env-token-2"}, cfg.AccessToken)
	require.Equal(t, 10, cfg.LogLevel)
	require.Equal(t, "env-pg", cfg.Database.Password)
	require.True(t, cfg.HasDatabase())
}

func TestLoad_MissingRequiredKeys(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr error
	}{
		{
			name:    "missing server",
			content: `{"access_token": "tok"}`,
			wantErr: config.ErrMissingServer,
		},
		{
			name:    "missing token",
			content: `{"server": "home.example"}`,
			wantErr: config.ErrMissingToken,
		},
		{
			name:    "negative threshold",
			content: `{"server": "home.example", "access_token": "tok", "max_followings": -1}`,
			wantErr: config.ErrNegativeThreshold,
		},
	}

	for i := range tests {
		test := &tests[i]
		t.Run(test.name, func(t *testing.T) {
			path := writeConfig(t, "config.json", test.content)
			_, err := config.Load(path)
			require.ErrorIs(t, err, test.wantErr)
		})
	}
}

func TestLoad_ExplicitConfigFileMustExist(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestNormalizeServer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"home.example", "home.example"},
		{"https://home.example", "home.example"},
		{"https://home.example/", "home.example"},
		{"http://Home.Example/some/path", "home.example"},
		{"  home.example  ", "home.example"},
	}

	for _, tt := range tests {
		require.Equal(t, tt.want, config.NormalizeServer(tt.in))
	}
}

func TestConfig_DurationHelpers(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{
		HTTPTimeout:           7,
		RememberUsersForHours: 24,
		LockHours:             3,
	}

	require.Equal(t, "7s", cfg.HTTPTimeoutDuration().String())
	require.Equal(t, "24h0m0s", cfg.RememberUsersHorizon().String())
	require.Equal(t, "3h0m0s", cfg.LockTTL().String())
}
