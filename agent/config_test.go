package agent

import (
	"os"
	"path/filepath"
	"testing"

	hclog "github.com/hashicorp/go-hclog"
	"github.com/shoenig/test/must"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv(envDatabaseURI, "memdb://local")
	t.Setenv(envAppID, "strata-test")
	t.Setenv(envMasterKey, "master-key")
	t.Setenv(envRefreshSecret, "refresh")
	t.Setenv(envAccessSecret, "access")
}

func TestLoadConfig_RequiredValues(t *testing.T) {
	t.Setenv(EnvFileVar, "")
	t.Setenv(EnvIDVar, "")
	t.Setenv(envDatabaseURI, "")
	t.Setenv(envAppID, "")
	t.Setenv(envMasterKey, "")
	t.Setenv(envRefreshSecret, "")
	t.Setenv(envAccessSecret, "")

	_, err := LoadConfig(t.TempDir())
	require.Error(t, err)
	require.Contains(t, err.Error(), envDatabaseURI)
}

func TestLoadConfig_Defaults(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv(EnvFileVar, "")
	t.Setenv(EnvIDVar, "")
	t.Setenv(envPort, "")
	t.Setenv(envLogLevel, "")
	t.Setenv(envPublicServerURI, "")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	must.Eq(t, DefaultPort, cfg.Port)
	must.Eq(t, "http://localhost:9000", cfg.ServerURI)
	must.Eq(t, cfg.ServerURI, cfg.PublicServerURI)
	must.Eq(t, LogLevelBoot, cfg.LogLevel)
	must.Eq(t, hclog.Info, cfg.HCLogLevel())
}

func TestLoadConfig_EnvFilePrecedence(t *testing.T) {
	dir := t.TempDir()

	// The dotenv file supplies everything; the process env overrides PORT.
	envFile := writeFile(t, dir, "local.env", `
DATABASE_URI=memdb://file
APP_ID=from-file
MASTER_KEY=mk
JWT_REFRESH_SECRET=r
JWT_ACCESS_SECRET=a
PORT=9100
`)
	setRequiredEnv(t)
	t.Setenv(envAppID, "")
	t.Setenv(EnvFileVar, envFile)
	t.Setenv(EnvIDVar, "")
	t.Setenv(envPort, "9200")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	must.Eq(t, "from-file", cfg.AppID)
	must.Eq(t, 9200, cfg.Port)
	must.Eq(t, "http://localhost:9200", cfg.ServerURI)
}

func TestLoadConfig_EnvJSON(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "env.staging.json", `{
		"DATABASE_URI": "memdb://staging",
		"APP_ID": "staging-app",
		"MASTER_KEY": "mk",
		"JWT_REFRESH_SECRET": "r",
		"JWT_ACCESS_SECRET": "a",
		"PORT": 9300,
		"DIRECT_FILE_ACCESS": true
	}`)

	t.Setenv(EnvFileVar, "")
	t.Setenv(EnvIDVar, "staging")
	t.Setenv(envDatabaseURI, "")
	t.Setenv(envAppID, "")
	t.Setenv(envMasterKey, "")
	t.Setenv(envRefreshSecret, "")
	t.Setenv(envAccessSecret, "")
	t.Setenv(envPort, "")
	t.Setenv(envDirectFileAccess, "")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	must.Eq(t, "staging-app", cfg.AppID)
	must.Eq(t, 9300, cfg.Port)
	must.True(t, cfg.DirectFileAccess)
}

func TestLoadConfig_EnvIDValidation(t *testing.T) {
	t.Setenv(EnvFileVar, "")
	t.Setenv(EnvIDVar, "../evil")

	_, err := LoadConfig(t.TempDir())
	require.Error(t, err)

	// A well-formed id naming a missing file is also fatal.
	t.Setenv(EnvIDVar, "absent")
	_, err = LoadConfig(t.TempDir())
	require.Error(t, err)
}

func TestLoadConfig_LogLevels(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv(EnvFileVar, "")
	t.Setenv(EnvIDVar, "")

	cases := []struct {
		value string
		level int
		hc    hclog.Level
	}{
		{"DEBUG", LogLevelDebug, hclog.Debug},
		{"INFO", LogLevelInfo, hclog.Info},
		{"BOOT", LogLevelBoot, hclog.Info},
		{"WARN", LogLevelWarn, hclog.Warn},
		{"ERROR", LogLevelError, hclog.Error},
		{"250", 250, hclog.Info},
	}
	for _, tc := range cases {
		t.Setenv(envLogLevel, tc.value)
		cfg, err := LoadConfig(t.TempDir())
		require.NoError(t, err)
		must.Eq(t, tc.level, cfg.LogLevel)
		must.Eq(t, tc.hc, cfg.HCLogLevel())
	}

	t.Setenv(envLogLevel, "LOUD")
	_, err := LoadConfig(t.TempDir())
	require.Error(t, err)
}

func TestLoadConfig_TLSPair(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv(EnvFileVar, "")
	t.Setenv(EnvIDVar, "")
	t.Setenv(envTLSCert, "/etc/cert.pem")
	t.Setenv(envTLSKey, "")

	_, err := LoadConfig(t.TempDir())
	require.Error(t, err)
}

func TestLoadConfig_PluginRoots(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv(EnvFileVar, "")
	t.Setenv(EnvIDVar, "")
	t.Setenv(envBuiltinDir, "/opt/strata/builtin")
	t.Setenv(envPluginDirs, "/srv/plugins"+string(os.PathListSeparator)+"/srv/extra")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Len(t, cfg.PluginRoots, 3)
	must.True(t, cfg.PluginRoots[0].Builtin)
	must.Eq(t, "/opt/strata/builtin", cfg.PluginRoots[0].Dir)
	must.False(t, cfg.PluginRoots[1].Builtin)
}
