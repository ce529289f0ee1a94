package agent

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	envparse "github.com/hashicorp/go-envparse"
	hclog "github.com/hashicorp/go-hclog"

	"github.com/strata-cms/strata/catalog"
)

// Environment variable names consumed at boot.
const (
	EnvFileVar = "RUNTIME_ENV_FILE"
	EnvIDVar   = "RUNTIME_ENV_ID"

	envDatabaseURI      = "DATABASE_URI"
	envAppID            = "APP_ID"
	envMasterKey        = "MASTER_KEY"
	envRefreshSecret    = "JWT_REFRESH_SECRET"
	envAccessSecret     = "JWT_ACCESS_SECRET"
	envPort             = "PORT"
	envPublicServerURI  = "PUBLIC_SERVER_URI"
	envLogLevel         = "LOG_LEVEL"
	envMaxUploadSize    = "MAX_UPLOAD_SIZE"
	envDirectFileAccess = "DIRECT_FILE_ACCESS"
	envPreserveFilename = "PRESERVE_FILENAME"
	envTLSCert          = "TLS_CERT"
	envTLSKey           = "TLS_KEY"
	envPluginDirs       = "PLUGIN_DIRS"
	envBuiltinDir       = "BUILTIN_PLUGIN_DIR"
)

// DefaultPort is used when PORT is unset.
const DefaultPort = 9000

// envIDPattern validates RUNTIME_ENV_ID before it is spliced into a file
// name.
var envIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Integer log thresholds; a message is emitted iff its level is at or below
// the configured one.
const (
	LogLevelDebug = 1000
	LogLevelInfo  = 500
	LogLevelBoot  = 0
	LogLevelWarn  = -500
	LogLevelError = -1000
)

// Config is the agent's fully resolved boot configuration.
type Config struct {
	AppID       string
	DatabaseURI string
	MasterKey   string

	RefreshSecret string
	AccessSecret  string

	Port            int
	ServerURI       string
	PublicServerURI string

	LogLevel int

	MaxUploadSize    int64
	DirectFileAccess bool
	PreserveFilename bool

	TLSCert string
	TLSKey  string

	// PluginRoots are the directories scanned for plugin manifests.
	PluginRoots []catalog.Root
}

// LoadConfig resolves the agent configuration. File-loaded values come from,
// in priority order: the dotenv file named by RUNTIME_ENV_FILE, then
// env.<RUNTIME_ENV_ID>.json, then env.json, all relative to srcDir. Process
// environment variables override file values. Missing required values are an
// error, which the caller treats as fatal.
func LoadConfig(srcDir string) (*Config, error) {
	vars, err := loadEnvFiles(srcDir)
	if err != nil {
		return nil, err
	}
	// Empty process values do not mask file values.
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if ok && v != "" {
			vars[k] = v
		}
	}
	return buildConfig(vars)
}

func loadEnvFiles(srcDir string) (map[string]string, error) {
	if path := os.Getenv(EnvFileVar); path != "" {
		return loadDotenv(path)
	}

	if id := os.Getenv(EnvIDVar); id != "" {
		if !envIDPattern.MatchString(id) {
			return nil, fmt.Errorf("invalid %s %q", EnvIDVar, id)
		}
		return loadEnvJSON(filepath.Join(srcDir, "env."+id+".json"), true)
	}

	return loadEnvJSON(filepath.Join(srcDir, "env.json"), false)
}

// loadDotenv parses a KEY=VALUE env file.
func loadDotenv(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("env file %s: %w", path, err)
	}
	defer f.Close()

	vars, err := envparse.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("env file %s: %w", path, err)
	}
	return vars, nil
}

// loadEnvJSON parses a flat JSON object of environment values. The default
// env.json is optional; a named env file must exist.
func loadEnvJSON(path string, required bool) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !required {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("env file %s: %w", path, err)
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("env file %s: %w", path, err)
	}

	vars := make(map[string]string, len(raw))
	for k, v := range raw {
		switch tv := v.(type) {
		case string:
			vars[k] = tv
		case bool:
			vars[k] = strconv.FormatBool(tv)
		case float64:
			vars[k] = strconv.FormatFloat(tv, 'f', -1, 64)
		default:
			return nil, fmt.Errorf("env file %s: key %s has unsupported type", path, k)
		}
	}
	return vars, nil
}

func buildConfig(vars map[string]string) (*Config, error) {
	cfg := &Config{
		Port:     DefaultPort,
		LogLevel: LogLevelBoot,
	}

	required := []struct {
		key string
		dst *string
	}{
		{envDatabaseURI, &cfg.DatabaseURI},
		{envAppID, &cfg.AppID},
		{envMasterKey, &cfg.MasterKey},
		{envRefreshSecret, &cfg.RefreshSecret},
		{envAccessSecret, &cfg.AccessSecret},
	}
	for _, r := range required {
		v := vars[r.key]
		if v == "" {
			return nil, fmt.Errorf("required environment value %s is not set", r.key)
		}
		*r.dst = v
	}

	if v := vars[envPort]; v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return nil, fmt.Errorf("invalid %s %q", envPort, v)
		}
		cfg.Port = port
	}

	cfg.ServerURI = fmt.Sprintf("http://localhost:%d", cfg.Port)
	cfg.PublicServerURI = cfg.ServerURI
	if v := vars[envPublicServerURI]; v != "" {
		cfg.PublicServerURI = v
	}

	if v := vars[envLogLevel]; v != "" {
		level, err := parseLogLevel(v)
		if err != nil {
			return nil, err
		}
		cfg.LogLevel = level
	}

	if v := vars[envMaxUploadSize]; v != "" {
		size, err := strconv.ParseInt(v, 10, 64)
		if err != nil || size < 0 {
			return nil, fmt.Errorf("invalid %s %q", envMaxUploadSize, v)
		}
		cfg.MaxUploadSize = size
	}

	cfg.DirectFileAccess = boolVar(vars, envDirectFileAccess)
	cfg.PreserveFilename = boolVar(vars, envPreserveFilename)
	cfg.TLSCert = vars[envTLSCert]
	cfg.TLSKey = vars[envTLSKey]
	if (cfg.TLSCert == "") != (cfg.TLSKey == "") {
		return nil, fmt.Errorf("%s and %s must be set together", envTLSCert, envTLSKey)
	}

	if v := vars[envBuiltinDir]; v != "" {
		cfg.PluginRoots = append(cfg.PluginRoots, catalog.Root{Dir: v, Builtin: true})
	}
	if v := vars[envPluginDirs]; v != "" {
		for _, dir := range strings.Split(v, string(os.PathListSeparator)) {
			if dir != "" {
				cfg.PluginRoots = append(cfg.PluginRoots, catalog.Root{Dir: dir})
			}
		}
	}

	return cfg, nil
}

func boolVar(vars map[string]string, key string) bool {
	b, err := strconv.ParseBool(vars[key])
	return err == nil && b
}

// parseLogLevel accepts either a named level or its integer threshold.
func parseLogLevel(v string) (int, error) {
	switch strings.ToUpper(v) {
	case "DEBUG":
		return LogLevelDebug, nil
	case "INFO":
		return LogLevelInfo, nil
	case "BOOT":
		return LogLevelBoot, nil
	case "WARN":
		return LogLevelWarn, nil
	case "ERROR":
		return LogLevelError, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", envLogLevel, v)
	}
	return n, nil
}

// HCLogLevel maps the integer threshold onto hclog's levels.
func (c *Config) HCLogLevel() hclog.Level {
	switch {
	case c.LogLevel >= LogLevelDebug:
		return hclog.Debug
	case c.LogLevel >= LogLevelBoot:
		return hclog.Info
	case c.LogLevel >= LogLevelWarn:
		return hclog.Warn
	default:
		return hclog.Error
	}
}
