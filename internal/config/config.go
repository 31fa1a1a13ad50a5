package config

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	appdefaults "github.com/saker-ai/julius-bridge/config"
	"github.com/saker-ai/julius-bridge/internal/logger"
	"github.com/saker-ai/julius-bridge/pkg/julius"
)

const (
	envPrefix     = "jbridge"
	rootDirEnv    = "JBRIDGE_ROOT_DIR"
	defaultPort   = 8110
	ReconnectAuto = "auto"
	// ReconnectManual ends the bridge after the first Julius session.
	ReconnectManual = "manual"
)

// SystemConfig holds the listen address of the bridge.
type SystemConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
}

// JuliusConfig describes the module-server connection.
type JuliusConfig struct {
	Host            string   `mapstructure:"host" yaml:"host"`
	Port            int      `mapstructure:"port" yaml:"port"`
	Encoding        string   `mapstructure:"encoding" yaml:"encoding"`
	Modelize        bool     `mapstructure:"modelize" yaml:"modelize"`
	PollIntervalMs  int      `mapstructure:"poll_interval_ms" yaml:"poll_interval_ms"`
	SendTimeoutMs   int      `mapstructure:"send_timeout_ms" yaml:"send_timeout_ms"`
	DialTimeoutMs   int      `mapstructure:"dial_timeout_ms" yaml:"dial_timeout_ms"`
	DrainOnConnect  bool     `mapstructure:"drain_on_connect" yaml:"drain_on_connect"`
	ReconnectMode   string   `mapstructure:"reconnect_mode" yaml:"reconnect_mode"`
	InitialCommands []string `mapstructure:"initial_commands" yaml:"initial_commands"`
}

// ClientConfig converts the section into a julius.Config.
func (j JuliusConfig) ClientConfig() julius.Config {
	cfg := julius.DefaultConfig()
	if j.Host != "" {
		cfg.Host = j.Host
	}
	if j.Port > 0 {
		cfg.Port = j.Port
	}
	if j.Encoding != "" {
		cfg.Encoding = j.Encoding
	}
	cfg.Modelize = j.Modelize
	if j.PollIntervalMs > 0 {
		cfg.PollInterval = time.Duration(j.PollIntervalMs) * time.Millisecond
	}
	if j.SendTimeoutMs > 0 {
		cfg.SendTimeout = time.Duration(j.SendTimeoutMs) * time.Millisecond
	}
	if j.DialTimeoutMs > 0 {
		cfg.DialTimeout = time.Duration(j.DialTimeoutMs) * time.Millisecond
	}
	return cfg
}

// HistoryConfig controls the recognition history store.
type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Dir     string `mapstructure:"dir" yaml:"dir"`
	Engine  string `mapstructure:"engine" yaml:"engine"`
}

// BusConfig controls NATS publishing.
type BusConfig struct {
	Enabled          bool     `mapstructure:"enabled" yaml:"enabled"`
	Servers          []string `mapstructure:"servers" yaml:"servers"`
	SubjectPrefix    string   `mapstructure:"subject_prefix" yaml:"subject_prefix"`
	ConnectTimeoutMs int      `mapstructure:"connect_timeout_ms" yaml:"connect_timeout_ms"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// Config is the full bridge configuration.
type Config struct {
	RootDir      string        `mapstructure:"-" yaml:"-"`
	HTTPAddr     string        `mapstructure:"http_addr" yaml:"http_addr"`
	SystemConfig SystemConfig  `mapstructure:"system_config" yaml:"system_config"`
	Julius       JuliusConfig  `mapstructure:"julius" yaml:"julius"`
	History      HistoryConfig `mapstructure:"history" yaml:"history"`
	Bus          BusConfig     `mapstructure:"bus" yaml:"bus"`
	Metrics      MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
	PresetsPath  string        `mapstructure:"presets_path" yaml:"presets_path"`
	Log          logger.Config `mapstructure:"log" yaml:"log"`
}

// Load reads the embedded defaults, then conf.yaml from the resolved root
// directory when present, then JBRIDGE_* environment variables.
func Load() (Config, error) {
	rootDir, err := resolveRootDir()
	if err != nil {
		return Config{}, err
	}

	v, err := newViper()
	if err != nil {
		return Config{}, err
	}
	v.SetConfigName("conf")
	v.AddConfigPath(rootDir)
	if err := v.MergeInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, err
		}
	}
	return finish(v, rootDir)
}

// LoadConfig is Load with an explicit configuration file. The root directory
// is the file's directory, or its parent when the file lives in config/.
func LoadConfig(configPath string) (Config, error) {
	path := strings.TrimSpace(configPath)
	if path == "" {
		return Load()
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return Config{}, err
	}

	rootDir := strings.TrimSpace(os.Getenv(rootDirEnv))
	if rootDir == "" {
		rootDir = filepath.Dir(absPath)
		if filepath.Base(rootDir) == "config" {
			rootDir = filepath.Dir(rootDir)
		}
	}

	v, err := newViper()
	if err != nil {
		return Config{}, err
	}
	v.SetConfigFile(absPath)
	if err := v.MergeInConfig(); err != nil {
		return Config{}, err
	}
	return finish(v, rootDir)
}

func newViper() (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(appdefaults.Default)); err != nil {
		return nil, fmt.Errorf("load embedded config: %w", err)
	}

	v.SetDefault("http_addr", "")
	v.SetDefault("julius.host", julius.DefaultHost)
	v.SetDefault("julius.port", julius.DefaultPort)
	v.SetDefault("julius.modelize", true)
	v.SetDefault("julius.reconnect_mode", ReconnectAuto)
	v.SetDefault("history.engine", "default")
	v.SetDefault("bus.subject_prefix", "julius")
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.stdout", true)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v, nil
}

func finish(v *viper.Viper, rootDir string) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	// AutomaticEnv does not split lists.
	if raw := strings.TrimSpace(os.Getenv("JBRIDGE_BUS_SERVERS")); raw != "" {
		cfg.Bus.Servers = splitList(raw)
	}
	if raw := strings.TrimSpace(os.Getenv("JBRIDGE_JULIUS_INITIAL_COMMANDS")); raw != "" {
		cfg.Julius.InitialCommands = splitList(raw)
	}

	cfg.RootDir = rootDir
	deriveHTTPAddr(&cfg)
	derivePaths(&cfg)
	if err := validate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg *Config) error {
	cfg.Julius.ReconnectMode = strings.ToLower(strings.TrimSpace(cfg.Julius.ReconnectMode))
	switch cfg.Julius.ReconnectMode {
	case ReconnectAuto, ReconnectManual:
	case "":
		cfg.Julius.ReconnectMode = ReconnectAuto
	default:
		return fmt.Errorf("julius.reconnect_mode: unknown mode %q", cfg.Julius.ReconnectMode)
	}
	if cfg.Julius.Port < 0 || cfg.Julius.Port > 65535 {
		return fmt.Errorf("julius.port: %d out of range", cfg.Julius.Port)
	}
	if !strings.HasPrefix(cfg.Metrics.Path, "/") {
		cfg.Metrics.Path = "/" + cfg.Metrics.Path
	}
	if cfg.History.Engine == "" {
		cfg.History.Engine = "default"
	}
	return nil
}

func deriveHTTPAddr(cfg *Config) {
	if cfg.HTTPAddr != "" {
		return
	}
	host := cfg.SystemConfig.Host
	port := cfg.SystemConfig.Port
	if port == 0 {
		port = defaultPort
	}
	if host == "" {
		cfg.HTTPAddr = fmt.Sprintf(":%d", port)
		return
	}
	cfg.HTTPAddr = net.JoinHostPort(host, strconv.Itoa(port))
}

func resolveRootDir() (string, error) {
	if root := strings.TrimSpace(os.Getenv(rootDirEnv)); root != "" {
		return filepath.Abs(root)
	}

	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}

	dir := wd
	for i := 0; i < 6; i++ {
		if fileExists(filepath.Join(dir, "conf.yaml")) {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return wd, nil
}

func derivePaths(cfg *Config) {
	cfg.History.Dir = resolvePath(cfg.RootDir, cfg.History.Dir, filepath.Join("data", "history"))
	cfg.PresetsPath = resolvePath(cfg.RootDir, cfg.PresetsPath, filepath.Join("config", "commands.yaml"))
	if cfg.Log.File.Path != "" && !filepath.IsAbs(cfg.Log.File.Path) {
		cfg.Log.File.Path = filepath.Join(cfg.RootDir, cfg.Log.File.Path)
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func resolvePath(rootDir string, configured string, fallback string) string {
	path := strings.TrimSpace(configured)
	if path == "" {
		path = fallback
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(rootDir, path)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
