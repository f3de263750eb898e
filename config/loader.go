package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/kbukum/brokersec/logger"
)

// FileSystem abstracts file lookups so tests can fake them.
type FileSystem interface {
	Exists(path string) bool
	LoadEnv(path string) error
}

// RealFileSystem is the OS-backed FileSystem.
type RealFileSystem struct{}

// Exists reports whether path exists.
func (RealFileSystem) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// LoadEnv loads a .env file into the process environment. Variables
// already set are not overridden.
func (RealFileSystem) LoadEnv(path string) error {
	return godotenv.Load(path)
}

// FileResolver locates the config and .env files for a service.
type FileResolver struct {
	FileSystem FileSystem
}

// ResolvedFiles holds the files chosen by FileResolver. Empty means none.
type ResolvedFiles struct {
	ConfigFile string
	EnvFile    string
}

// ResolveFiles returns explicit overrides from opts, or searches the
// standard locations.
func (r *FileResolver) ResolveFiles(serviceName string, opts LoaderConfig) ResolvedFiles {
	resolved := ResolvedFiles{
		ConfigFile: opts.ConfigFile,
		EnvFile:    opts.EnvFile,
	}
	if resolved.ConfigFile == "" {
		resolved.ConfigFile = r.first(configSearchPaths(serviceName))
	}
	if resolved.EnvFile == "" {
		resolved.EnvFile = r.first(envSearchPaths(serviceName))
	}
	return resolved
}

func (r *FileResolver) first(paths []string) string {
	for _, p := range paths {
		if r.FileSystem.Exists(p) {
			return p
		}
	}
	return ""
}

func configSearchPaths(serviceName string) []string {
	return []string{
		filepath.Join("cmd", serviceName, "config.yml"),
		filepath.Join("config", serviceName+".yml"),
		filepath.Join("config", "config.yml"),
		"config.yml",
		filepath.Join("/etc", serviceName, "config.yml"),
	}
}

func envSearchPaths(serviceName string) []string {
	return []string{
		filepath.Join("cmd", serviceName, ".env"),
		".env." + serviceName,
		".env",
	}
}

// LoaderConfig holds dependencies and optional file overrides.
type LoaderConfig struct {
	FileSystem FileSystem
	ConfigFile string
	EnvFile    string
	// EnvPrefix restricts environment overrides to variables starting with
	// PREFIX_; the prefix is stripped before binding.
	EnvPrefix string
}

// LoaderOption is a functional option for LoadConfig.
type LoaderOption func(*LoaderConfig)

// WithFileSystem overrides the file system, for tests.
func WithFileSystem(fs FileSystem) LoaderOption {
	return func(lc *LoaderConfig) { lc.FileSystem = fs }
}

// WithConfigFile loads this config file instead of searching.
func WithConfigFile(path string) LoaderOption {
	return func(lc *LoaderConfig) { lc.ConfigFile = path }
}

// WithEnvFile loads this .env file instead of searching.
func WithEnvFile(path string) LoaderOption {
	return func(lc *LoaderConfig) { lc.EnvFile = path }
}

// WithEnvPrefix binds only environment variables named PREFIX_*.
func WithEnvPrefix(prefix string) LoaderOption {
	return func(lc *LoaderConfig) { lc.EnvPrefix = strings.ToUpper(strings.TrimSuffix(prefix, "_")) }
}

// LoadConfig loads configuration for serviceName into cfg.
//
// The YAML config file is read first, then a .env file is loaded into the
// environment, then environment variables override file values:
// BROKERSEC_ADMIN_PORT sets admin.port when the prefix is BROKERSEC.
func LoadConfig(serviceName string, cfg interface{}, opts ...LoaderOption) error {
	var lc LoaderConfig
	for _, opt := range opts {
		opt(&lc)
	}
	if lc.FileSystem == nil {
		lc.FileSystem = RealFileSystem{}
	}

	resolver := &FileResolver{FileSystem: lc.FileSystem}
	files := resolver.ResolveFiles(serviceName, lc)
	return loadFromResolvedFiles(serviceName, cfg, files, lc)
}

// Validatable is implemented by config structs.
type Validatable interface {
	ApplyDefaults()
	Validate() error
}

// Load loads, defaults and validates a config of type T.
func Load[T any, PT interface {
	*T
	Validatable
}](serviceName string, opts ...LoaderOption) (*T, error) {
	cfg := new(T)
	if err := LoadConfig(serviceName, cfg, opts...); err != nil {
		return nil, err
	}
	PT(cfg).ApplyDefaults()
	if err := PT(cfg).Validate(); err != nil {
		return nil, fmt.Errorf("invalid config for service %s: %w", serviceName, err)
	}
	return cfg, nil
}

func loadFromResolvedFiles(serviceName string, cfg interface{}, files ResolvedFiles, lc LoaderConfig) error {
	v := viper.New()
	log := logger.Get("config")

	if files.ConfigFile != "" && lc.FileSystem.Exists(files.ConfigFile) {
		v.SetConfigFile(files.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", files.ConfigFile, err)
		}
		log.Debug("config file loaded", logger.Fields("file", files.ConfigFile))
	}

	if files.EnvFile != "" && lc.FileSystem.Exists(files.EnvFile) {
		if err := lc.FileSystem.LoadEnv(files.EnvFile); err != nil {
			log.Warn("failed to load .env file", logger.Fields("file", files.EnvFile, logger.FieldError, err.Error()))
		}
	}
	bindEnvVars(v, lc.EnvPrefix)

	if err := v.Unmarshal(cfg); err != nil {
		return fmt.Errorf("failed to unmarshal config for service %s: %w", serviceName, err)
	}
	return nil
}

// bindEnvVars sets every key variant of each matching environment variable,
// since an underscore may separate nesting levels or be part of a key.
func bindEnvVars(v *viper.Viper, prefix string) {
	for _, env := range os.Environ() {
		key, value, ok := strings.Cut(env, "=")
		if !ok {
			continue
		}
		if prefix != "" {
			rest, found := strings.CutPrefix(key, prefix+"_")
			if !found || rest == "" {
				continue
			}
			key = rest
		}
		for _, variant := range generateEnvKeyVariants(key) {
			v.Set(variant, value)
		}
	}
}

// generateEnvKeyVariants creates the possible nested keys for an
// environment variable.
//
//	ADMIN_PORT -> [admin_port, admin.port]
//	NEGOTIATION_MAX_ROUNDS -> [negotiation_max_rounds, negotiation.max.rounds, negotiation.max_rounds, negotiation_max.rounds]
func generateEnvKeyVariants(envKey string) []string {
	lowerKey := strings.ToLower(envKey)
	parts := strings.Split(lowerKey, "_")
	if len(parts) <= 1 {
		return []string{lowerKey}
	}

	variants := []string{
		lowerKey,
		strings.ReplaceAll(lowerKey, "_", "."),
	}
	for i := 1; i < len(parts); i++ {
		prefix := strings.Join(parts[:i], ".")
		suffix := strings.Join(parts[i:], "_")
		variants = append(variants, prefix+"."+suffix)
	}
	for i := 1; i < len(parts)-1; i++ {
		prefix := strings.Join(parts[:i+1], "_")
		suffix := strings.Join(parts[i+1:], ".")
		variants = append(variants, prefix+"."+suffix)
	}
	return removeDuplicates(variants)
}

func removeDuplicates(items []string) []string {
	seen := make(map[string]bool, len(items))
	result := make([]string, 0, len(items))
	for _, item := range items {
		if !seen[item] {
			seen[item] = true
			result = append(result, item)
		}
	}
	return result
}
