package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// LoadConfig reads, parses, defaults and validates the configuration file at path.
// The format is chosen by extension (.json, .toml, .yaml, .yml); any other
// extension is auto-detected by trying JSON, TOML and YAML in that order.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, &ConfigError{Message: "configuration file path cannot be empty"}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{FilePath: path, Message: "failed to read configuration file", Err: err}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &ConfigError{FilePath: path, Message: "configuration file is empty"}
	}

	cfg := &Config{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := decodeJSON(data, cfg); err != nil {
			return nil, &ConfigError{FilePath: path, Message: "failed to parse JSON config", Err: err}
		}
	case ".toml":
		if err := decodeTOML(data, cfg); err != nil {
			return nil, &ConfigError{FilePath: path, Message: "failed to parse TOML config", Err: err}
		}
	case ".yaml", ".yml":
		if err := decodeYAML(data, cfg); err != nil {
			return nil, &ConfigError{FilePath: path, Message: "failed to parse YAML config", Err: err}
		}
	default:
		cfg, err = autoDetect(data)
		if err != nil {
			return nil, &ConfigError{FilePath: path, Message: "failed to auto-detect and parse config", Err: err}
		}
	}

	cfg.originalFilePath = path
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, &ConfigError{FilePath: path, Message: "invalid configuration", Err: err}
	}
	return cfg, nil
}

func autoDetect(data []byte) (*Config, error) {
	jsonCfg := &Config{}
	jsonErr := decodeJSON(data, jsonCfg)
	if jsonErr == nil {
		return jsonCfg, nil
	}
	tomlCfg := &Config{}
	tomlErr := decodeTOML(data, tomlCfg)
	if tomlErr == nil {
		return tomlCfg, nil
	}
	yamlCfg := &Config{}
	yamlErr := decodeYAML(data, yamlCfg)
	if yamlErr == nil {
		return yamlCfg, nil
	}
	return nil, fmt.Errorf("JSON error: %v; TOML error: %v; YAML error: %v", jsonErr, tomlErr, yamlErr)
}

func decodeJSON(data []byte, cfg *Config) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(cfg)
}

func decodeTOML(data []byte, cfg *Config) error {
	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
	}
	return nil
}

func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	return dec.Decode(cfg)
}

// Default returns a fully defaulted in-memory configuration.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills every unset field of cfg with its default value.
func ApplyDefaults(cfg *Config) {
	if cfg.Server == nil {
		cfg.Server = &ServerConfig{}
	}
	if cfg.Server.Address == nil {
		addr := net.JoinHostPort(DefaultHost, DefaultPort)
		cfg.Server.Address = &addr
	}
	if cfg.Server.MaxConnections == nil {
		zero := 0
		cfg.Server.MaxConnections = &zero
	}
	if cfg.Server.GracefulShutdownTimeout == nil {
		cfg.Server.GracefulShutdownTimeout = NewDuration(DefaultGracefulShutdownTimeout)
	}

	if cfg.Static == nil {
		cfg.Static = &StaticFileServerConfig{}
	}
	if cfg.Static.DocumentRoot == "" {
		cfg.Static.DocumentRoot = DefaultDocumentRoot
	}
	if cfg.Static.ShowFileSizes == nil {
		f := false
		cfg.Static.ShowFileSizes = &f
	}

	if cfg.Logging == nil {
		cfg.Logging = &LoggingConfig{}
	}
	if cfg.Logging.LogLevel == "" {
		cfg.Logging.LogLevel = LogLevelInfo
	}
	// An absent access_log section means access logging is off; a present
	// section without "enabled" means on.
	if cfg.Logging.AccessLog == nil {
		off := false
		cfg.Logging.AccessLog = &AccessLogConfig{Enabled: &off}
	}
	if cfg.Logging.AccessLog.Enabled == nil {
		on := true
		cfg.Logging.AccessLog.Enabled = &on
	}
	if cfg.Logging.AccessLog.Target == "" {
		cfg.Logging.AccessLog.Target = "stdout"
	}
	if cfg.Logging.AccessLog.Format == "" {
		cfg.Logging.AccessLog.Format = LogFormatJSON
	}
	if cfg.Logging.ErrorLog == nil {
		cfg.Logging.ErrorLog = &ErrorLogConfig{}
	}
	if cfg.Logging.ErrorLog.Target == "" {
		cfg.Logging.ErrorLog.Target = "stderr"
	}
	if cfg.Logging.ErrorLog.Format == "" {
		cfg.Logging.ErrorLog.Format = LogFormatJSON
	}
}

// Validate checks a defaulted configuration.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration cannot be nil")
	}
	if cfg.Server == nil || cfg.Server.Address == nil {
		return fmt.Errorf("server.address is not set")
	}
	_, port, err := net.SplitHostPort(*cfg.Server.Address)
	if err != nil {
		return fmt.Errorf("server.address %q is not a valid host:port: %w", *cfg.Server.Address, err)
	}
	if port == "" {
		return fmt.Errorf("server.address %q has no port", *cfg.Server.Address)
	}
	if cfg.Server.MaxConnections != nil && *cfg.Server.MaxConnections < 0 {
		return fmt.Errorf("server.max_connections must not be negative, got %d", *cfg.Server.MaxConnections)
	}

	if cfg.Static == nil || cfg.Static.DocumentRoot == "" {
		return fmt.Errorf("static.document_root is not set")
	}
	if err := validateMimeTypes(cfg.Static.MimeTypesMap); err != nil {
		return fmt.Errorf("static.mime_types: %w", err)
	}
	if cfg.Static.MimeTypesPath != nil && *cfg.Static.MimeTypesPath == "" {
		return fmt.Errorf("static.mime_types_path must not be empty when set")
	}

	if cfg.Logging == nil {
		return fmt.Errorf("logging section is not set")
	}
	switch cfg.Logging.LogLevel {
	case LogLevelDebug, LogLevelInfo, LogLevelWarning, LogLevelError:
	default:
		return fmt.Errorf("logging.log_level %q is invalid, must be one of DEBUG, INFO, WARNING, ERROR", cfg.Logging.LogLevel)
	}
	if al := cfg.Logging.AccessLog; al != nil {
		if err := validateTarget("logging.access_log.target", al.Target); err != nil {
			return err
		}
		if err := validateFormat("logging.access_log.format", al.Format); err != nil {
			return err
		}
	}
	if el := cfg.Logging.ErrorLog; el != nil {
		if err := validateTarget("logging.error_log.target", el.Target); err != nil {
			return err
		}
		if err := validateFormat("logging.error_log.format", el.Format); err != nil {
			return err
		}
	}
	return nil
}

func validateMimeTypes(m map[string]string) error {
	exts := make([]string, 0, len(m))
	for ext := range m {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	for _, ext := range exts {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("extension %q must start with a '.'", ext)
		}
		if m[ext] == "" {
			return fmt.Errorf("empty MIME type for extension %q", ext)
		}
	}
	return nil
}

func validateTarget(field, target string) error {
	if IsFilePath(target) && !filepath.IsAbs(target) {
		return fmt.Errorf("%s %q must be 'stdout', 'stderr' or an absolute file path", field, target)
	}
	return nil
}

func validateFormat(field, format string) error {
	if format != LogFormatJSON && format != LogFormatConsole {
		return fmt.Errorf("%s %q is invalid, must be %q or %q", field, format, LogFormatJSON, LogFormatConsole)
	}
	return nil
}

// ResolveStaticFileServerConfig returns a copy of sfs with the document root made
// absolute (relative to the working directory) and a relative MIME types path
// resolved against the directory of configFilePath.
func ResolveStaticFileServerConfig(sfs *StaticFileServerConfig, configFilePath string) (*StaticFileServerConfig, error) {
	if sfs == nil {
		return nil, fmt.Errorf("static file server configuration cannot be nil")
	}
	resolved := *sfs

	root, err := filepath.Abs(sfs.DocumentRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve document root %q: %w", sfs.DocumentRoot, err)
	}
	resolved.DocumentRoot = root

	if sfs.MimeTypesPath != nil && *sfs.MimeTypesPath != "" {
		p := *sfs.MimeTypesPath
		if !filepath.IsAbs(p) && configFilePath != "" {
			p = filepath.Join(filepath.Dir(configFilePath), p)
		}
		resolved.MimeTypesPath = &p
	}
	if sfs.MimeTypesMap != nil {
		resolved.MimeTypesMap = make(map[string]string, len(sfs.MimeTypesMap))
		for k, v := range sfs.MimeTypesMap {
			resolved.MimeTypesMap[k] = v
		}
	}
	return &resolved, nil
}
