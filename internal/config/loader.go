package config

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/BurntSushi/toml"
)

// LoaderOptions controls how configuration is loaded.
type LoaderOptions struct {
	// ConfigPath is the path to a TOML config file (optional).
	// If provided but file is missing or invalid, loading fails.
	ConfigPath string

	// FlagOverrides are CLI flag values that override config file values.
	FlagOverrides FlagOverrides

	// Logger is used for warning messages (e.g., undecoded keys).
	// If nil, slog.Default() is used.
	Logger *slog.Logger
}

// FlagOverrides holds CLI flag values that override config file values.
type FlagOverrides struct {
	ListenAddr     *string
	ExternalOrigin *string
	DataDir        *string
	StoreDriver    *string
	TLSMode        *string
	SSRFMode       *string
	RelayWebDAV    *string // "true", "false", or "" (unset)
	RelayLLM       *string // "true", "false", or "" (unset)
	AdminUsername  *string
	AdminPassword  *string
	LoggingLevel   *string
}

// fileConfig mirrors Config but with pointer sections to detect presence.
type fileConfig struct {
	ExternalOrigin string `toml:"external_origin"`
	ListenAddr     string `toml:"listen_addr"`
	DataDir        string `toml:"data_dir"`

	Store        *StoreConfig        `toml:"store"`
	TLS          *TLSConfig          `toml:"tls"`
	OutboundHTTP *OutboundHTTPConfig `toml:"outbound_http"`
	Relay        *RelayConfig        `toml:"relay"`
	Sync         *SyncConfig         `toml:"sync"`
	ArXiv        *ArXivConfig        `toml:"arxiv"`
	Admin        *AdminConfig        `toml:"admin"`
	Logging      *LoggingConfig      `toml:"logging"`
}

// Load loads configuration with the following precedence:
//  1. Start from defaults
//  2. Overlay TOML config file values
//  3. Overlay CLI flags
//  4. Validate enum fields
//
// If ConfigPath is provided but the file is missing, unreadable, or invalid TOML,
// Load returns an error (fail fast). Unknown/undecoded TOML keys produce a warning
// but do not fail the load.
func Load(opts LoaderOptions) (*Config, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cfg := DefaultConfig()

	if opts.ConfigPath != "" {
		var fc fileConfig
		data, err := os.ReadFile(opts.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", opts.ConfigPath, err)
		}
		md, err := toml.Decode(string(data), &fc)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", opts.ConfigPath, err)
		}

		// Warn about undecoded keys (do not fail)
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			logger.Warn("config file contains undecoded keys", "path", opts.ConfigPath, "keys", keys)
		}

		overlayFileConfig(cfg, &fc)
	}

	overlayFlags(cfg, opts.FlagOverrides)

	if err := validateEnums(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func overlayFileConfig(cfg *Config, fc *fileConfig) {
	if fc.ExternalOrigin != "" {
		cfg.ExternalOrigin = fc.ExternalOrigin
	}
	if fc.ListenAddr != "" {
		cfg.ListenAddr = fc.ListenAddr
	}
	if fc.DataDir != "" {
		cfg.DataDir = fc.DataDir
	}

	if fc.Store != nil {
		if fc.Store.Driver != "" {
			cfg.Store.Driver = fc.Store.Driver
		}
	}

	if fc.TLS != nil {
		if fc.TLS.Mode != "" {
			cfg.TLS.Mode = fc.TLS.Mode
		}
		if fc.TLS.CertFile != "" {
			cfg.TLS.CertFile = fc.TLS.CertFile
		}
		if fc.TLS.KeyFile != "" {
			cfg.TLS.KeyFile = fc.TLS.KeyFile
		}
		if fc.TLS.SelfSignedDir != "" {
			cfg.TLS.SelfSignedDir = fc.TLS.SelfSignedDir
		}
	}

	if fc.OutboundHTTP != nil {
		if fc.OutboundHTTP.SSRFMode != "" {
			cfg.OutboundHTTP.SSRFMode = fc.OutboundHTTP.SSRFMode
		}
		if fc.OutboundHTTP.TimeoutMS != 0 {
			cfg.OutboundHTTP.TimeoutMS = fc.OutboundHTTP.TimeoutMS
		}
		if fc.OutboundHTTP.ConnectTimeoutMS != 0 {
			cfg.OutboundHTTP.ConnectTimeoutMS = fc.OutboundHTTP.ConnectTimeoutMS
		}
		if fc.OutboundHTTP.MaxRedirects != 0 {
			cfg.OutboundHTTP.MaxRedirects = fc.OutboundHTTP.MaxRedirects
		}
		if fc.OutboundHTTP.MaxResponseBytes != 0 {
			cfg.OutboundHTTP.MaxResponseBytes = fc.OutboundHTTP.MaxResponseBytes
		}
		if fc.OutboundHTTP.InsecureSkipVerify {
			cfg.OutboundHTTP.InsecureSkipVerify = true
		}
	}

	if fc.Relay != nil {
		if fc.Relay.WebDAVEnabled != nil {
			cfg.Relay.WebDAVEnabled = fc.Relay.WebDAVEnabled
		}
		if fc.Relay.LLMEnabled != nil {
			cfg.Relay.LLMEnabled = fc.Relay.LLMEnabled
		}
		if fc.Relay.LLMUpstreamURL != "" {
			cfg.Relay.LLMUpstreamURL = fc.Relay.LLMUpstreamURL
		}
		if fc.Relay.LLMAPIKey != "" {
			cfg.Relay.LLMAPIKey = fc.Relay.LLMAPIKey
		}
		if fc.Relay.MaxBodyBytes != 0 {
			cfg.Relay.MaxBodyBytes = fc.Relay.MaxBodyBytes
		}
	}

	if fc.Sync != nil {
		if fc.Sync.AppDir != "" {
			cfg.Sync.AppDir = fc.Sync.AppDir
		}
		if fc.Sync.BackupPrefix != "" {
			cfg.Sync.BackupPrefix = fc.Sync.BackupPrefix
		}
		if fc.Sync.RelayURL != "" {
			cfg.Sync.RelayURL = fc.Sync.RelayURL
		}
	}

	if fc.ArXiv != nil {
		if fc.ArXiv.BaseURL != "" {
			cfg.ArXiv.BaseURL = fc.ArXiv.BaseURL
		}
		if fc.ArXiv.MaxResults != 0 {
			cfg.ArXiv.MaxResults = fc.ArXiv.MaxResults
		}
		if fc.ArXiv.CacheTTLSeconds != 0 {
			cfg.ArXiv.CacheTTLSeconds = fc.ArXiv.CacheTTLSeconds
		}
	}

	if fc.Admin != nil {
		if fc.Admin.Username != "" {
			cfg.Admin.Username = fc.Admin.Username
		}
		if fc.Admin.Password != "" {
			cfg.Admin.Password = fc.Admin.Password
		}
	}

	if fc.Logging != nil {
		if fc.Logging.Level != "" {
			cfg.Logging.Level = fc.Logging.Level
		}
	}
}

func overlayFlags(cfg *Config, f FlagOverrides) {
	if f.ListenAddr != nil && *f.ListenAddr != "" {
		cfg.ListenAddr = *f.ListenAddr
	}
	if f.ExternalOrigin != nil && *f.ExternalOrigin != "" {
		cfg.ExternalOrigin = *f.ExternalOrigin
	}
	if f.DataDir != nil && *f.DataDir != "" {
		cfg.DataDir = *f.DataDir
	}
	if f.StoreDriver != nil && *f.StoreDriver != "" {
		cfg.Store.Driver = *f.StoreDriver
	}
	if f.TLSMode != nil && *f.TLSMode != "" {
		cfg.TLS.Mode = *f.TLSMode
	}
	if f.SSRFMode != nil && *f.SSRFMode != "" {
		cfg.OutboundHTTP.SSRFMode = *f.SSRFMode
	}
	if f.RelayWebDAV != nil && *f.RelayWebDAV != "" {
		// Parse "true" or "false" string (only apply when explicitly set)
		v := *f.RelayWebDAV == "true"
		cfg.Relay.WebDAVEnabled = &v
	}
	if f.RelayLLM != nil && *f.RelayLLM != "" {
		v := *f.RelayLLM == "true"
		cfg.Relay.LLMEnabled = &v
	}
	if f.AdminUsername != nil && *f.AdminUsername != "" {
		cfg.Admin.Username = *f.AdminUsername
	}
	if f.AdminPassword != nil && *f.AdminPassword != "" {
		cfg.Admin.Password = *f.AdminPassword
	}
	if f.LoggingLevel != nil && *f.LoggingLevel != "" {
		cfg.Logging.Level = *f.LoggingLevel
	}
}

// validateEnums validates enum-like config fields and returns an error for invalid values.
func validateEnums(cfg *Config) error {
	switch cfg.Store.Driver {
	case "json", "sqlite":
		// valid
	default:
		return fmt.Errorf("invalid store.driver %q: must be one of json, sqlite", cfg.Store.Driver)
	}

	switch cfg.TLS.Mode {
	case "off", "static", "selfsigned":
		// valid
	default:
		return fmt.Errorf("invalid tls.mode %q: must be one of off, static, selfsigned", cfg.TLS.Mode)
	}

	switch cfg.OutboundHTTP.SSRFMode {
	case "strict", "off":
		// valid
	default:
		return fmt.Errorf("invalid outbound_http.ssrf_mode %q: must be one of strict, off", cfg.OutboundHTTP.SSRFMode)
	}

	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return fmt.Errorf("invalid logging.level %q: must be one of debug, info, warn, error", cfg.Logging.Level)
	}

	return nil
}
