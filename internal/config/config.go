// Package config provides configuration loading and validation.
package config

// Config holds the server configuration.
type Config struct {
	// ExternalOrigin is the public origin (scheme + host + port) for this instance.
	// Example: "http://localhost:8480"
	ExternalOrigin string `toml:"external_origin"`

	// ListenAddr is the address to listen on.
	// Example: ":8480"
	ListenAddr string `toml:"listen_addr"`

	// DataDir is the base directory for local persistence.
	DataDir string `toml:"data_dir"`

	// Store selects and configures the local persistence driver.
	Store StoreConfig `toml:"store"`

	// TLS configuration.
	TLS TLSConfig `toml:"tls"`

	// OutboundHTTP holds settings for outbound HTTP requests
	// (WebDAV origins, the relay forwarder, and the ArXiv API).
	OutboundHTTP OutboundHTTPConfig `toml:"outbound_http"`

	// Relay holds the server-side relay settings (admin flags per kind).
	Relay RelayConfig `toml:"relay"`

	// Sync holds remote-backup settings.
	Sync SyncConfig `toml:"sync"`

	// ArXiv holds settings for the paper search collaborator.
	ArXiv ArXivConfig `toml:"arxiv"`

	// Admin holds bootstrap admin credentials for administrative endpoints.
	Admin AdminConfig `toml:"admin"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging"`
}

// StoreConfig selects the persistence driver.
type StoreConfig struct {
	// Driver is one of: json, sqlite
	Driver string `toml:"driver"`

	// Drivers holds per-driver option tables, keyed by driver name.
	Drivers map[string]map[string]any `toml:"drivers"`
}

// TLSConfig holds TLS-related settings.
type TLSConfig struct {
	// Mode is one of: off, static, selfsigned
	Mode string `toml:"mode"`

	// CertFile and KeyFile for static mode
	CertFile string `toml:"cert_file"`
	KeyFile  string `toml:"key_file"`

	// SelfSignedDir is where generated certificates are stored.
	SelfSignedDir string `toml:"self_signed_dir"`
}

// OutboundHTTPConfig holds settings for outbound HTTP requests.
type OutboundHTTPConfig struct {
	// SSRFMode is one of: strict, off
	SSRFMode string `toml:"ssrf_mode"`

	// TimeoutMS is the overall request timeout in milliseconds
	TimeoutMS int `toml:"timeout_ms"`

	// ConnectTimeoutMS is the connection timeout in milliseconds
	ConnectTimeoutMS int `toml:"connect_timeout_ms"`

	// MaxRedirects is the maximum number of redirects to follow
	MaxRedirects int `toml:"max_redirects"`

	// MaxResponseBytes is the maximum response body size
	MaxResponseBytes int64 `toml:"max_response_bytes"`

	// InsecureSkipVerify disables TLS verification (dev-only)
	InsecureSkipVerify bool `toml:"insecure_skip_verify"`
}

// RelayConfig holds the administrative relay flags and relay limits.
// The flags gate whether the server will perform relayed WebDAV operations
// and relayed LLM analysis calls on behalf of clients.
type RelayConfig struct {
	// WebDAVEnabled gates the WebDAV relay endpoint. Nil means enabled.
	WebDAVEnabled *bool `toml:"webdav_enabled"`

	// LLMEnabled gates the LLM relay endpoint. Nil means enabled.
	LLMEnabled *bool `toml:"llm_enabled"`

	// LLMUpstreamURL is the upstream analysis endpoint the LLM relay forwards to.
	LLMUpstreamURL string `toml:"llm_upstream_url"`

	// LLMAPIKey is attached as a bearer credential on relayed LLM calls.
	LLMAPIKey string `toml:"llm_api_key"`

	// MaxBodyBytes bounds relay request bodies.
	MaxBodyBytes int64 `toml:"max_body_bytes"`
}

// SyncConfig holds remote-backup settings.
type SyncConfig struct {
	// AppDir is the fixed subdirectory under the WebDAV root where all
	// reads and writes are confined. Always stored with a trailing slash.
	AppDir string `toml:"app_dir"`

	// BackupPrefix is the backup filename prefix; files are named
	// <prefix>-YYYY-MM-DD.json.
	BackupPrefix string `toml:"backup_prefix"`

	// RelayURL is the relay endpoint used by relay-mode WebDAV transports.
	// Empty means "own origin" (ExternalOrigin + /api/relay/webdav).
	RelayURL string `toml:"relay_url"`
}

// ArXivConfig holds settings for the ArXiv search collaborator.
type ArXivConfig struct {
	// BaseURL is the ArXiv API query endpoint.
	BaseURL string `toml:"base_url"`

	// MaxResults caps results per search.
	MaxResults int `toml:"max_results"`

	// CacheTTLSeconds is how long search results are cached.
	CacheTTLSeconds int `toml:"cache_ttl_seconds"`
}

// AdminConfig holds bootstrap admin credentials.
type AdminConfig struct {
	Username string `toml:"username"`
	Password string `toml:"password"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is one of: debug, info, warn, error
	Level string `toml:"level"`
}

// WebDAVRelayEnabled reports the administrative WebDAV relay flag (default true).
func (c *RelayConfig) WebDAVRelayEnabled() bool {
	return c.WebDAVEnabled == nil || *c.WebDAVEnabled
}

// LLMRelayEnabled reports the administrative LLM relay flag (default true).
func (c *RelayConfig) LLMRelayEnabled() bool {
	return c.LLMEnabled == nil || *c.LLMEnabled
}

// DefaultConfig returns a Config with sensible defaults for local use.
func DefaultConfig() *Config {
	return &Config{
		ExternalOrigin: "http://localhost:8480",
		ListenAddr:     ":8480",
		DataDir:        ".papersync",
		Store: StoreConfig{
			Driver: "json",
		},
		TLS: TLSConfig{
			Mode:          "off",
			SelfSignedDir: ".papersync/certs",
		},
		OutboundHTTP: OutboundHTTPConfig{
			SSRFMode:           "off",
			TimeoutMS:          10000,
			ConnectTimeoutMS:   2000,
			MaxRedirects:       3,
			MaxResponseBytes:   8388608,
			InsecureSkipVerify: false,
		},
		Relay: RelayConfig{
			MaxBodyBytes: 8388608,
		},
		Sync: SyncConfig{
			AppDir:       "paper-assistant/",
			BackupPrefix: "paper-config",
		},
		ArXiv: ArXivConfig{
			BaseURL:         "https://export.arxiv.org/api/query",
			MaxResults:      50,
			CacheTTLSeconds: 900,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Redacted returns a copy of the config safe for logging.
// Secrets are replaced with a placeholder when set.
func (c *Config) Redacted() *Config {
	out := *c
	if out.Relay.LLMAPIKey != "" {
		out.Relay.LLMAPIKey = "[redacted]"
	}
	if out.Admin.Password != "" {
		out.Admin.Password = "[redacted]"
	}
	return &out
}
