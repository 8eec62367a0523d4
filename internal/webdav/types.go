// Package webdav implements dual-mode WebDAV connectivity: a direct
// transport that speaks to the origin server, a proxied transport that
// forwards operation descriptors through a trusted relay, and a smart
// client that selects between them.
package webdav

import "time"

// Mode identifies which transport a client is using.
type Mode string

const (
	ModeDirect Mode = "direct"
	ModeProxy  Mode = "proxy"
)

// ConnectivityConfig holds the remote server settings for WebDAV operations.
type ConnectivityConfig struct {
	ServerURL string `json:"serverUrl" mapstructure:"serverUrl"`
	Username  string `json:"username" mapstructure:"username"`
	Secret    string `json:"secret" mapstructure:"secret"`

	// UseRelay selects the proxied transport. nil means enabled.
	UseRelay *bool `json:"useRelay,omitempty" mapstructure:"useRelay"`
}

// RelayEnabled reports whether the proxied transport should be used.
// Defaults to true when unset.
func (c *ConnectivityConfig) RelayEnabled() bool {
	return c.UseRelay == nil || *c.UseRelay
}

// FileEntry describes one remote file from a directory listing.
// Directories are filtered out before entries reach callers.
type FileEntry struct {
	Name         string    `json:"name"`
	Path         string    `json:"path"`
	SizeBytes    int64     `json:"size_bytes"`
	LastModified time.Time `json:"last_modified"`
	IsDirectory  bool      `json:"-"`
}

// OperationResult is the structured outcome of any WebDAV operation.
// Expected negative outcomes (auth failure, not found, cross-origin)
// are returned here with Success=false, never as errors.
type OperationResult struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Details   string `json:"details,omitempty"`
	IsWarning bool   `json:"is_warning,omitempty"`

	// Content is set for downloads.
	Content string `json:"content,omitempty"`

	// Files is set for listings.
	Files []FileEntry `json:"files,omitempty"`
}

// DetectionResult is the outcome of probing both transports.
type DetectionResult struct {
	RecommendedMode Mode             `json:"recommended_mode"`
	Success         bool             `json:"success"`
	Recommendation  string           `json:"recommendation"`
	Direct          *OperationResult `json:"direct"`
	Proxy           *OperationResult `json:"proxy"`
}
