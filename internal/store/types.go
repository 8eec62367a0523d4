package store

// Preferences holds the user's paper discovery preferences.
type Preferences struct {
	Interests []string `json:"interests"`
	// Categories are arXiv category identifiers (cs.AI, math.CO, ...)
	Categories []string `json:"categories"`
	Language   string   `json:"language"`
	MaxPapers  int      `json:"maxPapers"`
	MinScore   float64  `json:"minScore"`
}

// ConnectivitySettings holds the remote sync server settings.
type ConnectivitySettings struct {
	ServerURL string `json:"serverUrl"`
	Username  string `json:"username"`
	Secret    string `json:"secret,omitempty"` // omitempty for redaction
	// UseRelay selects the proxied transport. nil means enabled.
	UseRelay *bool `json:"useRelay,omitempty"`
}

// FavoriteCategory is a user-defined grouping for saved papers.
type FavoriteCategory struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Color     string `json:"color,omitempty"`
	CreatedAt int64  `json:"created_at"`
}

// FavoritePaper is a saved paper reference.
type FavoritePaper struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Authors     []string `json:"authors"`
	Summary     string   `json:"summary,omitempty"`
	CategoryIDs []string `json:"category_ids,omitempty"`
	ArxivURL    string   `json:"arxiv_url,omitempty"`
	SavedAt     int64    `json:"saved_at"`
}
