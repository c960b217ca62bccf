package templates

// SiteName is shown in page titles and the header.
const SiteName = "Peer Wiki"

// StatusView is the status bar state rendered into every page.
type StatusView struct {
	Token      string
	Connection string
	PeerLabel  string
	Connected  bool
	Notice     string
	NoticeKind string
	Revision   uint64
}

// WikiPageData contains the values for a rendered wiki page.
type WikiPageData struct {
	Slug     string
	HTML     string
	Exists   bool
	ShareURL string
	Status   StatusView
}

// HistoryEntryView is one row of the version list.
type HistoryEntryView struct {
	ID        string
	CreatedAt string
	PeerID    string
	Preview   string
}

// HistoryPageData bundles the version list of a page.
type HistoryPageData struct {
	Slug     string
	Versions []HistoryEntryView
	Status   StatusView
}

// DiffLineView is one line of a rendered diff.
type DiffLineView struct {
	Kind string
	Text string
}

// DiffPageData bundles the comparison between two versions.
type DiffPageData struct {
	Slug    string
	FromID  string
	ToLabel string
	Added   int
	Removed int
	Lines   []DiffLineView
	Status  StatusView
}

// SearchResultView represents an individual search result entry.
type SearchResultView struct {
	Slug        string
	URL         string
	SlugMatches []int
	Preview     string
}

// SearchPageData bundles template data for the search results page.
type SearchPageData struct {
	Query   string
	Results []SearchResultView
	Status  StatusView
}

// WikiEntryView is one wiki in the visited list.
type WikiEntryView struct {
	Token       string
	Name        string
	LastVisited string
	OpenURL     string
	Active      bool
}

// WikisPageData bundles the list of visited wikis.
type WikisPageData struct {
	Entries []WikiEntryView
	Status  StatusView
}

// ErrorPageData holds information for rendering an error view.
type ErrorPageData struct {
	StatusLabel string
	Message     string
}
