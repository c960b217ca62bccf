package wiki

import (
	"strings"
	"time"
)

// LocalPeerID marks versions written while the engine reports no peer identity.
const LocalPeerID = "local"

// DefaultSlug is the page shown when a path is empty.
const DefaultSlug = "home"

// Page is the live row of a wiki page. There is exactly one row per slug.
type Page struct {
	Slug      string    `gorm:"primaryKey;size:255;not null"`
	Content   string    `gorm:"type:text;not null;default:''"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime:false"`
}

// TableName defines the table name for the Page model.
func (Page) TableName() string {
	return "pages"
}

// PageVersion is an immutable snapshot written by an explicit save.
type PageVersion struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	Slug      string    `gorm:"size:255;not null;index:idx_page_versions_slug_created,priority:1" json:"slug"`
	Content   string    `gorm:"type:text;not null;default:''" json:"content"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime:false;index:idx_page_versions_slug_created,priority:2" json:"createdAt"`
	PeerID    string    `gorm:"size:255;not null;default:'local'" json:"peerId"`
}

// TableName defines the table name for the PageVersion model.
func (PageVersion) TableName() string {
	return "page_versions"
}

// Image is an uploaded image stored as a base64 data URL. Pages reference it
// through the short form img:<id>.
type Image struct {
	ID        string    `gorm:"primaryKey;size:32"`
	Data      string    `gorm:"type:text;not null"`
	MimeType  string    `gorm:"size:255;not null"`
	Name      string    `gorm:"size:255;not null;default:''"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime:false"`
}

// TableName defines the table name for the Image model.
func (Image) TableName() string {
	return "images"
}

// SyncedTables lists the tables replicated to peers.
var SyncedTables = []string{Page{}.TableName(), PageVersion{}.TableName(), Image{}.TableName()}

// NormalizeSlug maps a raw path or title to its canonical slug: surrounding
// whitespace and leading slashes are dropped, trailing ".md" suffixes are
// removed, an empty result becomes "home" and everything is lower-cased.
func NormalizeSlug(path string) string {
	slug := path
	for {
		trimmed := strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(slug), "/"))
		if len(trimmed) >= 3 && strings.EqualFold(trimmed[len(trimmed)-3:], ".md") {
			trimmed = trimmed[:len(trimmed)-3]
		}
		if trimmed == slug {
			break
		}
		slug = trimmed
	}

	if slug == "" {
		return DefaultSlug
	}
	return strings.ToLower(slug)
}
