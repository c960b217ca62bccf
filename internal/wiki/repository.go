package wiki

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository defines persistence operations for pages, versions and images.
type Repository interface {
	GetBySlug(ctx context.Context, slug string) (*Page, error)
	Upsert(ctx context.Context, page *Page) error
	UpsertWithVersion(ctx context.Context, page *Page, version *PageVersion) error
	ListPages(ctx context.Context) ([]Page, error)
	ListVersions(ctx context.Context, slug string, limit int) ([]PageVersion, error)
	GetVersion(ctx context.Context, id string) (*PageVersion, error)
	CreateImage(ctx context.Context, image *Image) error
	GetImages(ctx context.Context, ids []string) (map[string]Image, error)
}

// GormRepository persists wiki rows using a Gorm database connection.
type GormRepository struct {
	db     *gorm.DB
	logger *logrus.Logger
}

// NewRepository constructs a Gorm-backed repository implementation.
func NewRepository(db *gorm.DB, logger *logrus.Logger) (*GormRepository, error) {
	if db == nil {
		return nil, eris.New("gorm DB is required")
	}

	return &GormRepository{db: db, logger: logger}, nil
}

var _ Repository = (*GormRepository)(nil)

// GetBySlug returns the page for the provided slug or nil when not found.
func (r *GormRepository) GetBySlug(ctx context.Context, slug string) (*Page, error) {
	trimmed := strings.TrimSpace(slug)
	if trimmed == "" {
		return nil, eris.New("slug is required")
	}

	var page Page
	err := r.db.WithContext(ctx).First(&page, "slug = ?", trimmed).Error
	if err != nil {
		if eris.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		r.logError(logrus.Fields{"slug": trimmed}, err, "fetching page by slug")
		return nil, eris.Wrapf(err, "fetching page by slug: %s", trimmed)
	}

	return &page, nil
}

// Upsert inserts the page or overwrites content and updated_at of the existing row.
func (r *GormRepository) Upsert(ctx context.Context, page *Page) error {
	if err := validatePage(page); err != nil {
		return err
	}

	if err := upsertPage(r.db.WithContext(ctx), page); err != nil {
		r.logError(logrus.Fields{"slug": page.Slug}, err, "saving page")
		return eris.Wrapf(err, "saving page: %s", page.Slug)
	}

	return nil
}

// UpsertWithVersion stores the page and appends version in one transaction.
func (r *GormRepository) UpsertWithVersion(ctx context.Context, page *Page, version *PageVersion) error {
	if err := validatePage(page); err != nil {
		return err
	}
	if version == nil {
		return eris.New("version is nil")
	}
	if strings.TrimSpace(version.ID) == "" {
		return eris.New("version id is required")
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := upsertPage(tx, page); err != nil {
			return eris.Wrap(err, "upserting page")
		}
		if err := tx.Create(version).Error; err != nil {
			return eris.Wrap(err, "appending page version")
		}
		return nil
	})
	if err != nil {
		r.logError(logrus.Fields{"slug": page.Slug, "version_id": version.ID}, err, "saving page with version")
		return eris.Wrapf(err, "saving page with version: %s", page.Slug)
	}

	return nil
}

// ListPages returns every page ordered by slug.
func (r *GormRepository) ListPages(ctx context.Context) ([]Page, error) {
	var pages []Page

	if err := r.db.WithContext(ctx).Order("slug ASC").Find(&pages).Error; err != nil {
		r.logError(nil, err, "listing pages")
		return nil, eris.Wrap(err, "listing pages")
	}

	return pages, nil
}

// ListVersions returns up to limit versions of slug, newest first.
func (r *GormRepository) ListVersions(ctx context.Context, slug string, limit int) ([]PageVersion, error) {
	trimmed := strings.TrimSpace(slug)
	if trimmed == "" {
		return nil, eris.New("slug is required")
	}

	query := r.db.WithContext(ctx).
		Where("slug = ?", trimmed).
		Order("created_at DESC").
		Order("rowid DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	versions := []PageVersion{}
	if err := query.Find(&versions).Error; err != nil {
		r.logError(logrus.Fields{"slug": trimmed}, err, "listing page versions")
		return nil, eris.Wrapf(err, "listing page versions: %s", trimmed)
	}

	return versions, nil
}

// GetVersion returns the version with id or nil when not found.
func (r *GormRepository) GetVersion(ctx context.Context, id string) (*PageVersion, error) {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return nil, eris.New("version id is required")
	}

	var version PageVersion
	err := r.db.WithContext(ctx).First(&version, "id = ?", trimmed).Error
	if err != nil {
		if eris.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		r.logError(logrus.Fields{"version_id": trimmed}, err, "fetching page version")
		return nil, eris.Wrapf(err, "fetching page version: %s", trimmed)
	}

	return &version, nil
}

// CreateImage inserts a new image row. Images are never updated.
func (r *GormRepository) CreateImage(ctx context.Context, image *Image) error {
	if image == nil {
		return eris.New("image is nil")
	}
	if strings.TrimSpace(image.ID) == "" {
		return eris.New("image id is required")
	}

	if err := r.db.WithContext(ctx).Create(image).Error; err != nil {
		r.logError(logrus.Fields{"image_id": image.ID}, err, "creating image")
		return eris.Wrapf(err, "creating image: %s", image.ID)
	}

	return nil
}

// GetImages returns the stored images for ids keyed by id. Missing ids are
// simply absent from the result.
func (r *GormRepository) GetImages(ctx context.Context, ids []string) (map[string]Image, error) {
	found := make(map[string]Image, len(ids))
	if len(ids) == 0 {
		return found, nil
	}

	var images []Image
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&images).Error; err != nil {
		r.logError(logrus.Fields{"image_ids": ids}, err, "fetching images")
		return nil, eris.Wrap(err, "fetching images")
	}

	for _, image := range images {
		found[image.ID] = image
	}

	return found, nil
}

func upsertPage(db *gorm.DB, page *Page) error {
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "slug"}},
		DoUpdates: clause.AssignmentColumns([]string{"content", "updated_at"}),
	}).Create(page).Error
}

func validatePage(page *Page) error {
	if page == nil {
		return eris.New("page is nil")
	}

	page.Slug = strings.TrimSpace(page.Slug)
	if page.Slug == "" {
		return eris.New("page slug is required")
	}

	return nil
}

func (r *GormRepository) logError(fields logrus.Fields, err error, message string) {
	if r.logger == nil || err == nil {
		return
	}

	entry := r.logger.WithField("error", err.Error())
	if len(fields) > 0 {
		entry = entry.WithFields(fields)
	}
	entry.Error(message)
}
