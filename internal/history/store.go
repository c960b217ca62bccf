package history

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Entry is a wiki this device has opened. It is never synced to peers.
type Entry struct {
	Token       string    `gorm:"primaryKey;size:64" json:"token"`
	Name        string    `gorm:"size:255;not null;default:''" json:"name"`
	LastVisited time.Time `gorm:"not null;index;autoUpdateTime:false" json:"lastVisited"`
}

// TableName defines the table name for the Entry model.
func (Entry) TableName() string {
	return "wiki_history"
}

// Store records which wikis were visited, using its own local database.
type Store struct {
	db     *gorm.DB
	logger *logrus.Logger
	now    func() time.Time
}

// NewStore migrates the history table and returns a Store.
func NewStore(ctx context.Context, db *gorm.DB, logger *logrus.Logger) (*Store, error) {
	if db == nil {
		return nil, eris.New("gorm DB is required")
	}

	if err := db.WithContext(ctx).AutoMigrate(&Entry{}); err != nil {
		return nil, eris.Wrap(err, "auto migrating wiki history")
	}

	return &Store{db: db, logger: logger, now: time.Now}, nil
}

// RecordVisit inserts or refreshes the entry for token. The stored name is
// kept when name is empty; a new entry defaults its name to the token.
func (s *Store) RecordVisit(ctx context.Context, token string, name string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return eris.New("token is required")
	}

	name = strings.TrimSpace(name)
	entry := &Entry{Token: token, Name: name, LastVisited: s.now().UTC()}
	if entry.Name == "" {
		entry.Name = token
	}

	updates := []string{"last_visited"}
	if name != "" {
		updates = append(updates, "name")
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "token"}},
		DoUpdates: clause.AssignmentColumns(updates),
	}).Create(entry).Error
	if err != nil {
		s.logError(logrus.Fields{"token": token}, err, "recording wiki visit")
		return eris.Wrapf(err, "recording wiki visit: %s", token)
	}

	return nil
}

// ListVisited returns every entry, most recently visited first.
func (s *Store) ListVisited(ctx context.Context) ([]Entry, error) {
	entries := []Entry{}
	if err := s.db.WithContext(ctx).Order("last_visited DESC").Order("token ASC").Find(&entries).Error; err != nil {
		s.logError(nil, err, "listing wiki history")
		return nil, eris.Wrap(err, "listing wiki history")
	}
	return entries, nil
}

// Forget removes token from the history. Forgetting an unknown token is not
// an error.
func (s *Store) Forget(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return eris.New("token is required")
	}

	if err := s.db.WithContext(ctx).Delete(&Entry{}, "token = ?", token).Error; err != nil {
		s.logError(logrus.Fields{"token": token}, err, "forgetting wiki")
		return eris.Wrapf(err, "forgetting wiki: %s", token)
	}
	return nil
}

func (s *Store) logError(fields logrus.Fields, err error, message string) {
	if s.logger == nil || err == nil {
		return
	}

	entry := s.logger.WithFields(logrus.Fields{"component": "history", "error": err.Error()})
	if len(fields) > 0 {
		entry = entry.WithFields(fields)
	}
	entry.Error(message)
}
