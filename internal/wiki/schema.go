package wiki

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"peerwiki/app/internal/syncdb"
)

// InitSchema creates the pages, page_versions and images tables when missing
// and registers each of them with the sync engine. It is safe to call on every
// session start.
func InitSchema(ctx context.Context, db *gorm.DB, engine syncdb.Engine, logger *logrus.Logger) error {
	if db == nil {
		return eris.New("gorm DB is required")
	}
	if engine == nil {
		return eris.New("sync engine is required")
	}

	logFields := logrus.Fields{"component": "wiki.schema"}
	if logger != nil {
		logger.WithFields(logFields).Info("applying wiki schema")
	}

	if err := db.WithContext(ctx).AutoMigrate(&Page{}, &PageVersion{}, &Image{}); err != nil {
		if logger != nil {
			logger.WithFields(logFields).WithField("error", err.Error()).Error("wiki schema migration failed")
		}
		return eris.Wrap(err, "auto migrating wiki schema")
	}

	for _, table := range SyncedTables {
		if err := engine.EnableSync(ctx, table); err != nil {
			if logger != nil {
				logger.WithFields(logFields).WithFields(logrus.Fields{"table": table, "error": err.Error()}).Error("enabling table sync failed")
			}
			return eris.Wrapf(err, "enabling sync for table: %s", table)
		}
	}

	if logger != nil {
		logger.WithFields(logFields).Info("wiki schema ready")
	}

	return nil
}
