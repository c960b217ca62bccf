package wiki

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"peerwiki/app/internal/db"
	"peerwiki/app/internal/syncdb"
)

func setupRepository(t *testing.T) *GormRepository {
	t.Helper()

	database, err := db.Open(db.Options{Path: filepath.Join(t.TempDir(), "wiki.db")})
	if err != nil {
		t.Fatalf("db.Open returned error: %v", err)
	}
	t.Cleanup(func() {
		if closeErr := db.Close(database); closeErr != nil {
			t.Errorf("closing database failed: %v", closeErr)
		}
	})

	if err := InitSchema(context.Background(), database, syncdb.NewLocalEngine("test-peer"), silentLogger()); err != nil {
		t.Fatalf("InitSchema returned error: %v", err)
	}

	repo, err := NewRepository(database, silentLogger())
	if err != nil {
		t.Fatalf("NewRepository returned error: %v", err)
	}

	return repo
}

func setupService(t *testing.T, repo Repository) *service {
	t.Helper()

	svc, err := NewService(repo, &stubRenderer{}, stubPeer("peer-a"), silentLogger(), nil)
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}

	concrete := svc.(*service)
	concrete.now = steppingClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	return concrete
}

// steppingClock returns a clock that advances one second per call so version
// timestamps are strictly increasing.
func steppingClock(start time.Time) func() time.Time {
	current := start
	return func() time.Time {
		current = current.Add(time.Second)
		return current
	}
}

func silentLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type stubPeer string

func (p stubPeer) PeerID() string { return string(p) }

// stubRenderer wraps markdown in a paragraph without parsing it.
type stubRenderer struct {
	err   error
	calls int
}

func (r *stubRenderer) Render(markdown string) (string, error) {
	r.calls++
	if r.err != nil {
		return "", r.err
	}
	return "<p>" + strings.TrimSpace(markdown) + "</p>", nil
}

// failingRepository fails every call.
type failingRepository struct {
	err error
}

func (f failingRepository) GetBySlug(context.Context, string) (*Page, error) { return nil, f.err }
func (f failingRepository) Upsert(context.Context, *Page) error             { return f.err }
func (f failingRepository) UpsertWithVersion(context.Context, *Page, *PageVersion) error {
	return f.err
}
func (f failingRepository) ListPages(context.Context) ([]Page, error) { return nil, f.err }
func (f failingRepository) ListVersions(context.Context, string, int) ([]PageVersion, error) {
	return nil, f.err
}
func (f failingRepository) GetVersion(context.Context, string) (*PageVersion, error) {
	return nil, f.err
}
func (f failingRepository) CreateImage(context.Context, *Image) error { return f.err }
func (f failingRepository) GetImages(context.Context, []string) (map[string]Image, error) {
	return nil, f.err
}

type errStub string

func (e errStub) Error() string { return string(e) }
