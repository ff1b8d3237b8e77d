// Package imagestore caches compiled images in SQLite, keyed by a digest
// of the source text and the compile settings.
package imagestore

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/chazu/ember/compiler"
)

var log = commonlog.GetLogger("ember.imagestore")

// ErrNotFound indicates the requested image isn't cached.
var ErrNotFound = errors.New("image not found")

// Store is an image cache backed by one SQLite table.
type Store struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// Entry describes one cached image.
type Entry struct {
	Digest  string
	Size    int
	Created time.Time
}

// Open opens or creates the cache database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating cache dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS images (
		digest TEXT PRIMARY KEY,
		image BLOB NOT NULL,
		created INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	log.Debugf("opened image cache %s", path)
	return &Store{db: db, path: path}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Path returns the database file.
func (s *Store) Path() string { return s.path }

// Digest identifies a compilation: the source and every setting that
// changes the image bytes. natives are the native names in index order,
// since compiled calls refer to natives by index.
func Digest(src string, order binary.ByteOrder, natives ...string) string {
	h := sha256.New()
	h.Write([]byte(order.String()))
	h.Write([]byte{0})
	for _, n := range natives {
		h.Write([]byte(n))
		h.Write([]byte{0})
	}
	h.Write([]byte{0})
	h.Write([]byte(src))
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached image for digest.
func (s *Store) Get(ctx context.Context, digest string) ([]byte, error) {
	var img []byte
	err := s.db.QueryRowContext(ctx, "SELECT image FROM images WHERE digest = ?", digest).Scan(&img)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying image: %w", err)
	}
	return img, nil
}

// Put stores an image under digest, replacing any previous one.
func (s *Store) Put(ctx context.Context, digest string, img []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO images (digest, image, created) VALUES (?, ?, ?)",
		digest, img, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("saving image: %w", err)
	}
	return nil
}

// Compile returns the image of src, compiling and caching it on a miss.
// hit reports whether the image came from the cache.
func (s *Store) Compile(ctx context.Context, src string, opts compiler.Options, order binary.ByteOrder) (img []byte, hit bool, err error) {
	var natives []string
	if named, ok := opts.Natives.(interface{ Names() []string }); ok {
		natives = named.Names()
	}
	digest := Digest(src, order, natives...)
	img, err = s.Get(ctx, digest)
	if err == nil {
		log.Debugf("cache hit %s", digest[:12])
		return img, true, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	img, err = compiler.CompileImage(src, opts, order)
	if err != nil {
		return nil, false, err
	}
	if err := s.Put(ctx, digest, img); err != nil {
		return nil, false, err
	}
	log.Debugf("cache miss %s: stored %d bytes", digest[:12], len(img))
	return img, false, nil
}

// List returns the cached images, newest first.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT digest, length(image), created FROM images ORDER BY created DESC, digest")
	if err != nil {
		return nil, fmt.Errorf("listing images: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var created int64
		if err := rows.Scan(&e.Digest, &e.Size, &created); err != nil {
			return nil, fmt.Errorf("scanning image row: %w", err)
		}
		e.Created = time.Unix(created, 0)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune deletes images created before cutoff and returns how many went.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM images WHERE created < ?", cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("pruning images: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Infof("pruned %d cached images", n)
	}
	return int(n), nil
}
