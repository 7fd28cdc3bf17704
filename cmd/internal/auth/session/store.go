package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"tunnelgate/cmd/internal/fileutil"

	"golang.org/x/sync/errgroup"
)

const sessionExt = ".session"

// Store abstracts persistence for session records.
//
// Save and Delete for one session are never called concurrently by the
// Service; calls for different sessions may run in parallel.
type Store interface {
	// LoadAll returns every persisted session. Records that cannot be parsed are
	// discarded by the implementation, never returned as an error.
	LoadAll(ctx context.Context) ([]Session, error)

	// Save writes (creates or replaces) a session record.
	Save(ctx context.Context, s Session) error

	// Delete removes a session record; a missing record is not an error.
	Delete(ctx context.Context, sessionID uint64) error
}

// FileStore keeps one JSON file per session in a directory.
type FileStore struct {
	dir string
	log *slog.Logger
}

// NewFileStore creates dir if needed and returns a FileStore on it.
func NewFileStore(dir string, log *slog.Logger) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, ErrConfig
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("session store dir: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &FileStore{dir: dir, log: log.With("component", "session_store")}, nil
}

func (fs *FileStore) path(id uint64) string {
	return filepath.Join(fs.dir, strconv.FormatUint(id, 10)+sessionExt)
}

// LoadAll reads every *.session file. Files that fail to parse are deleted and logged.
func (fs *FileStore) LoadAll(ctx context.Context) ([]Session, error) {
	entries, err := os.ReadDir(fs.dir)
	if err != nil {
		return nil, fmt.Errorf("session store list: %w", err)
	}

	var (
		mu  sync.Mutex
		out = make([]Session, 0, len(entries))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, sessionExt) {
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			s, ok := fs.loadOne(name)
			if !ok {
				return nil
			}
			mu.Lock()
			out = append(out, s)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (fs *FileStore) loadOne(name string) (Session, bool) {
	path := filepath.Join(fs.dir, name)

	var s Session
	err := fileutil.ReadJSON(path, &s)
	if err == nil {
		id, perr := strconv.ParseUint(strings.TrimSuffix(name, sessionExt), 10, 64)
		switch {
		case perr != nil:
			err = errors.New("file name is not a session id")
		case id != s.SessionID || s.SessionID == 0 || s.TokenID == "":
			err = errors.New("session record does not match file name")
		}
	}
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Session{}, false
		}
		fs.log.Warn("session.load.corrupt", "file", name, "err", err)
		if rmErr := fileutil.RemoveIfExists(path); rmErr != nil {
			fs.log.Error("session.load.remove.fail", "file", name, "err", rmErr)
		}
		return Session{}, false
	}
	return s, true
}

// Save writes s atomically.
func (fs *FileStore) Save(ctx context.Context, s Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fileutil.WriteJSON(fs.path(s.SessionID), s)
}

// Delete removes the session file.
func (fs *FileStore) Delete(_ context.Context, sessionID uint64) error {
	return fileutil.RemoveIfExists(fs.path(sessionID))
}
