package access

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"tunnelgate/cmd/identity/ids"
	"tunnelgate/cmd/internal/fileutil"
	"tunnelgate/cmd/internal/keylock"
	"tunnelgate/cmd/security/token"

	"golang.org/x/sync/errgroup"
)

const (
	recordExt = ".token2"
	usageExt  = ".usage"

	defaultListConcurrency = 8
)

// Options configure a Store. The zero value is usable.
type Options struct {
	Log     *slog.Logger
	Metrics *Metrics

	// ListConcurrency bounds parallel record loads in List.
	ListConcurrency int
}

// Store is the file-backed token record store.
type Store struct {
	dir     string
	log     *slog.Logger
	metrics *Metrics
	listN   int

	locks keylock.Map

	// cache maps canonical token id -> *Data. Values are never mutated after Store.
	cache sync.Map
}

// Open creates the storage directory if needed, migrates legacy v1 tokens and returns the store.
func Open(ctx context.Context, dir string, opts Options) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, OpError{Op: "access.Open", Kind: ErrInvalidInput}
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, OpError{Op: "access.Open", Kind: err}
	}

	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	listN := opts.ListConcurrency
	if listN <= 0 {
		listN = defaultListConcurrency
	}

	s := &Store{
		dir:     dir,
		log:     log.With("component", "access"),
		metrics: opts.Metrics,
		listN:   listN,
	}

	rep, err := s.MigrateLegacy(ctx)
	if err != nil {
		return nil, err
	}
	if rep.Migrated > 0 || rep.Failed > 0 {
		s.log.Info("access.migrate.done", "migrated", rep.Migrated, "skipped", rep.Skipped, "failed", rep.Failed)
	}

	return s, nil
}

// Dir returns the storage directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) recordPath(id string) string { return filepath.Join(s.dir, id+recordExt) }
func (s *Store) usagePath(id string) string  { return filepath.Join(s.dir, id+usageExt) }

// Create generates a fresh id and secret, writes the record and a zeroed usage ledger.
func (s *Store) Create(ctx context.Context, now time.Time, p CreateParams) (Record, error) {
	const op = "access.Create"
	if err := p.validate(); err != nil {
		return Record{}, OpError{Op: op, Kind: err}
	}
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := ids.NewTokenID(now)
	if err != nil {
		return Record{}, OpError{Op: op, Kind: err}
	}
	secret, err := token.NewSecret()
	if err != nil {
		return Record{}, OpError{Op: op, Kind: err}
	}

	adr := p.AdRequirement
	if adr == "" {
		adr = AdRequirementNone
	}

	rec := Record{
		TokenID:        id,
		IssuedAt:       now,
		MaxClientCount: p.MaxClientCount,
		MaxTraffic:     p.MaxTraffic,
		ExpirationTime: p.ExpirationTime,
		AdRequirement:  adr,
		Secret:         secret,
		Name:           strings.TrimSpace(p.Name),
	}
	usage := Usage{Version: UsageVersion, CreatedTime: now, LastUsedTime: now}

	unlock := s.locks.Lock(id)
	defer unlock()

	if err := fileutil.WriteJSON(s.recordPath(id), rec); err != nil {
		return Record{}, OpError{Op: op, TokenID: id, Kind: err}
	}
	if err := fileutil.WriteJSON(s.usagePath(id), usage); err != nil {
		return Record{}, OpError{Op: op, TokenID: id, Kind: err}
	}

	d := Data{Record: rec, Usage: usage}.clone()
	s.cache.Store(id, &d)

	s.log.Info("access.token.created",
		"token", token.Fingerprint(id),
		"max_clients", rec.MaxClientCount,
		"max_traffic", rec.MaxTraffic,
	)
	return d.clone().Record, nil
}

// Get returns the token data, reading the files on a cache miss.
// It fails with ErrNotFound when the record file does not exist.
func (s *Store) Get(ctx context.Context, tokenID string) (Data, error) {
	const op = "access.Get"
	id, err := ids.ParseTokenID(tokenID)
	if err != nil {
		return Data{}, notFound(op, tokenID)
	}

	if v, ok := s.cache.Load(id); ok {
		s.metrics.hit()
		return v.(*Data).clone(), nil
	}
	if err := ctx.Err(); err != nil {
		return Data{}, err
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	d, err := s.loadLocked(op, id)
	if err != nil {
		return Data{}, err
	}
	return d.clone(), nil
}

// Find is Get for callers that tolerate missing tokens.
// Load failures other than a missing record are logged.
func (s *Store) Find(ctx context.Context, tokenID string) (Data, bool) {
	d, err := s.Get(ctx, tokenID)
	if err != nil {
		if !IsNotFound(err) {
			s.log.Error("access.token.load.fail", "token", token.Fingerprint(tokenID), "err", err)
		}
		return Data{}, false
	}
	return d, true
}

// loadLocked returns the cached snapshot or reads it from disk. Caller holds the id lock.
func (s *Store) loadLocked(op, id string) (*Data, error) {
	if v, ok := s.cache.Load(id); ok {
		s.metrics.hit()
		return v.(*Data), nil
	}
	s.metrics.miss()

	var rec Record
	if err := fileutil.ReadJSON(s.recordPath(id), &rec); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, notFound(op, id)
		}
		s.metrics.loadFailed()
		return nil, OpError{Op: op, TokenID: id, Kind: err}
	}
	if err := checkRecord(id, &rec); err != nil {
		s.metrics.loadFailed()
		s.log.Warn("access.record.corrupt", "token", token.Fingerprint(id), "err", err)
		return nil, OpError{Op: op, TokenID: id, Kind: err}
	}
	if rec.AdRequirement == "" {
		rec.AdRequirement = AdRequirementNone
	}

	usage, err := s.readUsage(id)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.log.Debug("access.usage.missing", "token", token.Fingerprint(id))
		} else {
			s.metrics.loadFailed()
			s.log.Warn("access.usage.read.fail", "token", token.Fingerprint(id), "err", err)
		}
		usage = Usage{Version: UsageVersion, CreatedTime: rec.IssuedAt, LastUsedTime: rec.IssuedAt}
	}

	d := &Data{Record: rec, Usage: usage}
	s.cache.Store(id, d)
	return d, nil
}

// checkRecord binds rec to the id taken from its file name. An id that only
// differs in case is rewritten to the canonical form.
func checkRecord(id string, rec *Record) error {
	if rec.TokenID != "" {
		got, err := ids.ParseTokenID(rec.TokenID)
		if err != nil || got != id {
			return fmt.Errorf("%w: record names token %q", ErrCorrupt, rec.TokenID)
		}
	}
	rec.TokenID = id
	if len(rec.Secret) != token.SecretSize {
		return fmt.Errorf("%w: %v", ErrCorrupt, token.ErrSecretSize)
	}
	return nil
}

func (s *Store) readUsage(id string) (Usage, error) {
	var u Usage
	if err := fileutil.ReadJSON(s.usagePath(id), &u); err != nil {
		return Usage{}, err
	}
	if u.SentTraffic < 0 || u.ReceivedTraffic < 0 {
		return Usage{}, errors.New("negative traffic counters")
	}
	return u, nil
}

// AddUsage adds traffic deltas to the token ledger and rewrites only the usage file.
func (s *Store) AddUsage(ctx context.Context, now time.Time, tokenID string, sent, received int64) (Usage, error) {
	const op = "access.AddUsage"
	if sent < 0 || received < 0 {
		return Usage{}, OpError{Op: op, TokenID: tokenID, Kind: ErrInvalidInput}
	}
	if _, err := s.Get(ctx, tokenID); err != nil {
		return Usage{}, err
	}
	id, _ := ids.ParseTokenID(tokenID)
	if now.IsZero() {
		now = time.Now().UTC()
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	// Reload under the lock: a concurrent Delete may have dropped the entry.
	cur, err := s.loadLocked(op, id)
	if err != nil {
		return Usage{}, err
	}

	next := *cur
	next.Usage.SentTraffic += sent
	next.Usage.ReceivedTraffic += received
	next.Usage.LastUsedTime = now
	next.Usage.Version = UsageVersion

	if err := fileutil.WriteJSON(s.usagePath(id), next.Usage); err != nil {
		return Usage{}, OpError{Op: op, TokenID: id, Kind: err}
	}
	s.metrics.usageWritten()
	s.cache.Store(id, &next)
	return next.Usage, nil
}

// Update changes the display name of a token (write-through).
func (s *Store) Update(ctx context.Context, tokenID, name string) (Record, error) {
	const op = "access.Update"
	id, err := ids.ParseTokenID(tokenID)
	if err != nil {
		return Record{}, notFound(op, tokenID)
	}
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	cur, err := s.loadLocked(op, id)
	if err != nil {
		return Record{}, err
	}

	next := cur.clone()
	next.Record.Name = strings.TrimSpace(name)
	if err := fileutil.WriteJSON(s.recordPath(id), next.Record); err != nil {
		return Record{}, OpError{Op: op, TokenID: id, Kind: err}
	}
	s.cache.Store(id, &next)
	return next.clone().Record, nil
}

// Delete removes the cache entry and both files. It fails with ErrNotFound for unknown tokens.
func (s *Store) Delete(ctx context.Context, tokenID string) error {
	const op = "access.Delete"
	id, err := ids.ParseTokenID(tokenID)
	if err != nil {
		return notFound(op, tokenID)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	if _, err := os.Stat(s.recordPath(id)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.cache.Delete(id)
			return notFound(op, id)
		}
		return OpError{Op: op, TokenID: id, Kind: err}
	}

	s.cache.Delete(id)
	if err := fileutil.RemoveIfExists(s.recordPath(id)); err != nil {
		return OpError{Op: op, TokenID: id, Kind: err}
	}
	if err := fileutil.RemoveIfExists(s.usagePath(id)); err != nil {
		return OpError{Op: op, TokenID: id, Kind: err}
	}

	s.log.Info("access.token.deleted", "token", token.Fingerprint(id))
	return nil
}

// List returns every token that loads, ordered by token id.
// Records that fail to load are logged and skipped.
func (s *Store) List(ctx context.Context) ([]Data, error) {
	idList, err := s.tokenIDs()
	if err != nil {
		return nil, OpError{Op: "access.List", Kind: err}
	}

	out := make([]*Data, len(idList))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.listN)
	for i, id := range idList {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if d, ok := s.Find(gctx, id); ok {
				out[i] = &d
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := make([]Data, 0, len(out))
	for _, d := range out {
		if d != nil {
			res = append(res, *d)
		}
	}
	return res, nil
}

// GetTotalCount returns the number of canonically named record files.
func (s *Store) GetTotalCount(_ context.Context) (int, error) {
	idList, err := s.tokenIDs()
	if err != nil {
		return 0, OpError{Op: "access.GetTotalCount", Kind: err}
	}
	return len(idList), nil
}

func (s *Store) tokenIDs() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, recordExt) {
			continue
		}
		id, err := ids.ParseTokenID(strings.TrimSuffix(name, recordExt))
		if err != nil {
			s.log.Warn("access.list.bad_name", "file", name)
			continue
		}
		// Records are opened by their canonical name only.
		if id+recordExt != name {
			s.log.Warn("access.list.noncanonical_name", "file", name, "want", id+recordExt)
			continue
		}
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}
