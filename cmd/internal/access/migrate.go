package access

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tunnelgate/cmd/identity/ids"
	"tunnelgate/cmd/internal/fileutil"
	"tunnelgate/cmd/security/token"
)

const (
	legacyExt       = ".token"
	legacyBackupDir = "backup-tokens-v1"
)

// legacyFile is the v1 token schema.
type legacyFile struct {
	Token struct {
		TokenID  string     `json:"tid"`
		Name     string     `json:"name"`
		Secret   []byte     `json:"sec"`
		IssuedAt *time.Time `json:"iat"`
	} `json:"Token"`
	MaxClientCount int        `json:"MaxClientCount"`
	MaxTraffic     int64      `json:"MaxTraffic"`
	ExpirationTime *time.Time `json:"ExpirationTime"`
}

func (l legacyFile) toRecord(fallbackIssued time.Time) (Record, error) {
	id, err := ids.ParseTokenID(l.Token.TokenID)
	if err != nil {
		return Record{}, fmt.Errorf("token id %q: %w", l.Token.TokenID, err)
	}
	if len(l.Token.Secret) != token.SecretSize {
		return Record{}, token.ErrSecretSize
	}
	if l.MaxClientCount < 0 || l.MaxTraffic < 0 {
		return Record{}, ErrInvalidInput
	}

	issued := fallbackIssued
	if l.Token.IssuedAt != nil && !l.Token.IssuedAt.IsZero() {
		issued = *l.Token.IssuedAt
	}

	return Record{
		TokenID:        id,
		IssuedAt:       issued,
		MaxClientCount: l.MaxClientCount,
		MaxTraffic:     l.MaxTraffic,
		ExpirationTime: l.ExpirationTime,
		AdRequirement:  AdRequirementNone,
		Secret:         l.Token.Secret,
		Name:           strings.TrimSpace(l.Token.Name),
	}, nil
}

// MigrationReport summarizes one MigrateLegacy run.
type MigrationReport struct {
	Migrated int
	// Skipped counts legacy files whose .token2 already existed; they are still moved to the backup folder.
	Skipped int
	Failed  int
}

// MigrateLegacy upgrades every *.token file to <tokenId>.token2 and moves the
// original into the backup-tokens-v1 subfolder. A file that fails is logged,
// left in place and does not stop the others.
func (s *Store) MigrateLegacy(ctx context.Context) (MigrationReport, error) {
	var rep MigrationReport

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return rep, OpError{Op: "access.MigrateLegacy", Kind: err}
	}

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, legacyExt) {
			continue
		}

		skipped, err := s.migrateOne(name)
		switch {
		case err != nil:
			rep.Failed++
			s.metrics.migration("failed")
			s.log.Error("access.migrate.fail", "file", name, "err", err)
		case skipped:
			rep.Skipped++
			s.metrics.migration("skipped")
		default:
			rep.Migrated++
			s.metrics.migration("migrated")
		}
	}
	return rep, nil
}

func (s *Store) migrateOne(name string) (skipped bool, err error) {
	src := filepath.Join(s.dir, name)

	info, err := os.Stat(src)
	if err != nil {
		return false, err
	}

	var lf legacyFile
	if err := fileutil.ReadJSON(src, &lf); err != nil {
		return false, err
	}
	rec, err := lf.toRecord(info.ModTime().UTC())
	if err != nil {
		return false, err
	}

	unlock := s.locks.Lock(rec.TokenID)
	defer unlock()

	_, statErr := os.Stat(s.recordPath(rec.TokenID))
	switch {
	case statErr == nil:
		skipped = true
	case errors.Is(statErr, os.ErrNotExist):
		if err := fileutil.WriteJSON(s.recordPath(rec.TokenID), rec); err != nil {
			return false, err
		}
	default:
		return false, statErr
	}

	backup := filepath.Join(s.dir, legacyBackupDir)
	if err := os.MkdirAll(backup, 0o700); err != nil {
		return skipped, err
	}
	if err := os.Rename(src, filepath.Join(backup, name)); err != nil {
		return skipped, err
	}
	return skipped, nil
}
