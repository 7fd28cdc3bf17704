package session

import (
	"context"
	"time"
)

// Sweep removes stale sessions from the table and the store:
// open sessions unused for longer than OpenRetention and closed sessions
// unused for longer than ClosedRetention. Error codes are never changed.
// It returns the number of sessions removed.
func (s *Service) Sweep(ctx context.Context, now time.Time) int {
	s.mu.RLock()
	candidates := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		candidates = append(candidates, sess)
	}
	s.mu.RUnlock()

	removed := 0
	for _, sess := range candidates {
		if ctx.Err() != nil {
			break
		}
		if s.sweepOne(ctx, now, sess) {
			removed++
		}
	}

	s.metrics.sweep(removed)
	if removed > 0 {
		s.log.Info("janitor.sweep", "removed", removed, "remaining", s.Count())
	}
	return removed
}

func (s *Service) sweepOne(ctx context.Context, now time.Time, sess *Session) bool {
	unlock := s.tokenLocks.Lock(sess.TokenID)
	defer unlock()

	if s.lookup(sess.SessionID) != sess {
		return false
	}

	idle := now.Sub(sess.LastUsedTime)
	stale := (sess.Active() && idle > s.cfg.OpenRetention) ||
		(!sess.Active() && idle > s.cfg.ClosedRetention)
	if !stale {
		return false
	}

	s.remove(sess)
	if err := s.store.Delete(ctx, sess.SessionID); err != nil {
		s.log.Error("session.delete.fail", "session_id", sess.SessionID, "err", err)
	}
	return true
}

// RunJanitor sweeps every SweepInterval until ctx is done.
func (s *Service) RunJanitor(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	s.log.Info("janitor.start", "interval", s.cfg.SweepInterval.String())
	for {
		select {
		case <-ctx.Done():
			s.log.Info("janitor.stop")
			return
		case <-ticker.C:
			s.Sweep(ctx, time.Now().UTC())
		}
	}
}
