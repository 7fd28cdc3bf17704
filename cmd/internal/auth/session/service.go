package session

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"tunnelgate/cmd/identity/ids"
	"tunnelgate/cmd/internal/access"
	"tunnelgate/cmd/internal/keylock"
	"tunnelgate/cmd/security/token"
)

// Options carry the optional collaborators of a Service.
type Options struct {
	Log     *slog.Logger
	Metrics *Metrics
}

// Service is the session authority. It is safe for concurrent use.
//
// Locking: mu guards the table and the token index (membership only).
// Session fields are read and written only while holding the owning token's
// lock from tokenLocks. TokenID and SessionID never change after creation.
type Service struct {
	cfg     Config
	store   Store
	log     *slog.Logger
	metrics *Metrics

	lastID atomic.Uint64

	mu       sync.RWMutex
	sessions map[uint64]*Session
	byToken  map[string]map[uint64]*Session

	tokenLocks keylock.Map

	updatedMu sync.Mutex
	updated   map[uint64]struct{}
}

// NewService constructs a Service and loads every persisted session from store.
// The session id counter continues after the largest loaded id.
func NewService(ctx context.Context, cfg Config, store Store, opts Options) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, ErrConfig
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}

	s := &Service{
		cfg:      cfg,
		store:    store,
		log:      log.With("component", "session"),
		metrics:  opts.Metrics,
		sessions: make(map[uint64]*Session),
		byToken:  make(map[string]map[uint64]*Session),
		updated:  make(map[uint64]struct{}),
	}

	loaded, err := store.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	var maxID uint64
	for i := range loaded {
		sess := loaded[i]
		s.insert(&sess)
		if sess.SessionID > maxID {
			maxID = sess.SessionID
		}
	}
	s.lastID.Store(maxID)

	s.log.Info("session.loaded", "count", len(loaded), "last_id", maxID)
	return s, nil
}

func (s *Service) insert(sess *Session) {
	s.mu.Lock()
	s.sessions[sess.SessionID] = sess
	idx := s.byToken[sess.TokenID]
	if idx == nil {
		idx = make(map[uint64]*Session)
		s.byToken[sess.TokenID] = idx
	}
	idx[sess.SessionID] = sess
	n := len(s.sessions)
	s.mu.Unlock()

	s.metrics.tableSize(n)
}

func (s *Service) remove(sess *Session) {
	s.mu.Lock()
	delete(s.sessions, sess.SessionID)
	if idx := s.byToken[sess.TokenID]; idx != nil {
		delete(idx, sess.SessionID)
		if len(idx) == 0 {
			delete(s.byToken, sess.TokenID)
		}
	}
	n := len(s.sessions)
	s.mu.Unlock()

	s.metrics.tableSize(n)
}

func (s *Service) lookup(id uint64) *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[id]
}

// tokenSessions returns the sessions of tokenID. Caller holds the token lock.
func (s *Service) tokenSessions(tokenID string) []*Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := s.byToken[tokenID]
	out := make([]*Session, 0, len(idx))
	for _, sess := range idx {
		out = append(out, sess)
	}
	return out
}

// TokenIDOf returns the token that owns sessionID.
func (s *Service) TokenIDOf(sessionID uint64) (string, bool) {
	sess := s.lookup(sessionID)
	if sess == nil {
		return "", false
	}
	return sess.TokenID, true
}

// Get returns a copy of a session.
func (s *Service) Get(sessionID uint64) (Session, bool) {
	sess := s.lookup(sessionID)
	if sess == nil {
		return Session{}, false
	}
	unlock := s.tokenLocks.Lock(sess.TokenID)
	defer unlock()
	return sess.clone(), true
}

// Count returns the number of sessions in the table (open and closed).
func (s *Service) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// CreateSession decides whether req may open a new session on the token described by data.
func (s *Service) CreateSession(ctx context.Context, now time.Time, req Request, data access.Data) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	if reqID, err := ids.ParseTokenID(req.TokenID); err != nil || reqID != data.Record.TokenID {
		s.metrics.decision("create", CodeAccessError)
		return ErrorResponse(CodeAccessError, "token does not exist"), nil
	}

	if len(data.Record.Secret) != token.SecretSize {
		s.metrics.decision("create", CodeAccessError)
		s.log.Warn("session.token.bad_secret", "token", token.Fingerprint(data.Record.TokenID))
		return ErrorResponse(CodeAccessError, "token record is invalid"), nil
	}

	plan := req.ConnectPlan.normalize()
	if !plan.allowed(s.cfg) {
		s.metrics.decision("create", CodePlanRejected)
		return ErrorResponse(CodePlanRejected, ""), nil
	}

	id := s.lastID.Add(1)
	key, err := token.DeriveSessionKey(data.Record.Secret, "tunnelgate/session/"+strconv.FormatUint(id, 10), s.cfg.SessionKeyBytes)
	if err != nil {
		return Response{}, err
	}

	adr := data.Record.AdRequirement
	if adr == "" {
		adr = access.AdRequirementNone
	}
	sess := &Session{
		SessionID:       id,
		TokenID:         data.Record.TokenID,
		ClientInfo:      req.ClientInfo,
		SessionKey:      key,
		HostEndpoint:    req.HostEndpoint,
		ClientIP:        req.ClientIP,
		ExtraData:       req.ExtraData,
		ProtocolVersion: req.ProtocolVersion,
		ConnectPlan:     plan,
		AdRequirement:   adr,
		CreatedTime:     now,
		LastUsedTime:    now,
		ErrorCode:       CodeOk,
		SuppressedBy:    SuppressNone,
		SuppressedTo:    SuppressNone,
	}
	plan.apply(s.cfg, now, sess)

	unlock := s.tokenLocks.Lock(sess.TokenID)
	defer unlock()

	res, touched := s.decide(now, sess, data, AdNotChecked)
	s.metrics.decision("create", res.ErrorCode)
	if res.ErrorCode != CodeOk {
		// The id is burned; the session never enters the table.
		res.SessionID = 0
		res.SessionKey = nil
		return res, nil
	}

	s.insert(sess)
	s.persist(ctx, append(touched, sess))

	s.log.Info("session.created",
		"session_id", id,
		"token", token.Fingerprint(sess.TokenID),
		"client", token.Fingerprint(sess.ClientInfo.ClientID),
		"plan", string(plan),
		"suppressed", len(touched),
	)
	return res, nil
}

// GetSessionResponse re-runs the decision for an existing session and refreshes its last-used time.
// A session that was open and fails the decision is ended with the failing code.
func (s *Service) GetSessionResponse(ctx context.Context, now time.Time, q StatusQuery, data access.Data) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	sess := s.lookup(q.SessionID)
	if sess == nil {
		s.metrics.decision("status", CodeAccessError)
		return ErrorResponse(CodeAccessError, "session does not exist"), nil
	}
	if sess.TokenID != data.Record.TokenID {
		s.metrics.decision("status", CodeAccessError)
		return ErrorResponse(CodeAccessError, "session does not belong to token"), nil
	}

	unlock := s.tokenLocks.Lock(sess.TokenID)
	defer unlock()

	// The janitor may have removed it while we waited for the lock.
	if s.lookup(q.SessionID) != sess {
		s.metrics.decision("status", CodeAccessError)
		return ErrorResponse(CodeAccessError, "session does not exist"), nil
	}

	if q.HostEndpoint.IsValid() {
		sess.HostEndpoint = q.HostEndpoint
	}
	sess.LastUsedTime = now

	wasActive := sess.Active()
	res, touched := s.decide(now, sess, data, q.AdValidation)
	if wasActive && res.ErrorCode != CodeOk {
		s.end(now, sess, res.ErrorCode)
		res = s.response(sess, res.Usage)
		res.ErrorCode = sess.ErrorCode
		s.log.Info("session.ended",
			"session_id", sess.SessionID,
			"token", token.Fingerprint(sess.TokenID),
			"code", string(sess.ErrorCode),
		)
	}
	s.metrics.decision("status", res.ErrorCode)

	s.persist(ctx, append(touched, sess))
	return res, nil
}

// CloseSession ends a session with reason. Unknown sessions are ignored.
// CodeOk (or empty) is recorded as CodeSessionClosed.
func (s *Service) CloseSession(ctx context.Context, now time.Time, req CloseRequest) {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	sess := s.lookup(req.SessionID)
	if sess == nil {
		return
	}

	unlock := s.tokenLocks.Lock(sess.TokenID)
	defer unlock()
	if s.lookup(req.SessionID) != sess {
		return
	}

	reason := req.Reason
	if reason == "" || reason == CodeOk {
		reason = CodeSessionClosed
	}
	wasActive := sess.Active()
	sess.LastUsedTime = now
	s.end(now, sess, reason)
	if wasActive {
		s.metrics.close()
	}

	s.persist(ctx, []*Session{sess})
}

// ResetUpdatedSessions drains the ids of sessions suppressed since the last call, ascending.
func (s *Service) ResetUpdatedSessions() []uint64 {
	s.updatedMu.Lock()
	drained := s.updated
	s.updated = make(map[uint64]struct{})
	s.updatedMu.Unlock()

	out := make([]uint64, 0, len(drained))
	for id := range drained {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *Service) markUpdated(id uint64) {
	s.updatedMu.Lock()
	s.updated[id] = struct{}{}
	s.updatedMu.Unlock()
}

// end moves sess to Ended. The first non-Ok code wins. Caller holds the token lock.
func (s *Service) end(now time.Time, sess *Session, code ErrorCode) {
	if sess.ErrorCode == CodeOk || sess.ErrorCode == "" {
		sess.ErrorCode = code
		sess.ErrorMessage = code.Message()
	}
	if sess.EndTime == nil {
		t := now
		sess.EndTime = &t
	}
}

// persist saves copies of sessions. Storage faults are logged, never returned.
// Caller holds the token lock.
func (s *Service) persist(ctx context.Context, list []*Session) {
	for _, sess := range list {
		if err := s.store.Save(ctx, sess.clone()); err != nil {
			s.log.Error("session.save.fail", "session_id", sess.SessionID, "err", err)
		}
	}
}
