package session

import (
	"bytes"
	"sort"
	"time"

	"tunnelgate/cmd/internal/access"
	"tunnelgate/cmd/security/token"
)

// decide runs the shared decision routine for sess against its token data.
// sess may or may not be in the table yet. It returns the response and the
// sessions it suppressed. Caller holds the token lock.
//
// Order: ad extension, ad rejection, then (only while sess is still Ok)
// token expiration, session expiration, traffic cap, suppression.
func (s *Service) decide(now time.Time, sess *Session, data access.Data, ad AdValidation) (Response, []*Session) {
	if ad == AdValidated {
		sess.ExpirationTime = nil
	}

	usage := Usage{
		SentTraffic:     data.Usage.SentTraffic,
		ReceivedTraffic: data.Usage.ReceivedTraffic,
		MaxTraffic:      data.Record.MaxTraffic,
		ExpirationTime:  data.Record.ExpirationTime,
	}

	if ad == AdRejected {
		res := s.response(sess, usage)
		res.ErrorCode = CodeRewardedAdRejected
		res.ErrorMessage = CodeRewardedAdRejected.Message()
		res.Usage.ActiveClientCount = s.activeClients(sess, false)
		return res, nil
	}

	var touched []*Session
	code := sess.ErrorCode
	if code == CodeOk {
		switch {
		case data.Record.Expired(now):
			code = CodeAccessExpired
		case sess.ExpirationTime != nil && !sess.ExpirationTime.After(now):
			code = CodeSessionExpired
		case data.TrafficOverflow():
			code = CodeAccessTrafficOverflow
		default:
			touched = s.suppress(now, sess, data.Record.MaxClientCount)
		}
	}

	res := s.response(sess, usage)
	res.ErrorCode = code
	if code != sess.ErrorCode {
		res.ErrorMessage = code.Message()
	}
	res.Usage.ActiveClientCount = s.activeClients(sess, code == CodeOk)
	return res, touched
}

// suppress ends the sessions that lose to sess and returns them.
//
// Every other open session of the same client is suppressed by YourSelf.
// Then, with a device cap M, the oldest sessions of other clients are
// suppressed by Other until exactly M-1 of them remain next to sess.
func (s *Service) suppress(now time.Time, sess *Session, maxClients int) []*Session {
	var others []*Session
	for _, o := range s.tokenSessions(sess.TokenID) {
		if o.SessionID != sess.SessionID && o.Active() {
			others = append(others, o)
		}
	}
	sort.Slice(others, func(i, j int) bool {
		if others[i].CreatedTime.Equal(others[j].CreatedTime) {
			return others[i].SessionID < others[j].SessionID
		}
		return others[i].CreatedTime.Before(others[j].CreatedTime)
	})

	var (
		touched   []*Session
		remaining []*Session
	)
	for _, o := range others {
		if o.ClientInfo.ClientID != sess.ClientInfo.ClientID {
			remaining = append(remaining, o)
			continue
		}
		s.suppressOne(now, o, SuppressYourSelf)
		sess.SuppressedTo = SuppressYourSelf
		touched = append(touched, o)
	}

	if maxClients > 0 && len(remaining)+1 > maxClients {
		n := len(remaining) - maxClients + 1
		for _, o := range remaining[:n] {
			s.suppressOne(now, o, SuppressOther)
			sess.SuppressedTo = SuppressOther
			touched = append(touched, o)
		}
	}
	return touched
}

func (s *Service) suppressOne(now time.Time, o *Session, by SuppressType) {
	s.end(now, o, CodeSessionSuppressedBy)
	o.SuppressedBy = by
	s.markUpdated(o.SessionID)
	s.metrics.suppression(by)

	s.log.Info("session.suppressed",
		"session_id", o.SessionID,
		"token", token.Fingerprint(o.TokenID),
		"by", string(by),
	)
}

// activeClients counts distinct client ids with an open session on sess's token.
// includeSelf adds sess itself, which may not be in the table yet.
func (s *Service) activeClients(sess *Session, includeSelf bool) int {
	clients := make(map[string]struct{})
	for _, o := range s.tokenSessions(sess.TokenID) {
		if o.SessionID != sess.SessionID && o.Active() {
			clients[o.ClientInfo.ClientID] = struct{}{}
		}
	}
	if includeSelf && sess.Active() {
		clients[sess.ClientInfo.ClientID] = struct{}{}
	}
	return len(clients)
}

func (s *Service) response(sess *Session, usage Usage) Response {
	return Response{
		ErrorCode:       sess.ErrorCode,
		ErrorMessage:    sess.ErrorMessage,
		SessionID:       sess.SessionID,
		SessionKey:      bytes.Clone(sess.SessionKey),
		CreatedTime:     sess.CreatedTime,
		SuppressedBy:    sess.SuppressedBy,
		SuppressedTo:    sess.SuppressedTo,
		Usage:           usage,
		AdRequirement:   sess.AdRequirement,
		ExtraData:       sess.ExtraData,
		ProtocolVersion: sess.ProtocolVersion,
	}
}
