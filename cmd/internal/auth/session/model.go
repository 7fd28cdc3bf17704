package session

import (
	"bytes"
	"net/netip"
	"time"

	"tunnelgate/cmd/internal/access"
)

// ClientInfo is the client metadata carried with a session request.
type ClientInfo struct {
	// ClientID is stable per device.
	ClientID      string `json:"clientId"`
	ClientVersion string `json:"clientVersion,omitempty"`
	UserAgent     string `json:"userAgent,omitempty"`
}

// Request asks for a new session.
type Request struct {
	TokenID         string
	ClientInfo      ClientInfo
	HostEndpoint    netip.AddrPort
	ClientIP        netip.Addr
	ExtraData       string
	ProtocolVersion int
	ConnectPlan     ConnectPlan
}

// StatusQuery asks for the current state of a session.
type StatusQuery struct {
	SessionID uint64
	// HostEndpoint, when valid, replaces the recorded endpoint (client reconnected elsewhere).
	HostEndpoint netip.AddrPort
	AdValidation AdValidation
}

// CloseRequest ends a session.
type CloseRequest struct {
	SessionID uint64
	Reason    ErrorCode
}

// Session is one client's claim on a token. It mirrors the <sessionId>.session file.
type Session struct {
	SessionID       uint64               `json:"sessionId"`
	TokenID         string               `json:"tokenId"`
	ClientInfo      ClientInfo           `json:"clientInfo"`
	SessionKey      []byte               `json:"sessionKey"`
	HostEndpoint    netip.AddrPort       `json:"hostEndPoint"`
	ClientIP        netip.Addr           `json:"clientIp"`
	ExtraData       string               `json:"extraData,omitempty"`
	ProtocolVersion int                  `json:"protocolVersion"`
	ConnectPlan     ConnectPlan          `json:"connectPlan"`
	AdRequirement   access.AdRequirement `json:"adRequirement"`
	CreatedTime     time.Time            `json:"createdTime"`
	LastUsedTime    time.Time            `json:"lastUsedTime"`
	EndTime         *time.Time           `json:"endTime,omitempty"`
	ExpirationTime  *time.Time           `json:"expirationTime,omitempty"`
	ErrorCode       ErrorCode            `json:"errorCode"`
	ErrorMessage    string               `json:"errorMessage,omitempty"`
	SuppressedBy    SuppressType         `json:"suppressedBy"`
	SuppressedTo    SuppressType         `json:"suppressedTo"`
}

// Active reports whether the session has not ended.
func (s *Session) Active() bool { return s.EndTime == nil }

func (s *Session) clone() Session {
	out := *s
	out.SessionKey = bytes.Clone(s.SessionKey)
	if s.EndTime != nil {
		t := *s.EndTime
		out.EndTime = &t
	}
	if s.ExpirationTime != nil {
		t := *s.ExpirationTime
		out.ExpirationTime = &t
	}
	return out
}

// Usage is the usage snapshot returned with every response.
type Usage struct {
	SentTraffic       int64
	ReceivedTraffic   int64
	MaxTraffic        int64
	ExpirationTime    *time.Time
	ActiveClientCount int
}

// Response is the outcome of a session action.
type Response struct {
	ErrorCode       ErrorCode
	ErrorMessage    string
	SessionID       uint64
	SessionKey      []byte
	CreatedTime     time.Time
	SuppressedBy    SuppressType
	SuppressedTo    SuppressType
	Usage           Usage
	AdRequirement   access.AdRequirement
	ExtraData       string
	ProtocolVersion int
}

// ErrorResponse builds a response carrying only code; an empty msg uses code.Message().
func ErrorResponse(code ErrorCode, msg string) Response {
	if msg == "" {
		msg = code.Message()
	}
	return Response{
		ErrorCode:    code,
		ErrorMessage: msg,
		SuppressedBy: SuppressNone,
		SuppressedTo: SuppressNone,
	}
}
