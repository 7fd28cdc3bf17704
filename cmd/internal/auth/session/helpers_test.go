package session

import (
	"context"
	"testing"
	"time"

	"tunnelgate/cmd/identity/ids"
	"tunnelgate/cmd/internal/access"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, dir string, cfg Config) *Service {
	t.Helper()

	if dir == "" {
		dir = t.TempDir()
	}
	store, err := NewFileStore(dir, nil)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	svc, err := NewService(context.Background(), cfg, store, Options{})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func newTokenData(t *testing.T, maxClients int, maxTraffic int64) access.Data {
	t.Helper()

	id, err := ids.NewTokenID(t0)
	if err != nil {
		t.Fatalf("NewTokenID: %v", err)
	}
	return access.Data{
		Record: access.Record{
			TokenID:        id,
			IssuedAt:       t0,
			MaxClientCount: maxClients,
			MaxTraffic:     maxTraffic,
			AdRequirement:  access.AdRequirementNone,
			Secret:         make([]byte, 16),
		},
		Usage: access.Usage{Version: access.UsageVersion, CreatedTime: t0, LastUsedTime: t0},
	}
}

func request(data access.Data, clientID string) Request {
	return Request{
		TokenID:         data.Record.TokenID,
		ClientInfo:      ClientInfo{ClientID: clientID, ClientVersion: "4.0.0"},
		ProtocolVersion: 5,
	}
}

func mustCreate(t *testing.T, svc *Service, now time.Time, data access.Data, clientID string) Response {
	t.Helper()

	res, err := svc.CreateSession(context.Background(), now, request(data, clientID), data)
	if err != nil {
		t.Fatalf("CreateSession(%s): %v", clientID, err)
	}
	if res.ErrorCode != CodeOk {
		t.Fatalf("CreateSession(%s) code=%s msg=%q", clientID, res.ErrorCode, res.ErrorMessage)
	}
	return res
}

func mustGet(t *testing.T, svc *Service, id uint64) Session {
	t.Helper()

	s, ok := svc.Get(id)
	if !ok {
		t.Fatalf("session %d not found", id)
	}
	return s
}
