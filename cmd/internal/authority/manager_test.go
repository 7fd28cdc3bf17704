package authority

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tunnelgate/cmd/internal/access"
	"tunnelgate/cmd/internal/auth/session"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return newTestManagerAt(t, t.TempDir())
}

func newTestManagerAt(t *testing.T, root string) *Manager {
	t.Helper()

	ctx := context.Background()

	tokens, err := access.Open(ctx, root, access.Options{})
	if err != nil {
		t.Fatalf("access.Open: %v", err)
	}
	store, err := session.NewFileStore(filepath.Join(root, "sessions"), nil)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	sessions, err := session.NewService(ctx, session.DefaultConfig(), store, session.Options{})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	m, err := New(tokens, sessions, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func createToken(t *testing.T, m *Manager, p access.CreateParams) access.Record {
	t.Helper()

	rec, err := m.Tokens().Create(context.Background(), t0, p)
	if err != nil {
		t.Fatalf("Create token: %v", err)
	}
	return rec
}

func openSession(t *testing.T, m *Manager, tokenID, clientID string, now time.Time) session.Response {
	t.Helper()

	res, err := m.SessionCreate(context.Background(), now, session.Request{
		TokenID:    tokenID,
		ClientInfo: session.ClientInfo{ClientID: clientID},
	})
	if err != nil {
		t.Fatalf("SessionCreate: %v", err)
	}
	if res.ErrorCode != session.CodeOk {
		t.Fatalf("SessionCreate code=%s msg=%q", res.ErrorCode, res.ErrorMessage)
	}
	return res
}

func TestNew_RequiresCollaborators(t *testing.T) {
	t.Parallel()

	if _, err := New(nil, nil, nil); err != ErrConfig {
		t.Fatalf("err=%v want ErrConfig", err)
	}
}

func TestSessionCreate_UnknownToken(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	for _, id := range []string{"01jnqz3k8v5x6y7z8a9b0c1d2e", "../../etc/passwd", ""} {
		res, err := m.SessionCreate(context.Background(), t0, session.Request{TokenID: id})
		if err != nil {
			t.Fatalf("SessionCreate(%q): %v", id, err)
		}
		if res.ErrorCode != session.CodeAccessError {
			t.Fatalf("SessionCreate(%q) code=%s want AccessError", id, res.ErrorCode)
		}
	}
}

func TestSessionAddUsage_QuotaEndsSession(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := newTestManager(t)
	rec := createToken(t, m, access.CreateParams{MaxTraffic: 1000})
	created := openSession(t, m, rec.TokenID, "x", t0)

	res, err := m.SessionAddUsage(ctx, t0.Add(time.Second), created.SessionID, 400, 500, session.AdNotChecked)
	if err != nil {
		t.Fatalf("SessionAddUsage: %v", err)
	}
	if res.ErrorCode != session.CodeOk || res.Usage.SentTraffic != 400 || res.Usage.ReceivedTraffic != 500 {
		t.Fatalf("unexpected response under quota: %+v", res)
	}

	res, err = m.SessionAddUsage(ctx, t0.Add(2*time.Second), created.SessionID, 200, 0, session.AdNotChecked)
	if err != nil {
		t.Fatalf("SessionAddUsage: %v", err)
	}
	if res.ErrorCode != session.CodeAccessTrafficOverflow {
		t.Fatalf("code=%s want AccessTrafficOverflow", res.ErrorCode)
	}

	data, err := m.Tokens().Get(ctx, rec.TokenID)
	if err != nil {
		t.Fatalf("Get token: %v", err)
	}
	if got := data.Usage.TotalTraffic(); got != 1100 {
		t.Fatalf("ledger total=%d want 1100", got)
	}

	// New sessions on an exhausted token are refused.
	again, err := m.SessionCreate(ctx, t0.Add(3*time.Second), session.Request{TokenID: rec.TokenID, ClientInfo: session.ClientInfo{ClientID: "y"}})
	if err != nil {
		t.Fatalf("SessionCreate: %v", err)
	}
	if again.ErrorCode != session.CodeAccessTrafficOverflow {
		t.Fatalf("code=%s want AccessTrafficOverflow", again.ErrorCode)
	}
}

func TestSessionGet_DeletedTokenClosesSession(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := newTestManager(t)
	rec := createToken(t, m, access.CreateParams{})
	created := openSession(t, m, rec.TokenID, "x", t0)

	if err := m.Tokens().Delete(ctx, rec.TokenID); err != nil {
		t.Fatalf("Delete token: %v", err)
	}

	res, err := m.SessionGet(ctx, t0.Add(time.Minute), session.StatusQuery{SessionID: created.SessionID})
	if err != nil {
		t.Fatalf("SessionGet: %v", err)
	}
	if res.ErrorCode != session.CodeAccessError {
		t.Fatalf("code=%s want AccessError", res.ErrorCode)
	}
	s, ok := m.Sessions().Get(created.SessionID)
	if !ok {
		t.Fatalf("session dropped from table")
	}
	if s.Active() || s.ErrorCode != session.CodeAccessError {
		t.Fatalf("session should be ended with AccessError: %+v", s)
	}
}

func TestSessionGet_UnknownSession(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	res, err := m.SessionGet(context.Background(), t0, session.StatusQuery{SessionID: 77})
	if err != nil {
		t.Fatalf("SessionGet: %v", err)
	}
	if res.ErrorCode != session.CodeAccessError {
		t.Fatalf("code=%s want AccessError", res.ErrorCode)
	}
	res, err = m.SessionAddUsage(context.Background(), t0, 77, 1, 1, session.AdNotChecked)
	if err != nil {
		t.Fatalf("SessionAddUsage: %v", err)
	}
	if res.ErrorCode != session.CodeAccessError {
		t.Fatalf("code=%s want AccessError", res.ErrorCode)
	}
}

func TestScenario_SuppressionHandOff(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := newTestManager(t)
	rec := createToken(t, m, access.CreateParams{MaxClientCount: 1})

	s1 := openSession(t, m, rec.TokenID, "X", t0)
	openSession(t, m, rec.TokenID, "Y", t0.Add(time.Second))

	ids := m.ResetUpdatedSessions()
	if len(ids) != 1 || ids[0] != s1.SessionID {
		t.Fatalf("updated=%v want [%d]", ids, s1.SessionID)
	}

	res, err := m.SessionGet(ctx, t0.Add(2*time.Second), session.StatusQuery{SessionID: s1.SessionID})
	if err != nil {
		t.Fatalf("SessionGet: %v", err)
	}
	if res.ErrorCode != session.CodeSessionSuppressedBy || res.SuppressedBy != session.SuppressOther {
		t.Fatalf("unexpected S1 status: %+v", res)
	}

	m.SessionClose(ctx, t0.Add(3*time.Second), session.CloseRequest{SessionID: s1.SessionID})
	if s, _ := m.Sessions().Get(s1.SessionID); s.ErrorCode != session.CodeSessionSuppressedBy {
		t.Fatalf("close must not overwrite the suppression code, got %s", s.ErrorCode)
	}
}

func TestSessionCreate_RecordWithUppercaseTokenID(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	m := newTestManagerAt(t, root)
	rec := createToken(t, m, access.CreateParams{})

	path := filepath.Join(root, rec.TokenID+".token2")
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	doc["tokenId"] = strings.ToUpper(rec.TokenID)
	out, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if err := os.WriteFile(path, out, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	reopened := newTestManagerAt(t, root)
	openSession(t, reopened, rec.TokenID, "x", t0)
}
