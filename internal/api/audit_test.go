package api

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/forgerunner/forgerunner/internal/audit"
	"github.com/forgerunner/forgerunner/internal/auth"
	"github.com/forgerunner/forgerunner/internal/session"
)

// withAudit attaches a recorder backed by the test server's database.
func withAudit(t *testing.T, srv *Server, repo audit.Repository) *audit.Recorder {
	t.Helper()
	rec := audit.NewRecorder(repo)
	srv.audit = rec
	srv.hub.audit = rec
	return rec
}

// flush writes everything queued so far.
func flush(t *testing.T, rec *audit.Recorder) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := rec.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
}

func TestAudit_RecordsActions(t *testing.T) {
	srv, sess, db := testServerWithDB(t)
	rec := withAudit(t, srv, audit.NewSQLiteRepository(db))
	operator := tokenFor(t, auth.RoleOperator)

	if got := do(t, srv, http.MethodPost, "/api/v1/session/start", operator, "").Code; got != http.StatusAccepted {
		t.Fatalf("start status = %d, want 202", got)
	}
	sess.mu.Lock()
	sess.cmdErr = session.ErrNotRunning
	sess.mu.Unlock()
	do(t, srv, http.MethodPost, "/api/v1/session/command", operator, `{"command":"say hi"}`)
	flush(t, rec)

	resp := do(t, srv, http.MethodGet, "/api/v1/audit", tokenFor(t, auth.RoleAdmin), "")
	if resp.Code != http.StatusOK {
		t.Fatalf("GET /audit status = %d, want 200", resp.Code)
	}
	var result audit.ListResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decoding audit list: %v", err)
	}
	if result.Total != 2 {
		t.Fatalf("Total = %d, want 2", result.Total)
	}

	byAction := map[string]audit.Entry{}
	for _, e := range result.Entries {
		byAction[e.Action] = e
	}
	start := byAction[audit.ActionStart]
	if start.Actor != "tester" || start.Source != audit.SourceAPI || start.Outcome != "" {
		t.Errorf("start entry = %+v, want tester/api with no outcome", start)
	}
	cmd := byAction[audit.ActionCommand]
	if cmd.Detail != "say hi" || cmd.Outcome == "" {
		t.Errorf("command entry = %+v, want detail and a refusal outcome", cmd)
	}
}

func TestAudit_RequiresAdmin(t *testing.T) {
	srv, _, db := testServerWithDB(t)
	withAudit(t, srv, audit.NewSQLiteRepository(db))

	if got := do(t, srv, http.MethodGet, "/api/v1/audit", tokenFor(t, auth.RoleOperator), "").Code; got != http.StatusForbidden {
		t.Errorf("operator GET /audit status = %d, want 403", got)
	}
}

func TestAudit_NotEnabled(t *testing.T) {
	srv, _, _ := testServer(t)

	if got := do(t, srv, http.MethodGet, "/api/v1/audit", tokenFor(t, auth.RoleAdmin), "").Code; got != http.StatusNotFound {
		t.Errorf("GET /audit without recorder status = %d, want 404", got)
	}
}
