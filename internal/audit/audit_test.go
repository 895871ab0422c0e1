package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/carelink/agent-portal/internal/storage/memory"
	"github.com/carelink/agent-portal/internal/userctx"
	"github.com/rs/zerolog"
)

func TestRecordAndList(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	rec := NewRecorder(mem.GetAuditStorage(), zerolog.Nop())

	rec.Record(ctx, "agent-1", ActionCreate, EntityReport, "r1", map[string]string{"type": "REVENUE_ANALYSIS"})
	rec.Record(ctx, "agent-1", ActionCancel, EntityReport, "r1", nil)
	rec.Record(ctx, "agent-2", ActionCreate, EntityTemplate, "t1", nil)
	var nilRecorder *Recorder
	nilRecorder.Record(ctx, "x", ActionCreate, EntityReport, "r9", nil)

	h := NewHandler(mem.GetAuditStorage())

	req := httptest.NewRequest(http.MethodGet, "/v1/audit?entityType=report&entityId=r1", nil)
	req = req.WithContext(userctx.WithIdentity(ctx, userctx.Identity{UserID: "agent-1"}))
	w := httptest.NewRecorder()
	h.HandleList(w, req)

	var resp ListResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(resp.Entries))
	}
	if resp.Entries[0].Action != ActionCancel {
		t.Fatalf("expected newest first, got %s", resp.Entries[0].Action)
	}
	if string(resp.Entries[1].Details) != `{"type":"REVENUE_ANALYSIS"}` {
		t.Fatalf("unexpected details %s", resp.Entries[1].Details)
	}

	// agents cannot read other actors' entries
	req = httptest.NewRequest(http.MethodGet, "/v1/audit?actorId=agent-2", nil)
	req = req.WithContext(userctx.WithIdentity(ctx, userctx.Identity{UserID: "agent-1"}))
	w = httptest.NewRecorder()
	h.HandleList(w, req)
	resp = ListResponse{}
	json.NewDecoder(w.Body).Decode(&resp)
	for _, e := range resp.Entries {
		if e.ActorID != "agent-1" {
			t.Fatalf("leaked entry of %s", e.ActorID)
		}
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/audit?actorId=agent-2", nil)
	req = req.WithContext(userctx.WithIdentity(ctx, userctx.Identity{UserID: "ops", Role: userctx.RoleAdmin}))
	w = httptest.NewRecorder()
	h.HandleList(w, req)
	resp = ListResponse{}
	json.NewDecoder(w.Body).Decode(&resp)
	if len(resp.Entries) != 1 || resp.Entries[0].EntityID != "t1" {
		t.Fatalf("admin should see agent-2 entry, got %+v", resp.Entries)
	}
}
