package notifications

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/carelink/agent-portal/internal/mailer"
	"github.com/carelink/agent-portal/internal/storage"
	"github.com/carelink/agent-portal/internal/storage/memory"
	"github.com/carelink/agent-portal/internal/userctx"
	"github.com/rs/zerolog"
)

func newTestService() (*Service, *memory.MemoryStorage, *mailer.LocalSender) {
	mem := memory.New()
	mem.Directory().SeedUsers(
		storage.User{ID: "agent-1", Name: "Ana", Email: "ana@example.com", Role: "agent"},
		storage.User{ID: "agent-2", Name: "Ben", Role: "agent"},
	)
	sender := mailer.NewLocalSender(zerolog.Nop())
	svc := NewService(mem.GetNotificationsStorage(), mem.GetDataStore(), sender, zerolog.Nop())
	return svc, mem, sender
}

func TestDeliverIsBestEffort(t *testing.T) {
	ctx := context.Background()
	svc, _, sender := newTestService()

	recipients := []storage.Recipient{
		{UserID: "agent-1", DeliveryMethod: DeliveryInApp},
		{UserID: "agent-1", DeliveryMethod: DeliveryEmail},
		{UserID: "agent-2", DeliveryMethod: DeliveryEmail},                            // no address on file
		{UserID: "agent-2", DeliveryMethod: DeliveryEmail, Email: "ben@example.com"}, // explicit address
	}
	att := &mailer.Attachment{FileName: "r.csv", Data: []byte("x")}
	delivered := svc.Deliver(ctx, recipients, Notice{Title: "Report ready", Type: TypeReportCompleted, Data: map[string]string{"reportId": "r1"}}, att)
	if delivered != 3 {
		t.Fatalf("expected 3 deliveries, got %d", delivered)
	}

	sent := sender.Sent()
	if len(sent) != 2 {
		t.Fatalf("expected 2 emails, got %d", len(sent))
	}
	if sent[0].To[0] != "ana@example.com" || sent[1].To[0] != "ben@example.com" {
		t.Fatalf("unexpected recipients %v %v", sent[0].To, sent[1].To)
	}
	if len(sent[0].Attachments) != 1 {
		t.Fatal("expected attachment on email")
	}

	items, err := svc.List(ctx, "agent-1", false, 10, 0)
	if err != nil || len(items) != 1 {
		t.Fatalf("expected one in-app notification, got %d err=%v", len(items), err)
	}
	if string(items[0].Data) != `{"reportId":"r1"}` {
		t.Fatalf("unexpected data %s", items[0].Data)
	}
}

func TestInboxHandlers(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService()
	h := NewHandler(svc)

	for i := 0; i < 3; i++ {
		if err := svc.Notify(ctx, "agent-1", Notice{Title: "n", Type: TypeScheduleCreated}); err != nil {
			t.Fatalf("notify: %v", err)
		}
	}
	svc.Notify(ctx, "agent-2", Notice{Title: "other"})

	withUser := func(r *http.Request) *http.Request {
		return r.WithContext(userctx.WithIdentity(r.Context(), userctx.Identity{UserID: "agent-1"}))
	}

	rec := httptest.NewRecorder()
	h.HandleUnreadCount(rec, withUser(httptest.NewRequest(http.MethodGet, "/v1/notifications/unread-count", nil)))
	var count UnreadCountResponse
	json.NewDecoder(rec.Body).Decode(&count)
	if count.Unread != 3 {
		t.Fatalf("expected 3 unread, got %d", count.Unread)
	}

	rec = httptest.NewRecorder()
	h.HandleList(rec, withUser(httptest.NewRequest(http.MethodGet, "/v1/notifications?limit=2", nil)))
	var list ListResponse
	json.NewDecoder(rec.Body).Decode(&list)
	if rec.Code != http.StatusOK || len(list.Notifications) != 2 {
		t.Fatalf("expected 2 items, got %d (status %d)", len(list.Notifications), rec.Code)
	}

	body := `{"ids":["` + list.Notifications[0].ID.String() + `"]}`
	rec = httptest.NewRecorder()
	h.HandleMarkRead(rec, withUser(httptest.NewRequest(http.MethodPost, "/v1/notifications/mark-read", strings.NewReader(body))))
	var marked MarkReadResponse
	json.NewDecoder(rec.Body).Decode(&marked)
	if marked.Updated != 1 {
		t.Fatalf("expected 1 updated, got %d", marked.Updated)
	}

	rec = httptest.NewRecorder()
	h.HandleMarkRead(rec, withUser(httptest.NewRequest(http.MethodPost, "/v1/notifications/mark-read", strings.NewReader(`{}`))))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty mark-read, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.HandleMarkRead(rec, withUser(httptest.NewRequest(http.MethodPost, "/v1/notifications/mark-read", strings.NewReader(`{"all":true}`))))
	json.NewDecoder(rec.Body).Decode(&marked)
	if marked.Updated != 2 {
		t.Fatalf("expected 2 updated, got %d", marked.Updated)
	}

	n, _ := svc.UnreadCount(ctx, "agent-2")
	if n != 1 {
		t.Fatalf("other user's inbox must be untouched, got %d", n)
	}

	rec = httptest.NewRecorder()
	h.HandleList(rec, httptest.NewRequest(http.MethodGet, "/v1/notifications", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without identity, got %d", rec.Code)
	}
}
