package mailer

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/carelink/agent-portal/internal/config"
	"github.com/rs/zerolog"
)

func TestNewSenderFromConfig(t *testing.T) {
	s, err := NewSenderFromConfig(&config.Config{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := s.(*LocalSender); !ok {
		t.Fatalf("expected local sender by default, got %T", s)
	}

	if _, err := NewSenderFromConfig(&config.Config{EmailSenderMode: "smtp"}, zerolog.Nop()); err == nil {
		t.Fatal("expected error without SMTP_HOST")
	}
	s, err = NewSenderFromConfig(&config.Config{EmailSenderMode: "smtp", SMTPHost: "mail", SMTPPort: 587, SMTPFrom: "r@x.io"}, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := s.(*SMTPSender); !ok {
		t.Fatalf("expected smtp sender, got %T", s)
	}
	if _, err := NewSenderFromConfig(&config.Config{EmailSenderMode: "pigeon"}, zerolog.Nop()); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestLocalSenderCapturesMessages(t *testing.T) {
	s := NewLocalSender(zerolog.Nop())

	err := s.Send(context.Background(), Message{
		To:          []string{"ops@example.com"},
		Subject:     "Revenue",
		Attachments: []Attachment{{FileName: "revenue.csv", Data: []byte("a")}},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := s.Send(context.Background(), Message{To: []string{"bad\r\naddress"}}); err == nil {
		t.Fatal("expected invalid recipient error")
	}

	sent := s.Sent()
	if len(sent) != 1 || sent[0].Attachments[0].FileName != "revenue.csv" {
		t.Fatalf("unexpected captured messages: %+v", sent)
	}
}

func TestSMTPMessageCarriesAttachment(t *testing.T) {
	s := NewSMTPSender(SMTPConfig{Host: "mail", Port: 587, From: "reports@example.com"})
	m := s.build(Message{
		To:          []string{"a@example.com", "b@example.com"},
		Subject:     "Weekly\r\nreport",
		Text:        "attached",
		Attachments: []Attachment{{FileName: "weekly.csv", ContentType: "text/csv", Data: []byte("x,y\n")}},
	})

	var buf strings.Builder
	if _, err := m.WriteTo(&buf); err != nil {
		t.Fatalf("write message: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"Subject: Weekly  report", "a@example.com", "b@example.com", "weekly.csv", "Content-Disposition: attachment"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in message:\n%s", want, out)
		}
	}
}

func TestResendSenderPostsAttachments(t *testing.T) {
	var got resendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"id":"1"}`))
	}))
	defer srv.Close()

	s := NewResendSender(ResendConfig{APIKey: "key", From: "r@example.com", URL: srv.URL})
	err := s.Send(context.Background(), Message{
		To:          []string{"a@example.com"},
		Subject:     "Export",
		Attachments: []Attachment{{FileName: "e.csv", Data: []byte("1,2")}},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(got.Attachments) != 1 || got.Attachments[0].Content != base64.StdEncoding.EncodeToString([]byte("1,2")) {
		t.Fatalf("unexpected payload %+v", got)
	}

	bad := NewResendSender(ResendConfig{APIKey: "wrong", URL: srv.URL})
	if err := bad.Send(context.Background(), Message{To: []string{"a@example.com"}}); err == nil {
		t.Fatal("expected API error")
	}
}
