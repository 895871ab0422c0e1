package mailer

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// LocalSender logs messages instead of sending them and keeps them for inspection.
type LocalSender struct {
	logger zerolog.Logger

	mu   sync.Mutex
	sent []Message
}

func NewLocalSender(logger zerolog.Logger) *LocalSender {
	return &LocalSender{logger: logger}
}

func (s *LocalSender) Send(ctx context.Context, msg Message) error {
	if err := validate(msg); err != nil {
		return err
	}

	names := make([]string, len(msg.Attachments))
	for i, a := range msg.Attachments {
		names[i] = a.FileName
	}
	s.logger.Info().
		Strs("to", msg.To).
		Str("subject", msg.Subject).
		Strs("attachments", names).
		Msg("mailer.local: message captured")

	s.mu.Lock()
	s.sent = append(s.sent, msg)
	s.mu.Unlock()
	return nil
}

// Sent returns the captured messages in send order.
func (s *LocalSender) Sent() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.sent...)
}
