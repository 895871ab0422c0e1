// Package notifications is the in-app inbox and the recipient delivery used by
// schedules and reports.
package notifications

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/carelink/agent-portal/internal/apperr"
	"github.com/carelink/agent-portal/internal/mailer"
	"github.com/carelink/agent-portal/internal/storage"
	"github.com/rs/zerolog"
)

// UserLookup resolves recipient email addresses.
type UserLookup interface {
	GetUser(ctx context.Context, id string) (*storage.User, error)
}

type Service struct {
	store  storage.NotificationsStorage
	users  UserLookup
	sender mailer.Sender
	logger zerolog.Logger
}

func NewService(store storage.NotificationsStorage, users UserLookup, sender mailer.Sender, logger zerolog.Logger) *Service {
	return &Service{
		store:  store,
		users:  users,
		sender: sender,
		logger: logger.With().Str("component", "notifications").Logger(),
	}
}

// Notify stores an in-app notification for userID.
func (s *Service) Notify(ctx context.Context, userID string, n Notice) error {
	var data json.RawMessage
	if n.Data != nil {
		raw, err := json.Marshal(n.Data)
		if err != nil {
			return apperr.Wrap(apperr.KindInternal, "encode notification data", err)
		}
		data = raw
	}
	return s.store.CreateNotification(ctx, &storage.Notification{
		UserID:  userID,
		Title:   n.Title,
		Message: n.Message,
		Type:    n.Type,
		Data:    data,
	})
}

// Deliver sends n to every recipient by its delivery method. Failures are
// logged and skipped; the number of successful deliveries is returned.
func (s *Service) Deliver(ctx context.Context, recipients []storage.Recipient, n Notice, attachment *mailer.Attachment) int {
	delivered := 0
	for _, rcpt := range recipients {
		var err error
		switch rcpt.DeliveryMethod {
		case DeliveryEmail:
			err = s.email(ctx, rcpt, n, attachment)
		default:
			err = s.Notify(ctx, rcpt.UserID, n)
		}
		if err != nil {
			s.logger.Warn().Err(err).
				Str("user_id", rcpt.UserID).
				Str("delivery", rcpt.DeliveryMethod).
				Str("type", n.Type).
				Msg("recipient delivery failed")
			continue
		}
		delivered++
	}
	return delivered
}

func (s *Service) email(ctx context.Context, rcpt storage.Recipient, n Notice, attachment *mailer.Attachment) error {
	if s.sender == nil {
		return apperr.New(apperr.KindInternal, "no email sender configured")
	}
	addr := strings.TrimSpace(rcpt.Email)
	if addr == "" && s.users != nil {
		u, err := s.users.GetUser(ctx, rcpt.UserID)
		if err != nil {
			return err
		}
		addr = u.Email
	}
	if addr == "" {
		return apperr.Newf(apperr.KindValidation, "no email address for user %s", rcpt.UserID)
	}

	msg := mailer.Message{To: []string{addr}, Subject: n.Title, Text: n.Message}
	if attachment != nil {
		msg.Attachments = []mailer.Attachment{*attachment}
	}
	return s.sender.Send(ctx, msg)
}

func (s *Service) List(ctx context.Context, userID string, onlyUnread bool, limit, offset int) ([]NotificationDTO, error) {
	items, err := s.store.ListNotifications(ctx, userID, onlyUnread, limit, offset)
	if err != nil {
		return nil, err
	}
	out := make([]NotificationDTO, len(items))
	for i, n := range items {
		out[i] = NotificationDTO{
			ID:        n.ID,
			Title:     n.Title,
			Message:   n.Message,
			Type:      n.Type,
			Data:      n.Data,
			IsRead:    n.ReadAt != nil,
			ReadAt:    n.ReadAt,
			CreatedAt: n.CreatedAt,
		}
	}
	return out, nil
}

func (s *Service) UnreadCount(ctx context.Context, userID string) (int, error) {
	return s.store.UnreadCount(ctx, userID)
}

func (s *Service) MarkRead(ctx context.Context, userID string, req MarkReadRequest) (int, error) {
	if req.All {
		return s.store.MarkAllRead(ctx, userID)
	}
	if len(req.IDs) == 0 {
		return 0, apperr.WithFields(apperr.KindValidation, "nothing to mark", []apperr.FieldError{
			{Field: "ids", Message: "provide ids or set all=true"},
		})
	}
	return s.store.MarkRead(ctx, userID, req.IDs)
}
