package notifications

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	TypeReportCompleted = "report_completed"
	TypeReportFailed    = "report_failed"
	TypeScheduleCreated = "schedule_created"
	TypeExportCompleted = "export_completed"
)

const (
	DeliveryInApp = "in_app"
	DeliveryEmail = "email"
)

// Notice is one message for a recipient. Data is encoded as JSON.
type Notice struct {
	Title   string
	Message string
	Type    string
	Data    any
}

type NotificationDTO struct {
	ID        uuid.UUID       `json:"id"`
	Title     string          `json:"title"`
	Message   string          `json:"message"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	IsRead    bool            `json:"isRead"`
	ReadAt    *time.Time      `json:"readAt,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

type ListResponse struct {
	Notifications []NotificationDTO `json:"notifications"`
}

type UnreadCountResponse struct {
	Unread int `json:"unread"`
}

type MarkReadRequest struct {
	IDs []uuid.UUID `json:"ids"`
	All bool        `json:"all"`
}

type MarkReadResponse struct {
	Updated int `json:"updated"`
}
