package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Store groups every storage the reporting core needs. Memory and Postgres implement it.
type Store interface {
	GetReportsStorage() ReportsStorage
	GetSchedulesStorage() SchedulesStorage
	GetTemplatesStorage() TemplatesStorage
	GetExportsStorage() ExportsStorage
	GetAuditStorage() AuditStorage
	GetNotificationsStorage() NotificationsStorage
	GetDataStore() DataStore
	Close() error
}

// ---------- Reports ----------

type ReportType string

const (
	ReportTypeAppointmentSummary   ReportType = "APPOINTMENT_SUMMARY"
	ReportTypeRevenueAnalysis      ReportType = "REVENUE_ANALYSIS"
	ReportTypeAgentPerformance     ReportType = "AGENT_PERFORMANCE"
	ReportTypeCustomerSatisfaction ReportType = "CUSTOMER_SATISFACTION"
	ReportTypeOperationalMetrics   ReportType = "OPERATIONAL_METRICS"
)

var ReportTypes = []ReportType{
	ReportTypeAppointmentSummary,
	ReportTypeRevenueAnalysis,
	ReportTypeAgentPerformance,
	ReportTypeCustomerSatisfaction,
	ReportTypeOperationalMetrics,
}

func (t ReportType) Valid() bool {
	for _, known := range ReportTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ReportsStorage persists report records. Status changes go through TransitionReport only.
type ReportsStorage interface {
	CreateReport(ctx context.Context, report *Report) error
	GetReport(ctx context.Context, id uuid.UUID) (*Report, error)
	ListReports(ctx context.Context, filter ReportFilter) ([]Report, int, error)

	// TransitionReport atomically moves a report from `from` to `to` and applies patch.
	// It fails with apperr.ErrInvalidTransition when the move is illegal or the
	// stored status is no longer `from`.
	TransitionReport(ctx context.Context, id uuid.UUID, from, to ReportStatus, patch ReportPatch) (*Report, error)

	// ResetReportForRun re-arms a COMPLETED or FAILED report for an explicit new
	// run. A PENDING report only gets the new parameters.
	ResetReportForRun(ctx context.Context, id uuid.UUID, parameters json.RawMessage) (*Report, error)

	// SetScheduledAt updates the next scheduled time; nil clears it.
	SetScheduledAt(ctx context.Context, id uuid.UUID, scheduledAt *time.Time) error
}

type Report struct {
	ID           uuid.UUID
	Title        string
	Type         ReportType
	Description  string
	Parameters   json.RawMessage
	Status       ReportStatus
	GeneratedBy  string
	TemplateID   *uuid.UUID
	ScheduledAt  *time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
	FilePath     *string // blob object key (nil in local mode)
	FileName     string
	ContentType  string
	FileSize     int64
	RecordCount  int
	ErrorKind    string
	ErrorMessage *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Data         []byte // inline bytes when no blob store is configured
}

// ReportPatch carries the fields written together with a status transition.
type ReportPatch struct {
	FilePath      *string
	FileName      string
	ContentType   string
	FileSize      int64
	RecordCount   int
	ErrorKind     string
	ErrorMessage  *string
	Data          []byte
	ClearSchedule bool
}

type ReportFilter struct {
	Type        ReportType
	Status      ReportStatus
	GeneratedBy string
	CreatedFrom *time.Time
	CreatedTo   *time.Time
	Search      string
	SortBy      string // one of ReportSortFields
	SortDesc    bool
	Limit       int
	Offset      int
}

// ReportSortFields maps public sort keys to column names.
var ReportSortFields = map[string]string{
	"createdAt":   "created_at",
	"updatedAt":   "updated_at",
	"completedAt": "completed_at",
	"scheduledAt": "scheduled_at",
	"title":       "title",
	"type":        "type",
	"status":      "status",
}

// ---------- Schedules ----------

type SchedulesStorage interface {
	CreateSchedule(ctx context.Context, s *ReportSchedule) error
	GetSchedule(ctx context.Context, id uuid.UUID) (*ReportSchedule, error)
	GetScheduleByReport(ctx context.Context, reportID uuid.UUID) (*ReportSchedule, error)
	ListSchedules(ctx context.Context, filter ScheduleFilter) ([]ReportSchedule, int, error)
	UpdateSchedule(ctx context.Context, s *ReportSchedule) error

	// DueSchedules returns active schedules with next_run_at <= before, oldest first.
	DueSchedules(ctx context.Context, before time.Time, limit int) ([]ReportSchedule, error)

	// ClaimRun advances a due schedule only if its next_run_at still equals expected.
	// It returns false when another dispatcher claimed the run first.
	ClaimRun(ctx context.Context, id uuid.UUID, expected time.Time, ranAt time.Time, next *time.Time) (bool, error)

	// RecordRunOutcome stores the result of a dispatched run.
	RecordRunOutcome(ctx context.Context, id uuid.UUID, succeeded bool, at time.Time) error
}

type Recipient struct {
	UserID         string `json:"userId"`
	DeliveryMethod string `json:"deliveryMethod"` // in_app | email
	Email          string `json:"email,omitempty"`
}

type ReportSchedule struct {
	ID                uuid.UUID
	ReportID          uuid.UUID
	Frequency         string
	DayOfWeek         *int
	DayOfMonth        *int
	Hour              int
	Minute            int
	Timezone          string
	IsActive          bool
	Recipients        []Recipient
	StartDate         time.Time
	EndDate           *time.Time
	NextRunAt         *time.Time
	LastRunAt         *time.Time
	LastSuccessfulRun *time.Time
	RunCount          int
	FailureCount      int
	CreatedBy         string
	CancelledAt       *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type ScheduleFilter struct {
	CreatedBy  string
	ActiveOnly bool
	Limit      int
	Offset     int
}

// ---------- Templates ----------

type TemplatesStorage interface {
	CreateTemplate(ctx context.Context, t *Template) error
	GetTemplate(ctx context.Context, id uuid.UUID) (*Template, error)
	UpdateTemplate(ctx context.Context, t *Template) error
	ListTemplates(ctx context.Context, filter TemplateFilter) ([]Template, error)
}

type Template struct {
	ID          uuid.UUID
	Name        string
	Description string
	ReportType  string // a ReportType or "default"
	Category    string
	Layout      TemplateLayout
	Structure   TemplateStructure
	Styling     map[string]any
	Permissions TemplatePermissions
	Metadata    TemplateMetadata
	CreatedBy   string
	IsActive    bool
	DeletedAt   *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type TemplateLayout struct {
	Format      string            `json:"format,omitempty"`
	Orientation string            `json:"orientation,omitempty"`
	PageSize    string            `json:"pageSize,omitempty"`
	Margins     map[string]int    `json:"margins,omitempty"`
	Colors      map[string]string `json:"colors,omitempty"`
}

type TemplateStructure struct {
	Sections        []TemplateSection `json:"sections"`
	PageBreaks      []string          `json:"pageBreaks,omitempty"`
	ShowPageNumbers bool              `json:"showPageNumbers"`
}

type TemplateSection struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Title      string         `json:"title,omitempty"`
	Content    map[string]any `json:"content,omitempty"`
	Formatting map[string]any `json:"formatting,omitempty"`
	Visibility map[string]any `json:"visibility,omitempty"`
}

type TemplatePermissions struct {
	IsPublic     bool     `json:"isPublic"`
	AllowedRoles []string `json:"allowedRoles,omitempty"`
	AllowedUsers []string `json:"allowedUsers,omitempty"`
}

type TemplateMetadata struct {
	Version string   `json:"version"`
	Tags    []string `json:"tags,omitempty"`
}

type TemplateFilter struct {
	ReportType      string
	Category        string
	Tag             string
	Search          string
	IncludeInactive bool
}

// ---------- Export jobs ----------

type ExportsStorage interface {
	CreateExportJob(ctx context.Context, job *ExportJob) error
	GetExportJob(ctx context.Context, id uuid.UUID) (*ExportJob, error)
	ListExportJobs(ctx context.Context, requestedBy string, limit, offset int) ([]ExportJob, error)
	// FinishExportJob moves a PROCESSING job to a terminal status.
	FinishExportJob(ctx context.Context, id uuid.UUID, to ExportStatus, patch ExportPatch) (*ExportJob, error)
}

type ExportJob struct {
	ID              uuid.UUID
	EntityType      string
	Format          string
	FileName        string
	Status          ExportStatus
	TotalRecords    int
	Filters         map[string]string
	Columns         []string
	IncludeHeaders  bool
	EmailRecipients []string
	FilePath        *string
	FileSize        int64
	ContentType     string
	ErrorMessage    *string
	RequestedBy     string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	CompletedAt     *time.Time
	Data            []byte // inline bytes when no blob store is configured
}

type ExportPatch struct {
	FileName     string
	FilePath     *string
	FileSize     int64
	ContentType  string
	TotalRecords int
	ErrorMessage *string
	Data         []byte
}

// ---------- Audit ----------

// AuditStorage is append-only.
type AuditStorage interface {
	AppendAudit(ctx context.Context, entry *AuditEntry) error
	ListAudit(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}

type AuditEntry struct {
	ID         uuid.UUID
	ActorID    string
	Action     string
	EntityType string
	EntityID   string
	Details    json.RawMessage
	CreatedAt  time.Time
}

type AuditFilter struct {
	EntityType string
	EntityID   string
	ActorID    string
	Limit      int
	Offset     int
}

// ---------- Notifications ----------

type NotificationsStorage interface {
	CreateNotification(ctx context.Context, n *Notification) error
	ListNotifications(ctx context.Context, userID string, onlyUnread bool, limit, offset int) ([]Notification, error)
	UnreadCount(ctx context.Context, userID string) (int, error)
	MarkRead(ctx context.Context, userID string, ids []uuid.UUID) (int, error)
	MarkAllRead(ctx context.Context, userID string) (int, error)
}

type Notification struct {
	ID        uuid.UUID
	UserID    string
	Title     string
	Message   string
	Type      string // report_completed | report_failed | schedule_created | export_completed
	Data      json.RawMessage
	CreatedAt time.Time
	ReadAt    *time.Time
}

// ---------- Collaborator read models ----------

// DataStore is the read-only view of the booking platform's records.
type DataStore interface {
	ListAppointments(ctx context.Context, q AppointmentQuery) ([]Appointment, error)
	ListPayments(ctx context.Context, q PaymentQuery) ([]Payment, error)
	ListDoctors(ctx context.Context, q DirectoryQuery) ([]Doctor, error)
	ListHospitals(ctx context.Context, q DirectoryQuery) ([]Hospital, error)
	GetUser(ctx context.Context, id string) (*User, error)
	// MissingIDs returns the subset of ids that do not exist for kind.
	MissingIDs(ctx context.Context, kind EntityKind, ids []string) ([]string, error)
}

type EntityKind string

const (
	EntityAgent    EntityKind = "agent"
	EntityDoctor   EntityKind = "doctor"
	EntityHospital EntityKind = "hospital"
)

const (
	AppointmentScheduled = "SCHEDULED"
	AppointmentConfirmed = "CONFIRMED"
	AppointmentCompleted = "COMPLETED"
	AppointmentCancelled = "CANCELLED"
	AppointmentNoShow    = "NO_SHOW"

	PaymentPending  = "PENDING"
	PaymentPaid     = "PAID"
	PaymentRefunded = "REFUNDED"
	PaymentFailed   = "FAILED"
)

type Appointment struct {
	ID          string          `json:"id"`
	AgentID     string          `json:"agentId"`
	DoctorID    string          `json:"doctorId"`
	HospitalID  string          `json:"hospitalId"`
	PatientName string          `json:"patientName"`
	Status      string          `json:"status"`
	ScheduledAt time.Time       `json:"scheduledAt"`
	CreatedAt   time.Time       `json:"createdAt"`
	Fee         decimal.Decimal `json:"fee"`
	Rating      *int            `json:"rating,omitempty"`
	Feedback    string          `json:"feedback,omitempty"`
}

type Payment struct {
	ID            string          `json:"id"`
	AppointmentID string          `json:"appointmentId"`
	AgentID       string          `json:"agentId"`
	DoctorID      string          `json:"doctorId"`
	HospitalID    string          `json:"hospitalId"`
	Amount        decimal.Decimal `json:"amount"`
	Method        string          `json:"method"`
	Status        string          `json:"status"`
	PaidAt        *time.Time      `json:"paidAt,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
}

type Doctor struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Specialization string `json:"specialization"`
	HospitalID     string `json:"hospitalId"`
}

type Hospital struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	City string `json:"city"`
}

type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// AppointmentQuery filters appointments by scheduled time within [From, To).
type AppointmentQuery struct {
	From        time.Time
	To          time.Time
	AgentIDs    []string
	DoctorIDs   []string
	HospitalIDs []string
	Statuses    []string
	Limit       int // 0 means no limit
	Offset      int
}

// PaymentQuery filters payments by created time within [From, To).
type PaymentQuery struct {
	From        time.Time
	To          time.Time
	AgentIDs    []string
	DoctorIDs   []string
	HospitalIDs []string
	Statuses    []string
	Limit       int
	Offset      int
}

type DirectoryQuery struct {
	IDs        []string
	HospitalID string
	Limit      int
	Offset     int
}
