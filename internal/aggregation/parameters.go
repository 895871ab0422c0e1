package aggregation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/carelink/agent-portal/internal/apperr"
	"github.com/carelink/agent-portal/internal/storage"
)

const dateLayout = "2006-01-02"

const (
	GroupByDay   = "day"
	GroupByWeek  = "week"
	GroupByMonth = "month"
)

const (
	FormatCSV   = "csv"
	FormatExcel = "excel"
	FormatPDF   = "pdf"
	FormatJSON  = "json"
)

const (
	defaultTopN = 5
	maxTopN     = 100
)

// Common holds the parameters every report kind accepts.
type Common struct {
	DateFrom       string   `json:"dateFrom"`
	DateTo         string   `json:"dateTo"`
	AgentIDs       []string `json:"agentIds,omitempty"`
	DoctorIDs      []string `json:"doctorIds,omitempty"`
	HospitalIDs    []string `json:"hospitalIds,omitempty"`
	GroupBy        string   `json:"groupBy,omitempty"`
	Format         string   `json:"format,omitempty"`
	IncludeCharts  bool     `json:"includeCharts"`
	IncludeDetails bool     `json:"includeDetails"`
	TopN           int      `json:"topN,omitempty"`
	// FixedRange keeps DateFrom/DateTo on scheduled runs instead of the run window.
	FixedRange bool `json:"fixedRange,omitempty"`

	from time.Time
	to   time.Time
}

func (c *Common) Base() *Common { return c }

// From is the first day of the range, midnight UTC.
func (c *Common) From() time.Time { return c.from }

// To is the last day of the range (inclusive), midnight UTC.
func (c *Common) To() time.Time { return c.to }

// End is the exclusive upper bound used for queries.
func (c *Common) End() time.Time { return c.to.AddDate(0, 0, 1) }

// Days is the length of the range in days, counted as dateTo - dateFrom.
func (c *Common) Days() int { return int(c.to.Sub(c.from).Hours() / 24) }

// Parameters is the typed parameter set of one report kind.
type Parameters interface {
	Kind() storage.ReportType
	Base() *Common
}

type AppointmentSummaryParams struct {
	Common
	Statuses []string `json:"statuses,omitempty"`
}

func (*AppointmentSummaryParams) Kind() storage.ReportType {
	return storage.ReportTypeAppointmentSummary
}

type RevenueAnalysisParams struct {
	Common
	PaymentStatuses []string `json:"paymentStatuses,omitempty"`
	PaymentMethods  []string `json:"paymentMethods,omitempty"`
}

func (*RevenueAnalysisParams) Kind() storage.ReportType { return storage.ReportTypeRevenueAnalysis }

type AgentPerformanceParams struct {
	Common
	MinAppointments int `json:"minAppointments,omitempty"`
}

func (*AgentPerformanceParams) Kind() storage.ReportType { return storage.ReportTypeAgentPerformance }

type CustomerSatisfactionParams struct {
	Common
	MinRating int `json:"minRating,omitempty"`
}

func (*CustomerSatisfactionParams) Kind() storage.ReportType {
	return storage.ReportTypeCustomerSatisfaction
}

type OperationalMetricsParams struct {
	Common
}

func (*OperationalMetricsParams) Kind() storage.ReportType {
	return storage.ReportTypeOperationalMetrics
}

func newParameters(kind storage.ReportType) (Parameters, bool) {
	switch kind {
	case storage.ReportTypeAppointmentSummary:
		return &AppointmentSummaryParams{}, true
	case storage.ReportTypeRevenueAnalysis:
		return &RevenueAnalysisParams{}, true
	case storage.ReportTypeAgentPerformance:
		return &AgentPerformanceParams{}, true
	case storage.ReportTypeCustomerSatisfaction:
		return &CustomerSatisfactionParams{}, true
	case storage.ReportTypeOperationalMetrics:
		return &OperationalMetricsParams{}, true
	}
	return nil, false
}

// DecodeParameters parses and validates the parameter document for kind.
// Shape problems come back together as one validation_error; range problems
// as invalid_date_range or range_too_large. maxDays <= 0 disables the span limit.
func DecodeParameters(kind storage.ReportType, raw json.RawMessage, maxDays int) (Parameters, error) {
	p, ok := newParameters(kind)
	if !ok {
		return nil, apperr.WithFields(apperr.KindValidation, "invalid report", []apperr.FieldError{
			{Field: "type", Message: fmt.Sprintf("unknown report type %q", kind)},
		})
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = []byte("{}")
	}
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, apperr.WithFields(apperr.KindValidation, "invalid parameters", []apperr.FieldError{
			{Field: "parameters", Message: err.Error()},
		})
	}

	c := p.Base()
	var fields []apperr.FieldError
	add := func(field, msg string) {
		fields = append(fields, apperr.FieldError{Field: field, Message: msg})
	}

	var err error
	switch {
	case c.DateFrom == "":
		add("dateFrom", "is required")
	default:
		if c.from, err = time.Parse(dateLayout, c.DateFrom); err != nil {
			add("dateFrom", "must be a date in YYYY-MM-DD format")
		}
	}
	switch {
	case c.DateTo == "":
		add("dateTo", "is required")
	default:
		if c.to, err = time.Parse(dateLayout, c.DateTo); err != nil {
			add("dateTo", "must be a date in YYYY-MM-DD format")
		}
	}

	c.GroupBy = NormalizeGroupBy(c.GroupBy)
	switch c.Format {
	case "":
		c.Format = FormatCSV
	case FormatCSV, FormatExcel, FormatPDF, FormatJSON:
	default:
		add("format", "must be one of csv, excel, pdf, json")
	}
	switch {
	case c.TopN == 0:
		c.TopN = defaultTopN
	case c.TopN < 0 || c.TopN > maxTopN:
		add("topN", fmt.Sprintf("must be between 1 and %d", maxTopN))
	}

	switch tp := p.(type) {
	case *AppointmentSummaryParams:
		for _, s := range tp.Statuses {
			if !knownAppointmentStatus(s) {
				add("statuses", fmt.Sprintf("unknown appointment status %q", s))
			}
		}
	case *RevenueAnalysisParams:
		for _, s := range tp.PaymentStatuses {
			if !knownPaymentStatus(s) {
				add("paymentStatuses", fmt.Sprintf("unknown payment status %q", s))
			}
		}
	case *AgentPerformanceParams:
		if tp.MinAppointments < 0 {
			add("minAppointments", "must not be negative")
		}
	case *CustomerSatisfactionParams:
		if tp.MinRating < 0 || tp.MinRating > 5 {
			add("minRating", "must be between 0 and 5")
		}
	}

	if len(fields) > 0 {
		return nil, apperr.WithFields(apperr.KindValidation, "invalid parameters", fields)
	}
	if err := ValidateRange(c.from, c.to, maxDays); err != nil {
		return nil, err
	}
	return p, nil
}

// ValidateRange checks from <= to and, when maxDays > 0, that the span fits.
func ValidateRange(from, to time.Time, maxDays int) error {
	if from.After(to) {
		return apperr.WithFields(apperr.KindInvalidDateRange, "dateFrom must not be after dateTo", []apperr.FieldError{
			{Field: "dateFrom", Message: from.Format(dateLayout) + " is after " + to.Format(dateLayout)},
		})
	}
	days := int(to.Sub(from).Hours() / 24)
	if maxDays > 0 && days > maxDays {
		return apperr.WithFields(apperr.KindRangeTooLarge,
			fmt.Sprintf("date range of %d days exceeds the maximum of %d days", days, maxDays),
			[]apperr.FieldError{{Field: "dateTo", Message: fmt.Sprintf("requested %d days", days)}})
	}
	return nil
}

// WithWindow rewrites dateFrom/dateTo of a stored parameter document, keeping
// every other key. Documents with fixedRange set are returned unchanged.
func WithWindow(raw json.RawMessage, from, to time.Time) (json.RawMessage, error) {
	doc := map[string]any{}
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("decode parameters: %w", err)
		}
	}
	if fixed, _ := doc["fixedRange"].(bool); fixed {
		return raw, nil
	}
	doc["dateFrom"] = from.Format(dateLayout)
	doc["dateTo"] = to.Format(dateLayout)
	return json.Marshal(doc)
}

func knownAppointmentStatus(s string) bool {
	switch s {
	case storage.AppointmentScheduled, storage.AppointmentConfirmed, storage.AppointmentCompleted,
		storage.AppointmentCancelled, storage.AppointmentNoShow:
		return true
	}
	return false
}

func knownPaymentStatus(s string) bool {
	switch s {
	case storage.PaymentPending, storage.PaymentPaid, storage.PaymentRefunded, storage.PaymentFailed:
		return true
	}
	return false
}
