package aggregation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/carelink/agent-portal/internal/apperr"
	"github.com/carelink/agent-portal/internal/storage"
	"github.com/carelink/agent-portal/internal/storage/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func fieldNames(t *testing.T, err error) []string {
	t.Helper()
	var appErr *apperr.Error
	require.True(t, errors.As(err, &appErr), "expected *apperr.Error, got %T", err)
	names := make([]string, len(appErr.Fields))
	for i, f := range appErr.Fields {
		names[i] = f.Field
	}
	return names
}

func TestDecodeParameters_CollectsAllFieldErrors(t *testing.T) {
	raw := json.RawMessage(`{"dateTo":"2024-13-01","format":"docx","topN":-1}`)

	_, err := DecodeParameters(storage.ReportTypeAppointmentSummary, raw, 365)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Equal(t, []string{"dateFrom", "dateTo", "format", "topN"}, fieldNames(t, err))
}

func TestDecodeParameters_Defaults(t *testing.T) {
	raw := json.RawMessage(`{"dateFrom":"2024-01-01","dateTo":"2024-01-31","groupBy":"fortnight"}`)

	p, err := DecodeParameters(storage.ReportTypeRevenueAnalysis, raw, 365)
	require.NoError(t, err)

	rp, ok := p.(*RevenueAnalysisParams)
	require.True(t, ok)
	assert.Equal(t, GroupByDay, rp.GroupBy)
	assert.Equal(t, FormatCSV, rp.Format)
	assert.Equal(t, defaultTopN, rp.TopN)
	assert.Equal(t, 30, rp.Days())
	assert.Equal(t, day(2024, 2, 1), rp.End())
}

func TestDecodeParameters_UnknownType(t *testing.T) {
	_, err := DecodeParameters("WEATHER", nil, 365)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Equal(t, []string{"type"}, fieldNames(t, err))
}

func TestDecodeParameters_KindSpecificFields(t *testing.T) {
	raw := json.RawMessage(`{"dateFrom":"2024-01-01","dateTo":"2024-01-31","statuses":["DONE"]}`)
	_, err := DecodeParameters(storage.ReportTypeAppointmentSummary, raw, 365)
	assert.Equal(t, []string{"statuses"}, fieldNames(t, err))

	raw = json.RawMessage(`{"dateFrom":"2024-01-01","dateTo":"2024-01-31","minRating":9}`)
	_, err = DecodeParameters(storage.ReportTypeCustomerSatisfaction, raw, 365)
	assert.Equal(t, []string{"minRating"}, fieldNames(t, err))
}

func TestValidateRange(t *testing.T) {
	assert.NoError(t, ValidateRange(day(2024, 1, 1), day(2024, 12, 31), 365), "365 days must pass")

	err := ValidateRange(day(2024, 1, 1), day(2025, 1, 1), 365)
	require.ErrorIs(t, err, apperr.ErrRangeTooLarge)
	assert.Contains(t, err.Error(), "366 days")

	err = ValidateRange(day(2024, 2, 1), day(2024, 1, 1), 365)
	assert.ErrorIs(t, err, apperr.ErrInvalidDateRange)

	assert.NoError(t, ValidateRange(day(2020, 1, 1), day(2024, 1, 1), 0), "zero disables the limit")
}

func TestBucketKey(t *testing.T) {
	ts := time.Date(2024, 1, 10, 15, 30, 0, 0, time.UTC) // Wednesday

	assert.Equal(t, "2024-01-10", BucketKey(ts, GroupByDay))
	assert.Equal(t, "2024-01-07", BucketKey(ts, GroupByWeek))
	assert.Equal(t, "2024-01", BucketKey(ts, GroupByMonth))
	assert.Equal(t, "2024-01-10", BucketKey(ts, "quarter"))

	// A Sunday starts its own week.
	assert.Equal(t, "2024-01-07", BucketKey(day(2024, 1, 7), GroupByWeek))
}

func TestBucketKeys_JanuaryByWeek(t *testing.T) {
	keys := BucketKeys(day(2024, 1, 1), day(2024, 1, 31), GroupByWeek)
	assert.Equal(t, []string{"2023-12-31", "2024-01-07", "2024-01-14", "2024-01-21", "2024-01-28"}, keys)
}

func TestTopN_StableTieBreak(t *testing.T) {
	type item struct {
		id    string
		value int64
	}
	items := []item{{"c", 5}, {"a", 5}, {"b", 7}, {"d", 1}}

	got := TopN(items, 3,
		func(i item) decimal.Decimal { return decimal.NewFromInt(i.value) },
		func(i item) string { return i.id })

	assert.Equal(t, []item{{"b", 7}, {"a", 5}, {"c", 5}}, got)
	assert.Equal(t, "c", items[0].id, "input must not be reordered")
}

func TestWithWindow(t *testing.T) {
	raw := json.RawMessage(`{"dateFrom":"2023-01-01","dateTo":"2023-01-31","groupBy":"week"}`)
	out, err := WithWindow(raw, day(2024, 2, 1), day(2024, 2, 29))
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(out, &doc))
	assert.Equal(t, "2024-02-01", doc["dateFrom"])
	assert.Equal(t, "2024-02-29", doc["dateTo"])
	assert.Equal(t, "week", doc["groupBy"])

	fixed := json.RawMessage(`{"dateFrom":"2023-01-01","dateTo":"2023-01-31","fixedRange":true}`)
	out, err = WithWindow(fixed, day(2024, 2, 1), day(2024, 2, 29))
	require.NoError(t, err)
	assert.JSONEq(t, string(fixed), string(out))
}

func seededDirectory() *memory.DirectoryMemoryStorage {
	d := memory.NewDirectoryMemoryStorage()
	d.SeedUsers(
		storage.User{ID: "agent-1", Name: "Ana", Role: "agent"},
		storage.User{ID: "agent-2", Name: "Ben", Role: "agent"},
	)
	d.SeedHospitals(storage.Hospital{ID: "h-1", Name: "City General"}, storage.Hospital{ID: "h-2", Name: "Lakeside"})
	d.SeedDoctors(
		storage.Doctor{ID: "doc-1", Name: "Dr. Ray", HospitalID: "h-1"},
		storage.Doctor{ID: "doc-2", Name: "Dr. Sun", HospitalID: "h-2"},
	)
	return d
}

func TestBuilderRun_RevenueByWeek(t *testing.T) {
	d := seededDirectory()
	amounts := []string{"0.10", "0.20", "100.00", "49.99"}
	for i, a := range amounts {
		d.SeedPayments(storage.Payment{
			ID:         fmt.Sprintf("p%d", i),
			AgentID:    "agent-1",
			DoctorID:   "doc-1",
			HospitalID: "h-1",
			Amount:     decimal.RequireFromString(a),
			Method:     "card",
			Status:     storage.PaymentPaid,
			CreatedAt:  day(2024, 1, 1+i*9),
		})
	}
	d.SeedPayments(
		storage.Payment{ID: "late", Amount: decimal.NewFromInt(999), Status: storage.PaymentPaid, CreatedAt: day(2024, 2, 1)},
		storage.Payment{ID: "ref", AgentID: "agent-2", Amount: decimal.NewFromInt(20), Status: storage.PaymentRefunded, Method: "cash", CreatedAt: day(2024, 1, 31)},
	)

	raw := json.RawMessage(`{"dateFrom":"2024-01-01","dateTo":"2024-01-31","groupBy":"week","includeCharts":true}`)
	p, err := DecodeParameters(storage.ReportTypeRevenueAnalysis, raw, 365)
	require.NoError(t, err)

	res, err := NewBuilder(d, 2).Run(context.Background(), p)
	require.NoError(t, err)

	assert.Equal(t, storage.ReportTypeRevenueAnalysis, res.Type)
	assert.Equal(t, 5, res.RecordCount)
	assert.LessOrEqual(t, len(res.Data), 5)
	assert.Len(t, res.Data, 5)

	sum, ok := res.Summary.(RevenueSummary)
	require.True(t, ok)
	assert.Equal(t, json.Number("150.29"), sum.TotalRevenue)
	assert.Equal(t, json.Number("20.00"), sum.RefundedAmount)
	assert.Equal(t, 4, sum.PaidCount)
	assert.Equal(t, json.Number("37.57"), sum.AverageTicket)
	require.Len(t, sum.TopHospitals, 1)
	assert.Equal(t, "City General", sum.TopHospitals[0].Name)
	assert.NotEmpty(t, res.Charts)
}

func TestBuilderRun_ChartsOmittedUnlessRequested(t *testing.T) {
	d := seededDirectory()
	raw := json.RawMessage(`{"dateFrom":"2024-01-01","dateTo":"2024-01-31"}`)
	p, err := DecodeParameters(storage.ReportTypeOperationalMetrics, raw, 365)
	require.NoError(t, err)

	res, err := NewBuilder(d, 0).Run(context.Background(), p)
	require.NoError(t, err)
	assert.Nil(t, res.Charts)
}

func TestBuilderRun_InvalidReferenceNamesIDs(t *testing.T) {
	d := seededDirectory()
	raw := json.RawMessage(`{"dateFrom":"2024-01-01","dateTo":"2024-01-31","doctorIds":["doc-1","doc-x"],"hospitalIds":["h-9"]}`)
	p, err := DecodeParameters(storage.ReportTypeAppointmentSummary, raw, 365)
	require.NoError(t, err)

	_, err = NewBuilder(d, 0).Run(context.Background(), p)
	require.ErrorIs(t, err, apperr.ErrInvalidReference)
	assert.Contains(t, err.Error(), "doc-x")
	assert.Contains(t, err.Error(), "h-9")
	assert.NotContains(t, err.Error(), "doc-1,")
}

func TestBuilderRun_AgentPerformanceRanking(t *testing.T) {
	d := seededDirectory()
	for i := 0; i < 25; i++ {
		agent := "agent-1"
		if i%5 == 0 {
			agent = "agent-2"
		}
		status := storage.AppointmentCompleted
		if i%4 == 0 {
			status = storage.AppointmentCancelled
		}
		d.SeedAppointments(storage.Appointment{
			ID: fmt.Sprintf("a%02d", i), AgentID: agent, DoctorID: "doc-1", HospitalID: "h-1",
			Status: status, ScheduledAt: day(2024, 1, 1+i), Fee: decimal.NewFromInt(10),
		})
	}
	d.SeedPayments(
		storage.Payment{ID: "p1", AgentID: "agent-2", Amount: decimal.NewFromInt(500), Status: storage.PaymentPaid, CreatedAt: day(2024, 1, 3)},
		storage.Payment{ID: "p2", AgentID: "agent-1", Amount: decimal.NewFromInt(100), Status: storage.PaymentPaid, CreatedAt: day(2024, 1, 4)},
	)

	raw := json.RawMessage(`{"dateFrom":"2024-01-01","dateTo":"2024-01-31"}`)
	p, err := DecodeParameters(storage.ReportTypeAgentPerformance, raw, 365)
	require.NoError(t, err)

	// A small chunk size forces several pages.
	res, err := NewBuilder(d, 4).Run(context.Background(), p)
	require.NoError(t, err)

	require.Len(t, res.Data, 2)
	first := res.Data[0].(AgentRow)
	second := res.Data[1].(AgentRow)
	assert.Equal(t, "agent-2", first.AgentID)
	assert.Equal(t, 1, first.Rank)
	assert.Equal(t, 5, first.Bookings)
	assert.Equal(t, 20, second.Bookings)

	sum := res.Summary.(AgentPerformanceSummary)
	assert.Equal(t, 25, sum.TotalBookings)
	assert.Equal(t, json.Number("600.00"), sum.TotalRevenue)
	require.NotNil(t, sum.TopAgent)
	assert.Equal(t, "Ben", sum.TopAgent.Name)
}

func TestBuilderRun_SatisfactionDistribution(t *testing.T) {
	d := seededDirectory()
	ratings := []int{5, 4, 3, 5}
	for i, r := range ratings {
		r := r
		d.SeedAppointments(storage.Appointment{
			ID: fmt.Sprintf("s%d", i), DoctorID: "doc-2", HospitalID: "h-2",
			Status: storage.AppointmentCompleted, ScheduledAt: day(2024, 3, 1+i), Rating: &r,
		})
	}
	d.SeedAppointments(storage.Appointment{ID: "unrated", DoctorID: "doc-1", ScheduledAt: day(2024, 3, 10)})

	raw := json.RawMessage(`{"dateFrom":"2024-03-01","dateTo":"2024-03-31","groupBy":"month"}`)
	p, err := DecodeParameters(storage.ReportTypeCustomerSatisfaction, raw, 365)
	require.NoError(t, err)

	res, err := NewBuilder(d, 0).Run(context.Background(), p)
	require.NoError(t, err)

	sum := res.Summary.(SatisfactionSummary)
	assert.Equal(t, json.Number("4.25"), sum.AverageRating)
	assert.Equal(t, 4, sum.RatedCount)
	assert.Equal(t, json.Number("80.00"), sum.RatedShare)
	assert.Equal(t, json.Number("75.00"), sum.SatisfiedShare)
	assert.Equal(t, 2, sum.Distribution["5"])
	require.Len(t, res.Data, 1)
	assert.Equal(t, "2024-03", res.Data[0].(SatisfactionBucketRow).Period)
}
