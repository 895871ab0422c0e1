package reports

import (
	"github.com/carelink/agent-portal/internal/aggregation"
	"github.com/carelink/agent-portal/internal/storage"
)

// baseSeconds is the fixed cost of each report kind.
var baseSeconds = map[storage.ReportType]int{
	storage.ReportTypeAppointmentSummary:   5,
	storage.ReportTypeRevenueAnalysis:      8,
	storage.ReportTypeAgentPerformance:     10,
	storage.ReportTypeCustomerSatisfaction: 6,
	storage.ReportTypeOperationalMetrics:   12,
}

// EstimateSeconds is a deterministic generation estimate: the kind's base cost,
// one second per started week of range, and surcharges for charts, details
// and document output.
func EstimateSeconds(p aggregation.Parameters) int {
	c := p.Base()
	secs := baseSeconds[p.Kind()]
	if secs == 0 {
		secs = 5
	}
	secs += (c.Days() + 7) / 7
	if c.IncludeCharts {
		secs += 3
	}
	if c.IncludeDetails {
		secs += c.Days()/30 + 2
	}
	if c.Format == aggregation.FormatPDF {
		secs += 4
	}
	return secs
}
