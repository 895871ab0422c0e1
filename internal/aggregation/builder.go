// Package aggregation turns typed report parameters into summarized report data.
package aggregation

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/carelink/agent-portal/internal/apperr"
	"github.com/carelink/agent-portal/internal/storage"
	"golang.org/x/sync/errgroup"
)

const defaultChunkSize = 100

// Result is the output of one aggregation run.
type Result struct {
	Type        storage.ReportType `json:"type"`
	Period      Period             `json:"period"`
	Summary     any                `json:"summary"`
	Data        []any              `json:"data"`
	Charts      []Chart            `json:"charts,omitempty"`
	RecordCount int                `json:"recordCount"`
	GeneratedAt time.Time          `json:"generatedAt"`
}

type Period struct {
	From    string `json:"from"`
	To      string `json:"to"`
	GroupBy string `json:"groupBy"`
}

// Chart is a derived series ready for plotting.
type Chart struct {
	ID     string   `json:"id"`
	Type   string   `json:"type"` // line | bar | pie
	Title  string   `json:"title"`
	Labels []string `json:"labels"`
	Series []Series `json:"series"`
}

type Series struct {
	Name   string   `json:"name"`
	Values []string `json:"values"`
}

// Builder runs read-only queries against the data store.
type Builder struct {
	store     storage.DataStore
	chunkSize int
	now       func() time.Time
}

func NewBuilder(store storage.DataStore, chunkSize int) *Builder {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	return &Builder{store: store, chunkSize: chunkSize, now: time.Now}
}

// CheckReferences verifies that every referenced agent, doctor and hospital
// exists. All unknown ids are reported in one invalid_reference error.
func (b *Builder) CheckReferences(ctx context.Context, p Parameters) error {
	c := p.Base()
	refs := []struct {
		field string
		kind  storage.EntityKind
		ids   []string
	}{
		{"agentIds", storage.EntityAgent, c.AgentIDs},
		{"doctorIds", storage.EntityDoctor, c.DoctorIDs},
		{"hospitalIds", storage.EntityHospital, c.HospitalIDs},
	}

	missing := make([][]string, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	for i, ref := range refs {
		if len(ref.ids) == 0 {
			continue
		}
		g.Go(func() error {
			ids, err := b.store.MissingIDs(gctx, ref.kind, ref.ids)
			if err != nil {
				return fmt.Errorf("check %s: %w", ref.field, err)
			}
			missing[i] = ids
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var fields []apperr.FieldError
	for i, ids := range missing {
		if len(ids) > 0 {
			fields = append(fields, apperr.FieldError{
				Field:   refs[i].field,
				Message: "unknown ids: " + strings.Join(ids, ", "),
			})
		}
	}
	if len(fields) > 0 {
		return apperr.WithFields(apperr.KindInvalidReference, "filters reference records that do not exist", fields)
	}
	return nil
}

// Run validates references, fetches the rows the report kind needs and summarizes them.
func (b *Builder) Run(ctx context.Context, p Parameters) (*Result, error) {
	if err := b.CheckReferences(ctx, p); err != nil {
		return nil, err
	}

	var (
		appointments []storage.Appointment
		payments     []storage.Payment
	)
	needAppointments, needPayments := sources(p.Kind())

	g, gctx := errgroup.WithContext(ctx)
	if needAppointments {
		g.Go(func() error {
			var err error
			appointments, err = b.fetchAppointments(gctx, p)
			return err
		})
	}
	if needPayments {
		g.Go(func() error {
			var err error
			payments, err = b.fetchPayments(gctx, p)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	names, err := b.loadLabels(ctx, appointments, payments)
	if err != nil {
		return nil, err
	}

	in := input{params: p, appointments: appointments, payments: payments, labels: names}
	var res *Result
	switch tp := p.(type) {
	case *AppointmentSummaryParams:
		res = summarizeAppointments(in, tp)
	case *RevenueAnalysisParams:
		res = summarizeRevenue(in, tp)
	case *AgentPerformanceParams:
		res = summarizeAgents(in, tp)
	case *CustomerSatisfactionParams:
		res = summarizeSatisfaction(in, tp)
	case *OperationalMetricsParams:
		res = summarizeOperations(in, tp)
	default:
		return nil, apperr.Newf(apperr.KindValidation, "unsupported report type %s", p.Kind())
	}

	c := p.Base()
	res.Type = p.Kind()
	res.Period = Period{From: c.DateFrom, To: c.DateTo, GroupBy: c.GroupBy}
	res.RecordCount = len(appointments) + len(payments)
	res.GeneratedAt = b.now().UTC()
	if !c.IncludeCharts {
		res.Charts = nil
	}
	return res, nil
}

func sources(kind storage.ReportType) (appointments, payments bool) {
	switch kind {
	case storage.ReportTypeRevenueAnalysis:
		return false, true
	case storage.ReportTypeAgentPerformance:
		return true, true
	default:
		return true, false
	}
}

// fetchAppointments pages through the data store in chunks.
func (b *Builder) fetchAppointments(ctx context.Context, p Parameters) ([]storage.Appointment, error) {
	c := p.Base()
	q := storage.AppointmentQuery{
		From:        c.From(),
		To:          c.End(),
		AgentIDs:    c.AgentIDs,
		DoctorIDs:   c.DoctorIDs,
		HospitalIDs: c.HospitalIDs,
		Limit:       b.chunkSize,
	}
	if sp, ok := p.(*AppointmentSummaryParams); ok {
		q.Statuses = sp.Statuses
	}

	var out []storage.Appointment
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := b.store.ListAppointments(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("list appointments: %w", err)
		}
		out = append(out, page...)
		if len(page) < b.chunkSize {
			return out, nil
		}
		q.Offset += b.chunkSize
	}
}

func (b *Builder) fetchPayments(ctx context.Context, p Parameters) ([]storage.Payment, error) {
	c := p.Base()
	q := storage.PaymentQuery{
		From:        c.From(),
		To:          c.End(),
		AgentIDs:    c.AgentIDs,
		DoctorIDs:   c.DoctorIDs,
		HospitalIDs: c.HospitalIDs,
		Limit:       b.chunkSize,
	}
	if rp, ok := p.(*RevenueAnalysisParams); ok {
		q.Statuses = rp.PaymentStatuses
	}

	var out []storage.Payment
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := b.store.ListPayments(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("list payments: %w", err)
		}
		full := len(page) == b.chunkSize
		if rp, ok := p.(*RevenueAnalysisParams); ok && len(rp.PaymentMethods) > 0 {
			page = filterPayments(page, rp.PaymentMethods)
		}
		out = append(out, page...)
		if !full {
			return out, nil
		}
		q.Offset += b.chunkSize
	}
}

func filterPayments(page []storage.Payment, methods []string) []storage.Payment {
	var out []storage.Payment
	for _, p := range page {
		for _, m := range methods {
			if strings.EqualFold(p.Method, m) {
				out = append(out, p)
				break
			}
		}
	}
	return out
}

type labels struct {
	agents    map[string]string
	doctors   map[string]string
	hospitals map[string]string
}

func (l labels) agent(id string) string    { return labelOr(l.agents, id) }
func (l labels) doctor(id string) string   { return labelOr(l.doctors, id) }
func (l labels) hospital(id string) string { return labelOr(l.hospitals, id) }

func labelOr(m map[string]string, id string) string {
	if v, ok := m[id]; ok && v != "" {
		return v
	}
	return id
}

// loadLabels resolves display names for every entity referenced by the rows.
func (b *Builder) loadLabels(ctx context.Context, appointments []storage.Appointment, payments []storage.Payment) (labels, error) {
	agentIDs, doctorIDs, hospitalIDs := map[string]bool{}, map[string]bool{}, map[string]bool{}
	for _, a := range appointments {
		agentIDs[a.AgentID], doctorIDs[a.DoctorID], hospitalIDs[a.HospitalID] = true, true, true
	}
	for _, p := range payments {
		agentIDs[p.AgentID], doctorIDs[p.DoctorID], hospitalIDs[p.HospitalID] = true, true, true
	}

	l := labels{agents: map[string]string{}, doctors: map[string]string{}, hospitals: map[string]string{}}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if len(doctorIDs) == 0 {
			return nil
		}
		docs, err := b.store.ListDoctors(gctx, storage.DirectoryQuery{IDs: keys(doctorIDs)})
		if err != nil {
			return fmt.Errorf("list doctors: %w", err)
		}
		for _, d := range docs {
			l.doctors[d.ID] = d.Name
		}
		return nil
	})
	g.Go(func() error {
		if len(hospitalIDs) == 0 {
			return nil
		}
		hs, err := b.store.ListHospitals(gctx, storage.DirectoryQuery{IDs: keys(hospitalIDs)})
		if err != nil {
			return fmt.Errorf("list hospitals: %w", err)
		}
		for _, h := range hs {
			l.hospitals[h.ID] = h.Name
		}
		return nil
	})
	g.Go(func() error {
		for _, id := range keys(agentIDs) {
			u, err := b.store.GetUser(gctx, id)
			if err != nil {
				continue
			}
			l.agents[id] = u.Name
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return labels{}, err
	}
	return l, nil
}

func keys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		if k != "" {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
