package aggregation

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/carelink/agent-portal/internal/storage"
	"github.com/shopspring/decimal"
)

type input struct {
	params       Parameters
	appointments []storage.Appointment
	payments     []storage.Payment
	labels       labels
}

// EntityRef names a related record inside a detail row.
type EntityRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// RankedEntity is one line of a top-N ranking.
type RankedEntity struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Appointments int         `json:"appointments"`
	Revenue      json.Number `json:"revenue"`

	revenue decimal.Decimal
}

type ranking struct {
	byID  map[string]*RankedEntity
	label func(string) string
}

func newRanking(label func(string) string) *ranking {
	return &ranking{byID: map[string]*RankedEntity{}, label: label}
}

func (r *ranking) add(id string, appointments int, revenue decimal.Decimal) {
	if id == "" {
		return
	}
	e, ok := r.byID[id]
	if !ok {
		e = &RankedEntity{ID: id, Name: r.label(id)}
		r.byID[id] = e
	}
	e.Appointments += appointments
	e.revenue = e.revenue.Add(revenue)
}

func (r *ranking) top(n int, byRevenue bool) []RankedEntity {
	items := make([]RankedEntity, 0, len(r.byID))
	for _, e := range r.byID {
		e.Revenue = money(e.revenue)
		items = append(items, *e)
	}
	metric := func(e RankedEntity) decimal.Decimal { return decimal.NewFromInt(int64(e.Appointments)) }
	if byRevenue {
		metric = func(e RankedEntity) decimal.Decimal { return e.revenue }
	}
	return TopN(items, n, metric, func(e RankedEntity) string { return e.ID })
}

func buckets(c *Common) ([]string, map[string]int) {
	keys := BucketKeys(c.From(), c.To(), c.GroupBy)
	idx := make(map[string]int, len(keys))
	for i, k := range keys {
		idx[k] = i
	}
	return keys, idx
}

// ---------- APPOINTMENT_SUMMARY ----------

type AppointmentSummary struct {
	TotalAppointments int            `json:"totalAppointments"`
	ByStatus          map[string]int `json:"byStatus"`
	CompletionRate    json.Number    `json:"completionRate"`
	CancellationRate  json.Number    `json:"cancellationRate"`
	TotalFees         json.Number    `json:"totalFees"`
	TopDoctors        []RankedEntity `json:"topDoctors"`
	TopHospitals      []RankedEntity `json:"topHospitals"`
}

type AppointmentBucketRow struct {
	Period    string `json:"period"`
	Total     int    `json:"total"`
	Scheduled int    `json:"scheduled"`
	Confirmed int    `json:"confirmed"`
	Completed int    `json:"completed"`
	Cancelled int    `json:"cancelled"`
	NoShow    int    `json:"noShow"`
}

type AppointmentDetail struct {
	ID          string      `json:"id"`
	ScheduledAt time.Time   `json:"scheduledAt"`
	Status      string      `json:"status"`
	PatientName string      `json:"patientName"`
	Agent       EntityRef   `json:"agent"`
	Doctor      EntityRef   `json:"doctor"`
	Hospital    EntityRef   `json:"hospital"`
	Fee         json.Number `json:"fee"`
	Rating      *int        `json:"rating"`
}

func detailOf(a storage.Appointment, l labels) AppointmentDetail {
	return AppointmentDetail{
		ID:          a.ID,
		ScheduledAt: a.ScheduledAt.UTC(),
		Status:      a.Status,
		PatientName: a.PatientName,
		Agent:       EntityRef{ID: a.AgentID, Name: l.agent(a.AgentID)},
		Doctor:      EntityRef{ID: a.DoctorID, Name: l.doctor(a.DoctorID)},
		Hospital:    EntityRef{ID: a.HospitalID, Name: l.hospital(a.HospitalID)},
		Fee:         money(a.Fee),
		Rating:      a.Rating,
	}
}

func summarizeAppointments(in input, p *AppointmentSummaryParams) *Result {
	keys, idx := buckets(&p.Common)
	rows := make([]AppointmentBucketRow, len(keys))
	for i, k := range keys {
		rows[i].Period = k
	}

	sum := AppointmentSummary{
		TotalAppointments: len(in.appointments),
		ByStatus:          map[string]int{},
	}
	doctors := newRanking(in.labels.doctor)
	hospitals := newRanking(in.labels.hospital)
	fees := decimal.Zero

	for _, a := range in.appointments {
		sum.ByStatus[a.Status]++
		fees = fees.Add(a.Fee)
		doctors.add(a.DoctorID, 1, a.Fee)
		hospitals.add(a.HospitalID, 1, a.Fee)

		i, ok := idx[BucketKey(a.ScheduledAt, p.GroupBy)]
		if !ok {
			continue
		}
		r := &rows[i]
		r.Total++
		switch a.Status {
		case storage.AppointmentScheduled:
			r.Scheduled++
		case storage.AppointmentConfirmed:
			r.Confirmed++
		case storage.AppointmentCompleted:
			r.Completed++
		case storage.AppointmentCancelled:
			r.Cancelled++
		case storage.AppointmentNoShow:
			r.NoShow++
		}
	}

	sum.CompletionRate = percent(sum.ByStatus[storage.AppointmentCompleted], sum.TotalAppointments)
	sum.CancellationRate = percent(sum.ByStatus[storage.AppointmentCancelled], sum.TotalAppointments)
	sum.TotalFees = money(fees)
	sum.TopDoctors = doctors.top(p.TopN, false)
	sum.TopHospitals = hospitals.top(p.TopN, false)

	var data []any
	if p.IncludeDetails {
		for _, a := range in.appointments {
			data = append(data, detailOf(a, in.labels))
		}
	} else {
		for _, r := range rows {
			data = append(data, r)
		}
	}

	totals := make([]string, len(rows))
	completed := make([]string, len(rows))
	for i, r := range rows {
		totals[i] = strconv.Itoa(r.Total)
		completed[i] = strconv.Itoa(r.Completed)
	}
	statusLabels, statusValues := statusSeries(sum.ByStatus, []string{
		storage.AppointmentScheduled, storage.AppointmentConfirmed, storage.AppointmentCompleted,
		storage.AppointmentCancelled, storage.AppointmentNoShow,
	})

	return &Result{
		Summary: sum,
		Data:    data,
		Charts: []Chart{
			{ID: "appointments_over_time", Type: "line", Title: "Appointments over time", Labels: keys,
				Series: []Series{{Name: "total", Values: totals}, {Name: "completed", Values: completed}}},
			{ID: "status_breakdown", Type: "pie", Title: "Status breakdown", Labels: statusLabels,
				Series: []Series{{Name: "appointments", Values: statusValues}}},
		},
	}
}

func statusSeries(counts map[string]int, order []string) ([]string, []string) {
	var names, values []string
	for _, s := range order {
		if n := counts[s]; n > 0 {
			names = append(names, s)
			values = append(values, strconv.Itoa(n))
		}
	}
	return names, values
}

// ---------- REVENUE_ANALYSIS ----------

type MethodTotal struct {
	Method string      `json:"method"`
	Count  int         `json:"count"`
	Amount json.Number `json:"amount"`
}

type RevenueSummary struct {
	TotalRevenue   json.Number    `json:"totalRevenue"`
	PendingAmount  json.Number    `json:"pendingAmount"`
	RefundedAmount json.Number    `json:"refundedAmount"`
	FailedAmount   json.Number    `json:"failedAmount"`
	PaymentsCount  int            `json:"paymentsCount"`
	PaidCount      int            `json:"paidCount"`
	AverageTicket  json.Number    `json:"averageTicket"`
	ByMethod       []MethodTotal  `json:"byMethod"`
	TopHospitals   []RankedEntity `json:"topHospitals"`
	TopDoctors     []RankedEntity `json:"topDoctors"`
}

type RevenueBucketRow struct {
	Period         string      `json:"period"`
	Payments       int         `json:"payments"`
	PaidRevenue    json.Number `json:"paidRevenue"`
	PendingAmount  json.Number `json:"pendingAmount"`
	RefundedAmount json.Number `json:"refundedAmount"`
}

type PaymentDetail struct {
	ID            string      `json:"id"`
	AppointmentID string      `json:"appointmentId"`
	CreatedAt     time.Time   `json:"createdAt"`
	Status        string      `json:"status"`
	Method        string      `json:"method"`
	Amount        json.Number `json:"amount"`
	Agent         EntityRef   `json:"agent"`
	Doctor        EntityRef   `json:"doctor"`
	Hospital      EntityRef   `json:"hospital"`
}

type revenueBucket struct {
	payments                int
	paid, pending, refunded decimal.Decimal
}

func summarizeRevenue(in input, p *RevenueAnalysisParams) *Result {
	keys, idx := buckets(&p.Common)
	acc := make([]revenueBucket, len(keys))

	var paid, pending, refunded, failed decimal.Decimal
	paidCount := 0
	methods := map[string]*MethodTotal{}
	methodAmounts := map[string]decimal.Decimal{}
	var methodOrder []string
	doctors := newRanking(in.labels.doctor)
	hospitals := newRanking(in.labels.hospital)

	for _, pay := range in.payments {
		b := -1
		if i, ok := idx[BucketKey(pay.CreatedAt, p.GroupBy)]; ok {
			b = i
			acc[i].payments++
		}
		switch pay.Status {
		case storage.PaymentPaid:
			paid = paid.Add(pay.Amount)
			paidCount++
			doctors.add(pay.DoctorID, 1, pay.Amount)
			hospitals.add(pay.HospitalID, 1, pay.Amount)
			if b >= 0 {
				acc[b].paid = acc[b].paid.Add(pay.Amount)
			}
			m, ok := methods[pay.Method]
			if !ok {
				m = &MethodTotal{Method: pay.Method}
				methods[pay.Method] = m
				methodOrder = append(methodOrder, pay.Method)
			}
			m.Count++
			methodAmounts[pay.Method] = methodAmounts[pay.Method].Add(pay.Amount)
		case storage.PaymentPending:
			pending = pending.Add(pay.Amount)
			if b >= 0 {
				acc[b].pending = acc[b].pending.Add(pay.Amount)
			}
		case storage.PaymentRefunded:
			refunded = refunded.Add(pay.Amount)
			if b >= 0 {
				acc[b].refunded = acc[b].refunded.Add(pay.Amount)
			}
		case storage.PaymentFailed:
			failed = failed.Add(pay.Amount)
		}
	}

	byMethod := make([]MethodTotal, 0, len(methodOrder))
	for _, name := range methodOrder {
		m := *methods[name]
		m.Amount = money(methodAmounts[name])
		byMethod = append(byMethod, m)
	}
	byMethod = TopN(byMethod, 0,
		func(m MethodTotal) decimal.Decimal { return methodAmounts[m.Method] },
		func(m MethodTotal) string { return m.Method })

	sum := RevenueSummary{
		TotalRevenue:   money(paid),
		PendingAmount:  money(pending),
		RefundedAmount: money(refunded),
		FailedAmount:   money(failed),
		PaymentsCount:  len(in.payments),
		PaidCount:      paidCount,
		AverageTicket:  average(paid, paidCount),
		ByMethod:       byMethod,
		TopHospitals:   hospitals.top(p.TopN, true),
		TopDoctors:     doctors.top(p.TopN, true),
	}

	rows := make([]RevenueBucketRow, len(keys))
	revenueSeries := make([]string, len(keys))
	for i, k := range keys {
		rows[i] = RevenueBucketRow{
			Period:         k,
			Payments:       acc[i].payments,
			PaidRevenue:    money(acc[i].paid),
			PendingAmount:  money(acc[i].pending),
			RefundedAmount: money(acc[i].refunded),
		}
		revenueSeries[i] = string(rows[i].PaidRevenue)
	}

	var data []any
	if p.IncludeDetails {
		for _, pay := range in.payments {
			data = append(data, PaymentDetail{
				ID:            pay.ID,
				AppointmentID: pay.AppointmentID,
				CreatedAt:     pay.CreatedAt.UTC(),
				Status:        pay.Status,
				Method:        pay.Method,
				Amount:        money(pay.Amount),
				Agent:         EntityRef{ID: pay.AgentID, Name: in.labels.agent(pay.AgentID)},
				Doctor:        EntityRef{ID: pay.DoctorID, Name: in.labels.doctor(pay.DoctorID)},
				Hospital:      EntityRef{ID: pay.HospitalID, Name: in.labels.hospital(pay.HospitalID)},
			})
		}
	} else {
		for _, r := range rows {
			data = append(data, r)
		}
	}

	methodLabels := make([]string, len(byMethod))
	methodValues := make([]string, len(byMethod))
	for i, m := range byMethod {
		methodLabels[i] = m.Method
		methodValues[i] = string(m.Amount)
	}

	return &Result{
		Summary: sum,
		Data:    data,
		Charts: []Chart{
			{ID: "revenue_over_time", Type: "line", Title: "Revenue over time", Labels: keys,
				Series: []Series{{Name: "paidRevenue", Values: revenueSeries}}},
			{ID: "revenue_by_method", Type: "pie", Title: "Revenue by payment method", Labels: methodLabels,
				Series: []Series{{Name: "amount", Values: methodValues}}},
		},
	}
}

// ---------- AGENT_PERFORMANCE ----------

type AgentRow struct {
	Rank           int         `json:"rank"`
	AgentID        string      `json:"agentId"`
	AgentName      string      `json:"agentName"`
	Bookings       int         `json:"bookings"`
	Completed      int         `json:"completed"`
	Cancelled      int         `json:"cancelled"`
	NoShow         int         `json:"noShow"`
	Revenue        json.Number `json:"revenue"`
	CompletionRate json.Number `json:"completionRate"`

	revenue decimal.Decimal
}

type AgentPerformanceSummary struct {
	Agents        int         `json:"agents"`
	TotalBookings int         `json:"totalBookings"`
	TotalRevenue  json.Number `json:"totalRevenue"`
	TopAgent      *EntityRef  `json:"topAgent"`
}

func summarizeAgents(in input, p *AgentPerformanceParams) *Result {
	agents := map[string]*AgentRow{}
	get := func(id string) *AgentRow {
		r, ok := agents[id]
		if !ok {
			r = &AgentRow{AgentID: id, AgentName: in.labels.agent(id)}
			agents[id] = r
		}
		return r
	}

	for _, a := range in.appointments {
		if a.AgentID == "" {
			continue
		}
		r := get(a.AgentID)
		r.Bookings++
		switch a.Status {
		case storage.AppointmentCompleted:
			r.Completed++
		case storage.AppointmentCancelled:
			r.Cancelled++
		case storage.AppointmentNoShow:
			r.NoShow++
		}
	}
	total := decimal.Zero
	for _, pay := range in.payments {
		if pay.AgentID == "" || pay.Status != storage.PaymentPaid {
			continue
		}
		r := get(pay.AgentID)
		r.revenue = r.revenue.Add(pay.Amount)
		total = total.Add(pay.Amount)
	}

	rows := make([]AgentRow, 0, len(agents))
	bookings := 0
	for _, r := range agents {
		if r.Bookings < p.MinAppointments {
			continue
		}
		r.Revenue = money(r.revenue)
		r.CompletionRate = percent(r.Completed, r.Bookings)
		bookings += r.Bookings
		rows = append(rows, *r)
	}
	rows = TopN(rows, 0,
		func(r AgentRow) decimal.Decimal { return r.revenue },
		func(r AgentRow) string { return r.AgentID })

	sum := AgentPerformanceSummary{
		Agents:        len(rows),
		TotalBookings: bookings,
		TotalRevenue:  money(total),
	}
	data := make([]any, 0, len(rows))
	names := make([]string, len(rows))
	bookingValues := make([]string, len(rows))
	revenueValues := make([]string, len(rows))
	for i := range rows {
		rows[i].Rank = i + 1
		data = append(data, rows[i])
		names[i] = rows[i].AgentName
		bookingValues[i] = strconv.Itoa(rows[i].Bookings)
		revenueValues[i] = string(rows[i].Revenue)
	}
	if len(rows) > 0 {
		sum.TopAgent = &EntityRef{ID: rows[0].AgentID, Name: rows[0].AgentName}
	}

	top := p.TopN
	if top > len(names) {
		top = len(names)
	}
	return &Result{
		Summary: sum,
		Data:    data,
		Charts: []Chart{
			{ID: "agent_ranking", Type: "bar", Title: "Top agents by revenue", Labels: names[:top],
				Series: []Series{{Name: "revenue", Values: revenueValues[:top]}, {Name: "bookings", Values: bookingValues[:top]}}},
		},
	}
}

// ---------- CUSTOMER_SATISFACTION ----------

const defaultSatisfiedRating = 4

type DoctorRating struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	Ratings       int         `json:"ratings"`
	AverageRating json.Number `json:"averageRating"`

	avg decimal.Decimal
}

type SatisfactionSummary struct {
	AverageRating     json.Number    `json:"averageRating"`
	RatedCount        int            `json:"ratedCount"`
	TotalAppointments int            `json:"totalAppointments"`
	RatedShare        json.Number    `json:"ratedShare"`
	SatisfiedShare    json.Number    `json:"satisfiedShare"`
	Distribution      map[string]int `json:"distribution"`
	TopDoctors        []DoctorRating `json:"topDoctors"`
}

type SatisfactionBucketRow struct {
	Period        string      `json:"period"`
	Ratings       int         `json:"ratings"`
	AverageRating json.Number `json:"averageRating"`
}

// summarizeSatisfaction counts ratings at or above minRating (default 4) as satisfied.
func summarizeSatisfaction(in input, p *CustomerSatisfactionParams) *Result {
	threshold := p.MinRating
	if threshold == 0 {
		threshold = defaultSatisfiedRating
	}

	keys, idx := buckets(&p.Common)
	bucketSum := make([]decimal.Decimal, len(keys))
	bucketCount := make([]int, len(keys))

	dist := map[string]int{"1": 0, "2": 0, "3": 0, "4": 0, "5": 0}
	total := decimal.Zero
	rated, satisfied := 0, 0
	docSum := map[string]decimal.Decimal{}
	docCount := map[string]int{}
	var details []any

	for _, a := range in.appointments {
		if a.Rating == nil || *a.Rating < 1 || *a.Rating > 5 {
			continue
		}
		r := *a.Rating
		rated++
		dist[strconv.Itoa(r)]++
		total = total.Add(decimal.NewFromInt(int64(r)))
		if r >= threshold {
			satisfied++
		}
		if a.DoctorID != "" {
			docSum[a.DoctorID] = docSum[a.DoctorID].Add(decimal.NewFromInt(int64(r)))
			docCount[a.DoctorID]++
		}
		if i, ok := idx[BucketKey(a.ScheduledAt, p.GroupBy)]; ok {
			bucketSum[i] = bucketSum[i].Add(decimal.NewFromInt(int64(r)))
			bucketCount[i]++
		}
		if p.IncludeDetails {
			details = append(details, detailOf(a, in.labels))
		}
	}

	doctors := make([]DoctorRating, 0, len(docCount))
	for id, n := range docCount {
		avg := docSum[id].Div(decimal.NewFromInt(int64(n)))
		doctors = append(doctors, DoctorRating{
			ID: id, Name: in.labels.doctor(id), Ratings: n, AverageRating: money(avg), avg: avg,
		})
	}
	doctors = TopN(doctors, p.TopN,
		func(d DoctorRating) decimal.Decimal { return d.avg },
		func(d DoctorRating) string { return d.ID })

	sum := SatisfactionSummary{
		AverageRating:     average(total, rated),
		RatedCount:        rated,
		TotalAppointments: len(in.appointments),
		RatedShare:        percent(rated, len(in.appointments)),
		SatisfiedShare:    percent(satisfied, rated),
		Distribution:      dist,
		TopDoctors:        doctors,
	}

	trend := make([]string, len(keys))
	var data []any
	for i, k := range keys {
		row := SatisfactionBucketRow{Period: k, Ratings: bucketCount[i], AverageRating: average(bucketSum[i], bucketCount[i])}
		trend[i] = string(row.AverageRating)
		if !p.IncludeDetails {
			data = append(data, row)
		}
	}
	if p.IncludeDetails {
		data = details
	}

	distLabels := []string{"1", "2", "3", "4", "5"}
	distValues := make([]string, len(distLabels))
	for i, l := range distLabels {
		distValues[i] = strconv.Itoa(dist[l])
	}

	return &Result{
		Summary: sum,
		Data:    data,
		Charts: []Chart{
			{ID: "rating_trend", Type: "line", Title: "Average rating over time", Labels: keys,
				Series: []Series{{Name: "averageRating", Values: trend}}},
			{ID: "rating_distribution", Type: "bar", Title: "Rating distribution", Labels: distLabels,
				Series: []Series{{Name: "ratings", Values: distValues}}},
		},
	}
}

// ---------- OPERATIONAL_METRICS ----------

type OperationalSummary struct {
	TotalAppointments    int         `json:"totalAppointments"`
	CompletionRate       json.Number `json:"completionRate"`
	CancellationRate     json.Number `json:"cancellationRate"`
	NoShowRate           json.Number `json:"noShowRate"`
	AverageLeadTimeHours json.Number `json:"averageLeadTimeHours"`
	BusiestWeekday       string      `json:"busiestWeekday"`
}

type HospitalUtilisationRow struct {
	HospitalID   string      `json:"hospitalId"`
	HospitalName string      `json:"hospitalName"`
	Appointments int         `json:"appointments"`
	Completed    int         `json:"completed"`
	Cancelled    int         `json:"cancelled"`
	NoShow       int         `json:"noShow"`
	Share        json.Number `json:"share"`
}

func summarizeOperations(in input, p *OperationalMetricsParams) *Result {
	keys, idx := buckets(&p.Common)
	perBucket := make([]int, len(keys))
	var weekdays [7]int
	status := map[string]int{}
	lead := decimal.Zero
	leadCount := 0
	hospitals := map[string]*HospitalUtilisationRow{}

	for _, a := range in.appointments {
		status[a.Status]++
		weekdays[a.ScheduledAt.UTC().Weekday()]++
		if i, ok := idx[BucketKey(a.ScheduledAt, p.GroupBy)]; ok {
			perBucket[i]++
		}
		if !a.CreatedAt.IsZero() && a.ScheduledAt.After(a.CreatedAt) {
			lead = lead.Add(decimal.NewFromFloat(a.ScheduledAt.Sub(a.CreatedAt).Hours()))
			leadCount++
		}
		if a.HospitalID == "" {
			continue
		}
		h, ok := hospitals[a.HospitalID]
		if !ok {
			h = &HospitalUtilisationRow{HospitalID: a.HospitalID, HospitalName: in.labels.hospital(a.HospitalID)}
			hospitals[a.HospitalID] = h
		}
		h.Appointments++
		switch a.Status {
		case storage.AppointmentCompleted:
			h.Completed++
		case storage.AppointmentCancelled:
			h.Cancelled++
		case storage.AppointmentNoShow:
			h.NoShow++
		}
	}

	n := len(in.appointments)
	sum := OperationalSummary{
		TotalAppointments:    n,
		CompletionRate:       percent(status[storage.AppointmentCompleted], n),
		CancellationRate:     percent(status[storage.AppointmentCancelled], n),
		NoShowRate:           percent(status[storage.AppointmentNoShow], n),
		AverageLeadTimeHours: average(lead, leadCount),
	}
	if n > 0 {
		busiest := 0
		for d := 1; d < 7; d++ {
			if weekdays[d] > weekdays[busiest] {
				busiest = d
			}
		}
		sum.BusiestWeekday = time.Weekday(busiest).String()
	}

	rows := make([]HospitalUtilisationRow, 0, len(hospitals))
	for _, h := range hospitals {
		h.Share = percent(h.Appointments, n)
		rows = append(rows, *h)
	}
	rows = TopN(rows, 0,
		func(h HospitalUtilisationRow) decimal.Decimal { return decimal.NewFromInt(int64(h.Appointments)) },
		func(h HospitalUtilisationRow) string { return h.HospitalID })
	data := make([]any, 0, len(rows))
	for _, r := range rows {
		data = append(data, r)
	}

	volume := make([]string, len(keys))
	for i, c := range perBucket {
		volume[i] = strconv.Itoa(c)
	}
	dayLabels := make([]string, 7)
	dayValues := make([]string, 7)
	for d := 0; d < 7; d++ {
		dayLabels[d] = time.Weekday(d).String()
		dayValues[d] = strconv.Itoa(weekdays[d])
	}

	return &Result{
		Summary: sum,
		Data:    data,
		Charts: []Chart{
			{ID: "volume_over_time", Type: "line", Title: "Appointment volume", Labels: keys,
				Series: []Series{{Name: "appointments", Values: volume}}},
			{ID: "weekday_load", Type: "bar", Title: "Appointments by weekday", Labels: dayLabels,
				Series: []Series{{Name: "appointments", Values: dayValues}}},
		},
	}
}
