package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/carelink/agent-portal/internal/apperr"
	"github.com/carelink/agent-portal/internal/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PostgresDirectoryStorage reads the booking platform's tables. It never writes.
type PostgresDirectoryStorage struct {
	pool *pgxpool.Pool
}

func NewPostgresDirectoryStorage(pool *pgxpool.Pool) *PostgresDirectoryStorage {
	return &PostgresDirectoryStorage{pool: pool}
}

// bookingConditions applies the shared window and id filters. Zero bounds are open.
func bookingConditions(timeCol string, from, to time.Time, agents, doctors, hospitals, statuses []string) conditions {
	var c conditions
	if !from.IsZero() {
		c.add(timeCol+" >= $%d", from)
	}
	if !to.IsZero() {
		c.add(timeCol+" < $%d", to)
	}
	if len(agents) > 0 {
		c.add("agent_id = ANY($%d)", agents)
	}
	if len(doctors) > 0 {
		c.add("doctor_id = ANY($%d)", doctors)
	}
	if len(hospitals) > 0 {
		c.add("hospital_id = ANY($%d)", hospitals)
	}
	if len(statuses) > 0 {
		c.add("status = ANY($%d)", statuses)
	}
	return c
}

func parseMoney(raw, field, id string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse %s of %s: %w", field, id, err)
	}
	return d, nil
}

func (s *PostgresDirectoryStorage) ListAppointments(ctx context.Context, q storage.AppointmentQuery) ([]storage.Appointment, error) {
	c := bookingConditions("scheduled_at", q.From, q.To, q.AgentIDs, q.DoctorIDs, q.HospitalIDs, q.Statuses)
	query := `SELECT id, agent_id, doctor_id, hospital_id, patient_name, status, scheduled_at, created_at,
			fee::text, rating, feedback
		FROM appointments` + c.where() + ` ORDER BY scheduled_at, id` + c.page(q.Limit, q.Offset)

	rows, err := s.pool.Query(ctx, query, c.args...)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	defer rows.Close()

	out := []storage.Appointment{}
	for rows.Next() {
		var a storage.Appointment
		var fee string
		if err := rows.Scan(&a.ID, &a.AgentID, &a.DoctorID, &a.HospitalID, &a.PatientName, &a.Status,
			&a.ScheduledAt, &a.CreatedAt, &fee, &a.Rating, &a.Feedback); err != nil {
			return nil, fmt.Errorf("scan appointment: %w", err)
		}
		if a.Fee, err = parseMoney(fee, "fee", a.ID); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresDirectoryStorage) ListPayments(ctx context.Context, q storage.PaymentQuery) ([]storage.Payment, error) {
	c := bookingConditions("created_at", q.From, q.To, q.AgentIDs, q.DoctorIDs, q.HospitalIDs, q.Statuses)
	query := `SELECT id, appointment_id, agent_id, doctor_id, hospital_id, amount::text, method, status,
			paid_at, created_at
		FROM payments` + c.where() + ` ORDER BY created_at, id` + c.page(q.Limit, q.Offset)

	rows, err := s.pool.Query(ctx, query, c.args...)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	out := []storage.Payment{}
	for rows.Next() {
		var p storage.Payment
		var amount string
		if err := rows.Scan(&p.ID, &p.AppointmentID, &p.AgentID, &p.DoctorID, &p.HospitalID, &amount,
			&p.Method, &p.Status, &p.PaidAt, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		if p.Amount, err = parseMoney(amount, "amount", p.ID); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresDirectoryStorage) ListDoctors(ctx context.Context, q storage.DirectoryQuery) ([]storage.Doctor, error) {
	var c conditions
	if len(q.IDs) > 0 {
		c.add("id = ANY($%d)", q.IDs)
	}
	if q.HospitalID != "" {
		c.add("hospital_id = $%d", q.HospitalID)
	}
	query := `SELECT id, name, specialization, hospital_id FROM doctors` + c.where() +
		` ORDER BY id` + c.page(q.Limit, q.Offset)

	rows, err := s.pool.Query(ctx, query, c.args...)
	if err != nil {
		return nil, fmt.Errorf("list doctors: %w", err)
	}
	defer rows.Close()

	out := []storage.Doctor{}
	for rows.Next() {
		var d storage.Doctor
		if err := rows.Scan(&d.ID, &d.Name, &d.Specialization, &d.HospitalID); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *PostgresDirectoryStorage) ListHospitals(ctx context.Context, q storage.DirectoryQuery) ([]storage.Hospital, error) {
	var c conditions
	if len(q.IDs) > 0 {
		c.add("id = ANY($%d)", q.IDs)
	}
	query := `SELECT id, name, city FROM hospitals` + c.where() + ` ORDER BY id` + c.page(q.Limit, q.Offset)

	rows, err := s.pool.Query(ctx, query, c.args...)
	if err != nil {
		return nil, fmt.Errorf("list hospitals: %w", err)
	}
	defer rows.Close()

	out := []storage.Hospital{}
	for rows.Next() {
		var h storage.Hospital
		if err := rows.Scan(&h.ID, &h.Name, &h.City); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *PostgresDirectoryStorage) GetUser(ctx context.Context, id string) (*storage.User, error) {
	var u storage.User
	err := s.pool.QueryRow(ctx, `SELECT id, name, email, role FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Name, &u.Email, &u.Role)
	if err != nil {
		return nil, notFound(err, "user")
	}
	return &u, nil
}

// missingQueries select the ids of each kind that do exist.
var missingQueries = map[storage.EntityKind]string{
	storage.EntityAgent:    `SELECT id FROM users WHERE id = ANY($1) AND role = 'agent'`,
	storage.EntityDoctor:   `SELECT id FROM doctors WHERE id = ANY($1)`,
	storage.EntityHospital: `SELECT id FROM hospitals WHERE id = ANY($1)`,
}

func (s *PostgresDirectoryStorage) MissingIDs(ctx context.Context, kind storage.EntityKind, ids []string) ([]string, error) {
	query, ok := missingQueries[kind]
	if !ok {
		return nil, apperr.Newf(apperr.KindValidation, "unknown entity kind %q", kind)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("check %s ids: %w", kind, err)
	}
	defer rows.Close()

	found := make(map[string]bool, len(ids))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		found[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var missing []string
	for _, id := range ids {
		if !found[id] {
			missing = append(missing, id)
		}
	}
	return missing, nil
}
