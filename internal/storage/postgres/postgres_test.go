package postgres

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/carelink/agent-portal/internal/apperr"
	"github.com/jackc/pgx/v5"
)

func TestConditions_NumbersPlaceholdersInOrder(t *testing.T) {
	var c conditions
	c.add("type = $%d", "REVENUE_ANALYSIS")
	c.raw("is_active")
	c.add("(title ILIKE $%[1]d OR description ILIKE $%[1]d)", "%jan%")

	if got, want := c.where(), " WHERE type = $1 AND is_active AND (title ILIKE $2 OR description ILIKE $2)"; got != want {
		t.Errorf("where = %q, want %q", got, want)
	}
	if got := c.page(20, 40); got != " LIMIT $3 OFFSET $4" {
		t.Errorf("page = %q", got)
	}
	if want := []any{"REVENUE_ANALYSIS", "%jan%", 20, 40}; !reflect.DeepEqual(c.args, want) {
		t.Errorf("args = %v, want %v", c.args, want)
	}
}

func TestConditions_EmptyAndUnlimited(t *testing.T) {
	var c conditions
	if c.where() != "" || c.page(0, 0) != "" || len(c.args) != 0 {
		t.Fatalf("empty conditions produced SQL: %q %v", c.where(), c.args)
	}
	if got := c.page(0, 5); got != " OFFSET $1" {
		t.Errorf("page = %q", got)
	}
}

func TestBookingConditions_HalfOpenWindow(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	c := bookingConditions("scheduled_at", from, to, []string{"agent-1"}, nil, nil, []string{"COMPLETED"})
	want := " WHERE scheduled_at >= $1 AND scheduled_at < $2 AND agent_id = ANY($3) AND status = ANY($4)"
	if got := c.where(); got != want {
		t.Errorf("where = %q, want %q", got, want)
	}
	if len(c.args) != 4 {
		t.Errorf("expected 4 args, got %v", c.args)
	}

	open := bookingConditions("created_at", time.Time{}, time.Time{}, nil, nil, nil, nil)
	if got := open.where(); got != "" {
		t.Errorf("unbounded window produced %q", got)
	}
}

func TestReportOrder(t *testing.T) {
	tests := []struct {
		sortBy string
		desc   bool
		want   string
	}{
		{"createdAt", true, " ORDER BY created_at DESC NULLS LAST, id DESC"},
		{"title", false, " ORDER BY LOWER(title) ASC NULLS LAST, id ASC"},
		// Unknown keys never reach the SQL text.
		{"id; DROP TABLE reports", false, " ORDER BY created_at ASC NULLS LAST, id ASC"},
	}
	for _, tt := range tests {
		got := reportOrder(tt.sortBy, tt.desc)
		if got != tt.want || strings.Contains(got, "DROP") {
			t.Errorf("reportOrder(%q, %v) = %q, want %q", tt.sortBy, tt.desc, got, tt.want)
		}
	}
}

func TestEscapeLike(t *testing.T) {
	if got := escapeLike(`50%_off\`); got != `50\%\_off\\` {
		t.Errorf("escapeLike = %q", got)
	}
}

func TestNotFoundMapsNoRows(t *testing.T) {
	err := notFound(fmt.Errorf("query: %w", pgx.ErrNoRows), "report")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}

	other := errors.New("boom")
	if got := notFound(other, "report"); got != other {
		t.Errorf("expected other errors unchanged, got %v", got)
	}
}

func TestNullableJSON(t *testing.T) {
	if got := nullableJSON(nil); got != nil {
		t.Errorf("nullableJSON(nil) = %#v", got)
	}
	if got := nullableJSON([]byte(`{"a":1}`)); got != `{"a":1}` {
		t.Errorf("nullableJSON = %#v", got)
	}
}
