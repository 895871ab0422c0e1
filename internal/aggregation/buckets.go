package aggregation

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// NormalizeGroupBy maps unknown grouping values to day-level grouping.
func NormalizeGroupBy(groupBy string) string {
	switch groupBy {
	case GroupByWeek, GroupByMonth:
		return groupBy
	}
	return GroupByDay
}

// BucketKey returns the period key of t: the ISO date for day, the date of the
// Sunday starting the week for week, and YYYY-MM for month.
func BucketKey(t time.Time, groupBy string) string {
	t = t.UTC()
	switch NormalizeGroupBy(groupBy) {
	case GroupByWeek:
		return t.AddDate(0, 0, -int(t.Weekday())).Format(dateLayout)
	case GroupByMonth:
		return t.Format("2006-01")
	default:
		return t.Format(dateLayout)
	}
}

// BucketKeys lists every bucket touching the inclusive day range [from, to], in order.
func BucketKeys(from, to time.Time, groupBy string) []string {
	var keys []string
	seen := map[string]bool{}
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		k := BucketKey(d, groupBy)
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	return keys
}

// TopN returns the first n items ranked by metric descending, ties broken by id ascending.
func TopN[T any](items []T, n int, metric func(T) decimal.Decimal, id func(T) string) []T {
	ranked := append([]T(nil), items...)
	sort.SliceStable(ranked, func(i, j int) bool {
		mi, mj := metric(ranked[i]), metric(ranked[j])
		if !mi.Equal(mj) {
			return mi.GreaterThan(mj)
		}
		return id(ranked[i]) < id(ranked[j])
	})
	if n > 0 && len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

// money renders a decimal amount with two places, unquoted in JSON.
func money(d decimal.Decimal) json.Number {
	return json.Number(d.StringFixed(2))
}

// percent returns part/total as a percentage with two places; zero when total is zero.
func percent(part, total int) json.Number {
	if total == 0 {
		return json.Number("0.00")
	}
	return money(decimal.NewFromInt(int64(part)).Mul(decimal.NewFromInt(100)).Div(decimal.NewFromInt(int64(total))))
}

// average divides sum by count with two places; zero when count is zero.
func average(sum decimal.Decimal, count int) json.Number {
	if count == 0 {
		return json.Number("0.00")
	}
	return money(sum.Div(decimal.NewFromInt(int64(count))))
}
