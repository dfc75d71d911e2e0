package billing

import (
	"time"

	"github.com/solbill/netmetering/backend/models"
)

const dateLayout = "2006-01-02"

// dateKey reduces an instant to its calendar date. Tariff validity is
// compared by date only, never by time of day.
func dateKey(t time.Time) string {
	return t.UTC().Format(dateLayout)
}

// ResolveTariff selects the tariff governing the given date. Company and
// segment are optional filters; empty string means "any". Soft-deleted
// tariffs never match. Both period bounds are inclusive.
//
// When several tariffs satisfy the predicate, the first one in input order
// wins; no recency ranking is applied. Returns nil when nothing matches,
// which is a valid outcome (callers fall back to a flat-rate estimate).
func ResolveTariff(date time.Time, tariffs []models.Tariff, company, segment string) *models.Tariff {
	d := dateKey(date)

	for i := range tariffs {
		t := &tariffs[i]
		if t.DeletedAt != nil {
			continue
		}
		if company != "" && t.Company != company {
			continue
		}
		if segment != "" && t.Segment != segment {
			continue
		}
		// ISO dates compare correctly as strings.
		if t.PeriodFrom != "" && d < t.PeriodFrom {
			continue
		}
		if t.PeriodTo != "" && d > t.PeriodTo {
			continue
		}
		return t
	}
	return nil
}

// OverlapIssue reports two active tariffs for the same (company, segment)
// whose validity periods intersect.
type OverlapIssue struct {
	Company  string `json:"company"`
	Segment  string `json:"segment"`
	TariffA  int    `json:"tariff_a"`
	TariffB  int    `json:"tariff_b"`
	FromA    string `json:"from_a"`
	ToA      string `json:"to_a"`
	FromB    string `json:"from_b"`
	ToB      string `json:"to_b"`
}

// FindOverlaps scans the active tariff set for overlapping validity
// periods within each (company, segment) scope. Resolution does not forbid
// overlaps, so this is a diagnostic for the write path and for audits.
func FindOverlaps(tariffs []models.Tariff) []OverlapIssue {
	issues := []OverlapIssue{}
	for i := range tariffs {
		a := &tariffs[i]
		if a.DeletedAt != nil {
			continue
		}
		for j := i + 1; j < len(tariffs); j++ {
			b := &tariffs[j]
			if b.DeletedAt != nil {
				continue
			}
			if a.Company != b.Company || a.Segment != b.Segment {
				continue
			}
			if periodsIntersect(a.PeriodFrom, a.PeriodTo, b.PeriodFrom, b.PeriodTo) {
				issues = append(issues, OverlapIssue{
					Company: a.Company,
					Segment: a.Segment,
					TariffA: a.ID, TariffB: b.ID,
					FromA: a.PeriodFrom, ToA: a.PeriodTo,
					FromB: b.PeriodFrom, ToB: b.PeriodTo,
				})
			}
		}
	}
	return issues
}

// periodsIntersect checks two inclusive date intervals for intersection.
// An empty bound is treated as open on that side.
func periodsIntersect(fromA, toA, fromB, toB string) bool {
	if toA != "" && fromB != "" && toA < fromB {
		return false
	}
	if toB != "" && fromA != "" && toB < fromA {
		return false
	}
	return true
}
