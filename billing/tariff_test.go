package billing

import (
	"testing"
	"time"

	"github.com/solbill/netmetering/backend/models"
)

func day(t *testing.T, value string) time.Time {
	t.Helper()
	parsed, err := time.Parse("2006-01-02", value)
	if err != nil {
		t.Fatalf("bad date %q: %v", value, err)
	}
	return parsed
}

func TestResolveTariffIntervalInclusive(t *testing.T) {
	tariffs := []models.Tariff{
		{ID: 1, Company: "EEGSA", Segment: "BTS", PeriodFrom: "2025-08-01", PeriodTo: "2025-10-31"},
	}

	cases := []struct {
		date  string
		match bool
	}{
		{"2025-07-31", false},
		{"2025-08-01", true},
		{"2025-09-15", true},
		{"2025-10-31", true},
		{"2025-11-01", false},
	}

	for _, tc := range cases {
		got := ResolveTariff(day(t, tc.date), tariffs, "", "")
		if (got != nil) != tc.match {
			t.Errorf("date %s: match=%v, want %v", tc.date, got != nil, tc.match)
		}
	}
}

func TestResolveTariffIgnoresTimeOfDay(t *testing.T) {
	tariffs := []models.Tariff{
		{ID: 1, PeriodFrom: "2025-08-01", PeriodTo: "2025-10-31"},
	}

	// 23:59 on the last valid day still matches.
	late := day(t, "2025-10-31").Add(23*time.Hour + 59*time.Minute)
	if ResolveTariff(late, tariffs, "", "") == nil {
		t.Error("late evening on an in-period date should still match")
	}
}

func TestResolveTariffCompanySegmentFilters(t *testing.T) {
	tariffs := []models.Tariff{
		{ID: 1, Company: "EEGSA", Segment: "BTS", PeriodFrom: "2025-01-01", PeriodTo: "2025-12-31"},
		{ID: 2, Company: "ENERGUATE", Segment: "BTS", PeriodFrom: "2025-01-01", PeriodTo: "2025-12-31"},
		{ID: 3, Company: "EEGSA", Segment: "BTSS", PeriodFrom: "2025-01-01", PeriodTo: "2025-12-31"},
	}
	date := day(t, "2025-06-01")

	if got := ResolveTariff(date, tariffs, "ENERGUATE", ""); got == nil || got.ID != 2 {
		t.Errorf("company filter: got %+v, want ID 2", got)
	}
	if got := ResolveTariff(date, tariffs, "EEGSA", "BTSS"); got == nil || got.ID != 3 {
		t.Errorf("company+segment filter: got %+v, want ID 3", got)
	}
	if got := ResolveTariff(date, tariffs, "", ""); got == nil || got.ID != 1 {
		t.Errorf("no filter should return first match in input order, got %+v", got)
	}
	if got := ResolveTariff(date, tariffs, "DEOCSA", ""); got != nil {
		t.Errorf("unknown company should not match, got %+v", got)
	}
}

func TestResolveTariffFirstMatchWinsOnOverlap(t *testing.T) {
	// Two overlapping tariffs for the same scope: input order decides,
	// regardless of which became effective later.
	tariffs := []models.Tariff{
		{ID: 1, Company: "EEGSA", Segment: "BTS", PeriodFrom: "2025-01-01", PeriodTo: "2025-12-31", EffectiveAt: "2025-01-01"},
		{ID: 2, Company: "EEGSA", Segment: "BTS", PeriodFrom: "2025-06-01", PeriodTo: "2025-12-31", EffectiveAt: "2025-06-01"},
	}

	got := ResolveTariff(day(t, "2025-07-01"), tariffs, "EEGSA", "BTS")
	if got == nil || got.ID != 1 {
		t.Errorf("expected first structural match (ID 1), got %+v", got)
	}
}

func TestResolveTariffSkipsSoftDeleted(t *testing.T) {
	deleted := time.Now()
	tariffs := []models.Tariff{
		{ID: 1, PeriodFrom: "2025-01-01", PeriodTo: "2025-12-31", DeletedAt: &deleted},
		{ID: 2, PeriodFrom: "2025-01-01", PeriodTo: "2025-12-31"},
	}

	got := ResolveTariff(day(t, "2025-06-01"), tariffs, "", "")
	if got == nil || got.ID != 2 {
		t.Errorf("soft-deleted tariff must be skipped, got %+v", got)
	}
}

func TestResolveTariffEmptySetReturnsNil(t *testing.T) {
	if got := ResolveTariff(day(t, "2025-06-01"), []models.Tariff{}, "", ""); got != nil {
		t.Errorf("empty set must resolve to nil, got %+v", got)
	}
}

func TestFindOverlaps(t *testing.T) {
	deleted := time.Now()
	tariffs := []models.Tariff{
		{ID: 1, Company: "EEGSA", Segment: "BTS", PeriodFrom: "2025-01-01", PeriodTo: "2025-06-30"},
		{ID: 2, Company: "EEGSA", Segment: "BTS", PeriodFrom: "2025-07-01", PeriodTo: "2025-12-31"},
		{ID: 3, Company: "EEGSA", Segment: "BTS", PeriodFrom: "2025-06-01", PeriodTo: "2025-08-31"},
		// Same period but different segment: not an overlap.
		{ID: 4, Company: "EEGSA", Segment: "BTSS", PeriodFrom: "2025-01-01", PeriodTo: "2025-12-31"},
		// Soft-deleted copies never count.
		{ID: 5, Company: "EEGSA", Segment: "BTS", PeriodFrom: "2025-01-01", PeriodTo: "2025-12-31", DeletedAt: &deleted},
	}

	issues := FindOverlaps(tariffs)
	if len(issues) != 2 {
		t.Fatalf("expected 2 overlaps (1×3 and 2×3), got %d: %+v", len(issues), issues)
	}
	for _, is := range issues {
		if is.TariffA != 3 && is.TariffB != 3 {
			t.Errorf("unexpected overlap pair: %+v", is)
		}
	}
}

func TestFindOverlapsAdjacentPeriodsAreClean(t *testing.T) {
	tariffs := []models.Tariff{
		{ID: 1, Company: "EEGSA", Segment: "BTS", PeriodFrom: "2025-01-01", PeriodTo: "2025-03-31"},
		{ID: 2, Company: "EEGSA", Segment: "BTS", PeriodFrom: "2025-04-01", PeriodTo: "2025-06-30"},
	}
	if issues := FindOverlaps(tariffs); len(issues) != 0 {
		t.Errorf("back-to-back quarters must not overlap, got %+v", issues)
	}
}
