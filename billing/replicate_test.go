package billing

import (
	"testing"
	"time"

	"github.com/solbill/netmetering/backend/models"
)

func activeQ3Tariff() models.Tariff {
	return models.Tariff{
		ID:               10,
		Company:          "EEGSA",
		CompanyCode:      "EEGSA",
		Segment:          "BTS",
		PeriodFrom:       "2025-07-01",
		PeriodTo:         "2025-09-30",
		EffectiveAt:      "2025-07-01",
		FixedCharge:      13.136031,
		EnergyRate:       1.136754,
		DistributionRate: 0.245609,
		DemandRate:       0.053700,
		ContribPercent:   13.8,
		IVAPercent:       12,
	}
}

func TestReplicateQuartersBackward(t *testing.T) {
	today := time.Date(2025, 8, 15, 12, 0, 0, 0, time.UTC)
	tariffs := []models.Tariff{activeQ3Tariff()}

	res := ReplicateQuartersBackward(2, tariffs, "EEGSA", "BTS", today)
	if res.CreatedCount != 2 {
		t.Fatalf("created %d, want 2 (%s)", res.CreatedCount, res.Message)
	}

	q2, q1 := res.NewTariffs[0], res.NewTariffs[1]

	if q2.PeriodFrom != "2025-04-01" || q2.PeriodTo != "2025-06-30" {
		t.Errorf("first replica should span Q2: %s..%s", q2.PeriodFrom, q2.PeriodTo)
	}
	if q1.PeriodFrom != "2025-01-01" || q1.PeriodTo != "2025-03-31" {
		t.Errorf("second replica should span Q1: %s..%s", q1.PeriodFrom, q1.PeriodTo)
	}
	if q2.Code != "EEGSA-BTS-2025Q2" || q1.Code != "EEGSA-BTS-2025Q1" {
		t.Errorf("generated codes wrong: %q, %q", q2.Code, q1.Code)
	}

	for _, nt := range res.NewTariffs {
		if !nt.AutoCopied {
			t.Errorf("replica %s must carry the auto-copied flag", nt.Code)
		}
		if nt.EnergyRate != 1.136754 || nt.FixedCharge != 13.136031 {
			t.Errorf("replica %s must copy the source rates: %+v", nt.Code, nt)
		}
	}
}

func TestReplicateQuartersIdempotent(t *testing.T) {
	today := time.Date(2025, 8, 15, 12, 0, 0, 0, time.UTC)
	tariffs := []models.Tariff{activeQ3Tariff()}

	first := ReplicateQuartersBackward(2, tariffs, "EEGSA", "BTS", today)
	if first.CreatedCount != 2 {
		t.Fatalf("first pass created %d, want 2", first.CreatedCount)
	}

	// Persisting the replicas and running again must create nothing.
	tariffs = append(tariffs, first.NewTariffs...)
	second := ReplicateQuartersBackward(2, tariffs, "EEGSA", "BTS", today)
	if second.CreatedCount != 0 {
		t.Errorf("second pass created %d, want 0 (%s)", second.CreatedCount, second.Message)
	}
}

func TestReplicateQuartersRollsYearBoundary(t *testing.T) {
	anchor := activeQ3Tariff()
	anchor.PeriodFrom = "2025-01-01"
	anchor.PeriodTo = "2025-03-31"
	today := time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC)

	res := ReplicateQuartersBackward(3, []models.Tariff{anchor}, "EEGSA", "BTS", today)
	if res.CreatedCount != 3 {
		t.Fatalf("created %d, want 3", res.CreatedCount)
	}

	wantFrom := []string{"2024-10-01", "2024-07-01", "2024-04-01"}
	wantTo := []string{"2024-12-31", "2024-09-30", "2024-06-30"}
	for i, nt := range res.NewTariffs {
		if nt.PeriodFrom != wantFrom[i] || nt.PeriodTo != wantTo[i] {
			t.Errorf("replica %d spans %s..%s, want %s..%s", i, nt.PeriodFrom, nt.PeriodTo, wantFrom[i], wantTo[i])
		}
	}
	if res.NewTariffs[0].Code != "EEGSA-BTS-2024Q4" {
		t.Errorf("year must roll in the code too, got %q", res.NewTariffs[0].Code)
	}
}

func TestReplicateQuartersNoActiveTariff(t *testing.T) {
	today := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	res := ReplicateQuartersBackward(2, []models.Tariff{activeQ3Tariff()}, "EEGSA", "BTS", today)
	if res.CreatedCount != 0 {
		t.Errorf("created %d, want 0 when nothing is active today", res.CreatedCount)
	}
	if res.Message == "" {
		t.Error("expected a descriptive message, not an error")
	}
}

func TestReplicateQuartersPartialSkip(t *testing.T) {
	today := time.Date(2025, 8, 15, 12, 0, 0, 0, time.UTC)
	existingQ1 := models.Tariff{
		ID: 11, Company: "EEGSA", Segment: "BTS",
		PeriodFrom: "2025-01-01", PeriodTo: "2025-03-31",
	}
	tariffs := []models.Tariff{activeQ3Tariff(), existingQ1}

	res := ReplicateQuartersBackward(2, tariffs, "EEGSA", "BTS", today)
	if res.CreatedCount != 1 {
		t.Fatalf("created %d, want 1 (Q1 already covered)", res.CreatedCount)
	}
	if res.NewTariffs[0].PeriodFrom != "2025-04-01" {
		t.Errorf("only Q2 should be synthesized, got %s", res.NewTariffs[0].PeriodFrom)
	}
}

func TestQuarterBounds(t *testing.T) {
	cases := []struct {
		year, quarter int
		from, to      string
	}{
		{2025, 1, "2025-01-01", "2025-03-31"},
		{2025, 2, "2025-04-01", "2025-06-30"},
		{2025, 3, "2025-07-01", "2025-09-30"},
		{2025, 4, "2025-10-01", "2025-12-31"},
		{2024, 1, "2024-01-01", "2024-03-31"},
	}
	for _, tc := range cases {
		from, to := quarterBounds(tc.year, tc.quarter)
		if from != tc.from || to != tc.to {
			t.Errorf("%dQ%d = %s..%s, want %s..%s", tc.year, tc.quarter, from, to, tc.from, tc.to)
		}
	}
}
