package billing

import (
	"math"
	"testing"
	"time"

	"github.com/solbill/netmetering/backend/models"
)

func ts(t *testing.T, value string) time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		t.Fatalf("bad timestamp %q: %v", value, err)
	}
	return parsed
}

func TestComputeDeltasEmptyInput(t *testing.T) {
	deltas, warnings := ComputeDeltas(nil)
	if len(deltas) != 0 {
		t.Fatalf("expected empty output, got %d entries", len(deltas))
	}
	if len(warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", warnings)
	}
}

func TestComputeDeltasBasicSeries(t *testing.T) {
	readings := []models.Reading{
		{MeterID: 1, ReadingTime: ts(t, "2025-01-01T10:00:00Z"), ConsumptionKWh: 1000, ProductionKWh: 200},
		{MeterID: 1, ReadingTime: ts(t, "2025-02-01T10:00:00Z"), ConsumptionKWh: 1147, ProductionKWh: 260},
		{MeterID: 1, ReadingTime: ts(t, "2025-03-01T10:00:00Z"), ConsumptionKWh: 1250, ProductionKWh: 390},
	}

	deltas, warnings := ComputeDeltas(readings)
	if len(deltas) != 3 {
		t.Fatalf("expected 3 deltas, got %d", len(deltas))
	}
	if len(warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", warnings)
	}

	// No prior anchor: the earliest entry always has zero deltas.
	if deltas[0].ConsumptionKWh != 0 || deltas[0].ProductionKWh != 0 {
		t.Errorf("first delta should be zero, got %+v", deltas[0])
	}
	if deltas[1].ConsumptionKWh != 147 || deltas[1].ProductionKWh != 60 {
		t.Errorf("second delta wrong: %+v", deltas[1])
	}
	if deltas[2].ConsumptionKWh != 103 || deltas[2].ProductionKWh != 130 {
		t.Errorf("third delta wrong: %+v", deltas[2])
	}

	// Running net balance: production minus consumption, starting at 0.
	if deltas[0].CumulativeKWh != 0 {
		t.Errorf("cumulative[0] = %.3f, want 0", deltas[0].CumulativeKWh)
	}
	if deltas[1].CumulativeKWh != 60-147 {
		t.Errorf("cumulative[1] = %.3f, want %d", deltas[1].CumulativeKWh, 60-147)
	}
	if deltas[2].CumulativeKWh != (60-147)+(130-103) {
		t.Errorf("cumulative[2] = %.3f, want %d", deltas[2].CumulativeKWh, (60-147)+(130-103))
	}
}

func TestComputeDeltasOrderIndependent(t *testing.T) {
	a := models.Reading{MeterID: 1, ReadingTime: ts(t, "2025-01-01T08:00:00Z"), ConsumptionKWh: 100}
	b := models.Reading{MeterID: 1, ReadingTime: ts(t, "2025-02-01T08:00:00Z"), ConsumptionKWh: 180}
	c := models.Reading{MeterID: 1, ReadingTime: ts(t, "2025-03-01T08:00:00Z"), ConsumptionKWh: 310}

	orderings := [][]models.Reading{
		{a, b, c},
		{c, a, b},
		{b, c, a},
	}

	var reference []models.DeltaReading
	for i, input := range orderings {
		deltas, _ := ComputeDeltas(input)
		if i == 0 {
			reference = deltas
			continue
		}
		if len(deltas) != len(reference) {
			t.Fatalf("ordering %d: length %d != %d", i, len(deltas), len(reference))
		}
		for j := range deltas {
			if deltas[j] != reference[j] {
				t.Errorf("ordering %d entry %d: %+v != %+v", i, j, deltas[j], reference[j])
			}
		}
	}
}

func TestComputeDeltasDuplicateTimestampsKeepLast(t *testing.T) {
	readings := []models.Reading{
		{MeterID: 1, ReadingTime: ts(t, "2025-01-01T08:00:00Z"), ConsumptionKWh: 100},
		{MeterID: 1, ReadingTime: ts(t, "2025-02-01T08:00:00Z"), ConsumptionKWh: 150},
		// Correction entered later for the same instant: last write wins.
		{MeterID: 1, ReadingTime: ts(t, "2025-02-01T08:00:00Z"), ConsumptionKWh: 160},
	}

	deltas, _ := ComputeDeltas(readings)
	if len(deltas) != 2 {
		t.Fatalf("expected duplicate to collapse, got %d entries", len(deltas))
	}
	if deltas[1].ConsumptionKWh != 60 {
		t.Errorf("delta should use last duplicate (160-100=60), got %.3f", deltas[1].ConsumptionKWh)
	}
}

func TestComputeDeltasNegativeDeltaPropagates(t *testing.T) {
	readings := []models.Reading{
		{MeterID: 1, ReadingTime: ts(t, "2025-01-01T08:00:00Z"), ConsumptionKWh: 500},
		// Meter reset: cumulative value drops. The delta stays negative
		// here; clamping happens at the billing stage.
		{MeterID: 1, ReadingTime: ts(t, "2025-02-01T08:00:00Z"), ConsumptionKWh: 20},
	}

	deltas, warnings := ComputeDeltas(readings)
	if deltas[1].ConsumptionKWh != -480 {
		t.Errorf("negative delta must propagate, got %.3f", deltas[1].ConsumptionKWh)
	}
	if len(warnings) == 0 {
		t.Error("expected a negative-delta warning")
	}
}

func TestComputeDeltasNaNCoercedToZero(t *testing.T) {
	readings := []models.Reading{
		{MeterID: 1, ReadingTime: ts(t, "2025-01-01T08:00:00Z"), ConsumptionKWh: math.NaN(), ProductionKWh: 10},
		{MeterID: 1, ReadingTime: ts(t, "2025-02-01T08:00:00Z"), ConsumptionKWh: 40, ProductionKWh: 30},
	}

	deltas, warnings := ComputeDeltas(readings)
	if deltas[1].ConsumptionKWh != 40 {
		t.Errorf("NaN anchor should act as 0, got delta %.3f", deltas[1].ConsumptionKWh)
	}
	if len(warnings) == 0 {
		t.Error("expected a coercion warning for the NaN field")
	}
	for _, d := range deltas {
		if math.IsNaN(d.ConsumptionKWh) || math.IsNaN(d.CumulativeKWh) {
			t.Errorf("NaN leaked into output: %+v", d)
		}
	}
}

func TestComputeDeltasNormalizesSubSecondTimestamps(t *testing.T) {
	base := ts(t, "2025-01-01T08:00:00Z")
	readings := []models.Reading{
		{MeterID: 1, ReadingTime: base.Add(200 * time.Millisecond), ConsumptionKWh: 100},
		{MeterID: 1, ReadingTime: base.Add(900 * time.Millisecond), ConsumptionKWh: 105},
	}

	deltas, _ := ComputeDeltas(readings)
	if len(deltas) != 1 {
		t.Fatalf("sub-second duplicates should collapse to one entry, got %d", len(deltas))
	}
	if deltas[0].ConsumptionKWh != 0 {
		t.Errorf("single surviving entry must have zero delta, got %.3f", deltas[0].ConsumptionKWh)
	}
}
