// Package billing holds the pure computation core of the net-metering
// system: delta derivation over cumulative readings, tariff resolution,
// invoice calculation and quarter replication. Nothing in this package
// touches the database or the network; callers pass in-memory collections
// and consume in-memory results.
package billing

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/solbill/netmetering/backend/models"
)

// Warning is a non-fatal data-quality note produced while computing.
// Computation never stops because of one; callers decide whether to show it.
type Warning struct {
	ReadingTime time.Time `json:"reading_time,omitempty"`
	Message     string    `json:"message"`
}

// normalizeTime canonicalizes an observation instant so that equality and
// ordering are stable regardless of how the timestamp was entered.
func normalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

// sanitizeKWh coerces NaN and infinities to zero. Bad numeric input must
// never block the user from seeing an estimate.
func sanitizeKWh(v float64) (float64, bool) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// ComputeDeltas converts an unordered set of cumulative readings into an
// ordered (ascending by time) series of per-period deltas.
//
// Duplicate timestamps collapse to the last occurrence in input order. The
// earliest entry has no prior anchor and is defined to have zero deltas.
// Negative deltas (meter reset, rollback, entry error) are kept as-is; the
// invoice calculator clamps net-of-production at the billing stage, not
// here. The returned warnings flag coerced values and negative deltas.
func ComputeDeltas(readings []models.Reading) ([]models.DeltaReading, []Warning) {
	warnings := []Warning{}
	if len(readings) == 0 {
		return []models.DeltaReading{}, warnings
	}

	// Dedupe by normalized timestamp, last write wins.
	byTime := make(map[time.Time]models.Reading, len(readings))
	order := make([]time.Time, 0, len(readings))
	for _, r := range readings {
		key := normalizeTime(r.ReadingTime)
		if _, seen := byTime[key]; !seen {
			order = append(order, key)
		}
		byTime[key] = r
	}

	sort.Slice(order, func(i, j int) bool { return order[i].Before(order[j]) })

	deltas := make([]models.DeltaReading, 0, len(order))
	var prevCons, prevProd, cumulative float64

	for i, key := range order {
		r := byTime[key]

		cons, ok := sanitizeKWh(r.ConsumptionKWh)
		if !ok {
			warnings = append(warnings, Warning{ReadingTime: key, Message: "consumption is not a number, treated as 0"})
		}
		prod, ok := sanitizeKWh(r.ProductionKWh)
		if !ok {
			warnings = append(warnings, Warning{ReadingTime: key, Message: "production is not a number, treated as 0"})
		}
		credit, ok := sanitizeKWh(r.CreditKWh)
		if !ok {
			warnings = append(warnings, Warning{ReadingTime: key, Message: "credit is not a number, treated as 0"})
		}

		d := models.DeltaReading{
			MeterID:     r.MeterID,
			ReadingTime: key,
			CreditKWh:   credit,
		}

		if i > 0 {
			d.ConsumptionKWh = cons - prevCons
			d.ProductionKWh = prod - prevProd
			if d.ConsumptionKWh < 0 || d.ProductionKWh < 0 {
				warnings = append(warnings, Warning{
					ReadingTime: key,
					Message:     fmt.Sprintf("negative delta (consumption %.3f, production %.3f), possible meter reset", d.ConsumptionKWh, d.ProductionKWh),
				})
			}
		}

		cumulative += d.ProductionKWh - d.ConsumptionKWh
		d.CumulativeKWh = cumulative

		prevCons, prevProd = cons, prod
		deltas = append(deltas, d)
	}

	return deltas, warnings
}
