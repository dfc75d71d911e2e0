package billing

import (
	"fmt"
	"time"

	"github.com/solbill/netmetering/backend/models"
)

// ReplicationResult reports what ReplicateQuartersBackward produced.
// CreatedCount can be lower than the requested count when target quarters
// already carry a tariff. Message is a human-readable summary; it never
// replaces an error because running out of quarters to fill is not one.
type ReplicationResult struct {
	CreatedCount int             `json:"created_count"`
	NewTariffs   []models.Tariff `json:"new_tariffs"`
	Message      string          `json:"message"`
}

// quarterOf returns the 1-based calendar quarter containing the month.
func quarterOf(m time.Month) int {
	return (int(m)-1)/3 + 1
}

// quarterBounds returns the first and last day of a quarter as calendar
// dates.
func quarterBounds(year, quarter int) (from, to string) {
	startMonth := time.Month((quarter-1)*3 + 1)
	start := time.Date(year, startMonth, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 3, -1)
	return start.Format(dateLayout), end.Format(dateLayout)
}

// ReplicateQuartersBackward backfills tariff history: starting from the
// tariff active on the given day under the (company, segment) scope, it
// synthesizes up to count copies for the preceding calendar quarters,
// rolling year boundaries, so old readings resolve a tariff instead of
// hitting the flat-rate fallback.
//
// Quarters that already have a tariff for the same scope and start date
// are skipped. Synthesized tariffs copy all rate fields, span the target
// quarter exactly, carry a generated code {company}-{segment}-{year}Q{q}
// and are flagged auto-copied for audit.
func ReplicateQuartersBackward(count int, tariffs []models.Tariff, company, segment string, today time.Time) ReplicationResult {
	if count < 1 {
		return ReplicationResult{NewTariffs: []models.Tariff{}, Message: "nothing to replicate: count must be at least 1"}
	}

	active := ResolveTariff(today, tariffs, company, segment)
	if active == nil {
		return ReplicationResult{
			NewTariffs: []models.Tariff{},
			Message:    fmt.Sprintf("no active tariff found for %s on %s, nothing replicated", scopeLabel(company, segment), dateKey(today)),
		}
	}

	anchor, err := time.Parse(dateLayout, active.PeriodFrom)
	if err != nil {
		return ReplicationResult{
			NewTariffs: []models.Tariff{},
			Message:    fmt.Sprintf("active tariff %d has unparseable period start %q, nothing replicated", active.ID, active.PeriodFrom),
		}
	}

	year := anchor.Year()
	quarter := quarterOf(anchor.Month())

	result := ReplicationResult{NewTariffs: []models.Tariff{}}
	skipped := 0

	for i := 0; i < count; i++ {
		quarter--
		if quarter < 1 {
			quarter = 4
			year--
		}

		from, to := quarterBounds(year, quarter)

		if hasTariffStarting(tariffs, active.Company, active.Segment, from) {
			skipped++
			continue
		}

		nt := models.Tariff{
			Code:             fmt.Sprintf("%s-%s-%dQ%d", codeFor(active), active.Segment, year, quarter),
			Company:          active.Company,
			CompanyCode:      active.CompanyCode,
			Segment:          active.Segment,
			PeriodFrom:       from,
			PeriodTo:         to,
			EffectiveAt:      from,
			FixedCharge:      active.FixedCharge,
			EnergyRate:       active.EnergyRate,
			DistributionRate: active.DistributionRate,
			DemandRate:       active.DemandRate,
			ContribPercent:   active.ContribPercent,
			IVAPercent:       active.IVAPercent,
			AutoCopied:       true,
		}

		result.NewTariffs = append(result.NewTariffs, nt)
		result.CreatedCount++

		// Make freshly synthesized quarters visible to the existence
		// check so repeated calls in one pass stay idempotent.
		tariffs = append(tariffs, nt)
	}

	result.Message = fmt.Sprintf("replicated %d of %d quarters for %s (%d already covered)",
		result.CreatedCount, count, scopeLabel(active.Company, active.Segment), skipped)
	return result
}

func hasTariffStarting(tariffs []models.Tariff, company, segment, from string) bool {
	for i := range tariffs {
		t := &tariffs[i]
		if t.DeletedAt != nil {
			continue
		}
		if t.Company == company && t.Segment == segment && t.PeriodFrom == from {
			return true
		}
	}
	return false
}

func codeFor(t *models.Tariff) string {
	if t.CompanyCode != "" {
		return t.CompanyCode
	}
	return t.Company
}

func scopeLabel(company, segment string) string {
	if company == "" && segment == "" {
		return "any scope"
	}
	if segment == "" {
		return company
	}
	return company + "/" + segment
}
