package billing

import (
	"math"
	"time"

	"github.com/solbill/netmetering/backend/models"
)

// Billing units. With UnitMonth the caller has aggregated a calendar
// month of deltas into one invoice; with UnitPeriod each metering period
// gets its own. The fixed charge is applied once per invoice either way,
// never prorated.
const (
	UnitMonth  = "month"
	UnitPeriod = "period"
)

// InvoiceContext carries the billing-period context for one invoice.
// Credits may be monetary (CreditsAmount, deducted from the final total)
// or energy (CreditsKWh, deducted from the energy-charge base); in
// practice one of the two is used.
type InvoiceContext struct {
	Unit          string
	Date          time.Time
	CreditsAmount float64
	CreditsKWh    float64

	// FallbackEnergyRate prices net energy when no tariff resolved.
	FallbackEnergyRate float64
}

// Round2 rounds a monetary amount to 2 decimals. Line items are rounded
// once, at their boundary; sums are taken over already-rounded items so
// the printed breakdown always adds up.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// ComputeInvoice produces the itemized monetary breakdown for one billing
// period. Production and energy credits reduce only the energy line;
// distribution and demand are charged on gross consumption, since the
// wires cost the same however the energy nets out. With a nil tariff the
// fallback flat rate prices net energy and every structural charge is
// zero.
//
// Inputs are not validated: negative consumption or production flows
// through into negative charges rather than an error. Sanitizing upstream
// data is the caller's job.
func ComputeInvoice(consumptionKWh, productionKWh float64, tariff *models.Tariff, ctx InvoiceContext) models.InvoiceBreakdown {
	consumptionKWh, _ = sanitizeKWh(consumptionKWh)
	productionKWh, _ = sanitizeKWh(productionKWh)
	creditsKWh, _ := sanitizeKWh(ctx.CreditsKWh)
	creditsAmount, _ := sanitizeKWh(ctx.CreditsAmount)

	netEnergy := consumptionKWh - productionKWh - creditsKWh
	if netEnergy < 0 {
		netEnergy = 0
	}

	b := models.InvoiceBreakdown{
		ConsumptionKWh: consumptionKWh,
		ProductionKWh:  productionKWh,
		NetEnergyKWh:   netEnergy,
		CreditsAmount:  Round2(creditsAmount),
		Tariff:         tariff,
	}

	if tariff == nil {
		b.EnergyChargeAmount = Round2(netEnergy * ctx.FallbackEnergyRate)
		b.SubtotalBeforeTax = b.EnergyChargeAmount
		b.Subtotal = b.SubtotalBeforeTax
		b.TotalDue = Round2(math.Max(0, b.Subtotal-creditsAmount))
		return b
	}

	b.EnergyChargeAmount = Round2(netEnergy * tariff.EnergyRate)
	b.DistributionChargeAmount = Round2(consumptionKWh * tariff.DistributionRate)
	b.DemandChargeAmount = Round2(consumptionKWh * tariff.DemandRate)
	b.FixedChargeAmount = Round2(tariff.FixedCharge)

	b.SubtotalBeforeTax = Round2(b.FixedChargeAmount + b.EnergyChargeAmount +
		b.DistributionChargeAmount + b.DemandChargeAmount)

	// The contribution surcharge shares the pre-tax base with VAT but is
	// itself outside the VAT base.
	b.VATAmount = Round2(b.SubtotalBeforeTax * tariff.IVAPercent / 100)
	b.ContribAmount = Round2(b.SubtotalBeforeTax * tariff.ContribPercent / 100)

	b.Subtotal = Round2(b.SubtotalBeforeTax + b.VATAmount + b.ContribAmount)
	b.TotalDue = Round2(math.Max(0, b.Subtotal-creditsAmount))

	return b
}
