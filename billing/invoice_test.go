package billing

import (
	"math"
	"testing"
	"time"

	"github.com/solbill/netmetering/backend/models"
)

// btsTariff mirrors a published residential low-voltage schedule.
func btsTariff() *models.Tariff {
	return &models.Tariff{
		ID:               1,
		Company:          "EEGSA",
		Segment:          "BTS",
		PeriodFrom:       "2025-08-01",
		PeriodTo:         "2025-10-31",
		FixedCharge:      13.136031,
		EnergyRate:       1.136754,
		DistributionRate: 0.245609,
		DemandRate:       0.053700,
		ContribPercent:   13.8,
		IVAPercent:       12,
	}
}

func approx(t *testing.T, name string, got, want float64) {
	t.Helper()
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("%s = %.6f, want %.2f", name, got, want)
	}
}

func TestComputeInvoiceBasicScenario(t *testing.T) {
	b := ComputeInvoice(147, 0, btsTariff(), InvoiceContext{Unit: UnitMonth, Date: time.Now()})

	// Each line item rounds once at its boundary, sums run over the
	// already-rounded items.
	approx(t, "energy", b.EnergyChargeAmount, 167.10)        // 147 × 1.136754 = 167.102838
	approx(t, "distribution", b.DistributionChargeAmount, 36.10) // 147 × 0.245609 = 36.104523
	approx(t, "demand", b.DemandChargeAmount, 7.89)          // 147 × 0.053700 = 7.8939
	approx(t, "fixed", b.FixedChargeAmount, 13.14)
	approx(t, "subtotal before tax", b.SubtotalBeforeTax, 224.23)
	approx(t, "vat", b.VATAmount, 26.91)     // 224.23 × 12%
	approx(t, "contrib", b.ContribAmount, 30.94) // 224.23 × 13.8%
	approx(t, "subtotal", b.Subtotal, 282.08)
	approx(t, "total due", b.TotalDue, 282.08)

	if b.Tariff == nil || b.Tariff.ID != 1 {
		t.Error("breakdown must echo the tariff it was computed with")
	}
}

func TestComputeInvoiceProductionReducesOnlyEnergyLine(t *testing.T) {
	with := ComputeInvoice(147, 47, btsTariff(), InvoiceContext{})
	without := ComputeInvoice(147, 0, btsTariff(), InvoiceContext{})

	approx(t, "net energy", with.NetEnergyKWh, 100)
	approx(t, "energy", with.EnergyChargeAmount, Round2(100*1.136754))

	// Distribution and demand stay on gross consumption.
	approx(t, "distribution", with.DistributionChargeAmount, without.DistributionChargeAmount)
	approx(t, "demand", with.DemandChargeAmount, without.DemandChargeAmount)
}

func TestComputeInvoiceNetEnergyFlooredAtZero(t *testing.T) {
	b := ComputeInvoice(50, 120, btsTariff(), InvoiceContext{})
	if b.NetEnergyKWh != 0 {
		t.Errorf("net energy = %.3f, want 0 when production exceeds consumption", b.NetEnergyKWh)
	}
	approx(t, "energy", b.EnergyChargeAmount, 0)
	// Gross-consumption charges survive a fully offset energy line.
	approx(t, "distribution", b.DistributionChargeAmount, Round2(50*0.245609))
}

func TestComputeInvoiceEnergyCreditsKWh(t *testing.T) {
	b := ComputeInvoice(147, 0, btsTariff(), InvoiceContext{CreditsKWh: 47})
	approx(t, "net energy", b.NetEnergyKWh, 100)
	approx(t, "energy", b.EnergyChargeAmount, Round2(100*1.136754))
	// kWh credits never touch the monetary credits field.
	approx(t, "credits amount", b.CreditsAmount, 0)
}

func TestComputeInvoiceFixedChargeNotProrated(t *testing.T) {
	monthly := ComputeInvoice(147, 0, btsTariff(), InvoiceContext{Unit: UnitMonth})
	periodic := ComputeInvoice(147, 0, btsTariff(), InvoiceContext{Unit: UnitPeriod})
	if monthly.FixedChargeAmount != periodic.FixedChargeAmount {
		t.Errorf("fixed charge must not depend on billing unit: %.2f vs %.2f",
			monthly.FixedChargeAmount, periodic.FixedChargeAmount)
	}
}

func TestComputeInvoiceVATAndContribBases(t *testing.T) {
	b := ComputeInvoice(147, 0, btsTariff(), InvoiceContext{})

	// Both percentages apply to the pre-tax subtotal only: the
	// contribution is outside the VAT base and vice versa.
	approx(t, "vat base", b.VATAmount, Round2(b.SubtotalBeforeTax*12/100))
	approx(t, "contrib base", b.ContribAmount, Round2(b.SubtotalBeforeTax*13.8/100))
	approx(t, "subtotal", b.Subtotal, Round2(b.SubtotalBeforeTax+b.VATAmount+b.ContribAmount))
}

func TestComputeInvoiceTotalDueFloor(t *testing.T) {
	b := ComputeInvoice(10, 0, btsTariff(), InvoiceContext{CreditsAmount: 10000})
	if b.TotalDue != 0 {
		t.Errorf("total due = %.2f, want 0 when credits exceed subtotal", b.TotalDue)
	}
	approx(t, "credits amount", b.CreditsAmount, 10000)
}

func TestComputeInvoiceNoTariffFallback(t *testing.T) {
	b := ComputeInvoice(100, 0, nil, InvoiceContext{FallbackEnergyRate: 1.60})

	approx(t, "energy", b.EnergyChargeAmount, 160.00)
	approx(t, "distribution", b.DistributionChargeAmount, 0)
	approx(t, "demand", b.DemandChargeAmount, 0)
	approx(t, "fixed", b.FixedChargeAmount, 0)
	approx(t, "vat", b.VATAmount, 0)
	approx(t, "contrib", b.ContribAmount, 0)
	approx(t, "total due", b.TotalDue, 160.00)
	if b.Tariff != nil {
		t.Error("fallback breakdown must not reference a tariff")
	}
}

func TestComputeInvoiceFallbackWithCreditsAndProduction(t *testing.T) {
	b := ComputeInvoice(100, 30, nil, InvoiceContext{FallbackEnergyRate: 1.60, CreditsAmount: 200})
	approx(t, "net energy", b.NetEnergyKWh, 70)
	approx(t, "energy", b.EnergyChargeAmount, 112.00)
	// 112 − 200 floors at zero.
	approx(t, "total due", b.TotalDue, 0)
}

// Negative inputs are accepted, not fixed: a meter rollback produces a
// numerically valid but semantically meaningless negative charge. Upstream
// layers are responsible for sanitizing.
func TestComputeInvoiceNegativeConsumptionAccepted(t *testing.T) {
	b := ComputeInvoice(-50, 0, btsTariff(), InvoiceContext{})
	if b.DistributionChargeAmount >= 0 {
		t.Errorf("negative gross consumption should yield a negative distribution charge, got %.2f",
			b.DistributionChargeAmount)
	}
	if math.IsNaN(b.TotalDue) {
		t.Error("total due must stay a number")
	}
}

func TestComputeInvoiceNaNInputsCoerced(t *testing.T) {
	b := ComputeInvoice(math.NaN(), math.NaN(), btsTariff(), InvoiceContext{CreditsKWh: math.NaN()})
	if math.IsNaN(b.TotalDue) || math.IsNaN(b.SubtotalBeforeTax) {
		t.Errorf("NaN inputs must not poison the breakdown: %+v", b)
	}
	approx(t, "energy", b.EnergyChargeAmount, 0)
}

func TestRound2(t *testing.T) {
	cases := []struct{ in, want float64 }{
		{36.104523, 36.10},
		{36.106, 36.11},
		{7.8939, 7.89},
		{-1.006, -1.01},
		{0, 0},
	}
	for _, tc := range cases {
		if got := Round2(tc.in); math.Abs(got-tc.want) > 1e-9 {
			t.Errorf("Round2(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
