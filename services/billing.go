package services

import (
	"database/sql"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/solbill/netmetering/backend/billing"
	"github.com/solbill/netmetering/backend/models"
)

// BillingService wires the pure billing core to the database: it loads
// readings and tariffs, builds billing tables and persists replicated
// tariffs. All monetary math lives in the billing package.
type BillingService struct {
	db           *sql.DB
	fallbackRate float64
}

func NewBillingService(db *sql.DB, fallbackRate float64) *BillingService {
	return &BillingService{db: db, fallbackRate: fallbackRate}
}

func (bs *BillingService) LoadMeter(meterID int) (*models.Meter, error) {
	var m models.Meter
	var installDate, companyName sql.NullString
	err := bs.db.QueryRow(`
		SELECT m.id, m.contador, m.correlativo, m.propietaria, m.nit,
		       m.company_id, c.name, m.segment, m.sistema, m.installation_date, m.is_active
		FROM meters m
		JOIN companies c ON m.company_id = c.id
		WHERE m.id = ?
	`, meterID).Scan(
		&m.ID, &m.Contador, &m.Correlativo, &m.Propietaria, &m.NIT,
		&m.CompanyID, &companyName, &m.Segment, &m.Sistema, &installDate, &m.IsActive,
	)
	if err != nil {
		return nil, err
	}
	m.CompanyName = companyName.String
	m.InstallationDate = installDate.String
	return &m, nil
}

func (bs *BillingService) LoadReadings(meterID int) ([]models.Reading, error) {
	rows, err := bs.db.Query(`
		SELECT id, meter_id, reading_time, consumption_kwh, production_kwh, credit_kwh, created_at
		FROM readings
		WHERE meter_id = ?
		ORDER BY reading_time ASC
	`, meterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	readings := []models.Reading{}
	for rows.Next() {
		var r models.Reading
		if err := rows.Scan(&r.ID, &r.MeterID, &r.ReadingTime, &r.ConsumptionKWh,
			&r.ProductionKWh, &r.CreditKWh, &r.CreatedAt); err != nil {
			continue
		}
		readings = append(readings, r)
	}
	return readings, nil
}

// LoadActiveTariffs returns all non-deleted tariffs in insertion order.
// That order is the tie-break when several tariffs match a date.
func (bs *BillingService) LoadActiveTariffs() ([]models.Tariff, error) {
	rows, err := bs.db.Query(`
		SELECT id, COALESCE(code, ''), company, COALESCE(company_code, ''), segment,
		       period_from, period_to, COALESCE(effective_at, ''),
		       fixed_charge, energy_rate, distribution_rate, demand_rate,
		       contrib_percent, iva_percent, auto_copied, created_at, updated_at
		FROM tariffs
		WHERE deleted_at IS NULL
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tariffs := []models.Tariff{}
	for rows.Next() {
		var t models.Tariff
		if err := rows.Scan(&t.ID, &t.Code, &t.Company, &t.CompanyCode, &t.Segment,
			&t.PeriodFrom, &t.PeriodTo, &t.EffectiveAt,
			&t.FixedCharge, &t.EnergyRate, &t.DistributionRate, &t.DemandRate,
			&t.ContribPercent, &t.IVAPercent, &t.AutoCopied, &t.CreatedAt, &t.UpdatedAt); err != nil {
			continue
		}
		tariffs = append(tariffs, t)
	}
	return tariffs, nil
}

// BuildBillingTable computes one invoice per metering period for a meter.
// With unit "month" the deltas are aggregated by calendar month first,
// with unit "period" every delta entry becomes its own row. Nothing is
// persisted; the table is recomputed on every call.
func (bs *BillingService) BuildBillingTable(meterID int, unit string) ([]models.BillingRow, []billing.Warning, error) {
	if unit != billing.UnitMonth {
		unit = billing.UnitPeriod
	}

	meter, err := bs.LoadMeter(meterID)
	if err == sql.ErrNoRows {
		return nil, nil, fmt.Errorf("meter %d not found", meterID)
	}
	if err != nil {
		return nil, nil, err
	}

	readings, err := bs.LoadReadings(meterID)
	if err != nil {
		return nil, nil, err
	}

	tariffs, err := bs.LoadActiveTariffs()
	if err != nil {
		return nil, nil, err
	}

	deltas, warnings := billing.ComputeDeltas(readings)
	log.Printf("[BILLING] Meter %d (%s): %d readings -> %d periods, unit=%s",
		meterID, meter.Contador, len(readings), len(deltas), unit)

	if unit == billing.UnitMonth {
		deltas = aggregateByMonth(deltas)
	}

	rows := make([]models.BillingRow, 0, len(deltas))
	for _, d := range deltas {
		tariff := billing.ResolveTariff(d.ReadingTime, tariffs, meter.CompanyName, meter.Segment)
		if tariff == nil {
			log.Printf("WARNING: no tariff for %s (%s/%s), using flat rate %.4f",
				d.ReadingTime.Format("2006-01-02"), meter.CompanyName, meter.Segment, bs.fallbackRate)
		}

		inv := billing.ComputeInvoice(d.ConsumptionKWh, d.ProductionKWh, tariff, billing.InvoiceContext{
			Unit:               unit,
			Date:               d.ReadingTime,
			CreditsKWh:         d.CreditKWh,
			FallbackEnergyRate: bs.fallbackRate,
		})

		rows = append(rows, models.BillingRow{
			PeriodDate:     d.ReadingTime,
			ConsumptionKWh: d.ConsumptionKWh,
			ProductionKWh:  d.ProductionKWh,
			CreditKWh:      d.CreditKWh,
			CumulativeKWh:  d.CumulativeKWh,
			Invoice:        inv,
		})
	}

	return rows, warnings, nil
}

// aggregateByMonth folds delta entries into one entry per calendar month.
// Sums run over consumption, production and credits; the representative
// date and running balance come from the month's last entry.
func aggregateByMonth(deltas []models.DeltaReading) []models.DeltaReading {
	type monthKey struct {
		year  int
		month time.Month
	}

	byMonth := make(map[monthKey]*models.DeltaReading)
	order := []monthKey{}

	for _, d := range deltas {
		key := monthKey{d.ReadingTime.Year(), d.ReadingTime.Month()}
		agg, ok := byMonth[key]
		if !ok {
			copied := d
			byMonth[key] = &copied
			order = append(order, key)
			continue
		}
		agg.ConsumptionKWh += d.ConsumptionKWh
		agg.ProductionKWh += d.ProductionKWh
		agg.CreditKWh += d.CreditKWh
		agg.ReadingTime = d.ReadingTime
		agg.CumulativeKWh = d.CumulativeKWh
	}

	sort.Slice(order, func(i, j int) bool {
		if order[i].year != order[j].year {
			return order[i].year < order[j].year
		}
		return order[i].month < order[j].month
	})

	result := make([]models.DeltaReading, 0, len(order))
	for _, key := range order {
		result = append(result, *byMonth[key])
	}
	return result
}

// ComputeSingleInvoice prices one period directly from caller-supplied
// figures, resolving the tariff for the given date and scope.
func (bs *BillingService) ComputeSingleInvoice(consumptionKWh, productionKWh float64, date time.Time,
	company, segment string, creditsAmount, creditsKWh float64) (models.InvoiceBreakdown, error) {

	tariffs, err := bs.LoadActiveTariffs()
	if err != nil {
		return models.InvoiceBreakdown{}, err
	}

	tariff := billing.ResolveTariff(date, tariffs, company, segment)
	return billing.ComputeInvoice(consumptionKWh, productionKWh, tariff, billing.InvoiceContext{
		Unit:               billing.UnitPeriod,
		Date:               date,
		CreditsAmount:      creditsAmount,
		CreditsKWh:         creditsKWh,
		FallbackEnergyRate: bs.fallbackRate,
	}), nil
}

// ReplicateQuarters backfills historical tariffs and persists the result.
func (bs *BillingService) ReplicateQuarters(count int, company, segment string) (billing.ReplicationResult, error) {
	tariffs, err := bs.LoadActiveTariffs()
	if err != nil {
		return billing.ReplicationResult{}, err
	}

	result := billing.ReplicateQuartersBackward(count, tariffs, company, segment, time.Now())
	if result.CreatedCount == 0 {
		log.Printf("[BILLING] Quarter replication: %s", result.Message)
		return result, nil
	}

	tx, err := bs.db.Begin()
	if err != nil {
		return billing.ReplicationResult{}, err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO tariffs (
			code, company, company_code, segment, period_from, period_to, effective_at,
			fixed_charge, energy_rate, distribution_rate, demand_rate,
			contrib_percent, iva_percent, auto_copied
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
	`)
	if err != nil {
		return billing.ReplicationResult{}, err
	}
	defer stmt.Close()

	for i := range result.NewTariffs {
		nt := &result.NewTariffs[i]
		res, err := stmt.Exec(nt.Code, nt.Company, nt.CompanyCode, nt.Segment,
			nt.PeriodFrom, nt.PeriodTo, nt.EffectiveAt,
			nt.FixedCharge, nt.EnergyRate, nt.DistributionRate, nt.DemandRate,
			nt.ContribPercent, nt.IVAPercent)
		if err != nil {
			return billing.ReplicationResult{}, fmt.Errorf("failed to insert replicated tariff %s: %v", nt.Code, err)
		}
		id, _ := res.LastInsertId()
		nt.ID = int(id)
	}

	if err := tx.Commit(); err != nil {
		return billing.ReplicationResult{}, err
	}

	log.Printf("SUCCESS: %s", result.Message)
	return result, nil
}
