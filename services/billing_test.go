package services

import (
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/solbill/netmetering/backend/billing"
	"github.com/solbill/netmetering/backend/database"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.InitDB(":memory:")
	if err != nil {
		t.Fatalf("InitDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := database.RunMigrations(db); err != nil {
		t.Fatalf("RunMigrations: %v", err)
	}
	return db
}

func seedMeter(t *testing.T, db *sql.DB) int {
	t.Helper()
	res, err := db.Exec(`INSERT INTO companies (code, name) VALUES ('EEGSA', 'EEGSA')`)
	if err != nil {
		t.Fatalf("seed company: %v", err)
	}
	companyID, _ := res.LastInsertId()

	res, err = db.Exec(`
		INSERT INTO meters (contador, correlativo, propietaria, nit, company_id, segment, sistema)
		VALUES ('K12345', 'C-001', 'Solar Uno S.A.', '1234567-8', ?, 'BTS', 'Central')
	`, companyID)
	if err != nil {
		t.Fatalf("seed meter: %v", err)
	}
	meterID, _ := res.LastInsertId()
	return int(meterID)
}

// seedCurrentTariff inserts a tariff whose validity covers time.Now, so
// quarter replication has an anchor to copy from.
func seedCurrentTariff(t *testing.T, db *sql.DB) {
	t.Helper()
	now := time.Now().UTC()
	year, quarter := now.Year(), (int(now.Month())-1)/3+1
	from := time.Date(year, time.Month((quarter-1)*3+1), 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 3, -1)

	_, err := db.Exec(`
		INSERT INTO tariffs (code, company, company_code, segment, period_from, period_to,
			fixed_charge, energy_rate, distribution_rate, demand_rate, contrib_percent, iva_percent)
		VALUES (?, 'EEGSA', 'EEGSA', 'BTS', ?, ?, 13.14, 1.113964, 0.240697, 15.7826, 13.8, 12.0)
	`, fmt.Sprintf("EEGSA-BTS-%dQ%d", year, quarter),
		from.Format("2006-01-02"), to.Format("2006-01-02"))
	if err != nil {
		t.Fatalf("seed tariff: %v", err)
	}
}

func TestReplicateQuartersPersistsAndIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	seedCurrentTariff(t, db)
	bs := NewBillingService(db, 1.60)

	result, err := bs.ReplicateQuarters(3, "EEGSA", "BTS")
	if err != nil {
		t.Fatalf("ReplicateQuarters: %v", err)
	}
	if result.CreatedCount != 3 {
		t.Fatalf("expected 3 created, got %d (%s)", result.CreatedCount, result.Message)
	}
	for _, nt := range result.NewTariffs {
		if nt.ID == 0 {
			t.Errorf("replicated tariff %s was not assigned a database ID", nt.Code)
		}
	}

	var count int
	db.QueryRow(`SELECT COUNT(*) FROM tariffs WHERE auto_copied = 1`).Scan(&count)
	if count != 3 {
		t.Fatalf("expected 3 auto_copied rows, found %d", count)
	}

	// Second run finds the quarters already covered.
	again, err := bs.ReplicateQuarters(3, "EEGSA", "BTS")
	if err != nil {
		t.Fatalf("ReplicateQuarters (second run): %v", err)
	}
	if again.CreatedCount != 0 {
		t.Fatalf("expected idempotent second run, got %d created", again.CreatedCount)
	}
}

func TestReplicateQuartersWithoutActiveTariff(t *testing.T) {
	db := setupTestDB(t)
	bs := NewBillingService(db, 1.60)

	result, err := bs.ReplicateQuarters(2, "EEGSA", "BTS")
	if err != nil {
		t.Fatalf("ReplicateQuarters: %v", err)
	}
	if result.CreatedCount != 0 {
		t.Fatalf("expected nothing created without an anchor tariff, got %d", result.CreatedCount)
	}
	if result.Message == "" {
		t.Error("expected an explanatory message")
	}
}

func TestBuildBillingTableMonthly(t *testing.T) {
	db := setupTestDB(t)
	meterID := seedMeter(t, db)

	// Open-ended tariff so every period resolves.
	_, err := db.Exec(`
		INSERT INTO tariffs (code, company, company_code, segment, period_from, period_to,
			fixed_charge, energy_rate, distribution_rate, demand_rate, contrib_percent, iva_percent)
		VALUES ('EEGSA-BTS-ALL', 'EEGSA', 'EEGSA', 'BTS', '2020-01-01', '2099-12-31',
			13.14, 1.113964, 0.240697, 15.7826, 13.8, 12.0)
	`)
	if err != nil {
		t.Fatalf("seed tariff: %v", err)
	}

	// Cumulative readings across two months: 100 kWh then +50, +30.
	series := []struct {
		at         string
		cons, prod float64
	}{
		{"2025-06-15 10:00:00", 100, 20},
		{"2025-06-30 10:00:00", 150, 35},
		{"2025-07-15 10:00:00", 180, 40},
	}
	for _, s := range series {
		at, _ := time.Parse("2006-01-02 15:04:05", s.at)
		_, err := db.Exec(`
			INSERT INTO readings (meter_id, reading_time, consumption_kwh, production_kwh)
			VALUES (?, ?, ?, ?)
		`, meterID, at.UTC(), s.cons, s.prod)
		if err != nil {
			t.Fatalf("seed reading: %v", err)
		}
	}

	bs := NewBillingService(db, 1.60)
	rows, warnings, err := bs.BuildBillingTable(meterID, billing.UnitMonth)
	if err != nil {
		t.Fatalf("BuildBillingTable: %v", err)
	}
	if len(warnings) != 0 {
		t.Errorf("expected clean series, got warnings: %v", warnings)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 monthly rows, got %d", len(rows))
	}

	june, july := rows[0], rows[1]
	if june.ConsumptionKWh != 50 || june.ProductionKWh != 15 {
		t.Errorf("june deltas = %.1f/%.1f, want 50/15", june.ConsumptionKWh, june.ProductionKWh)
	}
	if july.ConsumptionKWh != 30 || july.ProductionKWh != 5 {
		t.Errorf("july deltas = %.1f/%.1f, want 30/5", july.ConsumptionKWh, july.ProductionKWh)
	}
	if june.Invoice.Tariff == nil {
		t.Fatal("june row did not resolve a tariff")
	}
	if june.Invoice.TotalDue <= 0 {
		t.Errorf("june total due = %.2f, want positive", june.Invoice.TotalDue)
	}
	// First reading anchors the series, so month one prices 50 kWh
	// gross with 15 kWh offset: net energy 35 kWh.
	if june.Invoice.NetEnergyKWh != 35 {
		t.Errorf("june net energy = %.1f, want 35", june.Invoice.NetEnergyKWh)
	}
}

func TestBuildBillingTableFallbackWithoutTariff(t *testing.T) {
	db := setupTestDB(t)
	meterID := seedMeter(t, db)

	for i, cons := range []float64{100, 140} {
		at := time.Date(2025, 6, 1+i*15, 10, 0, 0, 0, time.UTC)
		_, err := db.Exec(`
			INSERT INTO readings (meter_id, reading_time, consumption_kwh, production_kwh)
			VALUES (?, ?, ?, 0)
		`, meterID, at, cons)
		if err != nil {
			t.Fatalf("seed reading: %v", err)
		}
	}

	bs := NewBillingService(db, 1.60)
	rows, _, err := bs.BuildBillingTable(meterID, billing.UnitPeriod)
	if err != nil {
		t.Fatalf("BuildBillingTable: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 period rows, got %d", len(rows))
	}

	second := rows[1]
	if second.Invoice.Tariff != nil {
		t.Fatal("expected no tariff to resolve")
	}
	// 40 kWh at the flat fallback rate.
	if second.Invoice.TotalDue != 64.00 {
		t.Errorf("fallback total = %.2f, want 64.00", second.Invoice.TotalDue)
	}
}
