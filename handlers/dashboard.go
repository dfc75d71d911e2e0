package handlers

import (
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/solbill/netmetering/backend/billing"
	"github.com/solbill/netmetering/backend/models"
	"github.com/solbill/netmetering/backend/services"
)

type DashboardHandler struct {
	db             *sql.DB
	billingService *services.BillingService
}

func NewDashboardHandler(db *sql.DB, billingService *services.BillingService) *DashboardHandler {
	return &DashboardHandler{db: db, billingService: billingService}
}

func (h *DashboardHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	var stats models.DashboardStats

	h.db.QueryRow("SELECT COUNT(*) FROM companies WHERE deleted_at IS NULL").Scan(&stats.TotalCompanies)
	h.db.QueryRow("SELECT COUNT(*) FROM meters").Scan(&stats.TotalMeters)
	h.db.QueryRow("SELECT COUNT(*) FROM meters WHERE is_active = 1").Scan(&stats.ActiveMeters)
	h.db.QueryRow("SELECT COUNT(*) FROM readings").Scan(&stats.TotalReadings)
	h.db.QueryRow("SELECT COUNT(*) FROM tariffs WHERE deleted_at IS NULL").Scan(&stats.TotalTariffs)

	// Month totals come from the delta view, not raw cumulative values.
	monthStart := time.Now().UTC()
	monthStart = time.Date(monthStart.Year(), monthStart.Month(), 1, 0, 0, 0, 0, time.UTC)

	meterIDs := []int{}
	rows, err := h.db.Query("SELECT id FROM meters WHERE is_active = 1")
	if err == nil {
		for rows.Next() {
			var id int
			if err := rows.Scan(&id); err == nil {
				meterIDs = append(meterIDs, id)
			}
		}
		rows.Close()
	}

	for _, meterID := range meterIDs {
		readings, err := h.billingService.LoadReadings(meterID)
		if err != nil {
			continue
		}
		deltas, _ := billing.ComputeDeltas(readings)
		for _, d := range deltas {
			if d.ReadingTime.Before(monthStart) {
				continue
			}
			stats.MonthConsumption += d.ConsumptionKWh
			stats.MonthProduction += d.ProductionKWh
		}
	}
	stats.MonthConsumption = billing.Round2(stats.MonthConsumption)
	stats.MonthProduction = billing.Round2(stats.MonthProduction)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// GetConsumption returns a per-period series for one meter, suitable for
// charting. Values are deltas, never cumulative register reads.
func (h *DashboardHandler) GetConsumption(w http.ResponseWriter, r *http.Request) {
	meterID, err := strconv.Atoi(r.URL.Query().Get("meter_id"))
	if err != nil {
		http.Error(w, "meter_id query parameter required", http.StatusBadRequest)
		return
	}

	days := 30
	if d := r.URL.Query().Get("days"); d != "" {
		if parsed, err := strconv.Atoi(d); err == nil && parsed > 0 && parsed <= 365 {
			days = parsed
		}
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days)

	readings, err := h.billingService.LoadReadings(meterID)
	if err != nil {
		log.Printf("ERROR: Failed to query readings for meter %d: %v", meterID, err)
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}

	deltas, _ := billing.ComputeDeltas(readings)

	points := []models.ConsumptionPoint{}
	for _, d := range deltas {
		if d.ReadingTime.Before(cutoff) {
			continue
		}
		points = append(points, models.ConsumptionPoint{
			Timestamp:      d.ReadingTime,
			ConsumptionKWh: d.ConsumptionKWh,
			ProductionKWh:  d.ProductionKWh,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(points)
}

func (h *DashboardHandler) GetLogs(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 1000 {
			limit = parsed
		}
	}

	rows, err := h.db.Query(`
		SELECT id, action, details, ip_address, created_at
		FROM admin_logs
		ORDER BY created_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		log.Printf("ERROR: Failed to query admin logs: %v", err)
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}
	defer rows.Close()

	logs := []models.AdminLog{}
	for rows.Next() {
		var entry models.AdminLog
		if err := rows.Scan(&entry.ID, &entry.Action, &entry.Details, &entry.IPAddress, &entry.CreatedAt); err != nil {
			continue
		}
		logs = append(logs, entry)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(logs)
}
