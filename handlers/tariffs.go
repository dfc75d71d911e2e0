package handlers

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/solbill/netmetering/backend/billing"
	"github.com/solbill/netmetering/backend/models"
	"github.com/solbill/netmetering/backend/services"
)

type TariffHandler struct {
	db             *sql.DB
	billingService *services.BillingService
}

func NewTariffHandler(db *sql.DB, billingService *services.BillingService) *TariffHandler {
	return &TariffHandler{db: db, billingService: billingService}
}

func (h *TariffHandler) List(w http.ResponseWriter, r *http.Request) {
	tariffs, err := h.billingService.LoadActiveTariffs()
	if err != nil {
		log.Printf("ERROR: Failed to query tariffs: %v", err)
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(tariffs)
}

func (h *TariffHandler) Get(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, err := strconv.Atoi(vars["id"])
	if err != nil {
		http.Error(w, "Invalid tariff ID", http.StatusBadRequest)
		return
	}

	var t models.Tariff
	err = h.db.QueryRow(`
		SELECT id, COALESCE(code, ''), company, COALESCE(company_code, ''), segment,
		       period_from, period_to, COALESCE(effective_at, ''),
		       fixed_charge, energy_rate, distribution_rate, demand_rate,
		       contrib_percent, iva_percent, auto_copied, created_at, updated_at
		FROM tariffs
		WHERE id = ? AND deleted_at IS NULL
	`, id).Scan(&t.ID, &t.Code, &t.Company, &t.CompanyCode, &t.Segment,
		&t.PeriodFrom, &t.PeriodTo, &t.EffectiveAt,
		&t.FixedCharge, &t.EnergyRate, &t.DistributionRate, &t.DemandRate,
		&t.ContribPercent, &t.IVAPercent, &t.AutoCopied, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		http.Error(w, "Tariff not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(t)
}

func (h *TariffHandler) Create(w http.ResponseWriter, r *http.Request) {
	var t models.Tariff
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	if err := validateTariff(&t); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if issue, err := h.checkOverlap(&t, 0); err != nil {
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	} else if issue != nil {
		writeOverlapConflict(w, issue)
		return
	}

	result, err := h.db.Exec(`
		INSERT INTO tariffs (
			code, company, company_code, segment, period_from, period_to, effective_at,
			fixed_charge, energy_rate, distribution_rate, demand_rate,
			contrib_percent, iva_percent, auto_copied
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
	`, t.Code, t.Company, t.CompanyCode, t.Segment, t.PeriodFrom, t.PeriodTo, t.EffectiveAt,
		t.FixedCharge, t.EnergyRate, t.DistributionRate, t.DemandRate,
		t.ContribPercent, t.IVAPercent)
	if err != nil {
		log.Printf("ERROR: Failed to create tariff: %v", err)
		http.Error(w, "Failed to create tariff", http.StatusInternalServerError)
		return
	}

	id, _ := result.LastInsertId()
	t.ID = int(id)

	log.Printf("SUCCESS: Created tariff %s (%s/%s %s..%s)", t.Code, t.Company, t.Segment, t.PeriodFrom, t.PeriodTo)
	logToDatabase(h.db, "Tariff Created",
		fmt.Sprintf("%s (%s/%s)", t.Code, t.Company, t.Segment), getClientIP(r))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(t)
}

func (h *TariffHandler) Update(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, err := strconv.Atoi(vars["id"])
	if err != nil {
		http.Error(w, "Invalid tariff ID", http.StatusBadRequest)
		return
	}

	var t models.Tariff
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	if err := validateTariff(&t); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if issue, err := h.checkOverlap(&t, id); err != nil {
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	} else if issue != nil {
		writeOverlapConflict(w, issue)
		return
	}

	res, err := h.db.Exec(`
		UPDATE tariffs SET code = ?, company = ?, company_code = ?, segment = ?,
			period_from = ?, period_to = ?, effective_at = ?,
			fixed_charge = ?, energy_rate = ?, distribution_rate = ?, demand_rate = ?,
			contrib_percent = ?, iva_percent = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND deleted_at IS NULL
	`, t.Code, t.Company, t.CompanyCode, t.Segment, t.PeriodFrom, t.PeriodTo, t.EffectiveAt,
		t.FixedCharge, t.EnergyRate, t.DistributionRate, t.DemandRate,
		t.ContribPercent, t.IVAPercent, id)
	if err != nil {
		log.Printf("ERROR: Failed to update tariff ID %d: %v", id, err)
		http.Error(w, "Failed to update tariff", http.StatusInternalServerError)
		return
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		http.Error(w, "Tariff not found", http.StatusNotFound)
		return
	}

	log.Printf("SUCCESS: Updated tariff ID %d", id)
	w.WriteHeader(http.StatusNoContent)
}

// Delete soft-deletes a tariff. Historical invoices that referenced it
// stay reproducible because resolution skips the deleted row but the data
// remains in the table.
func (h *TariffHandler) Delete(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, err := strconv.Atoi(vars["id"])
	if err != nil {
		http.Error(w, "Invalid tariff ID", http.StatusBadRequest)
		return
	}

	res, err := h.db.Exec(`
		UPDATE tariffs SET deleted_at = CURRENT_TIMESTAMP
		WHERE id = ? AND deleted_at IS NULL
	`, id)
	if err != nil {
		log.Printf("ERROR: Failed to delete tariff ID %d: %v", id, err)
		http.Error(w, "Failed to delete tariff", http.StatusInternalServerError)
		return
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		http.Error(w, "Tariff not found", http.StatusNotFound)
		return
	}

	log.Printf("SUCCESS: Soft-deleted tariff ID %d", id)
	logToDatabase(h.db, "Tariff Deleted", fmt.Sprintf("Tariff ID %d", id), getClientIP(r))
	w.WriteHeader(http.StatusNoContent)
}

// Overlaps reports intersecting validity periods across the active tariff
// set. It returns the full list; writes only reject the overlap they would
// introduce themselves.
func (h *TariffHandler) Overlaps(w http.ResponseWriter, r *http.Request) {
	tariffs, err := h.billingService.LoadActiveTariffs()
	if err != nil {
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}

	issues := billing.FindOverlaps(tariffs)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"count":  len(issues),
		"issues": issues,
	})
}

// Replicate backfills past quarters from the currently active tariff.
func (h *TariffHandler) Replicate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Quarters int    `json:"quarters"`
		Company  string `json:"company"`
		Segment  string `json:"segment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if req.Quarters < 1 || req.Quarters > 40 {
		http.Error(w, "Quarters must be between 1 and 40", http.StatusBadRequest)
		return
	}

	result, err := h.billingService.ReplicateQuarters(req.Quarters, req.Company, req.Segment)
	if err != nil {
		log.Printf("ERROR: Quarter replication failed: %v", err)
		http.Error(w, "Replication failed", http.StatusInternalServerError)
		return
	}

	if result.CreatedCount > 0 {
		logToDatabase(h.db, "Tariffs Replicated",
			fmt.Sprintf("%d quarters backfilled (%s/%s)", result.CreatedCount, req.Company, req.Segment),
			getClientIP(r))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

func validateTariff(t *models.Tariff) error {
	if t.Company == "" || t.Segment == "" {
		return fmt.Errorf("company and segment are required")
	}
	for _, d := range []string{t.PeriodFrom, t.PeriodTo} {
		if d == "" {
			continue
		}
		if _, err := time.Parse("2006-01-02", d); err != nil {
			return fmt.Errorf("invalid period date %q, expected YYYY-MM-DD", d)
		}
	}
	if t.PeriodFrom != "" && t.PeriodTo != "" && t.PeriodTo < t.PeriodFrom {
		return fmt.Errorf("period_to precedes period_from")
	}
	if t.FixedCharge < 0 || t.EnergyRate < 0 || t.DistributionRate < 0 || t.DemandRate < 0 {
		return fmt.Errorf("rates must not be negative")
	}
	return nil
}

// checkOverlap runs the prospective tariff against the active set and
// returns the first overlap it would introduce. excludeID skips the row
// being updated so a tariff never conflicts with itself.
func (h *TariffHandler) checkOverlap(t *models.Tariff, excludeID int) (*billing.OverlapIssue, error) {
	existing, err := h.billingService.LoadActiveTariffs()
	if err != nil {
		return nil, err
	}

	candidates := make([]models.Tariff, 0, len(existing)+1)
	for _, e := range existing {
		if e.ID == excludeID {
			continue
		}
		candidates = append(candidates, e)
	}
	candidates = append(candidates, *t)

	issues := billing.FindOverlaps(candidates)
	for i := range issues {
		issue := &issues[i]
		// Only reject overlaps involving the new tariff; pre-existing
		// overlaps are surfaced by the diagnostic endpoint instead.
		if issue.TariffA == t.ID || issue.TariffB == t.ID {
			return issue, nil
		}
	}
	return nil, nil
}

func writeOverlapConflict(w http.ResponseWriter, issue *billing.OverlapIssue) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusConflict)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": fmt.Sprintf("Tariff period overlaps existing tariff %d for %s/%s",
			issue.TariffA, issue.Company, issue.Segment),
		"overlap": issue,
	})
}
