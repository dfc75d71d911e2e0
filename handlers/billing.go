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

	"github.com/solbill/netmetering/backend/services"
)

type BillingHandler struct {
	db             *sql.DB
	billingService *services.BillingService
	pdfGenerator   *services.PDFGenerator
}

func NewBillingHandler(db *sql.DB, billingService *services.BillingService, pdfGenerator *services.PDFGenerator) *BillingHandler {
	return &BillingHandler{db: db, billingService: billingService, pdfGenerator: pdfGenerator}
}

// Table returns the billing table for a meter: one priced row per metering
// period (unit=period) or per calendar month (unit=month, the default).
// Data-quality warnings from the delta computation ride along.
func (h *BillingHandler) Table(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	meterID, err := strconv.Atoi(vars["id"])
	if err != nil {
		http.Error(w, "Invalid meter ID", http.StatusBadRequest)
		return
	}

	unit := r.URL.Query().Get("unit")
	if unit == "" {
		unit = "month"
	}

	rows, warnings, err := h.billingService.BuildBillingTable(meterID, unit)
	if err != nil {
		log.Printf("ERROR: Failed to build billing table for meter %d: %v", meterID, err)
		http.Error(w, "Failed to build billing table", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"unit":     unit,
		"rows":     rows,
		"warnings": warnings,
	})
}

// Compute prices a single period from caller-supplied figures without
// touching any meter data. Used for what-if quotes.
func (h *BillingHandler) Compute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ConsumptionKWh float64 `json:"consumption_kwh"`
		ProductionKWh  float64 `json:"production_kwh"`
		Date           string  `json:"date"`
		Company        string  `json:"company"`
		Segment        string  `json:"segment"`
		CreditsAmount  float64 `json:"credits_amount"`
		CreditsKWh     float64 `json:"credits_kwh"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	date := time.Now()
	if req.Date != "" {
		parsed, err := time.Parse("2006-01-02", req.Date)
		if err != nil {
			http.Error(w, "Invalid date, expected YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		date = parsed
	}

	breakdown, err := h.billingService.ComputeSingleInvoice(
		req.ConsumptionKWh, req.ProductionKWh, date,
		req.Company, req.Segment, req.CreditsAmount, req.CreditsKWh)
	if err != nil {
		log.Printf("ERROR: Invoice computation failed: %v", err)
		http.Error(w, "Invoice computation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(breakdown)
}

// InvoicePDF renders one billing-table row as a PDF and streams it. The
// month query parameter (YYYY-MM) selects the row; it defaults to the
// latest month with data.
func (h *BillingHandler) InvoicePDF(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	meterID, err := strconv.Atoi(vars["id"])
	if err != nil {
		http.Error(w, "Invalid meter ID", http.StatusBadRequest)
		return
	}

	meter, err := h.billingService.LoadMeter(meterID)
	if err == sql.ErrNoRows {
		http.Error(w, "Meter not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}

	rows, _, err := h.billingService.BuildBillingTable(meterID, "month")
	if err != nil {
		http.Error(w, "Failed to build billing table", http.StatusInternalServerError)
		return
	}
	if len(rows) == 0 {
		http.Error(w, "No billing data for this meter", http.StatusNotFound)
		return
	}

	row := rows[len(rows)-1]
	if month := r.URL.Query().Get("month"); month != "" {
		found := false
		for _, candidate := range rows {
			if candidate.PeriodDate.Format("2006-01") == month {
				row = candidate
				found = true
				break
			}
		}
		if !found {
			http.Error(w, fmt.Sprintf("No billing data for month %s", month), http.StatusNotFound)
			return
		}
	}

	path, err := h.pdfGenerator.GenerateInvoicePDF(row.Invoice, meter, row.PeriodDate)
	if err != nil {
		log.Printf("ERROR: Failed to generate invoice PDF: %v", err)
		http.Error(w, "Failed to generate PDF", http.StatusInternalServerError)
		return
	}

	log.Printf("SUCCESS: Generated invoice PDF %s for meter %d", path, meterID)
	logToDatabase(h.db, "Invoice Generated",
		fmt.Sprintf("Meter %s, period %s", meter.Contador, row.PeriodDate.Format("2006-01")), getClientIP(r))

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=invoice-%s-%s.pdf", meter.Contador, row.PeriodDate.Format("2006-01")))
	http.ServeFile(w, r, path)
}
