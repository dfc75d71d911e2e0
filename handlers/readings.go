package handlers

import (
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/solbill/netmetering/backend/billing"
	"github.com/solbill/netmetering/backend/models"
	"github.com/solbill/netmetering/backend/services"
)

type ReadingHandler struct {
	db             *sql.DB
	billingService *services.BillingService
	hub            *services.LiveHub
}

func NewReadingHandler(db *sql.DB, billingService *services.BillingService, hub *services.LiveHub) *ReadingHandler {
	return &ReadingHandler{db: db, billingService: billingService, hub: hub}
}

func (h *ReadingHandler) List(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	meterID, err := strconv.Atoi(vars["id"])
	if err != nil {
		http.Error(w, "Invalid meter ID", http.StatusBadRequest)
		return
	}

	readings, err := h.billingService.LoadReadings(meterID)
	if err != nil {
		log.Printf("ERROR: Failed to query readings for meter %d: %v", meterID, err)
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(readings)
}

// Deltas serves the derived per-period view. The cumulative series in the
// database stays the source of truth; deltas are recomputed on every read
// and never written back.
func (h *ReadingHandler) Deltas(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	meterID, err := strconv.Atoi(vars["id"])
	if err != nil {
		http.Error(w, "Invalid meter ID", http.StatusBadRequest)
		return
	}

	readings, err := h.billingService.LoadReadings(meterID)
	if err != nil {
		log.Printf("ERROR: Failed to query readings for meter %d: %v", meterID, err)
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}

	deltas, warnings := billing.ComputeDeltas(readings)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"deltas":   deltas,
		"warnings": warnings,
	})
}

func (h *ReadingHandler) Create(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	meterID, err := strconv.Atoi(vars["id"])
	if err != nil {
		http.Error(w, "Invalid meter ID", http.StatusBadRequest)
		return
	}

	var reading models.Reading
	if err := json.NewDecoder(r.Body).Decode(&reading); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	reading.MeterID = meterID
	if reading.ReadingTime.IsZero() {
		reading.ReadingTime = time.Now()
	}
	reading.ReadingTime = reading.ReadingTime.UTC().Truncate(time.Second)

	// Upsert: re-entering the same instant replaces the stored value,
	// matching the keep-last dedupe rule of the delta engine.
	result, err := h.db.Exec(`
		INSERT INTO readings (meter_id, reading_time, consumption_kwh, production_kwh, credit_kwh)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(meter_id, reading_time) DO UPDATE SET
			consumption_kwh = excluded.consumption_kwh,
			production_kwh = excluded.production_kwh,
			credit_kwh = excluded.credit_kwh
	`, reading.MeterID, reading.ReadingTime, reading.ConsumptionKWh, reading.ProductionKWh, reading.CreditKWh)
	if err != nil {
		log.Printf("ERROR: Failed to store reading: %v", err)
		http.Error(w, "Failed to store reading", http.StatusInternalServerError)
		return
	}

	id, _ := result.LastInsertId()
	reading.ID = int(id)

	log.Printf("SUCCESS: Stored reading for meter %d at %s (%.3f / %.3f kWh)",
		meterID, reading.ReadingTime.Format("2006-01-02 15:04:05"),
		reading.ConsumptionKWh, reading.ProductionKWh)

	if h.hub != nil {
		h.hub.BroadcastReading(reading)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(reading)
}

func (h *ReadingHandler) Update(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	readingID, err := strconv.Atoi(vars["readingId"])
	if err != nil {
		http.Error(w, "Invalid reading ID", http.StatusBadRequest)
		return
	}

	var reading models.Reading
	if err := json.NewDecoder(r.Body).Decode(&reading); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	res, err := h.db.Exec(`
		UPDATE readings SET consumption_kwh = ?, production_kwh = ?, credit_kwh = ?
		WHERE id = ?
	`, reading.ConsumptionKWh, reading.ProductionKWh, reading.CreditKWh, readingID)
	if err != nil {
		log.Printf("ERROR: Failed to update reading ID %d: %v", readingID, err)
		http.Error(w, "Failed to update reading", http.StatusInternalServerError)
		return
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		http.Error(w, "Reading not found", http.StatusNotFound)
		return
	}

	log.Printf("SUCCESS: Updated reading ID %d", readingID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *ReadingHandler) Delete(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	readingID, err := strconv.Atoi(vars["readingId"])
	if err != nil {
		http.Error(w, "Invalid reading ID", http.StatusBadRequest)
		return
	}

	_, err = h.db.Exec("DELETE FROM readings WHERE id = ?", readingID)
	if err != nil {
		log.Printf("ERROR: Failed to delete reading ID %d: %v", readingID, err)
		http.Error(w, "Failed to delete reading", http.StatusInternalServerError)
		return
	}

	log.Printf("SUCCESS: Deleted reading ID %d", readingID)
	w.WriteHeader(http.StatusNoContent)
}

// ImportCSV replaces a meter's reading series from an uploaded CSV with
// columns: Reading Time, Consumption (kWh), Production (kWh), Credit (kWh).
func (h *ReadingHandler) ImportCSV(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	meterID, err := strconv.Atoi(vars["id"])
	if err != nil {
		http.Error(w, "Invalid meter ID", http.StatusBadRequest)
		return
	}

	var contador string
	err = h.db.QueryRow("SELECT contador FROM meters WHERE id = ?", meterID).Scan(&contador)
	if err == sql.ErrNoRows {
		http.Error(w, "Meter not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}

	if err := r.ParseMultipartForm(10 << 20); err != nil {
		http.Error(w, "Failed to parse form", http.StatusBadRequest)
		return
	}

	file, _, err := r.FormFile("csv")
	if err != nil {
		http.Error(w, "No CSV file provided", http.StatusBadRequest)
		return
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		http.Error(w, "Failed to read CSV header", http.StatusBadRequest)
		return
	}
	if len(header) < 3 {
		http.Error(w, fmt.Sprintf("Invalid CSV format: expected at least 3 columns, got %d", len(header)), http.StatusBadRequest)
		return
	}

	log.Printf("Starting CSV import for meter ID %d (%s)", meterID, contador)

	tx, err := h.db.Begin()
	if err != nil {
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}
	defer tx.Rollback()

	deleteResult, err := tx.Exec("DELETE FROM readings WHERE meter_id = ?", meterID)
	if err != nil {
		http.Error(w, "Failed to delete existing readings", http.StatusInternalServerError)
		return
	}
	deletedCount, _ := deleteResult.RowsAffected()

	stmt, err := tx.Prepare(`
		INSERT INTO readings (meter_id, reading_time, consumption_kwh, production_kwh, credit_kwh)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(meter_id, reading_time) DO UPDATE SET
			consumption_kwh = excluded.consumption_kwh,
			production_kwh = excluded.production_kwh,
			credit_kwh = excluded.credit_kwh
	`)
	if err != nil {
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}
	defer stmt.Close()

	processedCount := 0
	importedCount := 0
	errorCount := 0
	var firstError string

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		processedCount++
		if err != nil {
			errorCount++
			if firstError == "" {
				firstError = fmt.Sprintf("row %d: %v", processedCount, err)
			}
			continue
		}

		readingTime, err := parseReadingTime(record[0])
		if err != nil {
			errorCount++
			if firstError == "" {
				firstError = fmt.Sprintf("row %d: bad timestamp %q", processedCount, record[0])
			}
			continue
		}

		consumption := parseKWhField(record[1])
		production := 0.0
		credit := 0.0
		if len(record) > 2 {
			production = parseKWhField(record[2])
		}
		if len(record) > 3 {
			credit = parseKWhField(record[3])
		}

		if _, err := stmt.Exec(meterID, readingTime, consumption, production, credit); err != nil {
			errorCount++
			if firstError == "" {
				firstError = fmt.Sprintf("row %d: %v", processedCount, err)
			}
			continue
		}
		importedCount++
	}

	if err := tx.Commit(); err != nil {
		http.Error(w, "Failed to commit import", http.StatusInternalServerError)
		return
	}

	log.Printf("SUCCESS: CSV import for meter %d: %d imported, %d errors (replaced %d)",
		meterID, importedCount, errorCount, deletedCount)
	logToDatabase(h.db, "Readings Imported",
		fmt.Sprintf("Meter %s: %d rows imported, %d errors", contador, importedCount, errorCount), getClientIP(r))

	response := map[string]interface{}{
		"processed": processedCount,
		"imported":  importedCount,
		"errors":    errorCount,
		"replaced":  deletedCount,
	}
	if firstError != "" {
		response["first_error"] = firstError
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func (h *ReadingHandler) ExportCSV(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	meterID, err := strconv.Atoi(vars["id"])
	if err != nil {
		http.Error(w, "Invalid meter ID", http.StatusBadRequest)
		return
	}

	var contador string
	err = h.db.QueryRow("SELECT contador FROM meters WHERE id = ?", meterID).Scan(&contador)
	if err == sql.ErrNoRows {
		http.Error(w, "Meter not found", http.StatusNotFound)
		return
	}

	readings, err := h.billingService.LoadReadings(meterID)
	if err != nil {
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}

	var out strings.Builder
	out.WriteString("Reading Time,Consumption (kWh),Production (kWh),Credit (kWh)\n")
	for _, rd := range readings {
		out.WriteString(fmt.Sprintf("%s,%.4f,%.4f,%.4f\n",
			rd.ReadingTime.Format(time.RFC3339), rd.ConsumptionKWh, rd.ProductionKWh, rd.CreditKWh))
	}

	filename := fmt.Sprintf("readings-%s-%s.csv", contador, time.Now().Format("20060102-150405"))

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
	w.Write([]byte(out.String()))

	log.Printf("SUCCESS: Exported %d readings for meter %d", len(readings), meterID)
}

func parseReadingTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	layouts := []string{
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02",
		"02.01.2006 15:04",
		"02.01.2006",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC().Truncate(time.Second), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format")
}

// parseKWhField tolerates blanks and bad numbers the same way the core
// tolerates NaN: they become zero instead of aborting the import.
func parseKWhField(value string) float64 {
	value = strings.TrimSpace(strings.ReplaceAll(value, ",", "."))
	if value == "" {
		return 0
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0
	}
	return f
}
