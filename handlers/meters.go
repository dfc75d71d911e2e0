package handlers

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/solbill/netmetering/backend/crypto"
	"github.com/solbill/netmetering/backend/models"
	"github.com/solbill/netmetering/backend/services"
)

type MeterHandler struct {
	db        *sql.DB
	collector *services.DataCollector
}

func NewMeterHandler(db *sql.DB, collector *services.DataCollector) *MeterHandler {
	return &MeterHandler{db: db, collector: collector}
}

func (h *MeterHandler) List(w http.ResponseWriter, r *http.Request) {
	rows, err := h.db.Query(`
		SELECT m.id, m.contador, m.correlativo, m.propietaria, m.nit,
		       m.company_id, c.name, m.segment, m.sistema,
		       COALESCE(m.installation_date, ''), m.connection_type, m.is_active,
		       m.created_at, m.updated_at,
		       (SELECT MAX(reading_time) FROM readings WHERE meter_id = m.id)
		FROM meters m
		JOIN companies c ON m.company_id = c.id
		ORDER BY m.contador ASC
	`)
	if err != nil {
		log.Printf("ERROR: Failed to query meters: %v", err)
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}
	defer rows.Close()

	meters := []models.Meter{}
	for rows.Next() {
		var m models.Meter
		var lastReading sql.NullTime
		if err := rows.Scan(&m.ID, &m.Contador, &m.Correlativo, &m.Propietaria, &m.NIT,
			&m.CompanyID, &m.CompanyName, &m.Segment, &m.Sistema,
			&m.InstallationDate, &m.ConnectionType, &m.IsActive,
			&m.CreatedAt, &m.UpdatedAt, &lastReading); err != nil {
			continue
		}
		if lastReading.Valid {
			m.LastReadingTime = &lastReading.Time
		}
		meters = append(meters, m)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(meters)
}

func (h *MeterHandler) Create(w http.ResponseWriter, r *http.Request) {
	var m models.Meter
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	if m.Contador == "" || m.CompanyID == 0 || m.Segment == "" {
		http.Error(w, "contador, company_id and segment are required", http.StatusBadRequest)
		return
	}
	if m.ConnectionType == "" {
		m.ConnectionType = "manual"
	}
	if m.ConnectionConfig == "" {
		m.ConnectionConfig = "{}"
	}

	config, err := h.protectConnectionConfig(m.ConnectionType, m.ConnectionConfig)
	if err != nil {
		log.Printf("ERROR: Failed to protect connection config: %v", err)
		http.Error(w, "Invalid connection config", http.StatusBadRequest)
		return
	}

	result, err := h.db.Exec(`
		INSERT INTO meters (contador, correlativo, propietaria, nit, company_id,
			segment, sistema, installation_date, connection_type, connection_config, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
	`, m.Contador, m.Correlativo, m.Propietaria, m.NIT, m.CompanyID,
		m.Segment, m.Sistema, m.InstallationDate, m.ConnectionType, config)
	if err != nil {
		log.Printf("ERROR: Failed to create meter: %v", err)
		http.Error(w, "Failed to create meter", http.StatusInternalServerError)
		return
	}

	id, _ := result.LastInsertId()
	m.ID = int(id)
	m.IsActive = true

	log.Printf("SUCCESS: Created meter %s (ID %d)", m.Contador, m.ID)
	logToDatabase(h.db, "Meter Created", fmt.Sprintf("Meter %s (ID %d)", m.Contador, m.ID), getClientIP(r))

	if m.ConnectionType != "manual" && h.collector != nil {
		go h.collector.ReloadMeters()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(m)
}

func (h *MeterHandler) Get(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, err := strconv.Atoi(vars["id"])
	if err != nil {
		http.Error(w, "Invalid ID", http.StatusBadRequest)
		return
	}

	var m models.Meter
	err = h.db.QueryRow(`
		SELECT m.id, m.contador, m.correlativo, m.propietaria, m.nit,
		       m.company_id, c.name, m.segment, m.sistema,
		       COALESCE(m.installation_date, ''), m.connection_type, m.is_active,
		       m.created_at, m.updated_at
		FROM meters m
		JOIN companies c ON m.company_id = c.id
		WHERE m.id = ?
	`, id).Scan(&m.ID, &m.Contador, &m.Correlativo, &m.Propietaria, &m.NIT,
		&m.CompanyID, &m.CompanyName, &m.Segment, &m.Sistema,
		&m.InstallationDate, &m.ConnectionType, &m.IsActive,
		&m.CreatedAt, &m.UpdatedAt)

	if err == sql.ErrNoRows {
		http.Error(w, "Meter not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(m)
}

func (h *MeterHandler) Update(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, err := strconv.Atoi(vars["id"])
	if err != nil {
		http.Error(w, "Invalid ID", http.StatusBadRequest)
		return
	}

	var m models.Meter
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	if m.ConnectionType == "" {
		m.ConnectionType = "manual"
	}
	if m.ConnectionConfig == "" {
		m.ConnectionConfig = "{}"
	}

	config, err := h.protectConnectionConfig(m.ConnectionType, m.ConnectionConfig)
	if err != nil {
		log.Printf("ERROR: Failed to protect connection config: %v", err)
		http.Error(w, "Invalid connection config", http.StatusBadRequest)
		return
	}

	_, err = h.db.Exec(`
		UPDATE meters SET contador = ?, correlativo = ?, propietaria = ?, nit = ?,
			company_id = ?, segment = ?, sistema = ?, installation_date = ?,
			connection_type = ?, connection_config = ?, is_active = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, m.Contador, m.Correlativo, m.Propietaria, m.NIT,
		m.CompanyID, m.Segment, m.Sistema, m.InstallationDate,
		m.ConnectionType, config, m.IsActive, id)
	if err != nil {
		log.Printf("ERROR: Failed to update meter ID %d: %v", id, err)
		http.Error(w, "Failed to update meter", http.StatusInternalServerError)
		return
	}

	m.ID = id
	log.Printf("SUCCESS: Updated meter ID %d", id)

	if h.collector != nil {
		go h.collector.ReloadMeters()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(m)
}

func (h *MeterHandler) Delete(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, err := strconv.Atoi(vars["id"])
	if err != nil {
		http.Error(w, "Invalid ID", http.StatusBadRequest)
		return
	}

	// Readings go with their meter.
	if _, err := h.db.Exec("DELETE FROM readings WHERE meter_id = ?", id); err != nil {
		log.Printf("ERROR: Failed to delete readings for meter ID %d: %v", id, err)
		http.Error(w, "Failed to delete readings", http.StatusInternalServerError)
		return
	}

	if _, err := h.db.Exec("DELETE FROM meters WHERE id = ?", id); err != nil {
		log.Printf("ERROR: Failed to delete meter ID %d: %v", id, err)
		http.Error(w, "Failed to delete meter", http.StatusInternalServerError)
		return
	}

	log.Printf("SUCCESS: Deleted meter ID %d", id)
	logToDatabase(h.db, "Meter Deleted", fmt.Sprintf("Meter ID %d and its readings deleted", id), getClientIP(r))

	if h.collector != nil {
		go h.collector.ReloadMeters()
	}

	w.WriteHeader(http.StatusNoContent)
}

// protectConnectionConfig encrypts the broker password inside an MQTT
// connection config before it hits the database. Other connection types
// pass through unchanged.
func (h *MeterHandler) protectConnectionConfig(connectionType, configJSON string) (string, error) {
	if connectionType != "mqtt" {
		return configJSON, nil
	}

	var config map[string]interface{}
	if err := json.Unmarshal([]byte(configJSON), &config); err != nil {
		return "", err
	}

	password, ok := config["password"].(string)
	if !ok || password == "" {
		return configJSON, nil
	}

	key, err := crypto.GetEncryptionKey()
	if err != nil {
		return "", err
	}
	encrypted, err := crypto.Encrypt(password, key)
	if err != nil {
		return "", err
	}
	config["password"] = encrypted

	out, err := json.Marshal(config)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
