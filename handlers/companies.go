package handlers

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/solbill/netmetering/backend/models"
)

type CompanyHandler struct {
	db *sql.DB
}

func NewCompanyHandler(db *sql.DB) *CompanyHandler {
	return &CompanyHandler{db: db}
}

func (h *CompanyHandler) List(w http.ResponseWriter, r *http.Request) {
	rows, err := h.db.Query(`
		SELECT id, code, name, created_at, updated_at
		FROM companies
		WHERE deleted_at IS NULL
		ORDER BY name ASC
	`)
	if err != nil {
		log.Printf("ERROR: Failed to query companies: %v", err)
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}
	defer rows.Close()

	companies := []models.Company{}
	for rows.Next() {
		var c models.Company
		if err := rows.Scan(&c.ID, &c.Code, &c.Name, &c.CreatedAt, &c.UpdatedAt); err == nil {
			companies = append(companies, c)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(companies)
}

func (h *CompanyHandler) Create(w http.ResponseWriter, r *http.Request) {
	var c models.Company
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	if c.Name == "" {
		http.Error(w, "Company name is required", http.StatusBadRequest)
		return
	}

	result, err := h.db.Exec(`
		INSERT INTO companies (code, name) VALUES (?, ?)
	`, c.Code, c.Name)
	if err != nil {
		log.Printf("ERROR: Failed to create company: %v", err)
		http.Error(w, "Failed to create company", http.StatusInternalServerError)
		return
	}

	id, _ := result.LastInsertId()
	c.ID = int(id)

	log.Printf("SUCCESS: Created company %s (ID %d)", c.Name, c.ID)
	logToDatabase(h.db, "Company Created", fmt.Sprintf("Company %s (ID %d)", c.Name, c.ID), getClientIP(r))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(c)
}

func (h *CompanyHandler) Get(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, err := strconv.Atoi(vars["id"])
	if err != nil {
		http.Error(w, "Invalid ID", http.StatusBadRequest)
		return
	}

	var c models.Company
	err = h.db.QueryRow(`
		SELECT id, code, name, created_at, updated_at
		FROM companies WHERE id = ? AND deleted_at IS NULL
	`, id).Scan(&c.ID, &c.Code, &c.Name, &c.CreatedAt, &c.UpdatedAt)

	if err == sql.ErrNoRows {
		http.Error(w, "Company not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(c)
}

func (h *CompanyHandler) Update(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, err := strconv.Atoi(vars["id"])
	if err != nil {
		http.Error(w, "Invalid ID", http.StatusBadRequest)
		return
	}

	var c models.Company
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	_, err = h.db.Exec(`
		UPDATE companies SET code = ?, name = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND deleted_at IS NULL
	`, c.Code, c.Name, id)
	if err != nil {
		log.Printf("ERROR: Failed to update company ID %d: %v", id, err)
		http.Error(w, "Failed to update company", http.StatusInternalServerError)
		return
	}

	c.ID = id
	log.Printf("SUCCESS: Updated company ID %d", id)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(c)
}

// Delete soft-deletes: tariffs and meters keep referencing the row so old
// invoices stay reproducible.
func (h *CompanyHandler) Delete(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, err := strconv.Atoi(vars["id"])
	if err != nil {
		http.Error(w, "Invalid ID", http.StatusBadRequest)
		return
	}

	_, err = h.db.Exec(`
		UPDATE companies SET deleted_at = CURRENT_TIMESTAMP WHERE id = ?
	`, id)
	if err != nil {
		log.Printf("ERROR: Failed to delete company ID %d: %v", id, err)
		http.Error(w, "Failed to delete company", http.StatusInternalServerError)
		return
	}

	log.Printf("SUCCESS: Soft-deleted company ID %d", id)
	logToDatabase(h.db, "Company Deleted", fmt.Sprintf("Company ID %d soft-deleted", id), getClientIP(r))
	w.WriteHeader(http.StatusNoContent)
}
