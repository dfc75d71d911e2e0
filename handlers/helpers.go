package handlers

import (
	"database/sql"
	"log"
	"net/http"
	"strings"
)

func getClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	if host := r.RemoteAddr; host != "" {
		if idx := strings.LastIndex(host, ":"); idx > 0 {
			return host[:idx]
		}
		return host
	}
	return "unknown"
}

func logToDatabase(db *sql.DB, action, details, ip string) {
	_, err := db.Exec(`
		INSERT INTO admin_logs (action, details, ip_address)
		VALUES (?, ?, ?)
	`, action, details, ip)
	if err != nil {
		log.Printf("WARNING: Failed to write admin log: %v", err)
	}
}
