package database

import (
	"database/sql"
	"fmt"
	"log"

	"golang.org/x/crypto/bcrypt"
)

func RunMigrations(db *sql.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS admin_users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS companies (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			code TEXT NOT NULL,
			name TEXT NOT NULL,
			deleted_at DATETIME,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS meters (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			contador TEXT NOT NULL,
			correlativo TEXT,
			propietaria TEXT,
			nit TEXT,
			company_id INTEGER NOT NULL,
			segment TEXT NOT NULL,
			sistema TEXT,
			installation_date DATE,
			connection_type TEXT DEFAULT 'manual',
			connection_config TEXT DEFAULT '{}',
			is_active INTEGER DEFAULT 1,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (company_id) REFERENCES companies(id)
		)`,

		`CREATE TABLE IF NOT EXISTS readings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			meter_id INTEGER NOT NULL,
			reading_time DATETIME NOT NULL,
			consumption_kwh REAL NOT NULL DEFAULT 0,
			production_kwh REAL NOT NULL DEFAULT 0,
			credit_kwh REAL NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(meter_id, reading_time),
			FOREIGN KEY (meter_id) REFERENCES meters(id)
		)`,

		`CREATE TABLE IF NOT EXISTS tariffs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			code TEXT,
			company TEXT NOT NULL,
			company_code TEXT,
			segment TEXT NOT NULL,
			period_from DATE NOT NULL,
			period_to DATE NOT NULL,
			effective_at DATE,
			fixed_charge REAL NOT NULL DEFAULT 0,
			energy_rate REAL NOT NULL DEFAULT 0,
			distribution_rate REAL NOT NULL DEFAULT 0,
			demand_rate REAL NOT NULL DEFAULT 0,
			contrib_percent REAL NOT NULL DEFAULT 0,
			iva_percent REAL NOT NULL DEFAULT 0,
			auto_copied INTEGER DEFAULT 0,
			deleted_at DATETIME,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS admin_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			action TEXT NOT NULL,
			details TEXT,
			ip_address TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE INDEX IF NOT EXISTS idx_readings_meter_time ON readings(meter_id, reading_time)`,
		`CREATE INDEX IF NOT EXISTS idx_tariffs_scope ON tariffs(company, segment, period_from)`,
		`CREATE INDEX IF NOT EXISTS idx_meters_company ON meters(company_id)`,
	}

	for i, migration := range migrations {
		if _, err := db.Exec(migration); err != nil {
			return fmt.Errorf("migration %d failed: %v", i+1, err)
		}
	}

	if err := seedAdminUser(db); err != nil {
		return err
	}

	log.Println("Migrations completed successfully")
	return nil
}

func seedAdminUser(db *sql.DB) error {
	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM admin_users").Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte("admin123"), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		INSERT INTO admin_users (username, password_hash) VALUES (?, ?)
	`, "admin", string(hash))
	if err != nil {
		return fmt.Errorf("failed to seed admin user: %v", err)
	}

	log.Println("Seeded default admin user (admin / admin123)")
	return nil
}
