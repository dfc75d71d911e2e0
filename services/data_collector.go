package services

import (
	"database/sql"
	"log"
	"time"
)

const collectionInterval = 15 * time.Minute

// DataCollector owns the automatic ingestion paths: the MQTT subscriber
// runs continuously, the Modbus poller fires on the collection interval.
// Meters with connection_type 'manual' are untouched; their readings come
// from the API or CSV import.
type DataCollector struct {
	db             *sql.DB
	hub            *LiveHub
	mqtt           *MQTTCollector
	modbus         *ModbusCollector
	lastCollection time.Time
	stopChan       chan bool
}

func NewDataCollector(db *sql.DB, hub *LiveHub) *DataCollector {
	return &DataCollector{
		db:       db,
		hub:      hub,
		mqtt:     NewMQTTCollector(db, hub),
		modbus:   NewModbusCollector(db, hub),
		stopChan: make(chan bool),
	}
}

func (dc *DataCollector) Start() {
	log.Println("=== Data Collector Starting ===")

	dc.mqtt.Start()
	dc.modbus.Start()

	// First poll right away so the dashboard has data.
	dc.modbus.CollectAll()
	dc.lastCollection = time.Now()

	ticker := time.NewTicker(collectionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			dc.modbus.CollectAll()
			dc.lastCollection = time.Now()
		case <-dc.stopChan:
			dc.mqtt.Stop()
			dc.modbus.Stop()
			log.Println("=== Data Collector Stopped ===")
			return
		}
	}
}

func (dc *DataCollector) Stop() {
	close(dc.stopChan)
}

// ReloadMeters reconnects collectors after meter configs change.
func (dc *DataCollector) ReloadMeters() {
	log.Println("[COLLECTOR] Reloading meter connections")
	dc.mqtt.Stop()
	dc.mqtt.Start()
	dc.modbus.Stop()
	dc.modbus.Start()
}

func (dc *DataCollector) GetDebugInfo() map[string]interface{} {
	var activeMeters, totalMeters, totalReadings, recentErrors int
	dc.db.QueryRow("SELECT COUNT(*) FROM meters WHERE is_active = 1").Scan(&activeMeters)
	dc.db.QueryRow("SELECT COUNT(*) FROM meters").Scan(&totalMeters)
	dc.db.QueryRow("SELECT COUNT(*) FROM readings").Scan(&totalReadings)
	dc.db.QueryRow(`SELECT COUNT(*) FROM admin_logs WHERE (action LIKE '%error%'
		OR action LIKE '%failed%') AND created_at > datetime('now', '-24 hours')`).Scan(&recentErrors)

	nextCollection := int(collectionInterval.Minutes()) - int(time.Since(dc.lastCollection).Minutes())
	if nextCollection < 0 {
		nextCollection = 0
	}

	return map[string]interface{}{
		"active_meters":           activeMeters,
		"total_meters":            totalMeters,
		"total_readings":          totalReadings,
		"modbus_connected":        dc.modbus.ConnectedCount(),
		"live_clients":            dc.hub.ClientCount(),
		"last_collection":         dc.lastCollection,
		"next_collection_minutes": nextCollection,
		"recent_errors":           recentErrors,
	}
}
