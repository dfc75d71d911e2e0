package services

import (
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/goburrow/modbus"

	"github.com/solbill/netmetering/backend/models"
)

// ModbusCollector polls Modbus TCP meters for their cumulative import and
// export energy registers on a fixed interval, feeding the same readings
// table as manual entry and MQTT ingestion.
type ModbusCollector struct {
	db      *sql.DB
	hub     *LiveHub
	clients map[int]*modbusClient
	mu      sync.RWMutex
}

type modbusClient struct {
	meterID     int
	contador    string
	handler     *modbus.TCPClientHandler
	client      modbus.Client
	importReg   uint16
	exportReg   uint16
	isConnected bool
	lastError   string
	mu          sync.Mutex
}

// modbusMeterConfig is the connection_config of a Modbus TCP meter. The
// registers each hold a big-endian float32 in kWh.
type modbusMeterConfig struct {
	IPAddress      string `json:"ip_address"`
	Port           int    `json:"port"`
	UnitID         int    `json:"unit_id"`
	ImportRegister int    `json:"import_register"`
	ExportRegister int    `json:"export_register"`
}

func NewModbusCollector(db *sql.DB, hub *LiveHub) *ModbusCollector {
	return &ModbusCollector{
		db:      db,
		hub:     hub,
		clients: make(map[int]*modbusClient),
	}
}

func (mc *ModbusCollector) Start() {
	log.Println("=== Modbus TCP Collector Starting ===")
	mc.initializeConnections()
	log.Println("=== Modbus TCP Collector Started ===")
}

func (mc *ModbusCollector) Stop() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	for _, c := range mc.clients {
		if c.handler != nil {
			c.handler.Close()
		}
	}
	mc.clients = make(map[int]*modbusClient)
}

func (mc *ModbusCollector) initializeConnections() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	for _, c := range mc.clients {
		if c.handler != nil {
			c.handler.Close()
		}
	}
	mc.clients = make(map[int]*modbusClient)

	rows, err := mc.db.Query(`
		SELECT id, contador, connection_config
		FROM meters
		WHERE is_active = 1 AND connection_type = 'modbus'
	`)
	if err != nil {
		log.Printf("ERROR: Failed to query Modbus meters: %v", err)
		return
	}
	defer rows.Close()

	for rows.Next() {
		var meterID int
		var contador, configJSON string
		if err := rows.Scan(&meterID, &contador, &configJSON); err != nil {
			continue
		}

		var cfg modbusMeterConfig
		if err := json.Unmarshal([]byte(configJSON), &cfg); err != nil {
			log.Printf("ERROR: Bad Modbus config for meter %d (%s): %v", meterID, contador, err)
			continue
		}
		if cfg.Port == 0 {
			cfg.Port = 502
		}

		handler := modbus.NewTCPClientHandler(fmt.Sprintf("%s:%d", cfg.IPAddress, cfg.Port))
		handler.Timeout = 10 * time.Second
		handler.SlaveId = byte(cfg.UnitID)

		mbc := &modbusClient{
			meterID:   meterID,
			contador:  contador,
			handler:   handler,
			importReg: uint16(cfg.ImportRegister),
			exportReg: uint16(cfg.ExportRegister),
		}

		if err := handler.Connect(); err != nil {
			log.Printf("WARNING: Modbus meter %d (%s) unreachable at %s:%d: %v",
				meterID, contador, cfg.IPAddress, cfg.Port, err)
			mbc.lastError = err.Error()
		} else {
			mbc.isConnected = true
			log.Printf("[MODBUS] Connected to meter %d (%s) at %s:%d", meterID, contador, cfg.IPAddress, cfg.Port)
		}

		mbc.client = modbus.NewClient(handler)
		mc.clients[meterID] = mbc
	}

	log.Printf("[MODBUS] %d meters configured", len(mc.clients))
}

// CollectAll polls every configured meter once and stores the readings.
// Called by the DataCollector on its interval.
func (mc *ModbusCollector) CollectAll() {
	mc.mu.RLock()
	clients := make([]*modbusClient, 0, len(mc.clients))
	for _, c := range mc.clients {
		clients = append(clients, c)
	}
	mc.mu.RUnlock()

	now := time.Now().UTC().Truncate(time.Second)

	for _, c := range clients {
		importKWh, exportKWh, err := c.readEnergy()
		if err != nil {
			log.Printf("WARNING: [MODBUS] Meter %d (%s) read failed: %v", c.meterID, c.contador, err)
			continue
		}

		reading := models.Reading{
			MeterID:        c.meterID,
			ReadingTime:    now,
			ConsumptionKWh: importKWh,
			ProductionKWh:  exportKWh,
		}
		if err := storeReading(mc.db, &reading); err != nil {
			log.Printf("ERROR: [MODBUS] Failed to store reading for meter %d: %v", c.meterID, err)
			continue
		}

		if mc.hub != nil {
			mc.hub.BroadcastReading(reading)
		}

		log.Printf("[MODBUS] Meter %d (%s): import %.3f kWh, export %.3f kWh",
			c.meterID, c.contador, importKWh, exportKWh)
	}
}

func (c *modbusClient) readEnergy() (importKWh, exportKWh float64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isConnected {
		if err := c.handler.Connect(); err != nil {
			c.lastError = err.Error()
			return 0, 0, err
		}
		c.isConnected = true
	}

	importKWh, err = c.readFloat32(c.importReg)
	if err != nil {
		c.isConnected = false
		c.lastError = err.Error()
		return 0, 0, err
	}

	exportKWh, err = c.readFloat32(c.exportReg)
	if err != nil {
		c.isConnected = false
		c.lastError = err.Error()
		return 0, 0, err
	}

	c.lastError = ""
	return importKWh, exportKWh, nil
}

func (c *modbusClient) readFloat32(register uint16) (float64, error) {
	results, err := c.client.ReadHoldingRegisters(register, 2)
	if err != nil {
		return 0, err
	}
	if len(results) < 4 {
		return 0, fmt.Errorf("short register read: %d bytes", len(results))
	}
	bits := binary.BigEndian.Uint32(results)
	value := float64(math.Float32frombits(bits))
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, fmt.Errorf("register %d returned non-finite value", register)
	}
	return value, nil
}

func (mc *ModbusCollector) ConnectedCount() int {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	count := 0
	for _, c := range mc.clients {
		c.mu.Lock()
		if c.isConnected {
			count++
		}
		c.mu.Unlock()
	}
	return count
}
