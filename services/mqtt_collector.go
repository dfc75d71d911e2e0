package services

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/solbill/netmetering/backend/crypto"
	"github.com/solbill/netmetering/backend/models"
)

// MQTTCollector ingests cumulative readings from smart meters that publish
// over MQTT. Collected values land in the readings table exactly like
// manual entries, so the billing core never knows where a reading came
// from.
type MQTTCollector struct {
	db          *sql.DB
	hub         *LiveHub
	clients     map[string]mqtt.Client // broker URL -> client
	meterTopics map[int]string         // meter id -> topic
	lastSeen    map[int]time.Time
	mu          sync.RWMutex
	isRunning   bool
}

// mqttMeterConfig is the decrypted connection_config of an MQTT meter.
type mqttMeterConfig struct {
	BrokerURL string `json:"broker_url"`
	Username  string `json:"username"`
	Password  string `json:"password"` // stored AES-GCM encrypted
	Topic     string `json:"topic"`
}

// meterMessage is the JSON payload expected on the meter topic. Both
// fields are cumulative kWh counters; timestamp is unix seconds and
// defaults to the arrival time.
type meterMessage struct {
	ConsumptionKWh *float64 `json:"consumption_kwh"`
	ProductionKWh  *float64 `json:"production_kwh"`
	ImportKWh      *float64 `json:"import"`
	ExportKWh      *float64 `json:"export"`
	Timestamp      int64    `json:"timestamp"`
}

func NewMQTTCollector(db *sql.DB, hub *LiveHub) *MQTTCollector {
	return &MQTTCollector{
		db:          db,
		hub:         hub,
		clients:     make(map[string]mqtt.Client),
		meterTopics: make(map[int]string),
		lastSeen:    make(map[int]time.Time),
	}
}

func (mc *MQTTCollector) Start() {
	mc.mu.Lock()
	if mc.isRunning {
		mc.mu.Unlock()
		return
	}
	mc.isRunning = true
	mc.mu.Unlock()

	log.Println("=== MQTT Collector Starting ===")
	mc.connectConfiguredMeters()
}

func (mc *MQTTCollector) Stop() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	for url, client := range mc.clients {
		client.Disconnect(250)
		delete(mc.clients, url)
	}
	mc.isRunning = false
	log.Println("=== MQTT Collector Stopped ===")
}

func (mc *MQTTCollector) connectConfiguredMeters() {
	rows, err := mc.db.Query(`
		SELECT id, contador, connection_config
		FROM meters
		WHERE is_active = 1 AND connection_type = 'mqtt'
	`)
	if err != nil {
		log.Printf("ERROR: Failed to query MQTT meters: %v", err)
		return
	}
	defer rows.Close()

	key, err := crypto.GetEncryptionKey()
	if err != nil {
		log.Printf("ERROR: Failed to load encryption key: %v", err)
		return
	}

	count := 0
	for rows.Next() {
		var meterID int
		var contador, configJSON string
		if err := rows.Scan(&meterID, &contador, &configJSON); err != nil {
			continue
		}

		var cfg mqttMeterConfig
		if err := json.Unmarshal([]byte(configJSON), &cfg); err != nil {
			log.Printf("ERROR: Bad MQTT config for meter %d (%s): %v", meterID, contador, err)
			continue
		}
		if cfg.BrokerURL == "" || cfg.Topic == "" {
			log.Printf("WARNING: Meter %d (%s) has incomplete MQTT config, skipping", meterID, contador)
			continue
		}

		if cfg.Password != "" {
			plain, err := crypto.Decrypt(cfg.Password, key)
			if err != nil {
				log.Printf("ERROR: Failed to decrypt broker password for meter %d: %v", meterID, err)
				continue
			}
			cfg.Password = plain
		}

		if err := mc.subscribeMeter(meterID, contador, cfg); err != nil {
			log.Printf("ERROR: Failed to subscribe meter %d (%s): %v", meterID, contador, err)
			continue
		}
		count++
	}

	log.Printf("=== MQTT Collector Started: %d meters subscribed ===", count)
}

func (mc *MQTTCollector) subscribeMeter(meterID int, contador string, cfg mqttMeterConfig) error {
	client, err := mc.clientFor(cfg)
	if err != nil {
		return err
	}

	mc.mu.Lock()
	mc.meterTopics[meterID] = cfg.Topic
	mc.mu.Unlock()

	token := client.Subscribe(cfg.Topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		mc.handleMessage(meterID, contador, msg.Payload())
	})
	if token.Wait() && token.Error() != nil {
		return token.Error()
	}

	log.Printf("[MQTT] Meter %d (%s) subscribed to %s", meterID, contador, cfg.Topic)
	return nil
}

func (mc *MQTTCollector) clientFor(cfg mqttMeterConfig) (mqtt.Client, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if client, ok := mc.clients[cfg.BrokerURL]; ok && client.IsConnected() {
		return client, nil
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(fmt.Sprintf("netmetering-%d", time.Now().UnixNano())).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(30 * time.Second)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.OnConnect = func(mqtt.Client) {
		log.Printf("[MQTT] Connected to broker %s", cfg.BrokerURL)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Printf("WARNING: [MQTT] Lost connection to %s: %v", cfg.BrokerURL, err)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}

	mc.clients[cfg.BrokerURL] = client
	return client, nil
}

func (mc *MQTTCollector) handleMessage(meterID int, contador string, payload []byte) {
	var msg meterMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		log.Printf("WARNING: [MQTT] Unparseable payload for meter %d: %v", meterID, err)
		return
	}

	consumption := pick(msg.ConsumptionKWh, msg.ImportKWh)
	production := pick(msg.ProductionKWh, msg.ExportKWh)
	if consumption == nil && production == nil {
		log.Printf("WARNING: [MQTT] Payload for meter %d carries no energy fields", meterID)
		return
	}

	readingTime := time.Now().UTC().Truncate(time.Second)
	if msg.Timestamp > 0 {
		readingTime = time.Unix(msg.Timestamp, 0).UTC()
	}

	reading := models.Reading{
		MeterID:     meterID,
		ReadingTime: readingTime,
	}
	if consumption != nil {
		reading.ConsumptionKWh = *consumption
	}
	if production != nil {
		reading.ProductionKWh = *production
	}

	if err := storeReading(mc.db, &reading); err != nil {
		log.Printf("ERROR: [MQTT] Failed to store reading for meter %d: %v", meterID, err)
		return
	}

	mc.mu.Lock()
	mc.lastSeen[meterID] = time.Now()
	mc.mu.Unlock()

	if mc.hub != nil {
		mc.hub.BroadcastReading(reading)
	}

	log.Printf("[MQTT] Meter %d (%s): consumption %.3f kWh, production %.3f kWh at %s",
		meterID, contador, reading.ConsumptionKWh, reading.ProductionKWh,
		readingTime.Format("2006-01-02 15:04:05"))
}

func pick(values ...*float64) *float64 {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}

// storeReading upserts a cumulative reading; a second write for the same
// (meter, instant) replaces the first, matching the dedupe rule of the
// billing core.
func storeReading(db *sql.DB, r *models.Reading) error {
	res, err := db.Exec(`
		INSERT INTO readings (meter_id, reading_time, consumption_kwh, production_kwh, credit_kwh)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(meter_id, reading_time) DO UPDATE SET
			consumption_kwh = excluded.consumption_kwh,
			production_kwh = excluded.production_kwh,
			credit_kwh = excluded.credit_kwh
	`, r.MeterID, r.ReadingTime, r.ConsumptionKWh, r.ProductionKWh, r.CreditKWh)
	if err != nil {
		return err
	}
	if id, err := res.LastInsertId(); err == nil {
		r.ID = int(id)
	}
	return nil
}

func (mc *MQTTCollector) LastSeen(meterID int) (time.Time, bool) {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	t, ok := mc.lastSeen[meterID]
	return t, ok
}
