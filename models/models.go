package models

import "time"

type AdminUser struct {
	ID           int       `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type Company struct {
	ID        int        `json:"id"`
	Code      string     `json:"code"`
	Name      string     `json:"name"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

type Meter struct {
	ID               int        `json:"id"`
	Contador         string     `json:"contador"`
	Correlativo      string     `json:"correlativo"`
	Propietaria      string     `json:"propietaria"`
	NIT              string     `json:"nit"`
	CompanyID        int        `json:"company_id"`
	CompanyName      string     `json:"company_name,omitempty"`
	Segment          string     `json:"segment"`
	Sistema          string     `json:"sistema"`
	InstallationDate string     `json:"installation_date"`
	ConnectionType   string     `json:"connection_type"`
	ConnectionConfig string     `json:"connection_config"`
	IsActive         bool       `json:"is_active"`
	LastReadingTime  *time.Time `json:"last_reading_time,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Reading is a cumulative meter observation: consumption is total energy
// drawn from the grid, production total energy exported, both in kWh.
// CreditKWh is a one-off energy credit attached to this reading, consumed
// in the period it appears (not cumulative).
type Reading struct {
	ID             int       `json:"id"`
	MeterID        int       `json:"meter_id"`
	ReadingTime    time.Time `json:"reading_time"`
	ConsumptionKWh float64   `json:"consumption_kwh"`
	ProductionKWh  float64   `json:"production_kwh"`
	CreditKWh      float64   `json:"credit_kwh"`
	CreatedAt      time.Time `json:"created_at"`
}

// DeltaReading mirrors Reading but carries the per-period difference from
// the previous reading instead of cumulative totals. CumulativeKWh is the
// running net balance (production minus consumption) up to this entry.
type DeltaReading struct {
	MeterID        int       `json:"meter_id"`
	ReadingTime    time.Time `json:"reading_time"`
	ConsumptionKWh float64   `json:"consumption_kwh"`
	ProductionKWh  float64   `json:"production_kwh"`
	CreditKWh      float64   `json:"credit_kwh"`
	CumulativeKWh  float64   `json:"cumulative_kwh"`
}

// Tariff is a dated rate schedule scoped to a distribution company and a
// service segment. Period bounds are calendar dates (YYYY-MM-DD), both
// inclusive. Tariffs are soft-deleted so historical invoices stay
// reproducible.
type Tariff struct {
	ID               int        `json:"id"`
	Code             string     `json:"code"`
	Company          string     `json:"company"`
	CompanyCode      string     `json:"company_code"`
	Segment          string     `json:"segment"`
	PeriodFrom       string     `json:"period_from"`
	PeriodTo         string     `json:"period_to"`
	EffectiveAt      string     `json:"effective_at"`
	FixedCharge      float64    `json:"fixed_charge"`
	EnergyRate       float64    `json:"energy_rate"`
	DistributionRate float64    `json:"distribution_rate"`
	DemandRate       float64    `json:"demand_rate"`
	ContribPercent   float64    `json:"contrib_percent"`
	IVAPercent       float64    `json:"iva_percent"`
	AutoCopied       bool       `json:"auto_copied"`
	DeletedAt        *time.Time `json:"deleted_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// InvoiceBreakdown is the computed output of the invoice calculator. It is
// never persisted; callers recompute it on demand from readings + tariffs.
// All monetary fields are rounded to 2 decimals.
type InvoiceBreakdown struct {
	ConsumptionKWh           float64 `json:"consumption_kwh"`
	ProductionKWh            float64 `json:"production_kwh"`
	NetEnergyKWh             float64 `json:"net_energy_kwh"`
	EnergyChargeAmount       float64 `json:"energy_charge_amount"`
	DistributionChargeAmount float64 `json:"distribution_charge_amount"`
	DemandChargeAmount       float64 `json:"demand_charge_amount"`
	FixedChargeAmount        float64 `json:"fixed_charge_amount"`
	SubtotalBeforeTax        float64 `json:"subtotal_before_tax"`
	VATAmount                float64 `json:"vat_amount"`
	ContribAmount            float64 `json:"contrib_amount"`
	Subtotal                 float64 `json:"subtotal"`
	CreditsAmount            float64 `json:"credits_amount"`
	TotalDue                 float64 `json:"total_due"`
	Tariff                   *Tariff `json:"tariff,omitempty"`
}

// BillingRow is one line of the billing table: one metering period with
// its delta figures and the invoice computed for it.
type BillingRow struct {
	PeriodDate     time.Time        `json:"period_date"`
	ConsumptionKWh float64          `json:"consumption_kwh"`
	ProductionKWh  float64          `json:"production_kwh"`
	CreditKWh      float64          `json:"credit_kwh"`
	CumulativeKWh  float64          `json:"cumulative_kwh"`
	Invoice        InvoiceBreakdown `json:"invoice"`
}

type AdminLog struct {
	ID        int       `json:"id"`
	Action    string    `json:"action"`
	Details   string    `json:"details"`
	IPAddress string    `json:"ip_address"`
	CreatedAt time.Time `json:"created_at"`
}

type DashboardStats struct {
	TotalCompanies   int     `json:"total_companies"`
	TotalMeters      int     `json:"total_meters"`
	ActiveMeters     int     `json:"active_meters"`
	TotalReadings    int     `json:"total_readings"`
	TotalTariffs     int     `json:"total_tariffs"`
	MonthConsumption float64 `json:"month_consumption"`
	MonthProduction  float64 `json:"month_production"`
}

type ConsumptionPoint struct {
	Timestamp      time.Time `json:"timestamp"`
	ConsumptionKWh float64   `json:"consumption_kwh"`
	ProductionKWh  float64   `json:"production_kwh"`
}
