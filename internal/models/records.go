package models

import "time"

// Fault is an equipment fault raised on a plant.
type Fault struct {
	BaseModel

	CompanyID   string `gorm:"size:64;index" json:"company_id"`
	PlantID     string `gorm:"size:64" json:"plant_id"`
	Equipment   string `gorm:"size:128" json:"equipment"`
	Severity    string `gorm:"size:32;default:'minor'" json:"severity"`
	Title       string `gorm:"size:255;not null" json:"title"`
	Description string `gorm:"type:text" json:"description"`
}

// TableName pins the collection name.
func (Fault) TableName() string { return "faults" }

// WorkReport records completed corrective or preventive work.
type WorkReport struct {
	BaseModel

	CompanyID   string    `gorm:"size:64;index" json:"company_id"`
	Title       string    `gorm:"size:255;not null" json:"title"`
	Technician  string    `gorm:"size:128" json:"technician"`
	Summary     string    `gorm:"type:text" json:"summary"`
	CompletedAt time.Time `gorm:"index" json:"completed_at"`
}

// TableName pins the collection name.
func (WorkReport) TableName() string { return "work_reports" }

// ShiftReport is a shift hand-over note.
type ShiftReport struct {
	BaseModel

	CompanyID string `gorm:"size:64;index" json:"company_id"`
	Title     string `gorm:"size:255;not null" json:"title"`
	Operator  string `gorm:"size:128" json:"operator"`
	Shift     string `gorm:"size:32" json:"shift"`
	Note      string `gorm:"type:text" json:"note"`
}

// TableName pins the collection name.
func (ShiftReport) TableName() string { return "shift_reports" }

// ElectricalMaintenance is an electrical maintenance check.
type ElectricalMaintenance struct {
	BaseModel

	CompanyID   string    `gorm:"size:64;index" json:"company_id"`
	Title       string    `gorm:"size:255;not null" json:"title"`
	Component   string    `gorm:"size:128" json:"component"`
	Technician  string    `gorm:"size:128" json:"technician"`
	PerformedAt time.Time `gorm:"index" json:"performed_at"`
}

// TableName pins the collection name.
func (ElectricalMaintenance) TableName() string { return "electrical_maintenance" }

// MechanicalMaintenance is a mechanical maintenance check (trackers, mounting, cleaning).
type MechanicalMaintenance struct {
	BaseModel

	CompanyID   string    `gorm:"size:64;index" json:"company_id"`
	Title       string    `gorm:"size:255;not null" json:"title"`
	Component   string    `gorm:"size:128" json:"component"`
	Technician  string    `gorm:"size:128" json:"technician"`
	PerformedAt time.Time `gorm:"index" json:"performed_at"`
}

// TableName pins the collection name.
func (MechanicalMaintenance) TableName() string { return "mechanical_maintenance" }

// InverterCheck is a periodic inverter inspection. Inverter checks are scoped by tenant_id
// rather than company_id.
type InverterCheck struct {
	BaseModel

	TenantID   string    `gorm:"size:64;index" json:"tenant_id"`
	Title      string    `gorm:"size:255;not null" json:"title"`
	InverterID string    `gorm:"size:64" json:"inverter_id"`
	Status     string    `gorm:"size:32" json:"status"`
	CheckedAt  time.Time `gorm:"index" json:"checked_at"`
}

// TableName pins the collection name.
func (InverterCheck) TableName() string { return "inverter_checks" }

// PowerOutage is a grid or plant outage window.
type PowerOutage struct {
	BaseModel

	CompanyID string     `gorm:"size:64;index" json:"company_id"`
	Title     string     `gorm:"size:255;not null" json:"title"`
	Plant     string     `gorm:"size:128" json:"plant"`
	Cause     string     `gorm:"size:255" json:"cause"`
	StartedAt time.Time  `gorm:"index" json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// TableName pins the collection name.
func (PowerOutage) TableName() string { return "power_outages" }

// SourceRecords lists every collection model for migrations.
func SourceRecords() []any {
	return []any{
		&Fault{},
		&WorkReport{},
		&ShiftReport{},
		&ElectricalMaintenance{},
		&MechanicalMaintenance{},
		&InverterCheck{},
		&PowerOutage{},
	}
}
