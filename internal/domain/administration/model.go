package administration

import "time"

// GlobalProperty is a key/value configuration row stored in the database.
type GlobalProperty struct {
	Property      string     `json:"property" yaml:"property" toml:"property" validate:"required,max=255"`
	PropertyValue string     `json:"property_value" yaml:"property_value" toml:"property_value"`
	Description   *string    `json:"description,omitempty" yaml:"description,omitempty" toml:"description,omitempty"`
	Datatype      string     `json:"datatype,omitempty" yaml:"datatype,omitempty" toml:"datatype,omitempty" validate:"omitempty,oneof=string integer boolean duration"`
	DateChanged   *time.Time `json:"date_changed,omitempty" yaml:"-" toml:"-"`
	ChangedBy     *string    `json:"changed_by,omitempty" yaml:"-" toml:"-"`
}

// ImplementationID identifies this installation to other systems.
type ImplementationID struct {
	ImplementationID string `json:"implementation_id" validate:"required,max=20"`
	Name             string `json:"name" validate:"required"`
	Description      string `json:"description,omitempty"`
	Passphrase       string `json:"passphrase,omitempty"`
}

// SystemInformation is a snapshot of the running process.
type SystemInformation struct {
	Version       string      `json:"version"`
	StartedAt     time.Time   `json:"started_at"`
	Uptime        string      `json:"uptime"`
	GoVersion     string      `json:"go_version"`
	NumGoroutine  int         `json:"num_goroutine"`
	HeapAllocMB   float64     `json:"heap_alloc_mb"`
	NumCPU        int         `json:"num_cpu"`
	Database      interface{} `json:"database,omitempty"`
	PropertyCount int         `json:"global_property_count"`
}
