package sqlcgen

import "time"

type NetworkItem struct {
	ID        string
	Name      string
	ItemType  string
	ParentID  *string
	ServerID  *string
	Latitude  float64
	Longitude float64
	Status    string
	Config    []byte
	UpdatedAt time.Time
}

type ItemConnection struct {
	ParentID  string
	ChildID   string
	Waypoints []byte
	UpdatedAt time.Time
}

type DeviceTelemetry struct {
	DeviceID    string
	LastInform  *time.Time
	RxPower     *float64
	Temperature *float64
	Status      *string
}

type NetwatchProbe struct {
	Host      string
	Up        bool
	CheckedAt time.Time
}
