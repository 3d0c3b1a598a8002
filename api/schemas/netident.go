// File: api/schemas/netident.go
package schemas

import "time"

// GeoIPInfo is an immutable snapshot of the current egress identity.
// A new lookup always produces a new instance; instances are never mutated.
type GeoIPInfo struct {
	IP          string    `json:"ip"`
	City        string    `json:"city"`
	Region      string    `json:"region"`
	CountryName string    `json:"country_name"`
	CountryCode string    `json:"country_code"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	Timezone    string    `json:"timezone"`
	Org         string    `json:"org"`
	ASN         string    `json:"asn"`
	CapturedAt  time.Time `json:"captured_at"`
}

// ChangeReason classifies why an IP change was recorded.
type ChangeReason string

const (
	ChangeManual        ChangeReason = "manual"
	ChangeAutomatic     ChangeReason = "automatic"
	ChangeScheduled     ChangeReason = "scheduled"
	ChangeBanProtection ChangeReason = "ban_protection"
)

// IPChangeRecord is an append-only history entry created exactly once per
// detected IP change.
type IPChangeRecord struct {
	ID         string       `json:"id"`
	PrevIP     string       `json:"prev_ip"`
	NewIP      string       `json:"new_ip"`
	PrevGeo    *GeoIPInfo   `json:"prev_geo,omitempty"`
	NewGeo     *GeoIPInfo   `json:"new_geo,omitempty"`
	DistanceKm float64      `json:"distance_km"`
	CooldownMs int64        `json:"cooldown_ms"`
	Timestamp  time.Time    `json:"timestamp"`
	Reason     ChangeReason `json:"reason"`
}

// NetworkState is the single mutable identity record for the process. It is
// persisted whole and reloaded across restarts.
type NetworkState struct {
	CurrentIP       string     `json:"current_ip"`
	CurrentGeo      *GeoIPInfo `json:"current_geo,omitempty"`
	LastChangeAt    time.Time  `json:"last_change_at"`
	CooldownActive  bool       `json:"cooldown_active"`
	CooldownEndTime time.Time  `json:"cooldown_end_time"`
	ChangeCount     int        `json:"change_count"`
	LastCheckAt     time.Time  `json:"last_check_at"`
}

// ChangeCheck is the outcome of a single identity check.
type ChangeCheck struct {
	Changed             bool
	InCooldown          bool
	CooldownRemainingMs int64
	DistanceKm          float64
}
