package types

import "time"

// ReaderState is the reader worker connection state.
type ReaderState string

const (
	ReaderDisconnected ReaderState = "disconnected"
	ReaderConnecting   ReaderState = "connecting"
	ReaderConnected    ReaderState = "connected"
	ReaderPolling      ReaderState = "polling"
	ReaderOffline      ReaderState = "offline"
)

// Online reports whether the reader currently holds a hardware connection.
func (s ReaderState) Online() bool {
	return s == ReaderConnected || s == ReaderPolling
}

// ReaderHealth is the per-reader snapshot exposed to monitoring.
type ReaderHealth struct {
	ReaderID           int         `json:"reader_id"`
	LaneID             int         `json:"lane_id"`
	Address            string      `json:"address,omitempty"`
	State              ReaderState `json:"state"`
	Connected          bool        `json:"connected"`
	ConnectionAttempts int         `json:"connection_attempts"`
	LastEventAt        *time.Time  `json:"last_event_at,omitempty"`
	LastEventAgeS      *float64    `json:"last_event_age_s,omitempty"`
	LastError          string      `json:"last_error,omitempty"`
	UpdatedAt          time.Time   `json:"updated_at"`
}

// HealthSummary is the N/total view of all readers.
type HealthSummary struct {
	Connected  int            `json:"connected"`
	Total      int            `json:"total"`
	Readers    []ReaderHealth `json:"readers"`
	ServerTime string         `json:"server_time"`
}
