package types

import "time"

// AccessResult is the persisted form of a decision outcome.
type AccessResult string

const (
	AccessGranted AccessResult = "granted"
	AccessDenied  AccessResult = "denied"
)

// AccessLogEvent is one append-only audit row for an access decision.
// Owned by the log writer once enqueued.
type AccessLogEvent struct {
	EventID   string       `json:"event_id"`
	TagID     string       `json:"tag_id"`
	ReaderID  int          `json:"reader_id"`
	LaneID    int          `json:"lane_id"`
	DeviceID  int          `json:"device_id"`
	Result    AccessResult `json:"result"`
	Reason    string       `json:"reason,omitempty"`
	Owner     string       `json:"owner,omitempty"`
	Vehicle   string       `json:"vehicle,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// BarrierAction is what happened to a relay channel.
type BarrierAction string

const (
	BarrierOpened BarrierAction = "opened"
	BarrierClosed BarrierAction = "closed"
)

// BarrierSource identifies who requested a barrier cycle.
type BarrierSource string

const (
	SourceAuto   BarrierSource = "auto"
	SourceManual BarrierSource = "manual"
)

// BarrierEvent is one append-only audit row for a relay transition.
type BarrierEvent struct {
	EventID     string        `json:"event_id"`
	RelayNumber int           `json:"relay_number"`
	Action      BarrierAction `json:"action"`
	User        string        `json:"user,omitempty"`
	LaneID      int           `json:"lane_id,omitempty"`
	ReaderID    int           `json:"reader_id,omitempty"`
	Source      BarrierSource `json:"source"`
	Timestamp   time.Time     `json:"timestamp"`
}
