package types

import "time"

// TagRead is one normalized tag sighting produced by a reader worker.
// It is immutable once sent to the access controller.
type TagRead struct {
	TagID      string    `json:"tag_id"`
	TagType    int       `json:"tag_type"`
	ReaderID   int       `json:"reader_id"`
	LaneID     int       `json:"lane_id"`
	DeviceID   int       `json:"device_id"`
	Antenna    int       `json:"antenna"`
	RSSI       int       `json:"rssi"`
	ObservedAt time.Time `json:"observed_at"`
}

// Member is the membership record returned for a known tag.
type Member struct {
	UserID        int64  `json:"user_id"`
	Owner         string `json:"owner"`
	VehicleNumber string `json:"vehicle_number"`
}

// LookupResult answers "is tag X known".
type LookupResult struct {
	Found  bool   `json:"found"`
	Member Member `json:"member,omitempty"`
}
