package event

import (
	"encoding/json"
)

const (
	KindDetail = "perpush.detail"
	KindSeries = "perpush.series"
)

// ReportEvent is published once per collected report (collector -> MQ -> consumers).
// Treat this as a contract (version it when breaking changes are required).
type ReportEvent struct {
	EventID   uint64          `json:"event_id"`
	Kind      string          `json:"kind"`
	AppKey    string          `json:"app_key,omitempty"`
	PushID    string          `json:"push_id"`
	Precision string          `json:"precision,omitempty"`
	TS        int64           `json:"ts"` // unix seconds
	Payload   json.RawMessage `json:"payload"`
}
