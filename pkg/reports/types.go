package reports

import (
	"encoding/json"
	"errors"
)

var errNullDocument = errors.New("null document")

// PushDetail is the per-push detail document. The typed fields are a
// convenience view; Raw holds the payload exactly as the service sent it.
type PushDetail struct {
	AppKey              string                    `json:"app_key"`
	PushID              string                    `json:"push_id"`
	Created             string                    `json:"created,omitempty"`
	PushBody            string                    `json:"push_body,omitempty"`
	Sends               int64                     `json:"sends"`
	DirectResponses     int64                     `json:"direct_responses"`
	InfluencedResponses int64                     `json:"influenced_responses"`
	Platforms           map[string]PlatformDetail `json:"platforms,omitempty"`

	Raw json.RawMessage `json:"-"`
}

type PlatformDetail struct {
	Sends               int64 `json:"sends"`
	DirectResponses     int64 `json:"direct_responses"`
	InfluencedResponses int64 `json:"influenced_responses"`
}

func (d *PushDetail) UnmarshalJSON(b []byte) error {
	if isNull(b) {
		return errNullDocument
	}
	type plain PushDetail
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*d = PushDetail(p)
	d.Raw = append(json.RawMessage(nil), b...)
	return nil
}

// MarshalJSON emits Raw when present so a decoded detail round-trips unchanged.
func (d PushDetail) MarshalJSON() ([]byte, error) {
	if len(d.Raw) > 0 {
		return d.Raw, nil
	}
	type plain PushDetail
	return json.Marshal(plain(d))
}

// Series is a per-push time series.
type Series struct {
	AppKey    string         `json:"app_key"`
	PushID    string         `json:"push_id"`
	Start     string         `json:"start,omitempty"`
	End       string         `json:"end,omitempty"`
	Precision Precision      `json:"precision,omitempty"`
	Counts    []SeriesSample `json:"counts"`

	Raw json.RawMessage `json:"-"`
}

type SeriesSample struct {
	Time          string                    `json:"time"`
	PushPlatforms map[string]PlatformCounts `json:"push_platforms"`
}

type PlatformCounts struct {
	DirectResponses     int64 `json:"direct_responses"`
	InfluencedResponses int64 `json:"influenced_responses"`
	Sends               int64 `json:"sends"`
}

func (s *Series) UnmarshalJSON(b []byte) error {
	if isNull(b) {
		return errNullDocument
	}
	type plain Series
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*s = Series(p)
	s.Raw = append(json.RawMessage(nil), b...)
	return nil
}

func (s Series) MarshalJSON() ([]byte, error) {
	if len(s.Raw) > 0 {
		return s.Raw, nil
	}
	type plain Series
	return json.Marshal(plain(s))
}
