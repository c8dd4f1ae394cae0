package record

import (
	"encoding/json"
	"fmt"
	"time"
)

const timeLayout = time.RFC3339Nano

// SeriesCounter is the persisted high-water mark of one series.
type SeriesCounter struct {
	Prefix    string
	LastID    int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

type seriesCounterDoc struct {
	Prefix    string `json:"prefix"`
	LastID    int64  `json:"last_id"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// Marshal encodes the counter as canonical JSON.
func (c SeriesCounter) Marshal() ([]byte, error) {
	data, err := MarshalCanonical(map[string]any{
		"prefix":     c.Prefix,
		"last_id":    c.LastID,
		"created_at": formatTime(c.CreatedAt),
		"updated_at": formatTime(c.UpdatedAt),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal series counter: %w", err)
	}
	return data, nil
}

// UnmarshalSeriesCounter decodes a counter written by SeriesCounter.Marshal.
// Integers decode directly into int64, so ids above 2^53 survive intact.
func UnmarshalSeriesCounter(data []byte) (SeriesCounter, error) {
	var doc seriesCounterDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return SeriesCounter{}, fmt.Errorf("unmarshal series counter: %w", err)
	}
	created, err := parseTime(doc.CreatedAt)
	if err != nil {
		return SeriesCounter{}, fmt.Errorf("unmarshal series counter: created_at: %w", err)
	}
	updated, err := parseTime(doc.UpdatedAt)
	if err != nil {
		return SeriesCounter{}, fmt.Errorf("unmarshal series counter: updated_at: %w", err)
	}
	return SeriesCounter{
		Prefix:    doc.Prefix,
		LastID:    doc.LastID,
		CreatedAt: created,
		UpdatedAt: updated,
	}, nil
}

// Issuance witnesses that one designator was handed out.
type Issuance struct {
	ID         int64  `json:"id"`
	Designator string `json:"designator"`
}

// Marshal encodes the issuance as canonical JSON.
func (i Issuance) Marshal() ([]byte, error) {
	data, err := MarshalCanonical(map[string]any{
		"id":         i.ID,
		"designator": i.Designator,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal issuance: %w", err)
	}
	return data, nil
}

// UnmarshalIssuance decodes an issuance written by Issuance.Marshal.
func UnmarshalIssuance(data []byte) (Issuance, error) {
	var i Issuance
	if err := json.Unmarshal(data, &i); err != nil {
		return Issuance{}, fmt.Errorf("unmarshal issuance: %w", err)
	}
	return i, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(timeLayout, s)
}
