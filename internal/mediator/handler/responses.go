package handler

import (
	"time"

	"keeper/internal/records/models"
)

// RecordResponse is the JSON form of a stored record.
type RecordResponse struct {
	Type      string         `json:"type"`
	ID        string         `json:"id"`
	Fields    map[string]any `json:"fields"`
	Version   int64          `json:"version"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// ListResponse wraps the records visible to the caller.
type ListResponse struct {
	Records []RecordResponse `json:"records"`
}

func FromRecord(rec *models.Record) RecordResponse {
	return RecordResponse{
		Type:      rec.Type,
		ID:        rec.ID,
		Fields:    rec.Fields,
		Version:   rec.Version,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
}

func FromRecords(recs []*models.Record) ListResponse {
	out := ListResponse{Records: make([]RecordResponse, 0, len(recs))}
	for _, rec := range recs {
		out.Records = append(out.Records, FromRecord(rec))
	}
	return out
}
