package memory

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/w-h-a/memories/embedder"
	"github.com/w-h-a/memories/storer"
)

// Payload is an ingested memory as sent by the client. The owner is carried
// out of band and the embedding is always derived.
type Payload struct {
	Id                 string                     `json:"id"`
	CreatedAt          time.Time                  `json:"created_at" validate:"required"`
	StartedAt          time.Time                  `json:"started_at" validate:"required"`
	FinishedAt         time.Time                  `json:"finished_at" validate:"required,gtefield=StartedAt"`
	Source             string                     `json:"source"`
	Language           string                     `json:"language"`
	Structured         *storer.Structured         `json:"structured" validate:"required"`
	TranscriptSegments []storer.TranscriptSegment `json:"transcript_segments" validate:"dive"`
	Geolocation        json.RawMessage            `json:"geolocation"`
	Photos             []string                   `json:"photos"`
	PluginsResults     json.RawMessage            `json:"plugins_results"`
	ExternalData       json.RawMessage            `json:"external_data"`
	Discarded          bool                       `json:"discarded"`
	Deleted            bool                       `json:"deleted"`
	Visibility         string                     `json:"visibility"`
	ProcessingMemoryId *string                    `json:"processing_memory_id"`
	Status             string                     `json:"status"`
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// ParseTimestamp accepts RFC 3339 and zone-less ISO 8601 timestamps. Values
// without a zone are taken as UTC. An empty string is the zero time.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if len(s) == 0 {
		return time.Time{}, nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}

func (p *Payload) UnmarshalJSON(data []byte) error {
	type alias Payload

	aux := struct {
		*alias
		CreatedAt  string `json:"created_at"`
		StartedAt  string `json:"started_at"`
		FinishedAt string `json:"finished_at"`
	}{
		alias: (*alias)(p),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	var err error
	if p.CreatedAt, err = ParseTimestamp(aux.CreatedAt); err != nil {
		return fmt.Errorf("created_at: %w", err)
	}
	if p.StartedAt, err = ParseTimestamp(aux.StartedAt); err != nil {
		return fmt.Errorf("started_at: %w", err)
	}
	if p.FinishedAt, err = ParseTimestamp(aux.FinishedAt); err != nil {
		return fmt.Errorf("finished_at: %w", err)
	}

	return nil
}

// EmbeddingText joins the title, the overview and every non-empty segment
// text with single spaces.
func EmbeddingText(p Payload) string {
	parts := []string{}

	if p.Structured != nil {
		parts = appendNonBlank(parts, p.Structured.Title)
		parts = appendNonBlank(parts, p.Structured.Overview)
	}

	for _, seg := range p.TranscriptSegments {
		parts = appendNonBlank(parts, seg.Text)
	}

	text := strings.Join(parts, " ")
	if len(strings.TrimSpace(text)) == 0 {
		return embedder.FallbackText
	}

	return text
}

func appendNonBlank(parts []string, s string) []string {
	s = strings.TrimSpace(s)
	if len(s) == 0 {
		return parts
	}
	return append(parts, s)
}

func (p Payload) record(userId string, vector []float32) storer.Record {
	rec := storer.Record{
		Id:                 p.Id,
		UserId:             userId,
		CreatedAt:          p.CreatedAt,
		StartedAt:          p.StartedAt,
		FinishedAt:         p.FinishedAt,
		Source:             p.Source,
		Language:           p.Language,
		Structured:         *p.Structured,
		TranscriptSegments: p.TranscriptSegments,
		Geolocation:        p.Geolocation,
		Photos:             p.Photos,
		PluginsResults:     p.PluginsResults,
		ExternalData:       p.ExternalData,
		Discarded:          p.Discarded,
		Deleted:            p.Deleted,
		Visibility:         p.Visibility,
		Status:             p.Status,
		Embedding:          vector,
	}

	if p.ProcessingMemoryId != nil {
		rec.ProcessingMemoryId = *p.ProcessingMemoryId
	}
	if len(rec.Visibility) == 0 {
		rec.Visibility = storer.DefaultVisibility
	}
	if rec.TranscriptSegments == nil {
		rec.TranscriptSegments = []storer.TranscriptSegment{}
	}
	if rec.Photos == nil {
		rec.Photos = []string{}
	}
	if rec.Structured.ActionItems == nil {
		rec.Structured.ActionItems = []any{}
	}
	if rec.Structured.Events == nil {
		rec.Structured.Events = []any{}
	}

	return rec
}
