package storer

import (
	"encoding/json"
	"time"
)

const DefaultVisibility = "private"

type Record struct {
	Id                 string              `json:"id"`
	UserId             string              `json:"user_id"`
	CreatedAt          time.Time           `json:"created_at"`
	StartedAt          time.Time           `json:"started_at"`
	FinishedAt         time.Time           `json:"finished_at"`
	Source             string              `json:"source"`
	Language           string              `json:"language"`
	Structured         Structured          `json:"structured"`
	TranscriptSegments []TranscriptSegment `json:"transcript_segments"`
	Geolocation        json.RawMessage     `json:"geolocation,omitempty"`
	Photos             []string            `json:"photos"`
	PluginsResults     json.RawMessage     `json:"plugins_results,omitempty"`
	ExternalData       json.RawMessage     `json:"external_data,omitempty"`
	Discarded          bool                `json:"discarded"`
	Deleted            bool                `json:"deleted"`
	Visibility         string              `json:"visibility"`
	ProcessingMemoryId string              `json:"processing_memory_id,omitempty"`
	Status             string              `json:"status"`
	Embedding          []float32           `json:"-"`
}

type Structured struct {
	Title       string `json:"title"`
	Overview    string `json:"overview"`
	Emoji       string `json:"emoji"`
	Category    string `json:"category"`
	ActionItems []any  `json:"actionItems"`
	Events      []any  `json:"events"`
}

type TranscriptSegment struct {
	Text      string  `json:"text"`
	Speaker   string  `json:"speaker"`
	SpeakerId int     `json:"speaker_id"`
	IsUser    bool    `json:"is_user"`
	Start     float64 `json:"start" validate:"gte=0"`
	End       float64 `json:"end" validate:"gtefield=Start"`
}
