package qdrant

import (
	"encoding/json"
	"strings"

	"github.com/w-h-a/memories/storer"
)

type qdrantEnvelope[T any] struct {
	Status qdrantStatus `json:"status"`
	Result T            `json:"result"`
}

type qdrantStatus struct {
	State string `json:"status"`
	Error string `json:"error,omitempty"`
}

func (s *qdrantStatus) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		s.State = strings.ToLower(v)
		return nil
	}

	var obj struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	if obj.Error != "" {
		s.State = "error"
		s.Error = obj.Error
	}
	return nil
}

// qdrantPayload is what a point carries besides its vector. The flat fields
// exist for filtering and ordering.
type qdrantPayload struct {
	UserId        string        `json:"user_id"`
	CreatedAtUnix float64       `json:"created_at_unix"`
	Deleted       bool          `json:"deleted"`
	Record        storer.Record `json:"record"`
}

type qdrantPoint struct {
	Id      string        `json:"id"`
	Vector  []float32     `json:"vector,omitempty"`
	Payload qdrantPayload `json:"payload"`
}

type qdrantPointResult struct {
	Id      string        `json:"id"`
	Score   float64       `json:"score"`
	Payload qdrantPayload `json:"payload"`
	Vector  []float32     `json:"vector"`
}

type qdrantScrollResult struct {
	Points         []qdrantPointResult `json:"points"`
	NextPageOffset any                 `json:"next_page_offset"`
}
