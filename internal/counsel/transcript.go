package counsel

import (
	"encoding/json"
	"fmt"

	"github.com/edvengers/zera-pilot/internal/domain"
)

// EncodeTranscript serializes a conversation for client-side storage.
func EncodeTranscript(turns []domain.Turn) (json.RawMessage, error) {
	if turns == nil {
		turns = []domain.Turn{}
	}
	data, err := json.Marshal(turns)
	if err != nil {
		return nil, fmt.Errorf("encode transcript: %w", err)
	}
	return data, nil
}

// DecodeTranscript parses a client-stored conversation. Turns with an unknown
// role are dropped; order is preserved.
func DecodeTranscript(data json.RawMessage) ([]domain.Turn, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var raw []domain.Turn
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode transcript: %w", err)
	}
	turns := raw[:0]
	for _, t := range raw {
		if t.Role != domain.RoleStudent && t.Role != domain.RoleAI {
			continue
		}
		turns = append(turns, t)
	}
	return turns, nil
}
