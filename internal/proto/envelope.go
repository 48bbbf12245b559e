package proto

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"
)

// Envelope wraps an event name and its JSON payload into a Struct.
func Envelope(event string, data json.RawMessage) (*structpb.Struct, error) {
	var payload any
	if len(data) > 0 {
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
	}
	return structpb.NewStruct(map[string]any{
		"event": event,
		"data":  payload,
	})
}

// Open is the inverse of Envelope. A missing data field yields nil data.
func Open(s *structpb.Struct) (string, json.RawMessage, error) {
	if s == nil {
		return "", nil, fmt.Errorf("empty envelope")
	}
	event := s.GetFields()["event"].GetStringValue()

	v, ok := s.GetFields()["data"]
	if !ok {
		return event, nil, nil
	}
	data, err := json.Marshal(v.AsInterface())
	if err != nil {
		return "", nil, fmt.Errorf("encode payload: %w", err)
	}
	return event, data, nil
}
