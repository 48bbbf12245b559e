package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Inbound and outbound event names.
const (
	EventJoin  = "join-project"
	EventLeave = "leave-project"

	EventUserJoined = "user-joined"
	EventUserLeft   = "user-left"
	EventError      = "error"
)

// relayEvents maps an inbound collaboration event to the name it is
// broadcast under.
var relayEvents = map[string]string{
	"project-update":   "project-updated",
	"canvas-update":    "canvas-updated",
	"cursor-move":      "cursor-moved",
	"scene-edit-start": "scene-edit-started",
	"scene-edit-end":   "scene-edit-ended",
	"typing-start":     "user-typing",
	"typing-stop":      "user-stopped-typing",
}

// ServerSenderID is the senderId stamped on events emitted by Hub.Emit.
const ServerSenderID = "server"

var (
	ErrMalformed      = errors.New("malformed message")
	ErrUnknownEvent   = errors.New("unknown event")
	ErrBadPayload     = errors.New("payload must be a JSON object")
	ErrMissingProject = errors.New("projectId is required")
	ErrNotInRoom      = errors.New("not a member of this project room")
	ErrUnknownClient  = errors.New("connection is not attached")
)

// Message is the wire envelope shared by every transport.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Presence is the payload of user-joined and user-left.
type Presence struct {
	SocketID  string `json:"socketId"`
	UserID    string `json:"userId"`
	ProjectID string `json:"projectId"`
	Timestamp string `json:"timestamp"`
}

type errorPayload struct {
	Event   string `json:"event,omitempty"`
	Message string `json:"message"`
}

// timestamp renders t as an ISO-8601 UTC instant with millisecond
// precision, e.g. 2026-03-01T12:00:00.000Z.
func timestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

// projectIDFrom accepts either a bare JSON string or an object carrying
// projectId.
func projectIDFrom(data json.RawMessage) (string, error) {
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		if id == "" {
			return "", ErrMissingProject
		}
		return id, nil
	}

	var obj struct {
		ProjectID string `json:"projectId"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if obj.ProjectID == "" {
		return "", ErrMissingProject
	}
	return obj.ProjectID, nil
}

// stamp decodes an object payload, adds timestamp and senderId and returns
// the re-encoded payload together with its projectId. Other fields pass
// through untouched.
func stamp(data json.RawMessage, at time.Time, senderID string) (json.RawMessage, string, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return nil, "", ErrBadPayload
	}

	var projectID string
	if raw, ok := fields["projectId"]; ok {
		_ = json.Unmarshal(raw, &projectID)
	}

	ts, _ := json.Marshal(timestamp(at))
	sender, _ := json.Marshal(senderID)
	fields["timestamp"] = ts
	fields["senderId"] = sender

	out, err := json.Marshal(fields)
	if err != nil {
		return nil, "", err
	}
	return out, projectID, nil
}

func encode(event string, v any) Message {
	data, _ := json.Marshal(v)
	return Message{Event: event, Data: data}
}
