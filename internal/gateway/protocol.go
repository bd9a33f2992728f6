package gateway

import (
	"encoding/json"
	"errors"
	"fmt"

	"landkeeper/engine/internal/land"
	"landkeeper/engine/internal/value"
)

// Inbound message types accepted from clients.
const (
	msgJoin   = "join"
	msgLeave  = "leave"
	msgAction = "action"
	msgEvent  = "event"
)

// Outbound message types emitted to clients.
const (
	msgJoined       = "joined"
	msgLeft         = "left"
	msgActionResult = "actionResult"
	msgUpdate       = "update"
	msgServerEvent  = "event"
	msgError        = "error"
)

// inboundEnvelope is the wire form of every client-to-server message.
type inboundEnvelope struct {
	Type      string            `json:"type"`
	RequestID string            `json:"requestId,omitempty"`
	LandType  string            `json:"landType,omitempty"`
	LandID    string            `json:"landId,omitempty"`
	PlayerID  string            `json:"playerId,omitempty"`
	Token     string            `json:"token,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Name      string            `json:"name,omitempty"`
	Payload   json.RawMessage   `json:"payload,omitempty"`
}

// decodeInbound parses and structurally validates one client frame.
func decodeInbound(raw []byte) (*inboundEnvelope, *land.Error) {
	var envelope inboundEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, land.WrapError(land.CodeInvalidJSON, "message is not valid JSON", err)
	}
	switch envelope.Type {
	case msgJoin:
		if envelope.LandType == "" {
			return nil, missingField(envelope.RequestID, "landType")
		}
		if envelope.LandID == "" {
			return nil, missingField(envelope.RequestID, "landId")
		}
		if envelope.PlayerID == "" {
			return nil, missingField(envelope.RequestID, "playerId")
		}
	case msgLeave:
		if envelope.LandID == "" {
			return nil, missingField(envelope.RequestID, "landId")
		}
	case msgAction, msgEvent:
		if envelope.LandID == "" {
			return nil, missingField(envelope.RequestID, "landId")
		}
		if envelope.Name == "" {
			return nil, missingField(envelope.RequestID, "name")
		}
	case "":
		return nil, land.NewError(land.CodeInvalidMessageFormat, "message type is required")
	default:
		return nil, land.NewError(land.CodeInvalidMessageFormat, "unknown message type").
			WithDetail("type", envelope.Type)
	}
	return &envelope, nil
}

func missingField(requestID, field string) *land.Error {
	return land.NewError(land.CodeMissingRequiredField, fmt.Sprintf("%s is required", field)).
		WithDetail("field", field).
		WithDetail("requestId", requestID)
}

// payloadValue converts the raw payload into the canonical value form.
func payloadValue(raw json.RawMessage) (value.Value, *land.Error) {
	if len(raw) == 0 {
		return value.Null(), nil
	}
	var decoded value.Value
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return value.Null(), land.WrapError(land.CodeInvalidJSON, "payload is not valid JSON", err)
	}
	return decoded, nil
}

type joinedPayload struct {
	Type       string         `json:"type"`
	RequestID  string         `json:"requestId,omitempty"`
	LandID     string         `json:"landId"`
	SessionID  string         `json:"sessionId"`
	PlayerSlot int            `json:"playerSlot"`
	TickID     int64          `json:"tickId"`
	Snapshot   value.Snapshot `json:"snapshot"`
}

type leftPayload struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId,omitempty"`
	LandID    string `json:"landId"`
}

type actionResultPayload struct {
	Type      string      `json:"type"`
	RequestID string      `json:"requestId,omitempty"`
	LandID    string      `json:"landId"`
	Result    value.Value `json:"result"`
}

type updatePayload struct {
	Type   string       `json:"type"`
	LandID string       `json:"landId"`
	TickID int64        `json:"tickId"`
	Update value.Update `json:"update"`
}

type serverEventPayload struct {
	Type   string     `json:"type"`
	LandID string     `json:"landId"`
	Event  land.Event `json:"event"`
}

type errorPayload struct {
	Type      string         `json:"type"`
	RequestID string         `json:"requestId,omitempty"`
	Code      land.Code      `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
}

// encodeError renders an engine error into its wire payload.
func encodeError(requestID string, err error) []byte {
	payload := errorPayload{
		Type:      msgError,
		RequestID: requestID,
		Code:      land.CodeOf(err, land.CodeActionHandlerError),
		Message:   err.Error(),
	}
	var coded *land.Error
	if errors.As(err, &coded) {
		payload.Message = coded.Message
		payload.Details = coded.Details
	}
	encoded, marshalErr := json.Marshal(payload)
	if marshalErr != nil {
		return []byte(`{"type":"error","code":"ACTION_HANDLER_ERROR","message":"internal error"}`)
	}
	return encoded
}
