package gateway

import (
	"encoding/json"
	"net/http"
	"testing"

	"landkeeper/engine/internal/land"
)

func TestDecodeInboundValidation(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		code land.Code
	}{
		{"not json", `{broken`, land.CodeInvalidJSON},
		{"missing type", `{"landId":"x"}`, land.CodeInvalidMessageFormat},
		{"unknown type", `{"type":"teleport"}`, land.CodeInvalidMessageFormat},
		{"join without landType", `{"type":"join","landId":"x","playerId":"p"}`, land.CodeMissingRequiredField},
		{"join without landId", `{"type":"join","landType":"t","playerId":"p"}`, land.CodeMissingRequiredField},
		{"join without playerId", `{"type":"join","landType":"t","landId":"x"}`, land.CodeMissingRequiredField},
		{"leave without landId", `{"type":"leave"}`, land.CodeMissingRequiredField},
		{"action without name", `{"type":"action","landId":"x"}`, land.CodeMissingRequiredField},
		{"event without landId", `{"type":"event","name":"poke"}`, land.CodeMissingRequiredField},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := decodeInbound([]byte(tc.raw))
			if err == nil {
				t.Fatal("expected a decode error")
			}
			if err.Code != tc.code {
				t.Fatalf("expected code %s, got %s", tc.code, err.Code)
			}
		})
	}

	envelope, err := decodeInbound([]byte(`{"type":"action","requestId":"r1","landId":"x","name":"add","payload":{"n":1}}`))
	if err != nil {
		t.Fatalf("decodeInbound: %v", err)
	}
	if envelope.RequestID != "r1" || envelope.Name != "add" {
		t.Fatalf("unexpected envelope: %+v", envelope)
	}
}

func TestPayloadValueDefaultsToNull(t *testing.T) {
	decoded, err := payloadValue(nil)
	if err != nil {
		t.Fatalf("payloadValue(nil): %v", err)
	}
	if !decoded.IsNull() {
		t.Fatalf("expected null payload, got %v", decoded)
	}
	if _, err := payloadValue([]byte(`{bad`)); err == nil {
		t.Fatal("expected error for malformed payload")
	}
}

func TestEncodeErrorCarriesCodeAndDetails(t *testing.T) {
	engineErr := land.NewError(land.CodeJoinRoomFull, "land is at player capacity").
		WithDetail("maxPlayers", 4)
	frame := encodeError("req-9", engineErr)

	var decoded errorPayload
	if err := json.Unmarshal(frame, &decoded); err != nil {
		t.Fatalf("unmarshal error frame: %v", err)
	}
	if decoded.Type != msgError || decoded.RequestID != "req-9" {
		t.Fatalf("unexpected frame: %+v", decoded)
	}
	if decoded.Code != land.CodeJoinRoomFull {
		t.Fatalf("expected JOIN_ROOM_FULL, got %s", decoded.Code)
	}
	if decoded.Message != "land is at player capacity" {
		t.Fatalf("unexpected message: %q", decoded.Message)
	}
	if decoded.Details["maxPlayers"] == nil {
		t.Fatalf("details lost: %+v", decoded.Details)
	}

	//1.- Plain errors fall back to the caller-provided code.
	frame = encodeError("", land.WrapError(land.CodeActionHandlerError, "action handler failed", nil))
	if err := json.Unmarshal(frame, &decoded); err != nil {
		t.Fatalf("unmarshal fallback frame: %v", err)
	}
	if decoded.Code != land.CodeActionHandlerError {
		t.Fatalf("expected ACTION_HANDLER_ERROR, got %s", decoded.Code)
	}
}

func TestOriginChecker(t *testing.T) {
	allowAll := originChecker(nil)
	req, _ := http.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Origin", "http://anywhere.example")
	if !allowAll(req) {
		t.Fatal("empty allow list must admit every origin")
	}

	restricted := originChecker([]string{"http://Game.Example"})
	req.Header.Set("Origin", "http://game.example")
	if !restricted(req) {
		t.Fatal("matching is case-insensitive")
	}
	req.Header.Set("Origin", "http://evil.example")
	if restricted(req) {
		t.Fatal("unlisted origin admitted")
	}
	//1.- Non-browser clients send no Origin header and are let through.
	req.Header.Del("Origin")
	if !restricted(req) {
		t.Fatal("missing Origin header must be allowed")
	}
}
