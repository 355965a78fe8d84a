package protocol

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseRealtimeEventAudioDelta(t *testing.T) {
	ev, err := ParseRealtimeEvent([]byte(`{"type":"response.audio.delta","event_id":"e1","response_id":"r1","item_id":"i1","output_index":0,"content_index":0,"delta":"BBBB"}`))
	if err != nil {
		t.Fatalf("ParseRealtimeEvent() error = %v", err)
	}
	delta, ok := ev.(AudioDelta)
	if !ok {
		t.Fatalf("event type = %T, want AudioDelta", ev)
	}
	if delta.Delta != "BBBB" || delta.ResponseID != "r1" {
		t.Fatalf("unexpected delta: %+v", delta)
	}
}

func TestParseRealtimeEventFunctionCallDone(t *testing.T) {
	ev, err := ParseRealtimeEvent([]byte(`{"type":"response.function_call_arguments.done","call_id":"call_1","name":"get_service_info","arguments":"{\"service\":\"soc2\"}"}`))
	if err != nil {
		t.Fatalf("ParseRealtimeEvent() error = %v", err)
	}
	call, ok := ev.(FunctionCallDone)
	if !ok {
		t.Fatalf("event type = %T, want FunctionCallDone", ev)
	}
	if call.CallID != "call_1" || call.Name != "get_service_info" || call.Arguments != `{"service":"soc2"}` {
		t.Fatalf("unexpected function call: %+v", call)
	}
}

func TestParseRealtimeEventRejectsFunctionCallWithoutID(t *testing.T) {
	_, err := ParseRealtimeEvent([]byte(`{"type":"response.function_call_arguments.done","name":"x"}`))
	if !errors.Is(err, ErrInvalidFunctionCall) {
		t.Fatalf("error = %v, want ErrInvalidFunctionCall", err)
	}
}

func TestParseRealtimeEventError(t *testing.T) {
	ev, err := ParseRealtimeEvent([]byte(`{"type":"error","event_id":"e9","error":{"type":"invalid_request_error","code":"invalid_value","message":"bad voice","param":"session.voice"}}`))
	if err != nil {
		t.Fatalf("ParseRealtimeEvent() error = %v", err)
	}
	be, ok := ev.(BackendError)
	if !ok {
		t.Fatalf("event type = %T, want BackendError", ev)
	}
	if be.ErrorType != "invalid_request_error" || be.Code != "invalid_value" || be.Param != "session.voice" {
		t.Fatalf("unexpected error event: %+v", be)
	}
	if be.Error() != "invalid_request_error (invalid_value): bad voice" {
		t.Fatalf("Error() = %q", be.Error())
	}
}

func TestParseRealtimeEventSessionLifecycle(t *testing.T) {
	ev, err := ParseRealtimeEvent([]byte(`{"type":"session.updated","session":{"id":"sess_1"}}`))
	if err != nil {
		t.Fatalf("ParseRealtimeEvent() error = %v", err)
	}
	if updated, ok := ev.(SessionUpdated); !ok || updated.SessionID != "sess_1" {
		t.Fatalf("unexpected event: %#v", ev)
	}
}

func TestParseRealtimeEventUnknown(t *testing.T) {
	ev, err := ParseRealtimeEvent([]byte(`{"type":"rate_limits.updated","rate_limits":[]}`))
	if err != nil {
		t.Fatalf("ParseRealtimeEvent() error = %v", err)
	}
	if ev.RealtimeType() != "rate_limits.updated" {
		t.Fatalf("RealtimeType() = %q", ev.RealtimeType())
	}
	if _, ok := ev.(UnknownRealtimeEvent); !ok {
		t.Fatalf("event type = %T, want UnknownRealtimeEvent", ev)
	}
}

func TestFunctionCallOutputWireShape(t *testing.T) {
	data, err := json.Marshal(NewFunctionCallOutput("call_1", `{"status":"error"}`))
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	want := `{"type":"conversation.item.create","item":{"type":"function_call_output","call_id":"call_1","output":"{\"status\":\"error\"}"}}`
	if string(data) != want {
		t.Fatalf("function output = %s, want %s", data, want)
	}
}
