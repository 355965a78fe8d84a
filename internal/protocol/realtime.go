package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// RealtimeType identifies speech-backend payload variants.
type RealtimeType string

const (
	TypeSessionUpdate          RealtimeType = "session.update"
	TypeInputAudioAppend       RealtimeType = "input_audio_buffer.append"
	TypeConversationItemCreate RealtimeType = "conversation.item.create"
	TypeResponseCreate         RealtimeType = "response.create"

	TypeSessionCreated       RealtimeType = "session.created"
	TypeSessionUpdated       RealtimeType = "session.updated"
	TypeAudioDelta           RealtimeType = "response.audio.delta"
	TypeFunctionCallArgsDone RealtimeType = "response.function_call_arguments.done"
	TypeSpeechStarted        RealtimeType = "input_audio_buffer.speech_started"
	TypeError                RealtimeType = "error"
)

const itemTypeFunctionCallOutput = "function_call_output"

var (
	ErrInvalidAudioDelta   = errors.New("invalid response.audio.delta")
	ErrInvalidFunctionCall = errors.New("invalid response.function_call_arguments.done")
)

type SessionUpdate struct {
	Type    RealtimeType  `json:"type"`
	Session SessionParams `json:"session"`
}

type SessionParams struct {
	Modalities        []string         `json:"modalities"`
	Instructions      string           `json:"instructions,omitempty"`
	Voice             string           `json:"voice,omitempty"`
	InputAudioFormat  string           `json:"input_audio_format"`
	OutputAudioFormat string           `json:"output_audio_format"`
	TurnDetection     TurnDetection    `json:"turn_detection"`
	Tools             []ToolDefinition `json:"tools,omitempty"`
	ToolChoice        string           `json:"tool_choice,omitempty"`
}

type TurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMS   int64   `json:"prefix_padding_ms"`
	SilenceDurationMS int64   `json:"silence_duration_ms"`
}

// ToolDefinition advertises one callable function to the speech model.
type ToolDefinition struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type InputAudioAppend struct {
	Type  RealtimeType `json:"type"`
	Audio string       `json:"audio"`
}

type ConversationItemCreate struct {
	Type RealtimeType     `json:"type"`
	Item ConversationItem `json:"item"`
}

type ConversationItem struct {
	Type   string `json:"type"`
	CallID string `json:"call_id"`
	Output string `json:"output"`
}

type ResponseCreate struct {
	Type RealtimeType `json:"type"`
}

func NewInputAudioAppend(audio string) InputAudioAppend {
	return InputAudioAppend{Type: TypeInputAudioAppend, Audio: audio}
}

func NewFunctionCallOutput(callID, output string) ConversationItemCreate {
	return ConversationItemCreate{
		Type: TypeConversationItemCreate,
		Item: ConversationItem{Type: itemTypeFunctionCallOutput, CallID: callID, Output: output},
	}
}

func NewResponseCreate() ResponseCreate {
	return ResponseCreate{Type: TypeResponseCreate}
}

// RealtimeEvent is one decoded backend frame. The concrete type is one of
// SessionCreated, SessionUpdated, AudioDelta, FunctionCallDone, SpeechStarted,
// BackendError or UnknownRealtimeEvent.
type RealtimeEvent interface {
	RealtimeType() RealtimeType
}

type SessionCreated struct {
	SessionID string
}

// SessionUpdated acknowledges a session.update.
type SessionUpdated struct {
	SessionID string
}

type AudioDelta struct {
	ResponseID string
	ItemID     string
	Delta      string
}

type FunctionCallDone struct {
	CallID     string
	Name       string
	Arguments  string
	ItemID     string
	ResponseID string
}

type SpeechStarted struct {
	ItemID       string
	AudioStartMS int64
}

type BackendError struct {
	EventID   string
	ErrorType string
	Code      string
	Message   string
	Param     string
}

type UnknownRealtimeEvent struct {
	Type RealtimeType
}

func (SessionCreated) RealtimeType() RealtimeType         { return TypeSessionCreated }
func (SessionUpdated) RealtimeType() RealtimeType         { return TypeSessionUpdated }
func (AudioDelta) RealtimeType() RealtimeType             { return TypeAudioDelta }
func (FunctionCallDone) RealtimeType() RealtimeType       { return TypeFunctionCallArgsDone }
func (SpeechStarted) RealtimeType() RealtimeType          { return TypeSpeechStarted }
func (BackendError) RealtimeType() RealtimeType           { return TypeError }
func (e UnknownRealtimeEvent) RealtimeType() RealtimeType { return e.Type }

func (e BackendError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s): %s", e.ErrorType, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.ErrorType, e.Message)
}

type wireRealtimeEvent struct {
	Type         RealtimeType `json:"type"`
	EventID      string       `json:"event_id"`
	ResponseID   string       `json:"response_id"`
	ItemID       string       `json:"item_id"`
	Delta        string       `json:"delta"`
	CallID       string       `json:"call_id"`
	Name         string       `json:"name"`
	Arguments    string       `json:"arguments"`
	AudioStartMS int64        `json:"audio_start_ms"`
	Session      *struct {
		ID string `json:"id"`
	} `json:"session"`
	Error *struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
		Param   string `json:"param"`
	} `json:"error"`
}

// ParseRealtimeEvent decodes one backend frame. Unrecognised types decode to
// UnknownRealtimeEvent rather than an error.
func ParseRealtimeEvent(raw []byte) (RealtimeEvent, error) {
	var msg wireRealtimeEvent
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch msg.Type {
	case TypeSessionCreated:
		ev := SessionCreated{}
		if msg.Session != nil {
			ev.SessionID = msg.Session.ID
		}
		return ev, nil
	case TypeSessionUpdated:
		ev := SessionUpdated{}
		if msg.Session != nil {
			ev.SessionID = msg.Session.ID
		}
		return ev, nil
	case TypeAudioDelta:
		if msg.Delta == "" {
			return nil, ErrInvalidAudioDelta
		}
		return AudioDelta{ResponseID: msg.ResponseID, ItemID: msg.ItemID, Delta: msg.Delta}, nil
	case TypeFunctionCallArgsDone:
		if msg.CallID == "" {
			return nil, ErrInvalidFunctionCall
		}
		return FunctionCallDone{
			CallID:     msg.CallID,
			Name:       msg.Name,
			Arguments:  msg.Arguments,
			ItemID:     msg.ItemID,
			ResponseID: msg.ResponseID,
		}, nil
	case TypeSpeechStarted:
		return SpeechStarted{ItemID: msg.ItemID, AudioStartMS: msg.AudioStartMS}, nil
	case TypeError:
		ev := BackendError{EventID: msg.EventID}
		if msg.Error != nil {
			ev.ErrorType = msg.Error.Type
			ev.Code = msg.Error.Code
			ev.Message = msg.Error.Message
			ev.Param = msg.Error.Param
		}
		return ev, nil
	default:
		return UnknownRealtimeEvent{Type: msg.Type}, nil
	}
}
