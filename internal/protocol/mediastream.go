package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// EventName identifies media-stream payload variants on the telephony leg.
type EventName string

const (
	EventConnected EventName = "connected"
	EventStart     EventName = "start"
	EventMedia     EventName = "media"
	EventStop      EventName = "stop"
	EventMark      EventName = "mark"
	EventClear     EventName = "clear"
)

var (
	ErrInvalidStart = errors.New("invalid start event")
	ErrInvalidMedia = errors.New("invalid media event")
)

// MediaStreamEvent is one decoded inbound telephony frame. The concrete type is
// one of ConnectedEvent, StartEvent, MediaEvent, StopEvent, MarkEvent or
// UnknownEvent.
type MediaStreamEvent interface {
	EventName() EventName
}

type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

type ConnectedEvent struct {
	Protocol string
	Version  string
}

type StartEvent struct {
	StreamSID        string
	CallSID          string
	AccountSID       string
	Tracks           []string
	MediaFormat      MediaFormat
	CustomParameters map[string]string
}

type MediaEvent struct {
	StreamSID string
	Track     string
	Chunk     string
	Timestamp string
	Payload   string
}

type StopEvent struct {
	StreamSID string
	CallSID   string
}

type MarkEvent struct {
	StreamSID string
	Name      string
}

// UnknownEvent carries a well-formed frame whose event name is not handled.
type UnknownEvent struct {
	Event EventName
}

func (ConnectedEvent) EventName() EventName { return EventConnected }
func (StartEvent) EventName() EventName     { return EventStart }
func (MediaEvent) EventName() EventName     { return EventMedia }
func (StopEvent) EventName() EventName      { return EventStop }
func (MarkEvent) EventName() EventName      { return EventMark }
func (e UnknownEvent) EventName() EventName { return e.Event }

type wireMediaStreamMessage struct {
	Event          EventName `json:"event"`
	StreamSID      string    `json:"streamSid"`
	SequenceNumber string    `json:"sequenceNumber,omitempty"`
	Protocol       string    `json:"protocol,omitempty"`
	Version        string    `json:"version,omitempty"`
	Start          *struct {
		StreamSID        string            `json:"streamSid"`
		CallSID          string            `json:"callSid"`
		AccountSID       string            `json:"accountSid"`
		Tracks           []string          `json:"tracks"`
		MediaFormat      MediaFormat       `json:"mediaFormat"`
		CustomParameters map[string]string `json:"customParameters"`
	} `json:"start,omitempty"`
	Media *struct {
		Track     string `json:"track"`
		Chunk     string `json:"chunk"`
		Timestamp string `json:"timestamp"`
		Payload   string `json:"payload"`
	} `json:"media,omitempty"`
	Stop *struct {
		AccountSID string `json:"accountSid"`
		CallSID    string `json:"callSid"`
	} `json:"stop,omitempty"`
	Mark *struct {
		Name string `json:"name"`
	} `json:"mark,omitempty"`
}

// ParseMediaStreamMessage decodes one inbound telephony frame. Malformed JSON
// and invalid known variants return an error; frames with an unrecognised
// event name decode to UnknownEvent.
func ParseMediaStreamMessage(raw []byte) (MediaStreamEvent, error) {
	var msg wireMediaStreamMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch msg.Event {
	case EventConnected:
		return ConnectedEvent{Protocol: msg.Protocol, Version: msg.Version}, nil
	case EventStart:
		if msg.Start == nil {
			return nil, ErrInvalidStart
		}
		ev := StartEvent{
			StreamSID:        msg.Start.StreamSID,
			CallSID:          msg.Start.CallSID,
			AccountSID:       msg.Start.AccountSID,
			Tracks:           msg.Start.Tracks,
			MediaFormat:      msg.Start.MediaFormat,
			CustomParameters: msg.Start.CustomParameters,
		}
		if ev.StreamSID == "" {
			ev.StreamSID = msg.StreamSID
		}
		if ev.CallSID == "" || ev.StreamSID == "" {
			return nil, ErrInvalidStart
		}
		return ev, nil
	case EventMedia:
		if msg.Media == nil || msg.Media.Payload == "" {
			return nil, ErrInvalidMedia
		}
		return MediaEvent{
			StreamSID: msg.StreamSID,
			Track:     msg.Media.Track,
			Chunk:     msg.Media.Chunk,
			Timestamp: msg.Media.Timestamp,
			Payload:   msg.Media.Payload,
		}, nil
	case EventStop:
		ev := StopEvent{StreamSID: msg.StreamSID}
		if msg.Stop != nil {
			ev.CallSID = msg.Stop.CallSID
		}
		return ev, nil
	case EventMark:
		ev := MarkEvent{StreamSID: msg.StreamSID}
		if msg.Mark != nil {
			ev.Name = msg.Mark.Name
		}
		return ev, nil
	default:
		return UnknownEvent{Event: msg.Event}, nil
	}
}

// OutboundMedia is an audio frame played back to the caller.
type OutboundMedia struct {
	Event     EventName            `json:"event"`
	StreamSID string               `json:"streamSid"`
	Media     OutboundMediaPayload `json:"media"`
}

type OutboundMediaPayload struct {
	Payload string `json:"payload"`
}

// OutboundClear asks the telephony platform to flush queued playback.
type OutboundClear struct {
	Event     EventName `json:"event"`
	StreamSID string    `json:"streamSid"`
}

func NewOutboundMedia(streamSID, payload string) OutboundMedia {
	return OutboundMedia{
		Event:     EventMedia,
		StreamSID: streamSID,
		Media:     OutboundMediaPayload{Payload: payload},
	}
}

func NewOutboundClear(streamSID string) OutboundClear {
	return OutboundClear{Event: EventClear, StreamSID: streamSID}
}

// CodecForEncoding maps a media-stream encoding to the realtime backend codec name.
func CodecForEncoding(encoding string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "audio/x-mulaw", "audio/pcmu", "mulaw", "g711_ulaw":
		return "g711_ulaw", true
	case "audio/x-alaw", "audio/pcma", "alaw", "g711_alaw":
		return "g711_alaw", true
	default:
		return "", false
	}
}
