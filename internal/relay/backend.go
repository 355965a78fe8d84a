package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cyberguardng/voicegateway/internal/protocol"
	"github.com/cyberguardng/voicegateway/internal/reliability"
	"github.com/cyberguardng/voicegateway/internal/session"
)

const (
	connectBackoffBase = 250 * time.Millisecond
	connectBackoffCap  = 2 * time.Second
)

type backendDialed struct {
	conn Conn
	err  error
}

type backendFrame struct {
	ev protocol.RealtimeEvent
}

type backendGone struct {
	err error
}

func realtimeURL(base, model string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse realtime url: %w", err)
	}
	if model != "" {
		q := u.Query()
		q.Set("model", model)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func realtimeHeader(apiKey string) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+apiKey)
	h.Set("OpenAI-Beta", "realtime=v1")
	return h
}

// dialBackend runs on its own goroutine. The result goes to the coordinator
// over an unbuffered channel so a connection completed after teardown is
// closed here instead of leaking.
func (c *call) dialBackend(log *slog.Logger) error {
	conn, err := c.connectBackend(c.ctx, log)
	select {
	case c.dialed <- backendDialed{conn: conn, err: err}:
	case <-c.ctx.Done():
		if conn != nil {
			if cerr := conn.Close(); cerr != nil {
				log.Debug("closing late backend connection", "error", &TeardownError{Leg: legBackend, Err: cerr})
			}
			log.Info("backend connected after teardown; closed")
		}
	}
	return nil
}

func (c *call) connectBackend(ctx context.Context, log *slog.Logger) (Conn, error) {
	cfg := c.gw.Config
	target, err := realtimeURL(cfg.RealtimeURL, cfg.Model)
	if err != nil {
		return nil, &UpstreamConnectError{Attempts: 0, Err: err}
	}
	header := realtimeHeader(cfg.APIKey)

	attempts := cfg.ConnectAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	tried := 0
	for tried < attempts {
		if tried > 0 {
			wait := reliability.ExponentialBackoff(tried-1, connectBackoffBase, connectBackoffCap)
			log.Warn("retrying backend connect", "attempt", tried+1, "backoff", wait, "error", lastErr)
			if err := reliability.Sleep(ctx, wait); err != nil {
				break
			}
		}
		tried++

		conn, err := c.gw.dialer().Dial(ctx, target, header)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		var hs *HandshakeError
		if errors.As(err, &hs) && !reliability.IsRetryableHTTPStatus(hs.StatusCode) {
			break
		}
	}
	if lastErr == nil {
		lastErr = ctx.Err()
	}
	return nil, &UpstreamConnectError{Attempts: tried, Err: lastErr}
}

func buildSessionUpdate(cfg session.Config, tools []protocol.ToolDefinition) protocol.SessionUpdate {
	params := protocol.SessionParams{
		Modalities:        []string{"text", "audio"},
		Instructions:      cfg.Instructions,
		Voice:             cfg.Voice,
		InputAudioFormat:  cfg.InputCodec,
		OutputAudioFormat: cfg.OutputCodec,
		TurnDetection: protocol.TurnDetection{
			Type:              "server_vad",
			Threshold:         cfg.TurnDetection.Threshold,
			PrefixPaddingMS:   cfg.TurnDetection.PrefixPadding.Milliseconds(),
			SilenceDurationMS: cfg.TurnDetection.SilenceDuration.Milliseconds(),
		},
	}
	if len(tools) > 0 {
		params.Tools = tools
		params.ToolChoice = "auto"
	}
	return protocol.SessionUpdate{Type: protocol.TypeSessionUpdate, Session: params}
}

// readBackend decodes backend frames. Audio and barge-in are handled here;
// everything that can change call state goes to the coordinator.
func (c *call) readBackend(conn Conn, log *slog.Logger) error {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			c.post(backendGone{err: err})
			return nil
		}
		if msgType != websocket.TextMessage {
			continue
		}

		ev, err := protocol.ParseRealtimeEvent(data)
		if err != nil {
			log.Warn("dropping backend frame", "error", &UpstreamProtocolError{Err: err})
			c.gw.Metrics.ObserveMessage(legBackend, directionInbound, "invalid")
			continue
		}
		c.gw.Metrics.ObserveMessage(legBackend, directionInbound, realtimeLabel(ev))

		switch e := ev.(type) {
		case protocol.AudioDelta:
			c.forwardBackendAudio(e)
		case protocol.SpeechStarted:
			log.Debug("caller speech started", "item_id", e.ItemID)
			c.clearCallerPlayback()
		case protocol.UnknownRealtimeEvent:
			log.Debug("ignoring backend event", "type", e.Type)
		default:
			if !c.post(backendFrame{ev: ev}) {
				return nil
			}
		}
	}
}

func realtimeLabel(ev protocol.RealtimeEvent) string {
	if _, ok := ev.(protocol.UnknownRealtimeEvent); ok {
		return "unknown"
	}
	return string(ev.RealtimeType())
}
