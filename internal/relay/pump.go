package relay

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cyberguardng/voicegateway/internal/observability"
	"github.com/cyberguardng/voicegateway/internal/protocol"
	"github.com/cyberguardng/voicegateway/internal/session"
)

const (
	dropNotReady = "not_ready"
	dropStopping = "stopping"
)

// outbound is the FIFO queue in front of one connection's single writer.
type outbound struct {
	ctx context.Context
	leg string
	ch  chan any
}

func newOutbound(ctx context.Context, leg string, size int) *outbound {
	return &outbound{ctx: ctx, leg: leg, ch: make(chan any, size)}
}

// enqueue blocks while the queue is full and gives up once the call tears down.
func (q *outbound) enqueue(msg any) bool {
	if q.ctx.Err() != nil {
		return false
	}
	select {
	case q.ch <- msg:
		return true
	case <-q.ctx.Done():
		return false
	}
}

type writeFailed struct {
	leg string
	err error
}

// writeLoop drains q onto conn until teardown. Nothing is written once the
// session is closing or failed.
func (c *call) writeLoop(conn Conn, q *outbound) error {
	timeout := c.gw.Config.WriteTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	for {
		select {
		case <-c.ctx.Done():
			return nil
		case msg := <-q.ch:
			if c.ctx.Err() != nil || c.sess.State().Stopping() {
				return nil
			}
			data, err := json.Marshal(msg)
			if err != nil {
				c.log.Error("encode outbound message", "leg", q.leg, "error", err)
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(timeout))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.post(writeFailed{leg: q.leg, err: err})
				return nil
			}
			c.gw.Metrics.ObserveMessage(q.leg, directionOutbound, messageLabel(msg))
		}
	}
}

// forwardCallerAudio is the caller-to-backend direction. Frames are only
// appended while the backend session is active; earlier frames are dropped.
func (c *call) forwardCallerAudio(ev protocol.MediaEvent) {
	state := c.sess.State()
	switch {
	case state == session.StateActive:
		c.toBackend.enqueue(protocol.NewInputAudioAppend(ev.Payload))
	case state.Stopping():
		c.dropFrame(dropStopping)
	default:
		c.dropFrame(dropNotReady)
	}
}

func (c *call) dropFrame(reason string) {
	c.gw.Metrics.ObserveDroppedFrame(reason)
	if hook := c.gw.Hooks.FrameDropped; hook != nil {
		hook(c.sess, reason)
	}
}

// forwardBackendAudio is the backend-to-caller direction.
func (c *call) forwardBackendAudio(ev protocol.AudioDelta) {
	if c.sess.State().Stopping() {
		return
	}
	if !c.firstAudio.Swap(true) {
		if at := c.activeAt.Load(); at > 0 {
			c.gw.Metrics.ObserveFirstAudioLatency(time.Since(time.Unix(0, at)))
		}
	}
	c.toCaller.enqueue(protocol.NewOutboundMedia(c.sess.StreamID(), ev.Delta))
}

// clearCallerPlayback flushes audio the caller's platform has buffered when
// the caller starts talking over the assistant.
func (c *call) clearCallerPlayback() {
	if c.sess.State().Stopping() {
		return
	}
	c.gw.Metrics.ObserveIndicator(observability.IndicatorBargeIn)
	c.toCaller.enqueue(protocol.NewOutboundClear(c.sess.StreamID()))
}

func messageLabel(msg any) string {
	switch m := msg.(type) {
	case protocol.OutboundMedia:
		return string(m.Event)
	case protocol.OutboundClear:
		return string(m.Event)
	case protocol.SessionUpdate:
		return string(m.Type)
	case protocol.InputAudioAppend:
		return string(m.Type)
	case protocol.ConversationItemCreate:
		return string(m.Type)
	case protocol.ResponseCreate:
		return string(m.Type)
	default:
		return "unknown"
	}
}
