package relay

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cyberguardng/voicegateway/internal/protocol"
	"github.com/cyberguardng/voicegateway/internal/reliability"
	"github.com/cyberguardng/voicegateway/internal/session"
)

// run is the coordinator loop. It is the only goroutine that changes the
// session state or touches the backend connection.
func (c *call) run() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("coordinator panicked: %v", r)
			c.logger().Error("recovered panic", "goroutine", "coordinator", "panic", r)
			c.failCall(err)
		}
	}()

	c.log.Info("call accepted")
	c.sup.Go("caller_writer", func() error { return c.writeLoop(c.caller, c.toCaller) })
	c.sup.Go("caller_reader", c.readCaller)

	for {
		select {
		case <-c.stop:
			c.closeCall(c.stopReason)
			return nil
		case <-c.parent.Done():
			c.closeCall("shutdown")
			return nil
		case res := <-c.dialed:
			if done := c.onBackendDialed(res); done {
				return c.sess.FailureReason()
			}
		case ev := <-c.events:
			if done := c.handle(ev); done {
				return c.sess.FailureReason()
			}
		}
	}
}

func (c *call) logger() *slog.Logger {
	if c.callLog != nil {
		return c.callLog
	}
	return c.log
}

// handle applies one event and reports whether the call has been torn down.
func (c *call) handle(ev any) bool {
	switch e := ev.(type) {
	case callerFrame:
		switch f := e.ev.(type) {
		case protocol.StartEvent:
			c.onStart(f)
		case protocol.StopEvent:
			c.closeCall("stop")
			return true
		}
	case callerGone:
		c.logger().Info("caller disconnected", "error", e.err)
		c.closeCall("caller disconnected")
		return true
	case backendFrame:
		return c.onBackendEvent(e.ev)
	case backendGone:
		c.failCall(&UpstreamProtocolError{Err: fmt.Errorf("backend connection closed: %w", e.err)})
		return true
	case writeFailed:
		if e.leg == legCaller {
			c.logger().Info("caller write failed", "error", e.err)
			c.closeCall("caller write failed")
			return true
		}
		c.failCall(&UpstreamProtocolError{Err: fmt.Errorf("backend write failed: %w", e.err)})
		return true
	case goroutinePanicked:
		c.failCall(e.err)
		return true
	}
	return false
}

func (c *call) onStart(ev protocol.StartEvent) {
	if state := c.sess.State(); state != session.StateIdle {
		c.logger().Warn("ignoring repeated start event", "state", state, "stream_id", ev.StreamSID)
		return
	}

	cfg := c.sessionConfig(ev.MediaFormat)
	if err := c.sess.Begin(ev.CallSID, ev.StreamSID, cfg); err != nil {
		c.logger().Warn("start rejected", "error", err)
		return
	}
	c.callLog = c.log.With("call_id", ev.CallSID, "stream_id", ev.StreamSID)
	c.startedAt = time.Now()
	c.stateChanged(session.StateIdle, session.StateStarting)

	log := c.callLog
	c.sup.Go("backend_dialer", func() error { return c.dialBackend(log) })
}

func (c *call) sessionConfig(format protocol.MediaFormat) session.Config {
	codec, ok := protocol.CodecForEncoding(format.Encoding)
	if !ok {
		codec = c.gw.Config.DefaultCodec
		if format.Encoding != "" {
			c.log.Warn("unrecognised caller encoding, using default codec", "encoding", format.Encoding, "codec", codec)
		}
	}
	return session.Config{
		InputCodec:    codec,
		OutputCodec:   codec,
		Voice:         c.gw.Config.Voice,
		Instructions:  c.gw.Config.Instructions,
		TurnDetection: c.gw.Config.TurnDetection,
	}
}

func (c *call) onBackendDialed(res backendDialed) bool {
	if res.err != nil {
		c.failCall(res.err)
		return true
	}

	c.backend = res.conn
	log := c.logger()
	log.Info("backend connected", "elapsed", time.Since(c.startedAt))

	var tools []protocol.ToolDefinition
	if c.gw.Functions != nil {
		tools = c.gw.Functions.Definitions()
	}
	c.toolNames = make(map[string]bool, len(tools))
	for _, t := range tools {
		c.toolNames[t.Name] = true
	}

	conn := res.conn
	c.sup.Go("backend_writer", func() error { return c.writeLoop(conn, c.toBackend) })
	c.sup.Go("backend_reader", func() error { return c.readBackend(conn, log) })
	c.toBackend.enqueue(buildSessionUpdate(c.sess.Config(), tools))
	return false
}

func (c *call) onBackendEvent(ev protocol.RealtimeEvent) bool {
	log := c.logger()
	switch e := ev.(type) {
	case protocol.SessionCreated:
		log.Debug("backend session created", "backend_session_id", e.SessionID)
	case protocol.SessionUpdated:
		if c.sess.State() != session.StateStarting {
			return false
		}
		if !c.setState(session.StateActive) {
			return false
		}
		c.activeAt.Store(time.Now().UnixNano())
		c.gw.Metrics.ObserveBackendConnect(time.Since(c.startedAt))
	case protocol.FunctionCallDone:
		c.dispatchFunctionCall(e, log)
	case protocol.BackendError:
		starting := c.sess.State() == session.StateStarting
		fatal := starting || reliability.IsFatalRealtimeError(e.ErrorType, e.Code)
		c.gw.Metrics.ObserveBackendError(e.ErrorType, e.Code, fatal)
		uerr := &UpstreamProtocolError{ErrorType: e.ErrorType, Code: e.Code, Err: e}
		if fatal {
			log.Error("fatal backend error", "error", uerr, "starting", starting)
			c.failCall(uerr)
			return true
		}
		log.Warn("backend error", "error", uerr, "event_id", e.EventID, "param", e.Param)
	}
	return false
}

func (c *call) setState(to session.State) bool {
	from, err := c.sess.Transition(to)
	if err != nil {
		c.logger().Warn("ignoring state transition", "from", from, "to", to, "error", err)
		return false
	}
	c.stateChanged(from, to)
	return true
}

func (c *call) stateChanged(from, to session.State) {
	c.logger().Info("call state changed", "from", from, "to", to)
	c.gw.Metrics.ObserveSessionEvent(string(to))
	if hook := c.gw.Hooks.StateChange; hook != nil {
		hook(c.sess, from, to)
	}
}

// closeCall is the normal end of a call.
func (c *call) closeCall(reason string) {
	if !c.sess.State().Stopping() {
		c.setState(session.StateClosing)
	}
	c.teardown(reason)
}

// failCall ends the call with a failure. From idle there is no failed
// transition, so the call closes instead and the cause is only logged.
func (c *call) failCall(cause error) {
	log := c.logger()
	from, err := c.sess.Fail(cause)
	switch {
	case err == nil:
		log.Error("call failed", "error", cause)
		c.stateChanged(from, session.StateFailed)
	case errors.Is(err, session.ErrInvalidTransition) && !from.Stopping():
		log.Error("call failed before start", "error", cause)
		c.setState(session.StateClosing)
	}
	c.teardown(failureReason(cause))
}

func failureReason(err error) string {
	var connectErr *UpstreamConnectError
	var protoErr *UpstreamProtocolError
	switch {
	case errors.As(err, &connectErr):
		return "backend unavailable"
	case errors.As(err, &protoErr):
		if protoErr.Code != "" {
			return "backend error: " + protoErr.Code
		}
		return "backend error"
	default:
		return "internal error"
	}
}
