package relay

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/cyberguardng/voicegateway/internal/session"
)

const (
	closeWriteTimeout = time.Second
	maxCloseReason    = 120
)

// supervisor owns a call's goroutines. A panic in any of them is recovered
// and reported so the call fails instead of the process.
type supervisor struct {
	group   errgroup.Group
	log     *slog.Logger
	onPanic func(err error)
}

func (s *supervisor) Go(name string, fn func() error) {
	s.group.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%s panicked: %v", name, r)
				s.log.Error("recovered panic", "goroutine", name, "panic", r, "stack", string(debug.Stack()))
				if s.onPanic != nil {
					s.onPanic(err)
				}
			}
		}()
		return fn()
	})
}

func (s *supervisor) Wait() error {
	return s.group.Wait()
}

type goroutinePanicked struct {
	err error
}

func (c *call) reportPanic(err error) {
	c.post(goroutinePanicked{err: err})
}

// teardown closes both legs and waits for every call goroutine. It runs at
// most once, on the coordinator goroutine.
func (c *call) teardown(reason string) {
	c.teardownOnce.Do(func() {
		log := c.logger()
		failed := c.sess.State() == session.StateFailed

		c.cancel()
		if c.backend != nil {
			if err := c.backend.Close(); err != nil {
				log.Debug("close backend", "error", &TeardownError{Leg: legBackend, Err: err})
			}
		}

		code := websocket.CloseNormalClosure
		if failed {
			code = websocket.CloseInternalServerErr
		}
		if len(reason) > maxCloseReason {
			reason = reason[:maxCloseReason]
		}
		msg := websocket.FormatCloseMessage(code, reason)
		if err := c.caller.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteTimeout)); err != nil {
			log.Debug("send caller close frame", "error", &TeardownError{Leg: legCaller, Err: err})
		}
		if err := c.caller.Close(); err != nil {
			log.Debug("close caller", "error", &TeardownError{Leg: legCaller, Err: err})
		}

		if err := c.sup.Wait(); err != nil {
			log.Debug("call goroutines exited with error", "error", err)
		}
		c.setState(session.StateClosed)
		log.Info("call ended", "reason", reason, "duration", time.Since(c.sess.CreatedAt))
	})
}
