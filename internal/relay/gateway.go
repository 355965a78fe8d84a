package relay

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cyberguardng/voicegateway/internal/config"
	"github.com/cyberguardng/voicegateway/internal/logging"
	"github.com/cyberguardng/voicegateway/internal/observability"
	"github.com/cyberguardng/voicegateway/internal/protocol"
	"github.com/cyberguardng/voicegateway/internal/session"
)

const (
	legCaller  = "caller"
	legBackend = "backend"

	directionInbound  = "inbound"
	directionOutbound = "outbound"
)

// Config holds the per-process settings every call is started with.
type Config struct {
	RealtimeURL         string
	Model               string
	APIKey              string
	Voice               string
	Instructions        string
	DefaultCodec        string
	TurnDetection       session.TurnDetection
	DialTimeout         time.Duration
	ConnectAttempts     int
	WriteTimeout        time.Duration
	FunctionCallTimeout time.Duration
	QueueSize           int
}

func NewConfig(cfg config.Config) Config {
	return Config{
		RealtimeURL:  cfg.RealtimeURL,
		Model:        cfg.RealtimeModel,
		APIKey:       cfg.OpenAIAPIKey,
		Voice:        cfg.RealtimeVoice,
		Instructions: cfg.RealtimeInstructions,
		DefaultCodec: cfg.AudioCodec,
		TurnDetection: session.TurnDetection{
			Threshold:       cfg.VADThreshold,
			PrefixPadding:   cfg.VADPrefixPadding,
			SilenceDuration: cfg.VADSilenceDuration,
		},
		DialTimeout:         cfg.RealtimeDialTimeout,
		ConnectAttempts:     cfg.RealtimeConnectAttempts,
		WriteTimeout:        cfg.WriteTimeout,
		FunctionCallTimeout: cfg.FunctionCallTimeout,
	}
}

// FunctionHandler answers speech-model function calls.
type FunctionHandler interface {
	Definitions() []protocol.ToolDefinition
	Call(ctx context.Context, name, arguments string) (string, error)
}

// Hooks observe a call from outside. They run on the call's goroutines and
// must return quickly.
type Hooks struct {
	StateChange  func(s *session.CallSession, from, to session.State)
	FrameDropped func(s *session.CallSession, reason string)
}

// Gateway relays telephony media streams to the realtime speech backend.
type Gateway struct {
	Config    Config
	Logger    *slog.Logger
	Metrics   *observability.Metrics
	Registry  *session.Registry
	Functions FunctionHandler
	Dialer    Dialer
	Hooks     Hooks
}

// Serve runs one call on an accepted caller connection and returns when both
// legs are closed. The returned error is the failure cause of a failed call.
func (g *Gateway) Serve(ctx context.Context, caller Conn) error {
	c := g.newCall(ctx, caller)

	unregister := g.Registry.Register(c.sess, func() { c.requestStop("canceled") })
	g.Metrics.AddActiveCalls(1)
	defer func() {
		g.Metrics.AddActiveCalls(-1)
		unregister()
	}()

	return c.run()
}

func (g *Gateway) logger() *slog.Logger {
	if g.Logger == nil {
		return logging.Discard()
	}
	return g.Logger
}

func (g *Gateway) dialer() Dialer {
	if g.Dialer == nil {
		return WebSocketDialer{HandshakeTimeout: g.Config.DialTimeout}
	}
	return g.Dialer
}

// call is the state of one relayed phone call. Fields without a comment are
// owned by the coordinator goroutine.
type call struct {
	gw     *Gateway
	sess   *session.CallSession
	parent context.Context
	ctx    context.Context
	cancel context.CancelFunc
	sup    *supervisor

	// log is shared by every goroutine; callLog adds call identifiers once known.
	log     *slog.Logger
	callLog *slog.Logger

	caller    Conn
	backend   Conn
	toCaller  *outbound
	toBackend *outbound

	events chan any
	dialed chan backendDialed

	stop       chan struct{}
	stopOnce   sync.Once
	stopReason string

	teardownOnce sync.Once
	startedAt    time.Time
	toolNames    map[string]bool

	// Read by the backend reader.
	activeAt   atomic.Int64
	firstAudio atomic.Bool
}

func (g *Gateway) newCall(parent context.Context, caller Conn) *call {
	ctx, cancel := context.WithCancel(parent)
	sess := session.NewCallSession()
	log := g.logger().With("session_id", sess.ID)

	queueSize := g.Config.QueueSize
	if queueSize <= 0 {
		queueSize = 64
	}

	c := &call{
		gw:     g,
		sess:   sess,
		parent: parent,
		ctx:    ctx,
		cancel: cancel,
		log:    log,
		caller: caller,
		events: make(chan any, 32),
		dialed: make(chan backendDialed),
		stop:   make(chan struct{}),
	}
	c.sup = &supervisor{log: log, onPanic: c.reportPanic}
	c.toCaller = newOutbound(ctx, legCaller, queueSize)
	c.toBackend = newOutbound(ctx, legBackend, queueSize)
	return c
}

func (c *call) requestStop(reason string) {
	c.stopOnce.Do(func() {
		c.stopReason = reason
		close(c.stop)
	})
}

// post hands an event to the coordinator unless the call is tearing down.
func (c *call) post(ev any) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.ctx.Done():
		return false
	}
}

type callerFrame struct {
	ev protocol.MediaStreamEvent
}

type callerGone struct {
	err error
}

// readCaller decodes inbound telephony frames. Audio is forwarded from here so
// backpressure on the backend leg stalls only this reader.
func (c *call) readCaller() error {
	for {
		msgType, data, err := c.caller.ReadMessage()
		if err != nil {
			c.post(callerGone{err: err})
			return nil
		}
		if msgType != websocket.TextMessage {
			continue
		}

		ev, err := protocol.ParseMediaStreamMessage(data)
		if err != nil {
			perr := &ProtocolError{Err: err}
			c.log.Warn("dropping caller frame", "error", perr)
			c.gw.Metrics.ObserveMessage(legCaller, directionInbound, "invalid")
			continue
		}
		c.gw.Metrics.ObserveMessage(legCaller, directionInbound, eventLabel(ev.EventName()))

		switch e := ev.(type) {
		case protocol.MediaEvent:
			c.sess.Touch()
			c.forwardCallerAudio(e)
		case protocol.MarkEvent:
			c.sess.Touch()
			c.log.Debug("caller mark", "name", e.Name)
		case protocol.ConnectedEvent:
			c.log.Debug("caller connected", "protocol", e.Protocol, "version", e.Version)
		case protocol.UnknownEvent:
			c.log.Debug("ignoring caller event", "event", e.Event)
		default:
			if !c.post(callerFrame{ev: ev}) {
				return nil
			}
		}
	}
}

func eventLabel(name protocol.EventName) string {
	switch name {
	case protocol.EventConnected, protocol.EventStart, protocol.EventMedia, protocol.EventStop, protocol.EventMark:
		return string(name)
	default:
		return "unknown"
	}
}
