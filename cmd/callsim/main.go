// Command callsim dials the gateway the way Twilio does: it fetches the TwiML
// for a synthetic inbound call, opens the media stream it points at, plays a
// mu-law clip in 20 ms frames and reports what the gateway sent back.
package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"encoding/xml"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/cyberguardng/voicegateway/internal/audio"
	"github.com/cyberguardng/voicegateway/internal/protocol"
)

type options struct {
	baseURL    string
	streamURL  string
	callSid    string
	wavPath    string
	recordPath string
	silence    time.Duration
	realtime   float64
	listen     time.Duration
	timeout    time.Duration
	verbose    bool
}

type streamTarget struct {
	URL    string
	CallID string
}

// Inbound frames as the telephony platform sends them.
type wireStart struct {
	Event     string        `json:"event"`
	StreamSID string        `json:"streamSid"`
	Start     wireStartBody `json:"start"`
}

type wireStartBody struct {
	StreamSID        string               `json:"streamSid"`
	CallSID          string               `json:"callSid"`
	Tracks           []string             `json:"tracks"`
	MediaFormat      protocol.MediaFormat `json:"mediaFormat"`
	CustomParameters map[string]string    `json:"customParameters"`
}

type wireMedia struct {
	Event     string        `json:"event"`
	StreamSID string        `json:"streamSid"`
	Media     wireMediaBody `json:"media"`
}

type wireMediaBody struct {
	Track     string `json:"track"`
	Chunk     string `json:"chunk"`
	Timestamp string `json:"timestamp"`
	Payload   string `json:"payload"`
}

type wireStop struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid"`
}

type outboundEnvelope struct {
	Event string `json:"event"`
	Media *struct {
		Payload string `json:"payload"`
	} `json:"media"`
}

type twiml struct {
	Connect struct {
		Stream struct {
			URL        string `xml:"url,attr"`
			Parameters []struct {
				Name  string `xml:"name,attr"`
				Value string `xml:"value,attr"`
			} `xml:"Parameter"`
		} `xml:"Stream"`
	} `xml:"Connect"`
}

// report collects what the gateway played back.
type report struct {
	mu             sync.Mutex
	firstMediaSent time.Time
	firstAudioAt   time.Time
	framesSent     int
	mediaFrames    int
	clears         int
	received       []byte
	closeCode      int
	closeText      string
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "callsim: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "callsim: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var cfg options
	var silenceMS, listenMS, timeoutMS int

	flag.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "gateway base URL")
	flag.StringVar(&cfg.streamURL, "stream-url", "", "media stream URL (default: taken from the TwiML webhook)")
	flag.StringVar(&cfg.callSid, "call-sid", "", "CallSid for the synthetic call (default: random)")
	flag.StringVar(&cfg.wavPath, "wav", "", "16-bit PCM WAV clip to play (default: silence)")
	flag.StringVar(&cfg.recordPath, "record", "", "write the audio played back by the gateway to this WAV file")
	flag.IntVar(&silenceMS, "silence-ms", 1000, "silence played when no -wav is given, in milliseconds")
	flag.Float64Var(&cfg.realtime, "realtime", 1.0, "frame pacing multiplier (1.0=realtime, 2.0=2x)")
	flag.IntVar(&listenMS, "listen-ms", 5000, "how long to keep listening after the clip ends, in milliseconds")
	flag.IntVar(&timeoutMS, "timeout-ms", 60000, "overall timeout in milliseconds")
	flag.BoolVar(&cfg.verbose, "verbose", true, "print progress")
	flag.Parse()

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" && strings.TrimSpace(cfg.streamURL) == "" {
		return options{}, fmt.Errorf("base-url or stream-url is required")
	}
	if cfg.realtime <= 0 {
		return options{}, fmt.Errorf("realtime must be > 0")
	}
	if silenceMS < 20 {
		silenceMS = 20
	}
	if listenMS < 0 {
		listenMS = 0
	}
	if timeoutMS < 1000 {
		timeoutMS = 1000
	}
	if strings.TrimSpace(cfg.callSid) == "" {
		cfg.callSid = "CA" + strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	cfg.silence = time.Duration(silenceMS) * time.Millisecond
	cfg.listen = time.Duration(listenMS) * time.Millisecond
	cfg.timeout = time.Duration(timeoutMS) * time.Millisecond
	return cfg, nil
}

func run(cfg options) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.timeout)
	defer cancel()

	target := streamTarget{URL: strings.TrimSpace(cfg.streamURL), CallID: cfg.callSid}
	if target.URL == "" {
		t, err := fetchStreamTarget(ctx, &http.Client{Timeout: 15 * time.Second}, cfg.baseURL, cfg.callSid)
		if err != nil {
			return fmt.Errorf("fetch twiml: %w", err)
		}
		target = t
		target.URL = localStreamURL(target.URL, cfg.baseURL)
	}

	clip, err := loadClip(cfg.wavPath, cfg.silence)
	if err != nil {
		return fmt.Errorf("load clip: %w", err)
	}
	frames := splitFrames(clip)
	if cfg.verbose {
		fmt.Printf("callsim: call=%s stream=%s frames=%d\n", target.CallID, target.URL, len(frames))
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, target.URL, nil)
	if err != nil {
		return fmt.Errorf("open media stream: %w", err)
	}
	defer conn.Close()

	rep := &report{}
	done := make(chan struct{})
	go func() {
		defer close(done)
		readLoop(conn, rep)
	}()

	streamSid := "MZ" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := sendStart(conn, streamSid, target); err != nil {
		return fmt.Errorf("send start: %w", err)
	}
	if err := sendFrames(ctx, conn, streamSid, frames, cfg.realtime, rep, done); err != nil {
		return fmt.Errorf("send media: %w", err)
	}

	select {
	case <-done:
	case <-time.After(cfg.listen):
	case <-ctx.Done():
	}
	if err := conn.WriteJSON(wireStop{Event: string(protocol.EventStop), StreamSID: streamSid}); err == nil {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
		case <-ctx.Done():
		}
	}

	rep.print(os.Stdout)
	if cfg.recordPath != "" {
		rep.mu.Lock()
		pcm := audio.MulawDecode(rep.received)
		rep.mu.Unlock()
		if err := audio.WriteWAVPCM16LEFile(cfg.recordPath, pcm, audio.TelephonySampleRate); err != nil {
			return fmt.Errorf("write recording: %w", err)
		}
		if cfg.verbose {
			fmt.Printf("callsim: recording written to %s\n", cfg.recordPath)
		}
	}
	return nil
}

func fetchStreamTarget(ctx context.Context, client *http.Client, baseURL, callSid string) (streamTarget, error) {
	form := url.Values{"CallSid": {callSid}, "From": {"+15550000000"}, "To": {"+15550000001"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/voice/incoming", strings.NewReader(form.Encode()))
	if err != nil {
		return streamTarget{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	res, err := client.Do(req)
	if err != nil {
		return streamTarget{}, err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return streamTarget{}, err
	}
	if res.StatusCode != http.StatusOK {
		return streamTarget{}, fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return parseStreamTarget(body)
}

func parseStreamTarget(body []byte) (streamTarget, error) {
	var doc twiml
	if err := xml.Unmarshal(body, &doc); err != nil {
		return streamTarget{}, err
	}
	out := streamTarget{URL: strings.TrimSpace(doc.Connect.Stream.URL)}
	if out.URL == "" {
		return streamTarget{}, errors.New("twiml has no stream url")
	}
	for _, p := range doc.Connect.Stream.Parameters {
		if p.Name == "callId" {
			out.CallID = p.Value
		}
	}
	return out, nil
}

// localStreamURL downgrades wss to ws when the gateway itself is plain http,
// so a local run does not need TLS.
func localStreamURL(streamURL, baseURL string) string {
	base, err := url.Parse(baseURL)
	if err != nil || !strings.EqualFold(base.Scheme, "http") {
		return streamURL
	}
	u, err := url.Parse(streamURL)
	if err != nil || !strings.EqualFold(u.Scheme, "wss") || !strings.EqualFold(u.Host, base.Host) {
		return streamURL
	}
	u.Scheme = "ws"
	return u.String()
}

func loadClip(path string, silence time.Duration) ([]byte, error) {
	if strings.TrimSpace(path) == "" {
		n := int(silence.Milliseconds()) * audio.TelephonySampleRate / 1000
		return bytes.Repeat([]byte{0xFF}, n), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pcm, rate, err := audio.DecodeWAVPCM16(data)
	if err != nil {
		return nil, err
	}
	return audio.MulawEncode(audio.Resample(pcm, rate, audio.TelephonySampleRate)), nil
}

// splitFrames cuts mu-law audio into 20 ms frames; a short tail is padded
// with silence.
func splitFrames(ulaw []byte) [][]byte {
	var frames [][]byte
	for off := 0; off < len(ulaw); off += audio.FrameBytes {
		end := off + audio.FrameBytes
		if end <= len(ulaw) {
			frames = append(frames, ulaw[off:end])
			continue
		}
		frame := bytes.Repeat([]byte{0xFF}, audio.FrameBytes)
		copy(frame, ulaw[off:])
		frames = append(frames, frame)
	}
	return frames
}

func sendStart(conn *websocket.Conn, streamSid string, target streamTarget) error {
	msg := wireStart{
		Event:     string(protocol.EventStart),
		StreamSID: streamSid,
		Start: wireStartBody{
			StreamSID:        streamSid,
			CallSID:          target.CallID,
			Tracks:           []string{"inbound"},
			MediaFormat:      protocol.MediaFormat{Encoding: "audio/x-mulaw", SampleRate: audio.TelephonySampleRate, Channels: 1},
			CustomParameters: map[string]string{"callId": target.CallID},
		},
	}
	return conn.WriteJSON(msg)
}

func sendFrames(ctx context.Context, conn *websocket.Conn, streamSid string, frames [][]byte, realtime float64, rep *report, done <-chan struct{}) error {
	step := time.Duration(float64(20*time.Millisecond) / realtime)
	ticker := time.NewTicker(step)
	defer ticker.Stop()

	for i, frame := range frames {
		msg := wireMedia{
			Event:     string(protocol.EventMedia),
			StreamSID: streamSid,
			Media: wireMediaBody{
				Track:     "inbound",
				Chunk:     fmt.Sprint(i + 1),
				Timestamp: fmt.Sprint(i * 20),
				Payload:   base64.StdEncoding.EncodeToString(frame),
			},
		}
		if err := conn.WriteJSON(msg); err != nil {
			return err
		}
		rep.sent()

		select {
		case <-ticker.C:
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func readLoop(conn *websocket.Conn, rep *report) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				rep.closed(closeErr.Code, closeErr.Text)
			}
			return
		}
		var env outboundEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		switch protocol.EventName(env.Event) {
		case protocol.EventMedia:
			if env.Media == nil {
				continue
			}
			payload, err := base64.StdEncoding.DecodeString(env.Media.Payload)
			if err != nil {
				continue
			}
			rep.media(payload)
		case protocol.EventClear:
			rep.clear()
		}
	}
}

func (r *report) sent() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.framesSent == 0 {
		r.firstMediaSent = time.Now()
	}
	r.framesSent++
}

func (r *report) media(payload []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mediaFrames == 0 {
		r.firstAudioAt = time.Now()
	}
	r.mediaFrames++
	r.received = append(r.received, payload...)
}

func (r *report) clear() {
	r.mu.Lock()
	r.clears++
	r.mu.Unlock()
}

func (r *report) closed(code int, text string) {
	r.mu.Lock()
	r.closeCode = code
	r.closeText = text
	r.mu.Unlock()
}

func (r *report) print(w io.Writer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	firstAudio := "n/a"
	if !r.firstAudioAt.IsZero() && !r.firstMediaSent.IsZero() {
		firstAudio = r.firstAudioAt.Sub(r.firstMediaSent).Round(time.Millisecond).String()
	}
	fmt.Fprintf(w, "callsim: frames_sent=%d media_received=%d audio_ms=%d clears=%d first_audio=%s close=%d %q\n",
		r.framesSent, r.mediaFrames, len(r.received)*1000/audio.TelephonySampleRate, r.clears, firstAudio, r.closeCode, r.closeText)
}
