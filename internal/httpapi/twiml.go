package httpapi

import (
	"encoding/xml"
	"net/http"
	"strings"
)

type twimlResponse struct {
	XMLName xml.Name     `xml:"Response"`
	Connect twimlConnect `xml:"Connect"`
}

type twimlConnect struct {
	Stream twimlStream `xml:"Stream"`
}

type twimlStream struct {
	URL        string           `xml:"url,attr"`
	Parameters []twimlParameter `xml:"Parameter"`
}

type twimlParameter struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// handleIncomingCall answers a Twilio voice webhook by connecting the call
// to the media stream endpoint.
func (s *Server) handleIncomingCall(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	stream := twimlStream{URL: s.streamURL(r)}
	if callSid := strings.TrimSpace(r.PostForm.Get("CallSid")); callSid != "" {
		stream.Parameters = append(stream.Parameters, twimlParameter{Name: "callId", Value: callSid})
	}

	body, err := xml.Marshal(twimlResponse{Connect: twimlConnect{Stream: stream}})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	s.logger().Info("incoming call", "call_sid", r.PostForm.Get("CallSid"), "stream_url", stream.URL)

	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(xml.Header))
	_, _ = w.Write(body)
}

func (s *Server) streamURL(r *http.Request) string {
	if u := strings.TrimSpace(s.cfg.PublicStreamURL); u != "" {
		return u
	}
	return "wss://" + r.Host + s.mediaStreamPath()
}
