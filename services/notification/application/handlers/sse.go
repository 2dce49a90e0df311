package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-contrib/sse"

	"github.com/ghuser/notifyhub/services/notification/domain/models"
)

const (
	eventConnected    = "connected"
	eventNotification = "notification"
)

var keepaliveComment = []byte(": keepalive\n\n")

// sseSink writes event-stream frames to an HTTP response, flushing after
// every frame. Each write gets its own deadline so a stalled client
// surfaces as os.ErrDeadlineExceeded instead of blocking forever.
type sseSink struct {
	w            io.Writer
	rc           *http.ResponseController
	writeTimeout time.Duration
}

func newSSESink(w http.ResponseWriter, writeTimeout time.Duration) *sseSink {
	return &sseSink{w: w, rc: http.NewResponseController(w), writeTimeout: writeTimeout}
}

// WriteConnected sends the initial handshake frame. It carries no id so it
// never becomes a client's Last-Event-ID.
func (s *sseSink) WriteConnected() error {
	return s.event(sse.Event{Event: eventConnected, Data: `{"status":"connected"}`})
}

func (s *sseSink) WriteEnvelope(env models.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return s.event(sse.Event{Id: env.ID, Event: eventNotification, Data: string(data)})
}

func (s *sseSink) WriteKeepalive() error {
	return s.frame(keepaliveComment)
}

// event encodes into a buffer first; the encoder drops write errors.
func (s *sseSink) event(ev sse.Event) error {
	var buf bytes.Buffer
	if err := sse.Encode(&buf, ev); err != nil {
		return err
	}
	return s.frame(buf.Bytes())
}

func (s *sseSink) frame(b []byte) error {
	if s.writeTimeout > 0 {
		if err := s.rc.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil && !errors.Is(err, http.ErrNotSupported) {
			return err
		}
	}
	if _, err := s.w.Write(b); err != nil {
		return err
	}
	return s.rc.Flush()
}
