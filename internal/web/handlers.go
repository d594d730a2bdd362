package web

import (
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/flybot/flybot/internal/debug"
	"github.com/flybot/flybot/internal/params"
	"github.com/flybot/flybot/internal/telemetry"
)

const (
	maxFormBytes     = 4 << 10
	maxSocketMessage = 512
	socketBufferSize = 1024
)

// FlushFunc persists the parameter store after a change.
type FlushFunc func() error

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster *StatusBroadcaster
	Store       *params.Store
	State       *telemetry.Snapshot
	Flush       FlushFunc
	Session     uuid.UUID
	staticFS    fs.FS
	upgrader    websocket.Upgrader
}

// NewHandlers creates handlers with the given dependencies.
// If flush is nil, parameter changes are kept in memory only.
func NewHandlers(broadcaster *StatusBroadcaster, store *params.Store, state *telemetry.Snapshot, flush FlushFunc, staticFS fs.FS) *Handlers {
	return &Handlers{
		Broadcaster: broadcaster,
		Store:       store,
		State:       state,
		Flush:       flush,
		Session:     uuid.New(),
		staticFS:    staticFS,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  socketBufferSize,
			WriteBufferSize: socketBufferSize,
		},
	}
}

// StateResponse is the body of GET /state.
type StateResponse struct {
	telemetry.State
	Session string `json:"session"`
}

// HandleState returns the latest telemetry snapshot as JSON.
func (h *Handlers) HandleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StateResponse{State: h.State.Load(), Session: h.Session.String()})
}

// HandleConfig returns every parameter as name -> value.
func (h *Handlers) HandleConfig(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]json.Number)
	for name, v := range h.Store.Values() {
		out[name] = json.Number(v.String())
	}
	writeJSON(w, http.StatusOK, out)
}

// SetResponse reports the outcome of a parameter change.
type SetResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// HandleConfigValue handles POST /config_value with form fields key and value.
func (h *Handlers) HandleConfigValue(w http.ResponseWriter, r *http.Request) {
	key, ok := h.formKey(w, r)
	if !ok {
		return
	}
	h.respondSet(w, h.setParam(key, r.PostFormValue("value")))
}

// HandleConfigRestore handles POST /config_restore with form field key.
func (h *Handlers) HandleConfigRestore(w http.ResponseWriter, r *http.Request) {
	key, ok := h.formKey(w, r)
	if !ok {
		return
	}
	err := h.Store.Restore(key)
	if err == nil {
		debug.Info("param %s restored to default", key)
		err = h.flush()
	}
	h.respondSet(w, err)
}

func (h *Handlers) formKey(w http.ResponseWriter, r *http.Request) (string, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return "", false
	}
	key := strings.TrimSpace(r.PostFormValue("key"))
	if key == "" {
		http.Error(w, "key is required", http.StatusBadRequest)
		return "", false
	}
	return key, true
}

func (h *Handlers) respondSet(w http.ResponseWriter, err error) {
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, params.ErrUnknownParam) {
			status = http.StatusNotFound
		}
		writeJSON(w, status, SetResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, SetResponse{Success: true})
}

// setParam applies one change from the telemetry interface and flushes it.
func (h *Handlers) setParam(key, value string) error {
	if err := h.Store.SetString(key, value); err != nil {
		debug.Warn("param %s: %v", key, err)
		return err
	}
	debug.Info("param %s = %s", key, value)
	return h.flush()
}

func (h *Handlers) flush() error {
	if h.Flush == nil {
		return nil
	}
	return h.Flush()
}

// ServeIndex serves the main HTML page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

type helloMessage struct {
	Type    string `json:"type"`
	Session string `json:"session"`
}

// stateMessage is the compact state sent over the socket: m* measured
// attitude, r* remote commands, a armed.
type stateMessage struct {
	Type  string  `json:"type"`
	Roll  float64 `json:"mr"`
	Pitch float64 `json:"mp"`
	Yaw   float64 `json:"my"`
	RCR   float64 `json:"rr"`
	RCP   float64 `json:"rp"`
	RCY   float64 `json:"ry"`
	RCT   float64 `json:"rt"`
	Armed bool    `json:"a"`
}

type setMessage struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
}

type echoMessage struct {
	Type string `json:"type"`
	Data string `json:"d"`
}

// HandleWebSocket serves GET /ws. Each text message gets one reply:
//
//	state          -> {"type":"state",...}
//	set <key> <v>  -> {"type":"set","success":...}
//	anything else  -> {"type":"echo","d":...}
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		debug.Live("websocket upgrade: %v", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxSocketMessage)

	if err := conn.WriteJSON(helloMessage{Type: "hello", Session: h.Session.String()}); err != nil {
		return
	}
	debug.Live("websocket client %s connected", r.RemoteAddr)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				debug.Live("websocket read: %v", err)
			}
			return
		}
		conn.SetWriteDeadline(time.Now().Add(time.Second))
		if err := conn.WriteJSON(h.socketReply(string(data))); err != nil {
			return
		}
	}
}

func (h *Handlers) socketReply(msg string) any {
	cmd := strings.TrimSpace(msg)
	switch {
	case cmd == "state":
		s := h.State.Load()
		return stateMessage{
			Type:  "state",
			Roll:  s.Roll,
			Pitch: s.Pitch,
			Yaw:   s.Yaw,
			RCR:   s.RCRoll,
			RCP:   s.RCPitch,
			RCY:   s.RCYaw,
			RCT:   s.RCThrottle,
			Armed: s.Armed,
		}
	case strings.HasPrefix(cmd, "set "):
		fields := strings.Fields(cmd)
		ok := len(fields) == 3 && h.setParam(fields[1], fields[2]) == nil
		return setMessage{Type: "set", Success: ok}
	default:
		return echoMessage{Type: "echo", Data: msg}
	}
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	// Send initial comment to establish connection
	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	// Heartbeat while idle
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
