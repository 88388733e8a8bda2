// Package server serves the live preview: a WebSocket hub mirroring bus
// events, a JSON state endpoint and a PNG snapshot of the strip.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"ledstrip-controller/internal/config"
	"ledstrip-controller/internal/core"
	"ledstrip-controller/internal/framebuffer"
	"ledstrip-controller/internal/preview"
	"ledstrip-controller/internal/profile"
	"ledstrip-controller/internal/protocol"
	"ledstrip-controller/internal/scheduler"
)

// Sources are the read-only views the server shows to clients. Any
// function may be nil.
type Sources struct {
	Profile   *profile.Profile
	State     func() core.State
	Frame     func() []framebuffer.Color
	Patterns  func() ([]string, error)
	Schedules func() map[cron.EntryID]scheduler.ScheduleEntry
}

// Server manages the HTTP and WebSocket services.
type Server struct {
	Hub        *Hub
	commands   core.CommandChannel
	eventBus   *core.EventBus
	events     core.Subscriber
	src        Sources
	httpServer *http.Server

	staticFilesDir string
	allowedOrigins []string
	upgrader       websocket.Upgrader
}

var hubEvents = []core.EventType{
	core.LinkStatusEvent,
	core.AckEvent,
	core.FrameShownEvent,
	core.DeviceLogEvent,
	core.PatternChangedEvent,
}

// NewServer creates a new server instance and starts its hub.
func NewServer(cfg config.ServerConfig, commands core.CommandChannel, eb *core.EventBus, src Sources) *Server {
	hub := NewHub()
	go hub.Run()

	s := &Server{
		Hub:            hub,
		commands:       commands,
		eventBus:       eb,
		src:            src,
		staticFilesDir: cfg.StaticDir,
		allowedOrigins: cfg.AllowedOrigins,
	}

	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			if len(s.allowedOrigins) == 0 {
				log.Warn().Str("component", "ws").Msg("WebSocket CheckOrigin is disabled")
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range s.allowedOrigins {
				if strings.EqualFold(origin, allowed) {
					return true
				}
			}
			log.Warn().Str("component", "ws").Str("origin", origin).Msg("WebSocket connection blocked: origin not in allowed list")
			return false
		},
	}

	if eb != nil {
		s.events = eb.Subscribe(hubEvents...)
		go s.forwardEvents()
	}

	s.httpServer = &http.Server{Addr: ":" + cfg.Port, Handler: s.Handler()}

	return s
}

// Handler returns the routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	if info, err := os.Stat(s.staticFilesDir); err == nil && info.IsDir() {
		mux.Handle("/", http.FileServer(http.Dir(s.staticFilesDir)))
	}
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/api/state", s.handleState)
	mux.HandleFunc("/snapshot.png", s.handleSnapshot)
	return mux
}

func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown stops the HTTP server, the event forwarder and the hub.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.events != nil {
		s.eventBus.Unsubscribe(s.events, hubEvents...)
		close(s.events)
		s.events = nil
	}
	s.Hub.Close()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) forwardEvents() {
	for ev := range s.events {
		if msg, ok := eventMessage(ev); ok {
			s.Hub.Broadcast(msg)
		}
	}
}

// stateView is the JSON shape of /api/state.
type stateView struct {
	Connected      bool               `json:"connected"`
	Device         string             `json:"device"`
	RunningPattern string             `json:"runningPattern"`
	Frames         int                `json:"frames"`
	Messages       int                `json:"messages"`
	Errors         int                `json:"errors"`
	LastAck        *protocol.Response `json:"lastAck,omitempty"`
	LastError      string             `json:"lastError,omitempty"`
	Profile        *profile.Profile   `json:"profile,omitempty"`
}

func (s *Server) stateView() stateView {
	v := stateView{Profile: s.src.Profile}
	if s.src.State == nil {
		return v
	}
	st := s.src.State()
	v.Connected = st.IsConnected
	v.Device = st.DeviceName
	v.RunningPattern = st.RunningPattern
	v.Frames = st.Frames
	v.Messages = st.Messages
	v.Errors = st.Errors
	v.LastError = st.LastError
	if st.Messages > 0 {
		ack := st.LastAck
		v.LastAck = &ack
	}
	return v
}

func (s *Server) frame() []string {
	if s.src.Frame == nil {
		return nil
	}
	pixels := s.src.Frame()
	out := make([]string, len(pixels))
	for i, c := range pixels {
		out[i] = c.Hex()
	}
	return out
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.stateView()); err != nil {
		log.Warn().Str("component", "http").Err(err).Msg("Writing state failed")
	}
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.src.Profile == nil || s.src.Frame == nil {
		http.Error(w, "no frame available", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	if err := preview.WritePNG(w, s.src.Profile, s.src.Frame()); err != nil {
		log.Warn().Str("component", "http").Err(err).Msg("Writing snapshot failed")
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Str("component", "ws").Err(err).Msg("WebSocket upgrade error")
		return
	}
	defer conn.Close()

	// Initial state, written before the hub can write to this conn.
	st := s.stateView()
	_ = conn.WriteJSON(NewMessage(MsgProfile, s.src.Profile))
	_ = conn.WriteJSON(NewMessage(MsgLinkStatus, core.LinkStatus{Connected: st.Connected, Device: st.Device}))
	_ = conn.WriteJSON(NewMessage(MsgFrame, core.FrameInfo{Seq: st.Frames, Pixels: s.frame()}))

	if s.src.Patterns != nil {
		if patterns, err := s.src.Patterns(); err == nil {
			_ = conn.WriteJSON(NewMessage(MsgPatternList, patterns))
		}
	}
	_ = conn.WriteJSON(NewMessage(MsgPatternStatus, map[string]string{"running": st.RunningPattern}))

	if s.src.Schedules != nil {
		_ = conn.WriteJSON(NewMessage(MsgScheduleList, s.src.Schedules()))
	}

	if !s.Hub.add(conn) {
		return
	}
	defer s.Hub.remove(conn)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			break
		}
		cmd, err := DecodeCommand(raw)
		if err != nil {
			log.Warn().Str("component", "ws").Err(err).Msg("Ignoring client message")
			continue
		}
		select {
		case s.commands <- cmd:
		case <-r.Context().Done():
			return
		}
	}
}
