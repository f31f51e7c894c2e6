// Package dashboard serves sync status over HTTP and WebSocket.
//
// Clients can read the current status, trigger a full sync or a single
// calendar sync, and subscribe to a stream of engine events on /ws.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"

	tasksync "github.com/mschirtzinger/caldav-tasks/internal/sync"
)

// MessageType defines the type of dashboard message.
type MessageType string

const (
	// Server to client. The event kinds of the sync engine are forwarded
	// under their own names.
	MessageTypeStatus           MessageType = MessageType(tasksync.EventStatus)
	MessageTypeCalendarSynced   MessageType = MessageType(tasksync.EventCalendarSynced)
	MessageTypeCalendarsChanged MessageType = MessageType(tasksync.EventCalendarsChanged)
	MessageTypeTaskPushed       MessageType = MessageType(tasksync.EventTaskPushed)
	MessageTypeError            MessageType = "error"

	// Client to server.
	MessageTypeSyncNow        MessageType = "sync_now"
	MessageTypeSelectCalendar MessageType = "select_calendar"
)

// Message is the envelope for every WebSocket frame.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// SelectCalendarData is the payload of a select_calendar request.
type SelectCalendarData struct {
	CalendarID string `json:"calendar_id"`
}

// TaskPushedData is the payload of a task_pushed message.
type TaskPushedData struct {
	TaskID string `json:"task_id"`
}

// ErrorData is the payload of an error message.
type ErrorData struct {
	Error string `json:"error"`
}

// Controller is the part of the sync engine the dashboard drives.
type Controller interface {
	Status() tasksync.Status
	SyncAll(ctx context.Context) (*tasksync.CycleResult, error)
	SyncCalendar(ctx context.Context, calendarID string) (*tasksync.TaskStats, error)
}

// Config holds server configuration.
type Config struct {
	// Port to listen on. 0 picks a free port.
	Port int

	// OnSelectCalendar is called for select_calendar requests. Optional.
	OnSelectCalendar func(calendarID string)

	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Port:   8089,
		Logger: log.New(os.Stderr, "[dashboard] ", log.LstdFlags),
	}
}

// Server manages WebSocket connections and broadcasts engine events.
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server
	ctrl     Controller
	onSelect func(string)

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	broadcast chan Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// NewServer creates a dashboard server for ctrl.
func NewServer(ctrl Controller, config *Config) (*Server, error) {
	if ctrl == nil {
		return nil, fmt.Errorf("controller cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[dashboard] ", log.LstdFlags)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:      fmt.Sprintf("127.0.0.1:%d", config.Port),
		ctrl:      ctrl,
		onSelect:  config.OnSelectCalendar,
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Message, 100),
		ctx:       ctx,
		cancel:    cancel,
		logger:    config.Logger,
	}, nil
}

// Start begins serving in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("POST /sync", s.handleSync)
	mux.HandleFunc("POST /calendars/{id}/sync", s.handleCalendarSync)

	// No write timeout: POST /sync answers after a whole cycle.
	s.server = &http.Server{
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go s.broadcastLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Dashboard listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()
	return nil
}

// Stop closes all clients and shuts the server down.
func (s *Server) Stop() error {
	s.logger.Println("Stopping dashboard server")
	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "Server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
	}

	s.wg.Wait()
	s.logger.Println("Dashboard server stopped")
	return nil
}

// Addr returns the listening address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the number of connected WebSocket clients.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// Broadcast queues msg for all clients. It never blocks; a full queue drops
// the message.
func (s *Server) Broadcast(msg Message) {
	select {
	case s.broadcast <- msg:
	case <-s.ctx.Done():
	default:
		s.logger.Println("WARNING: broadcast channel full, dropping message")
	}
}

func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case msg := <-s.broadcast:
			if msg.Timestamp.IsZero() {
				msg.Timestamp = time.Now()
			}
			data, err := json.Marshal(msg)
			if err != nil {
				s.logger.Printf("Failed to marshal message: %v", err)
				continue
			}

			s.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				clients = append(clients, conn)
			}
			s.clientsMu.RUnlock()

			for _, conn := range clients {
				if err := s.write(conn, data); err != nil {
					s.logger.Printf("Failed to send to client: %v", err)
					s.removeClient(conn)
				}
			}
		}
	}
}

func (s *Server) write(conn *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Only local pages may connect.
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	clientCount := len(s.clients)
	s.clientsMu.Unlock()
	s.logger.Printf("Client connected (total: %d)", clientCount)

	// The first frame is always the current status.
	if hello, err := newMessage(MessageTypeStatus, s.ctrl.Status()); err == nil {
		data, _ := json.Marshal(hello)
		_ = s.write(conn, data)
	}

	s.readLoop(conn)
}

func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)

	for {
		_, data, err := conn.Read(s.ctx)
		if err != nil {
			return
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			s.replyError(conn, fmt.Errorf("invalid message: %w", err))
			continue
		}
		s.handleClientMessage(conn, msg)
	}
}

func (s *Server) handleClientMessage(conn *websocket.Conn, msg Message) {
	switch msg.Type {
	case MessageTypeSyncNow:
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if _, err := s.ctrl.SyncAll(s.ctx); err != nil {
				s.logger.Printf("Sync requested by client not run: %v", err)
			}
		}()

	case MessageTypeSelectCalendar:
		var req SelectCalendarData
		if err := json.Unmarshal(msg.Data, &req); err != nil || req.CalendarID == "" {
			s.replyError(conn, errors.New("select_calendar needs a calendar_id"))
			return
		}
		if s.onSelect != nil {
			s.onSelect(req.CalendarID)
		}

	default:
		s.replyError(conn, fmt.Errorf("unknown message type %q", msg.Type))
	}
}

func (s *Server) replyError(conn *websocket.Conn, err error) {
	msg, mErr := newMessage(MessageTypeError, ErrorData{Error: err.Error()})
	if mErr != nil {
		return
	}
	data, _ := json.Marshal(msg)
	_ = s.write(conn, data)
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, exists := s.clients[conn]; exists {
		delete(s.clients, conn)
		clientCount := len(s.clients)
		s.clientsMu.Unlock()

		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.logger.Printf("Client disconnected (total: %d)", clientCount)
	} else {
		s.clientsMu.Unlock()
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	result, err := s.ctrl.SyncAll(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleCalendarSync(w http.ResponseWriter, r *http.Request) {
	stats, err := s.ctrl.SyncCalendar(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	msg := err.Error()
	switch {
	case errors.Is(err, tasksync.ErrSyncInProgress):
		code = http.StatusConflict
	case errors.Is(err, tasksync.ErrOffline):
		code = http.StatusServiceUnavailable
		msg = tasksync.OfflineMessage
	case errors.Is(err, tasksync.ErrCalendarNotFound):
		code = http.StatusNotFound
	}
	writeJSON(w, code, ErrorData{Error: msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
