package api

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const httpTimeout = 15 * time.Second
const eventsBufferSize = 16
const wsWriteTimeout = 3 * time.Second

type Blind interface {
	Serial() string
	GetName() string
	Position() (current int, target int)
	GetCurrentPosition(ctx context.Context) (int, error)
	SetTargetPosition(ctx context.Context, value interface{}) error
}

type PositionUpdate struct {
	Serial   string    `json:"serial"`
	Name     string    `json:"name"`
	Position int       `json:"position"`
	Source   string    `json:"source"`
	At       time.Time `json:"at"`
}

type BlindStatus struct {
	Serial  string `json:"serial"`
	Name    string `json:"name"`
	Current int    `json:"current"`
	Target  int    `json:"target"`
}

// Server is a small HTTP API over the configured blinds, with a websocket
// feed of mirrored positions.
type Server struct {
	Addr  string
	Token string

	// ErrorStatus maps a blind error to an HTTP status, 502 when nil.
	ErrorStatus func(error) int

	blinds []Blind
	server *http.Server
	logger *log.Logger

	upgrader    websocket.Upgrader
	lock        sync.Mutex
	subscribers map[chan PositionUpdate]struct{}
	serverErr   chan error
}

func NewServer(addr string, token string, blinds []Blind) *Server {
	return &Server{
		Addr:        addr,
		Token:       token,
		blinds:      blinds,
		subscribers: make(map[chan PositionUpdate]struct{}),
		logger: log.NewWithOptions(os.Stderr, log.Options{
			Prefix: "Api: ",
			Level:  log.GetLevel(),
		}),
	}
}

func (s *Server) Handler() http.Handler {
	router := httprouter.New()
	router.GET("/blinds", s.authorized(s.handleList))
	router.GET("/blinds/:serial/position", s.authorized(s.handleGetPosition))
	router.PUT("/blinds/:serial/position/:value", s.authorized(s.handleSetPosition))
	router.GET("/events", s.authorized(s.handleEvents))
	router.Handler(http.MethodGet, "/metrics", promhttp.Handler())
	return router
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.Addr,
		Handler:           s.Handler(),
		ReadTimeout:       httpTimeout,
		ReadHeaderTimeout: httpTimeout,
		IdleTimeout:       2 * httpTimeout,
	}
	s.serverErr = make(chan error, 1)

	go func() {
		err := s.server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error("api server stopped", "err", err)
		}
		s.serverErr <- err
	}()
	s.logger.Info("api listening", "addr", s.Addr)
	return nil
}

func (s *Server) Close() error {
	s.lock.Lock()
	for ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, ch)
	}
	s.lock.Unlock()

	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), httpTimeout)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// Broadcast never blocks, slow websocket clients lose updates.
func (s *Server) Broadcast(update PositionUpdate) {
	s.lock.Lock()
	defer s.lock.Unlock()

	for ch := range s.subscribers {
		select {
		case ch <- update:
		default:
			s.logger.Warn("events subscriber too slow, dropping update", "serial", update.Serial)
		}
	}
}

func (s *Server) subscribe() chan PositionUpdate {
	ch := make(chan PositionUpdate, eventsBufferSize)
	s.lock.Lock()
	s.subscribers[ch] = struct{}{}
	s.lock.Unlock()
	return ch
}

func (s *Server) unsubscribe(ch chan PositionUpdate) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if _, found := s.subscribers[ch]; found {
		delete(s.subscribers, ch)
		close(ch)
	}
}

func (s *Server) authorized(handle httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if len(s.Token) > 0 {
			token := r.URL.Query().Get("token")
			if len(token) == 0 {
				token = r.Header.Get("X-Token")
			}
			if token != s.Token {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		handle(w, r, ps)
	}
}

func (s *Server) findBlind(serial string) Blind {
	for _, blind := range s.blinds {
		if blind.Serial() == serial {
			return blind
		}
	}
	return nil
}

func (s *Server) errorStatus(err error) int {
	if s.ErrorStatus != nil {
		return s.ErrorStatus(err)
	}
	return http.StatusBadGateway
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	list := []BlindStatus{}
	for _, blind := range s.blinds {
		current, target := blind.Position()
		list = append(list, BlindStatus{
			Serial:  blind.Serial(),
			Name:    blind.GetName(),
			Current: current,
			Target:  target,
		})
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetPosition(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	blind := s.findBlind(ps.ByName("serial"))
	if blind == nil {
		http.Error(w, "blind not found", http.StatusNotFound)
		return
	}

	pos, err := blind.GetCurrentPosition(r.Context())
	if err != nil {
		http.Error(w, err.Error(), s.errorStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"position": pos})
}

func (s *Server) handleSetPosition(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	blind := s.findBlind(ps.ByName("serial"))
	if blind == nil {
		http.Error(w, "blind not found", http.StatusNotFound)
		return
	}

	err := blind.SetTargetPosition(r.Context(), ps.ByName("value"))
	if err != nil {
		http.Error(w, err.Error(), s.errorStatus(err))
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	updates := s.subscribe()
	defer s.unsubscribe(updates)

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case update, ok := <-updates:
			if !ok {
				conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(wsWriteTimeout))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(update); err != nil {
				s.logger.Debug("websocket write failed", "err", err)
				return
			}
		}
	}
}
