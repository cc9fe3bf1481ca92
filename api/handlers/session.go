package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/meghashyamc/placefinder/cache"
	"github.com/meghashyamc/placefinder/clock"
	"github.com/meghashyamc/placefinder/db/kvdb"
	"github.com/meghashyamc/placefinder/logger"
	"github.com/meghashyamc/placefinder/metrics"
	"github.com/meghashyamc/placefinder/provider"
	"github.com/meghashyamc/placefinder/services/geolocation"
	"github.com/meghashyamc/placefinder/services/search"
	"github.com/meghashyamc/placefinder/validation"
)

const (
	defaultPositionTimeout = 30 * time.Second
	defaultField           = "default"

	maxMessageSize = 4096
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	writeWait      = 10 * time.Second

	positionErrorPermissionDenied = "permission_denied"
)

// Inbound message types.
const (
	messageQuery         = "query"
	messageDetect        = "detect"
	messageRetry         = "retry"
	messageSkip          = "skip"
	messagePosition      = "position"
	messagePositionError = "position_error"
	messagePing          = "ping"
)

// Outbound message types.
const (
	messageSession         = "session"
	messageResults         = "results"
	messagePositionRequest = "position_request"
	messageLocation        = "location"
	messagePrompt          = "prompt"
	messageError           = "error"
	messagePong            = "pong"
)

type SessionConfig struct {
	Coordinator     *search.Coordinator
	Geocoder        provider.CoordinateResolver
	Locations       *kvdb.LocationMemory
	LocationTTL     time.Duration
	PositionTimeout time.Duration
	Clock           clock.Clock
	Metrics         *metrics.Metrics
}

type inboundMessage struct {
	Type      string   `json:"type"`
	Field     string   `json:"field,omitempty"`
	Text      string   `json:"text,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	Code      string   `json:"code,omitempty"`
}

type outboundMessage struct {
	Type        string               `json:"type"`
	SessionID   string               `json:"session_id,omitempty"`
	Field       string               `json:"field,omitempty"`
	Generation  uint64               `json:"generation,omitempty"`
	SourceQuery string               `json:"source_query,omitempty"`
	Fallback    bool                 `json:"fallback,omitempty"`
	Items       []provider.Candidate `json:"items,omitempty"`
	City        string               `json:"city,omitempty"`
	Kind        string               `json:"kind,omitempty"`
	Actions     []string             `json:"actions,omitempty"`
	Message     string               `json:"message,omitempty"`
}

type SessionRequest struct {
	Session string `form:"session" json:"session" validate:"omitempty,valid_session"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// SetupSession serves /ws. Each connection is one portal page: it owns its own
// location resolver and one search field per input box.
func SetupSession(router *gin.Engine, logger logger.Logger, cfg SessionConfig, validator *validation.Validator) {
	if cfg.PositionTimeout <= 0 {
		cfg.PositionTimeout = defaultPositionTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	router.GET("/ws", handleSession(cfg, logger, validator))
}

func handleSession(cfg SessionConfig, logger logger.Logger, validator *validation.Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		request := SessionRequest{}
		if err := c.ShouldBindQuery(&request); err != nil {
			logger.Warn("could not extract expected params from session request", "err", err.Error())
			c.Abort()
			writeResponse(c, nil, http.StatusUnprocessableEntity, []string{"failed to extract request query parameters"})
			return
		}

		if err := validator.Validate(request); err != nil {
			logger.Warn("could not validate session request", "err", err.Error())
			c.Abort()
			writeResponse(c, nil, http.StatusNotAcceptable, []string{err.Error()})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("could not upgrade session connection", "err", err.Error())
			return
		}

		sessionID := request.Session
		if sessionID == "" {
			sessionID = uuid.NewString()
		}

		s := newSession(sessionID, conn, cfg, logger)
		s.serve()
	}
}

type positionReply struct {
	coordinate geolocation.Coordinate
	err        error
}

type session struct {
	id     string
	conn   *websocket.Conn
	cfg    SessionConfig
	logger logger.Logger

	ctx    context.Context
	cancel context.CancelFunc

	writeMu sync.Mutex

	fieldsMu sync.Mutex
	fields   map[string]*search.Field

	resolver  *geolocation.Resolver
	positions chan positionReply
}

func newSession(id string, conn *websocket.Conn, cfg SessionConfig, logger logger.Logger) *session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		id:        id,
		conn:      conn,
		cfg:       cfg,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		fields:    make(map[string]*search.Field),
		positions: make(chan positionReply, 1),
	}

	locations := cache.NewMemory[geolocation.Resolution](cache.Options{
		Name:    "location",
		TTL:     cfg.LocationTTL,
		Clock:   cfg.Clock,
		Metrics: cfg.Metrics,
	})
	s.resolver = geolocation.New(logger, s, cfg.Geocoder, s, locations, geolocation.Options{
		Clock:      cfg.Clock,
		Metrics:    cfg.Metrics,
		OnResolved: s.remember,
	})
	return s
}

func (s *session) serve() {
	defer s.close()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go s.keepAlive()

	s.send(outboundMessage{Type: messageSession, SessionID: s.id})
	s.logger.Info("portal session opened", "session", s.id)

	for {
		_, reader, err := s.conn.NextReader()
		if err != nil {
			s.logger.Debug("portal session closed", "session", s.id, "err", err.Error())
			return
		}
		// Any decode failure is confined to this frame; a broken connection
		// surfaces on the next NextReader call.
		var msg inboundMessage
		if err := json.NewDecoder(reader).Decode(&msg); err != nil {
			s.logger.Debug("malformed portal message", "session", s.id, "err", err.Error())
			s.send(outboundMessage{Type: messageError, Message: "malformed message"})
			continue
		}
		s.handle(msg)
	}
}

func (s *session) handle(msg inboundMessage) {
	switch msg.Type {
	case messagePing:
		s.send(outboundMessage{Type: messagePong})

	case messageQuery:
		s.field(msg.Field).Query(msg.Text)

	case messageDetect:
		go s.detect(s.resolver.ResolveCurrentCity)

	case messageRetry:
		go s.detect(s.resolver.Retry)

	case messageSkip:
		s.resolver.Skip()

	case messagePosition:
		if msg.Latitude == nil || msg.Longitude == nil {
			s.send(outboundMessage{Type: messageError, Message: "position needs latitude and longitude"})
			return
		}
		s.deliverPosition(positionReply{coordinate: geolocation.Coordinate{Latitude: *msg.Latitude, Longitude: *msg.Longitude}})

	case messagePositionError:
		var err error
		if msg.Code == positionErrorPermissionDenied {
			err = geolocation.ErrPermissionDenied
		} else {
			err = fmt.Errorf("position unavailable: %s", msg.Code)
		}
		s.deliverPosition(positionReply{err: err})

	default:
		s.send(outboundMessage{Type: messageError, Message: fmt.Sprintf("unknown message type %q", msg.Type)})
	}
}

func (s *session) field(name string) *search.Field {
	name = strings.TrimSpace(name)
	if name == "" {
		name = defaultField
	}

	s.fieldsMu.Lock()
	defer s.fieldsMu.Unlock()
	if field, ok := s.fields[name]; ok {
		return field
	}

	field := s.cfg.Coordinator.NewField(s.ctx, name, provider.PredictOptions{}, func(resultSet search.ResultSet, err error) {
		if err != nil {
			s.send(outboundMessage{Type: messageError, Field: name, Message: "search is unavailable, please enter the address manually"})
			return
		}
		s.send(outboundMessage{
			Type:        messageResults,
			Field:       name,
			Generation:  resultSet.Generation,
			SourceQuery: resultSet.SourceQuery,
			Fallback:    resultSet.Fallback,
			Items:       resultSet.Items,
		})
	})
	s.fields[name] = field
	return field
}

func (s *session) detect(resolve func(context.Context) (string, error)) {
	city, err := resolve(s.ctx)
	if err != nil {
		// The prompter has already told the page what went wrong.
		s.logger.Debug("location detection did not resolve", "session", s.id, "err", err.Error())
		return
	}
	s.send(outboundMessage{Type: messageLocation, City: city})
}

func (s *session) remember(resolution geolocation.Resolution) {
	if s.cfg.Locations == nil {
		return
	}
	err := s.cfg.Locations.Remember(s.id, resolution.City, resolution.Coordinate.Latitude, resolution.Coordinate.Longitude, resolution.ResolvedAt)
	if err != nil {
		s.logger.Warn("could not remember resolved location", "session", s.id, "err", err.Error())
	}
}

// RequestCurrentPosition asks the page for the device position and waits for
// its position or position_error reply.
func (s *session) RequestCurrentPosition(ctx context.Context) (geolocation.Coordinate, error) {
	select {
	case <-s.positions:
	default:
	}

	s.send(outboundMessage{Type: messagePositionRequest})

	ctx, cancel := context.WithTimeout(ctx, s.cfg.PositionTimeout)
	defer cancel()

	select {
	case reply := <-s.positions:
		return reply.coordinate, reply.err
	case <-ctx.Done():
		return geolocation.Coordinate{}, fmt.Errorf("waiting for device position: %w", ctx.Err())
	case <-s.ctx.Done():
		return geolocation.Coordinate{}, fmt.Errorf("session closed: %w", s.ctx.Err())
	}
}

func (s *session) deliverPosition(reply positionReply) {
	select {
	case s.positions <- reply:
	default:
		s.logger.Debug("dropping unrequested position reply", "session", s.id)
	}
}

// PromptPermissionDenied offers the retry and skip actions; the page answers with
// a retry or skip message.
func (s *session) PromptPermissionDenied(func(), func()) {
	s.send(outboundMessage{Type: messagePrompt, Kind: "permission_denied", Actions: []string{messageRetry, messageSkip}})
}

func (s *session) NotifyFailure(message string) {
	s.send(outboundMessage{Type: messageError, Message: message})
}

func (s *session) send(msg outboundMessage) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteJSON(msg); err != nil {
		s.logger.Debug("could not write to portal session", "session", s.id, "type", msg.Type, "err", err.Error())
	}
}

func (s *session) keepAlive() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.writeMu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *session) close() {
	s.cancel()
	s.fieldsMu.Lock()
	for _, field := range s.fields {
		field.Close()
	}
	s.fieldsMu.Unlock()
	_ = s.conn.Close()
	s.logger.Info("portal session closed", "session", s.id)
}
