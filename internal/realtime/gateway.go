package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"optiroute/internal/auth"
	"optiroute/internal/domain"
	"optiroute/internal/domain/models"
	"optiroute/internal/metrics"
	"optiroute/internal/utils"

	"go.uber.org/zap"
)

const (
	errNotAuthenticated = "not authenticated"
	errInvalidMessage   = "invalid message"
	errUnknownEvent     = "unknown event"
)

// ChannelName is the chat channel of a request.
func ChannelName(requestID domain.ID) string {
	return fmt.Sprintf("chat-%d", requestID)
}

// InProgressEvent is queued when a request is accepted by a driver.
type InProgressEvent struct {
	RequestID domain.ID
	ClientID  domain.ID
	DriverID  domain.ID
}

type GatewayConfig struct {
	Registry    *Registry
	Verifier    auth.Verifier
	Metrics     *metrics.Metrics
	Log         *zap.Logger
	Clock       utils.Clock
	SendBuffer  int
	EventBuffer int
	// PongWait bounds how long a silent peer stays connected. Pings go out
	// at nine tenths of it.
	PongWait    time.Duration
}

// Gateway authenticates live connections, creates per-request chat channels
// and relays messages to channel members.
type Gateway struct {
	registry *Registry
	verifier auth.Verifier
	metrics  *metrics.Metrics
	log      *zap.Logger
	clock    utils.Clock
	sendBuf  int

	pongWait   time.Duration
	pingPeriod time.Duration

	mu      sync.RWMutex
	members map[string]map[*Conn]struct{}
	live    map[*Conn]struct{}

	events chan InProgressEvent
}

func NewGateway(cfg GatewayConfig) *Gateway {
	if cfg.Registry == nil {
		cfg.Registry = NewRegistry()
	}
	if cfg.Log == nil {
		cfg.Log = zap.L()
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 32
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 256
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = pongWait
	}
	return &Gateway{
		registry: cfg.Registry,
		verifier: cfg.Verifier,
		metrics:  cfg.Metrics,
		log:      cfg.Log.With(zap.String("module", "CHAT")),
		clock:    cfg.Clock,
		sendBuf:  cfg.SendBuffer,

		pongWait:   cfg.PongWait,
		pingPeriod: (cfg.PongWait * 9) / 10,

		members: map[string]map[*Conn]struct{}{},
		live:    map[*Conn]struct{}{},
		events:  make(chan InProgressEvent, cfg.EventBuffer),
	}
}

func (g *Gateway) Registry() *Registry { return g.registry }

// Connect runs the handshake. A missing or rejected credential closes the
// transport with CloseUnauthorized and the connection never authenticates.
func (g *Gateway) Connect(credential string, t Transport) (*Conn, error) {
	c := newConn(t, g.sendBuf)

	credential = strings.TrimSpace(credential)
	if credential == "" || g.verifier == nil {
		g.rejectHandshake(c, domain.UnauthorizedError{Msg: "missing credential"})
		return nil, domain.UnauthorizedError{Msg: "missing credential"}
	}
	subject, err := g.verifier.Verify(credential)
	if err != nil {
		g.rejectHandshake(c, err)
		return nil, err
	}

	c.authenticate(subject)
	g.mu.Lock()
	g.live[c] = struct{}{}
	g.mu.Unlock()
	g.registry.Bind(subject.UserID, c)
	g.metrics.ConnectionOpened()
	go c.writeLoop(g.pingPeriod, func(err error) {
		g.log.Debug("write failed, dropping connection", zap.String("conn_id", c.ID), zap.Error(err))
		g.Disconnect(c)
	})

	g.log.Info("client connected",
		zap.String("conn_id", c.ID),
		zap.Int64("user_id", int64(subject.UserID)),
		zap.String("role", string(subject.Role)),
	)
	return c, nil
}

func (g *Gateway) rejectHandshake(c *Conn, err error) {
	g.metrics.HandshakeFailed()
	g.log.Warn("handshake rejected", zap.String("conn_id", c.ID), zap.Error(err))
	c.reject("unauthorized")
}

// Disconnect is idempotent and safe for connections that never authenticated.
func (g *Gateway) Disconnect(c *Conn) {
	if c == nil {
		return
	}
	subject, _ := c.Subject()
	prev, joined := c.disconnect()
	if prev != StateAuthenticated {
		return
	}

	g.mu.Lock()
	delete(g.live, c)
	for _, name := range joined {
		if set, ok := g.members[name]; ok {
			delete(set, c)
			if len(set) == 0 {
				delete(g.members, name)
			}
		}
	}
	g.mu.Unlock()

	g.registry.Release(subject.UserID, c)
	g.metrics.ConnectionClosed()
	g.log.Info("client disconnected", zap.String("conn_id", c.ID), zap.Int64("user_id", int64(subject.UserID)))
}

// CreateChannelForRequest joins every online party to the request channel and
// tells each who their partner is. Offline parties are skipped.
func (g *Gateway) CreateChannelForRequest(requestID, clientID, driverID domain.ID) {
	if requestID <= 0 || clientID <= 0 || driverID <= 0 {
		g.log.Warn("ignoring channel creation with invalid ids",
			zap.Int64("request_id", int64(requestID)),
			zap.Int64("client_id", int64(clientID)),
			zap.Int64("driver_id", int64(driverID)),
		)
		return
	}
	name := ChannelName(requestID)

	parties := []struct {
		self        domain.ID
		partner     domain.ID
		partnerRole string
		message     string
	}{
		{clientID, driverID, models.PartnerDriver, "chat created with your driver"},
		{driverID, clientID, models.PartnerClient, "chat created with your client"},
	}

	// an owner accepting their own request is a single party
	if clientID == driverID {
		parties = parties[:1]
	}

	notified := 0
	for _, p := range parties {
		c, ok := g.registry.Lookup(p.self)
		if !ok || !g.join(c, name) {
			continue
		}
		sent := c.Send(models.OutFrame{
			Event: models.EventChannelCreated,
			Data: models.ChannelCreated{
				RequestID:   requestID,
				PartnerID:   p.partner,
				PartnerRole: p.partnerRole,
				Message:     p.message,
			},
		})
		if sent {
			notified++
		}
	}

	g.metrics.ChannelCreated()
	g.log.Info("chat channel created",
		zap.String("channel", name),
		zap.Int64("client_id", int64(clientID)),
		zap.Int64("driver_id", int64(driverID)),
		zap.Int("notified", notified),
	)
}

// join holds g.mu across the connection update so a concurrent Disconnect
// either sees the channel or refuses the join.
func (g *Gateway) join(c *Conn, name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !c.join(name) {
		return false
	}
	set, ok := g.members[name]
	if !ok {
		set = map[*Conn]struct{}{}
		g.members[name] = set
	}
	set[c] = struct{}{}
	return true
}

// Members returns the connections currently joined to the channel.
func (g *Gateway) Members(name string) []*Conn {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Conn, 0, len(g.members[name]))
	for c := range g.members[name] {
		out = append(out, c)
	}
	return out
}

// SendMessage broadcasts text to every member of the request channel,
// the sender included.
func (g *Gateway) SendMessage(sender *Conn, requestID domain.ID, text string) models.SendResult {
	if sender == nil {
		return models.SendResult{Error: errNotAuthenticated}
	}
	subject, ok := sender.Subject()
	if !ok {
		return models.SendResult{Error: errNotAuthenticated}
	}
	if requestID <= 0 || strings.TrimSpace(text) == "" {
		return models.SendResult{Error: errInvalidMessage}
	}

	frame := models.OutFrame{
		Event: models.EventNewMessage,
		Data: models.ChatMessage{
			RequestID:  requestID,
			Text:       text,
			SenderID:   subject.UserID,
			SenderRole: subject.Role,
			Timestamp:  g.clock.Now(),
		},
	}
	for _, c := range g.Members(ChannelName(requestID)) {
		if !c.Send(frame) {
			g.log.Debug("dropped chat message for slow or closed connection", zap.String("conn_id", c.ID))
		}
	}
	g.metrics.MessageRelayed()
	return models.SendResult{Status: "sent"}
}

func (g *Gateway) OnlineSubjects() []domain.ID {
	return g.registry.Subjects()
}

// Serve reads frames from an authenticated connection until the transport
// fails, the peer stops answering pings or ctx ends, then disconnects it.
// Undecodable frames get an error reply and the loop keeps reading.
func (g *Gateway) Serve(ctx context.Context, c *Conn) {
	defer g.Disconnect(c)
	c.keepAlive(g.pongWait)

	go func() {
		select {
		case <-ctx.Done():
			g.Disconnect(c)
		case <-c.done:
		}
	}()

	for {
		_, raw, err := c.transport.ReadMessage()
		if err != nil {
			g.log.Debug("read loop finished", zap.String("conn_id", c.ID), zap.Error(err))
			return
		}
		var f models.Frame
		if err := json.Unmarshal(raw, &f); err != nil {
			g.log.Debug("undecodable frame", zap.String("conn_id", c.ID), zap.Error(err))
			g.reply(c, models.EventError, models.SendResult{Error: errInvalidMessage})
			continue
		}
		g.handleFrame(c, f)
	}
}

func (g *Gateway) handleFrame(c *Conn, f models.Frame) {
	switch f.Event {
	case models.EventSendMessage:
		var in models.SendMessageInput
		if err := json.Unmarshal(f.Data, &in); err != nil {
			g.reply(c, models.EventError, models.SendResult{Error: errInvalidMessage})
			return
		}
		res := g.SendMessage(c, in.RequestID, in.Text)
		if !res.OK() {
			g.reply(c, models.EventError, res)
			return
		}
		g.reply(c, models.EventMessageSent, res)
	case models.EventGetOnlineSubjects:
		g.reply(c, models.EventOnlineSubjects, g.OnlineSubjects())
	default:
		g.reply(c, models.EventError, models.SendResult{Error: errUnknownEvent})
	}
}

func (g *Gateway) reply(c *Conn, event string, data any) {
	c.Send(models.OutFrame{Event: event, Data: data})
}

// NotifyRequestInProgress queues channel creation for an accepted request and
// returns at once. It reports false when the queue is full and the event dropped.
func (g *Gateway) NotifyRequestInProgress(requestID, clientID, driverID domain.ID) bool {
	ev := InProgressEvent{RequestID: requestID, ClientID: clientID, DriverID: driverID}
	select {
	case g.events <- ev:
		return true
	default:
		g.metrics.Error("notify_in_progress")
		g.log.Warn("in-progress notification dropped, queue full", zap.Int64("request_id", int64(requestID)))
		return false
	}
}

// Run drains queued notifications until ctx ends, then closes every live
// connection.
func (g *Gateway) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			g.CloseAll()
			return nil
		case ev := <-g.events:
			g.CreateChannelForRequest(ev.RequestID, ev.ClientID, ev.DriverID)
		}
	}
}

// CloseAll disconnects every live connection, superseded ones included.
func (g *Gateway) CloseAll() {
	g.mu.RLock()
	conns := make([]*Conn, 0, len(g.live))
	for c := range g.live {
		conns = append(conns, c)
	}
	g.mu.RUnlock()

	for _, c := range conns {
		g.Disconnect(c)
	}
}
