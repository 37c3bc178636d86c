package realtime

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"optiroute/internal/domain"
	"optiroute/internal/domain/models"
	"optiroute/internal/metrics"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeTransport struct {
	in chan []byte

	mu           sync.Mutex
	out          []models.Frame
	closeCode    int
	closed       bool
	pings        int
	readDeadline time.Time
	onPong       func(string) error

	closeOnce sync.Once
	done      chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{in: make(chan []byte, 16), done: make(chan struct{})}
}

func (f *fakeTransport) ReadMessage() (int, []byte, error) {
	select {
	case b, ok := <-f.in:
		if !ok {
			return 0, nil, io.EOF
		}
		return websocket.TextMessage, b, nil
	case <-f.done:
		return 0, nil, io.EOF
	}
}

func (f *fakeTransport) SetReadDeadline(t time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readDeadline = t
	return nil
}

func (f *fakeTransport) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeTransport) SetPongHandler(h func(string) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onPong = h
}

func (f *fakeTransport) WriteJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var fr models.Frame
	if err := json.Unmarshal(b, &fr); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("use of closed connection")
	}
	f.out = append(f.out, fr)
	return nil
}

func (f *fakeTransport) WriteControl(messageType int, data []byte, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case messageType == websocket.CloseMessage && len(data) >= 2:
		f.closeCode = int(binary.BigEndian.Uint16(data[:2]))
	case messageType == websocket.PingMessage:
		f.pings++
	}
	return nil
}

func (f *fakeTransport) Close() error {
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.closed = true
		f.mu.Unlock()
		close(f.done)
	})
	return nil
}

func (f *fakeTransport) push(t *testing.T, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	b, err := json.Marshal(models.Frame{Event: event, Data: raw})
	require.NoError(t, err)
	f.in <- b
}

func (f *fakeTransport) frames(event string) []models.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Frame
	for _, fr := range f.out {
		if fr.Event == event {
			out = append(out, fr)
		}
	}
	return out
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeVerifier map[string]domain.Subject

func (v fakeVerifier) Verify(credential string) (domain.Subject, error) {
	s, ok := v[credential]
	if !ok {
		return domain.Subject{}, domain.UnauthorizedError{Msg: "invalid token"}
	}
	return s, nil
}

var (
	clientSubject = domain.Subject{UserID: 1, Role: domain.RoleClient}
	driverSubject = domain.Subject{UserID: 2, Role: domain.RoleStaff}
	chatTime      = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
)

func newTestGateway(t *testing.T) (*Gateway, *metrics.Metrics) {
	t.Helper()
	m := metrics.New("test", prometheus.NewRegistry())
	g := NewGateway(GatewayConfig{
		Verifier: fakeVerifier{"client-token": clientSubject, "driver-token": driverSubject},
		Metrics:  m,
		Log:      zap.NewNop(),
		Clock:    func() time.Time { return chatTime },
	})
	return g, m
}

func connect(t *testing.T, g *Gateway, token string) (*Conn, *fakeTransport) {
	t.Helper()
	tr := newFakeTransport()
	c, err := g.Connect(token, tr)
	require.NoError(t, err)
	t.Cleanup(func() { g.Disconnect(c) })
	return c, tr
}

func waitFrames(t *testing.T, tr *fakeTransport, event string, n int) []models.Frame {
	t.Helper()
	require.Eventually(t, func() bool { return len(tr.frames(event)) >= n }, time.Second, 5*time.Millisecond)
	return tr.frames(event)
}

func TestConnectRejectsBadCredentials(t *testing.T) {
	for _, token := range []string{"", "   ", "forged"} {
		g, m := newTestGateway(t)
		tr := newFakeTransport()

		c, err := g.Connect(token, tr)
		require.Error(t, err)
		require.Nil(t, c)
		require.True(t, domain.IsUnauthorized(err))
		require.True(t, tr.isClosed())
		require.Equal(t, CloseUnauthorized, tr.closeCode)
		require.Empty(t, g.OnlineSubjects())
		require.Equal(t, 1.0, testutil.ToFloat64(m.HandshakeFailures))
	}
}

func TestConnectBindsSubject(t *testing.T) {
	g, m := newTestGateway(t)

	c, _ := connect(t, g, "client-token")

	require.Equal(t, StateAuthenticated, c.State())
	s, ok := c.Subject()
	require.True(t, ok)
	require.Equal(t, clientSubject, s)

	got, ok := g.Registry().Lookup(1)
	require.True(t, ok)
	require.Same(t, c, got)
	require.Equal(t, 1.0, testutil.ToFloat64(m.ConnectionsActive))
}

func TestDisconnectUnbindsAndIsIdempotent(t *testing.T) {
	g, m := newTestGateway(t)
	c, tr := connect(t, g, "client-token")

	g.Disconnect(c)
	g.Disconnect(c)

	require.Equal(t, StateDisconnected, c.State())
	require.True(t, tr.isClosed())
	_, ok := g.Registry().Lookup(1)
	require.False(t, ok)
	require.Equal(t, 0.0, testutil.ToFloat64(m.ConnectionsActive))
}

func TestDisconnectOfSupersededConnectionKeepsNewer(t *testing.T) {
	g, _ := newTestGateway(t)
	first, _ := connect(t, g, "client-token")
	second, _ := connect(t, g, "client-token")

	g.Disconnect(first)

	got, ok := g.Registry().Lookup(1)
	require.True(t, ok)
	require.Same(t, second, got)
}

func TestDisconnectNeverAuthenticated(t *testing.T) {
	g, _ := newTestGateway(t)
	c := newConn(newFakeTransport(), 1)

	require.NotPanics(t, func() { g.Disconnect(c) })
	require.Equal(t, StateDisconnected, c.State())
}

func TestCreateChannelNotifiesBothParties(t *testing.T) {
	g, m := newTestGateway(t)
	hc, tc := connect(t, g, "client-token")
	hd, td := connect(t, g, "driver-token")

	g.CreateChannelForRequest(10, 1, 2)

	var toClient, toDriver models.ChannelCreated
	require.NoError(t, json.Unmarshal(waitFrames(t, tc, models.EventChannelCreated, 1)[0].Data, &toClient))
	require.NoError(t, json.Unmarshal(waitFrames(t, td, models.EventChannelCreated, 1)[0].Data, &toDriver))

	require.Equal(t, models.ChannelCreated{RequestID: 10, PartnerID: 2, PartnerRole: "driver", Message: "chat created with your driver"}, toClient)
	require.Equal(t, models.ChannelCreated{RequestID: 10, PartnerID: 1, PartnerRole: "client", Message: "chat created with your client"}, toDriver)

	require.Never(t, func() bool {
		return len(tc.frames(models.EventChannelCreated)) > 1 || len(td.frames(models.EventChannelCreated)) > 1
	}, 50*time.Millisecond, 5*time.Millisecond)

	require.True(t, hc.Joined("chat-10"))
	require.True(t, hd.Joined("chat-10"))
	require.Len(t, g.Members("chat-10"), 2)
	require.Equal(t, 1.0, testutil.ToFloat64(m.ChannelsCreated))
}

func TestCreateChannelSkipsOfflineParty(t *testing.T) {
	g, _ := newTestGateway(t)
	_, tc := connect(t, g, "client-token")

	require.NotPanics(t, func() { g.CreateChannelForRequest(11, 1, 2) })

	frames := waitFrames(t, tc, models.EventChannelCreated, 1)
	require.Len(t, frames, 1)
	require.Len(t, g.Members("chat-11"), 1)
}

func TestCreateChannelIgnoresInvalidIDs(t *testing.T) {
	g, _ := newTestGateway(t)
	connect(t, g, "client-token")

	require.NotPanics(t, func() { g.CreateChannelForRequest(0, 1, 2) })
	require.Empty(t, g.Members("chat-0"))
}

func TestSendMessageReachesAllMembersIncludingSender(t *testing.T) {
	g, m := newTestGateway(t)
	hc, tc := connect(t, g, "client-token")
	_, td := connect(t, g, "driver-token")
	g.CreateChannelForRequest(12, 1, 2)

	res := g.SendMessage(hc, 12, "hello")
	require.True(t, res.OK())
	require.Equal(t, "sent", res.Status)

	for _, tr := range []*fakeTransport{tc, td} {
		var msg models.ChatMessage
		require.NoError(t, json.Unmarshal(waitFrames(t, tr, models.EventNewMessage, 1)[0].Data, &msg))
		require.Equal(t, "hello", msg.Text)
		require.Equal(t, domain.ID(12), msg.RequestID)
		require.Equal(t, domain.ID(1), msg.SenderID)
		require.Equal(t, domain.RoleClient, msg.SenderRole)
		require.True(t, msg.Timestamp.Equal(chatTime))
	}
	require.Equal(t, 1.0, testutil.ToFloat64(m.MessagesRelayed))
}

func TestSendMessageSkipsNonMembers(t *testing.T) {
	g, _ := newTestGateway(t)
	hc, _ := connect(t, g, "client-token")
	_, td := connect(t, g, "driver-token")

	// only the client is online when the channel is created
	g.Registry().Unbind(2)
	g.CreateChannelForRequest(13, 1, 2)

	require.True(t, g.SendMessage(hc, 13, "anyone?").OK())
	require.Never(t, func() bool { return len(td.frames(models.EventNewMessage)) > 0 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestSendMessageRequiresAuthentication(t *testing.T) {
	g, m := newTestGateway(t)
	c := newConn(newFakeTransport(), 1)

	res := g.SendMessage(c, 1, "hello")
	require.False(t, res.OK())
	require.Equal(t, "not authenticated", res.Error)
	require.Equal(t, 0.0, testutil.ToFloat64(m.MessagesRelayed))
}

func TestSendMessageRejectsEmptyText(t *testing.T) {
	g, _ := newTestGateway(t)
	hc, _ := connect(t, g, "client-token")

	res := g.SendMessage(hc, 1, "  ")
	require.Equal(t, "invalid message", res.Error)
}

func TestServeHandlesInboundEvents(t *testing.T) {
	g, _ := newTestGateway(t)
	hc, tc := connect(t, g, "client-token")
	connect(t, g, "driver-token")
	g.CreateChannelForRequest(14, 1, 2)

	served := make(chan struct{})
	go func() {
		g.Serve(context.Background(), hc)
		close(served)
	}()

	tc.push(t, models.EventSendMessage, models.SendMessageInput{RequestID: 14, Text: "on my way"})
	tc.push(t, models.EventGetOnlineSubjects, nil)
	tc.push(t, "teleport", nil)
	tc.push(t, models.EventSendMessage, "not an object")

	waitFrames(t, tc, models.EventMessageSent, 1)
	waitFrames(t, tc, models.EventNewMessage, 1)

	online := waitFrames(t, tc, models.EventOnlineSubjects, 1)
	var ids []domain.ID
	require.NoError(t, json.Unmarshal(online[0].Data, &ids))
	require.Equal(t, []domain.ID{1, 2}, ids)

	errs := waitFrames(t, tc, models.EventError, 2)
	var first, second models.SendResult
	require.NoError(t, json.Unmarshal(errs[0].Data, &first))
	require.NoError(t, json.Unmarshal(errs[1].Data, &second))
	require.Equal(t, "unknown event", first.Error)
	require.Equal(t, "invalid message", second.Error)

	close(tc.in)
	select {
	case <-served:
	case <-time.After(time.Second):
		t.Fatal("serve did not return after transport closed")
	}
	_, ok := g.Registry().Lookup(1)
	require.False(t, ok)
	require.Len(t, g.Members("chat-14"), 1)
}

func TestServeStopsOnContextCancel(t *testing.T) {
	g, _ := newTestGateway(t)
	hc, tc := connect(t, g, "client-token")

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan struct{})
	go func() {
		g.Serve(ctx, hc)
		close(served)
	}()
	cancel()

	select {
	case <-served:
	case <-time.After(time.Second):
		t.Fatal("serve did not return after cancel")
	}
	require.True(t, tc.isClosed())
	require.Equal(t, StateDisconnected, hc.State())
}

func TestNotifyRequestInProgressIsDeliveredByRun(t *testing.T) {
	g, _ := newTestGateway(t)
	_, tc := connect(t, g, "client-token")
	_, td := connect(t, g, "driver-token")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- g.Run(ctx) }()

	require.True(t, g.NotifyRequestInProgress(15, 1, 2))

	waitFrames(t, tc, models.EventChannelCreated, 1)
	waitFrames(t, td, models.EventChannelCreated, 1)

	cancel()
	require.NoError(t, <-done)
	require.Empty(t, g.OnlineSubjects())
	require.True(t, tc.isClosed())
}

func TestNotifyRequestInProgressDropsWhenQueueFull(t *testing.T) {
	g := NewGateway(GatewayConfig{Log: zap.NewNop(), EventBuffer: 1})

	require.True(t, g.NotifyRequestInProgress(1, 1, 2))
	require.False(t, g.NotifyRequestInProgress(2, 1, 2))
}

func TestCreateChannelForOwnRequestNotifiesOnce(t *testing.T) {
	g, _ := newTestGateway(t)
	hd, td := connect(t, g, "driver-token")

	g.CreateChannelForRequest(16, 2, 2)

	waitFrames(t, td, models.EventChannelCreated, 1)
	require.Never(t, func() bool { return len(td.frames(models.EventChannelCreated)) > 1 }, 50*time.Millisecond, 5*time.Millisecond)
	require.True(t, hd.Joined("chat-16"))
	require.Len(t, g.Members("chat-16"), 1)
}

func TestServeRepliesToUndecodableFrameAndKeepsReading(t *testing.T) {
	g, _ := newTestGateway(t)
	hc, tc := connect(t, g, "client-token")

	served := make(chan struct{})
	go func() {
		g.Serve(context.Background(), hc)
		close(served)
	}()

	tc.in <- []byte("hello")
	tc.in <- []byte(`{"event":1}`)
	tc.push(t, models.EventGetOnlineSubjects, nil)

	errs := waitFrames(t, tc, models.EventError, 2)
	for _, fr := range errs {
		var res models.SendResult
		require.NoError(t, json.Unmarshal(fr.Data, &res))
		require.Equal(t, "invalid message", res.Error)
	}
	waitFrames(t, tc, models.EventOnlineSubjects, 1)
	require.Equal(t, StateAuthenticated, hc.State())
	require.False(t, tc.isClosed())

	close(tc.in)
	<-served
}

func TestServeArmsReadDeadlineAndPongExtendsIt(t *testing.T) {
	g, _ := newTestGateway(t)
	hc, tc := connect(t, g, "client-token")

	go g.Serve(context.Background(), hc)

	var armed time.Time
	require.Eventually(t, func() bool {
		tc.mu.Lock()
		defer tc.mu.Unlock()
		armed = tc.readDeadline
		return !armed.IsZero() && tc.onPong != nil
	}, time.Second, 5*time.Millisecond)
	require.WithinDuration(t, time.Now().Add(pongWait), armed, 5*time.Second)

	time.Sleep(10 * time.Millisecond)
	tc.mu.Lock()
	pong := tc.onPong
	tc.mu.Unlock()
	require.NoError(t, pong(""))

	tc.mu.Lock()
	defer tc.mu.Unlock()
	require.True(t, tc.readDeadline.After(armed))
}

func TestWriterPingsPeer(t *testing.T) {
	g := NewGateway(GatewayConfig{
		Verifier: fakeVerifier{"client-token": clientSubject},
		Log:      zap.NewNop(),
		PongWait: 20 * time.Millisecond,
	})
	_, tc := connect(t, g, "client-token")

	require.Eventually(t, func() bool {
		tc.mu.Lock()
		defer tc.mu.Unlock()
		return tc.pings >= 2
	}, time.Second, 5*time.Millisecond)
}

func TestCloseAllIncludesSupersededConnections(t *testing.T) {
	g, m := newTestGateway(t)
	first, t1 := connect(t, g, "client-token")
	second, t2 := connect(t, g, "client-token")
	connect(t, g, "driver-token")

	g.CloseAll()

	require.Equal(t, StateDisconnected, first.State())
	require.Equal(t, StateDisconnected, second.State())
	require.True(t, t1.isClosed())
	require.True(t, t2.isClosed())
	require.Empty(t, g.OnlineSubjects())
	require.Equal(t, 0.0, testutil.ToFloat64(m.ConnectionsActive))
}
