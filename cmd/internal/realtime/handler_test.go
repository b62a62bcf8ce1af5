package realtime_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"tuthub/cmd/identity"
	"tuthub/cmd/internal/auth/session"
	"tuthub/cmd/internal/realtime"
	v1 "tuthub/contracts/chat/v1"
	"tuthub/cmd/internal/mocks"

	paseto "aidanwoods.dev/go-paseto"
	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type chatFixture struct {
	handler *realtime.Handler
	srv     *httptest.Server
	tokens  session.TokenManager
	reg     *prometheus.Registry

	alice, bob, carol identity.User
}

type fixtureOptions struct {
	store    realtime.MessageStore
	resolver identity.Resolver
}

func newChatFixture(t *testing.T, opts fixtureOptions) *chatFixture {
	t.Helper()

	users := identity.NewMemoryResolver()
	fx := &chatFixture{
		alice: users.Add(identity.User{Username: "alice", Name: "Alice"}),
		bob:   users.Add(identity.User{Username: "bob"}),
		carol: users.Add(identity.User{Username: "carol"}),
		reg:   prometheus.NewRegistry(),
	}

	cfg := session.DefaultConfig()
	cfg.SecretKeyHex = paseto.NewV4AsymmetricSecretKey().ExportHex()
	tokens, err := session.NewPasetoV4PublicManager(cfg)
	require.NoError(t, err)
	fx.tokens = tokens

	var resolver identity.Resolver = users
	if opts.resolver != nil {
		resolver = opts.resolver
	}
	store := opts.store
	if store == nil {
		store = realtime.NewInMemoryStore(realtime.WithClock(func() time.Time { return fixedNow }))
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	h, err := realtime.NewHandler(realtime.Deps{
		Log:      log,
		Auth:     realtime.TokenAuthenticator{Verifier: tokens, Resolver: resolver},
		Resolver: resolver,
		Store:    store,
		Metrics:  realtime.NewMetrics(fx.reg),
	}, realtime.DefaultHandlerConfig())
	require.NoError(t, err)
	fx.handler = h

	mux := http.NewServeMux()
	mux.Handle("GET /chat/{peer}", h)
	mux.HandleFunc("GET /chat/{peer}/history", h.HandleHistory)

	fx.srv = httptest.NewServer(mux)
	t.Cleanup(fx.srv.Close)
	return fx
}

func (fx *chatFixture) token(t *testing.T, u identity.User) string {
	t.Helper()
	tok, _, err := fx.tokens.Issue(u.ID, time.Now())
	require.NoError(t, err)
	return tok
}

func (fx *chatFixture) dial(t *testing.T, token, peer string) (*websocket.Conn, *http.Response, error) {
	t.Helper()

	u := "ws" + strings.TrimPrefix(fx.srv.URL, "http") + "/chat/" + url.PathEscape(peer)

	h := http.Header{}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, resp, err := websocket.Dial(ctx, u, &websocket.DialOptions{HTTPHeader: h})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, resp, err
}

func (fx *chatFixture) mustDial(t *testing.T, self identity.User, peer string) *websocket.Conn {
	t.Helper()

	conn, _, err := fx.dial(t, fx.token(t, self), peer)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") })
	return conn
}

func requireRejected(t *testing.T, resp *http.Response, err error, want int) {
	t.Helper()

	require.Error(t, err, "expected handshake failure")
	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	require.Equal(t, want, status, "err=%v", err)
}

func writeText(t *testing.T, conn *websocket.Conn, s string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(s)))
}

func readRaw(t *testing.T, conn *websocket.Conn) []byte {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	mt, data, err := conn.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, websocket.MessageText, mt)
	return data
}

func readDelivery(t *testing.T, conn *websocket.Conn) v1.Delivery {
	t.Helper()

	var d v1.Delivery
	require.NoError(t, json.Unmarshal(readRaw(t, conn), &d))
	return d
}

// requireSilent asserts nothing arrives within a short window. The read deadline
// closes conn, so call it last.
func requireSilent(t *testing.T, conn *websocket.Conn) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	_, data, err := conn.Read(ctx)
	require.Error(t, err, "unexpected frame: %s", data)
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()

	families, err := reg.Gather()
	require.NoError(t, err)

	total := 0.0
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func TestHandler_MessageEchoedToBothParticipants(t *testing.T) {
	fx := newChatFixture(t, fixtureOptions{})

	aliceConn := fx.mustDial(t, fx.alice, "bob")
	bobConn := fx.mustDial(t, fx.bob, "alice")

	dir := fx.handler.Directory()
	require.Equal(t, 1, dir.RoomCount())
	require.Len(t, dir.Members(realtime.RoomKey(fx.alice.ID, fx.bob.ID)), 2)

	writeText(t, aliceConn, `{"type":"chat_message","message":"Hi Bob"}`)

	fromAlice := readRaw(t, aliceConn)
	fromBob := readRaw(t, bobConn)
	require.Equal(t, fromAlice, fromBob)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "delivery", fromAlice)
}

func TestHandler_PeerByIDOrUsernameSharesRoom(t *testing.T) {
	fx := newChatFixture(t, fixtureOptions{})

	aliceConn := fx.mustDial(t, fx.alice, fx.bob.ID)
	bobConn := fx.mustDial(t, fx.bob, "ALICE")

	writeText(t, bobConn, `{"type":"chat_message","message":"hey"}`)

	got := readDelivery(t, aliceConn)
	require.Equal(t, "bob", got.Sender)
	require.Equal(t, "Alice", got.Receiver)
	require.Equal(t, "hey", got.Content)
	require.Equal(t, got, readDelivery(t, bobConn))
}

func TestHandler_UnknownPeerRejectedBeforeRegistration(t *testing.T) {
	fx := newChatFixture(t, fixtureOptions{})

	_, resp, err := fx.dial(t, fx.token(t, fx.alice), "ghost")
	requireRejected(t, resp, err, http.StatusNotFound)

	require.Equal(t, 0, fx.handler.Directory().RoomCount())
	require.Equal(t, 0, fx.handler.Directory().ConnCount())
	require.Equal(t, float64(1), counterValue(t, fx.reg, "tuthub_chat_rejected_total"))
}

func TestHandler_MissingCredentialNeverResolvesPeer(t *testing.T) {
	ctrl := gomock.NewController(t)
	resolver := mocks.NewMockResolver(ctrl)
	store := mocks.NewMockMessageStore(ctrl)

	resolver.EXPECT().Resolve(gomock.Any(), gomock.Any()).Times(0)
	store.EXPECT().Append(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	fx := newChatFixture(t, fixtureOptions{store: store, resolver: resolver})

	_, resp, err := fx.dial(t, "", "bob")
	requireRejected(t, resp, err, http.StatusUnauthorized)
	require.Equal(t, 0, fx.handler.Directory().ConnCount())
}

func TestHandler_InvalidOrExpiredTokenRejected(t *testing.T) {
	fx := newChatFixture(t, fixtureOptions{})

	_, resp, err := fx.dial(t, "not-a-valid-token", "bob")
	requireRejected(t, resp, err, http.StatusUnauthorized)

	expired, _, err := fx.tokens.Issue(fx.alice.ID, time.Now().Add(-2*time.Hour))
	require.NoError(t, err)
	_, resp, err = fx.dial(t, expired, "bob")
	requireRejected(t, resp, err, http.StatusUnauthorized)
}

func TestHandler_TokenForUnknownUserRejected(t *testing.T) {
	fx := newChatFixture(t, fixtureOptions{})

	tok, _, err := fx.tokens.Issue("00000000-0000-0000-0000-000000000000", time.Now())
	require.NoError(t, err)

	_, resp, err := fx.dial(t, tok, "bob")
	requireRejected(t, resp, err, http.StatusUnauthorized)
}

func TestHandler_SelfChatRejected(t *testing.T) {
	fx := newChatFixture(t, fixtureOptions{})

	_, resp, err := fx.dial(t, fx.token(t, fx.alice), "alice")
	requireRejected(t, resp, err, http.StatusBadRequest)
	require.Equal(t, 0, fx.handler.Directory().ConnCount())
}

func TestHandler_ResolverOutageIsServiceUnavailable(t *testing.T) {
	ctrl := gomock.NewController(t)
	resolver := mocks.NewMockResolver(ctrl)

	fx := newChatFixture(t, fixtureOptions{resolver: resolver})

	resolver.EXPECT().Resolve(gomock.Any(), fx.alice.ID).Return(fx.alice, nil)
	resolver.EXPECT().Resolve(gomock.Any(), "bob").Return(identity.User{}, errors.New("connection refused"))

	_, resp, err := fx.dial(t, fx.token(t, fx.alice), "bob")
	requireRejected(t, resp, err, http.StatusServiceUnavailable)
}

func TestHandler_MalformedEventDroppedConnectionStaysOpen(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockMessageStore(ctrl)

	fx := newChatFixture(t, fixtureOptions{store: store})

	stored := realtime.Message{
		ID:           "01HZZZZZZZZZZZZZZZZZZZZZZZ",
		RoomKey:      realtime.RoomKey(fx.alice.ID, fx.bob.ID),
		SenderID:     fx.alice.ID,
		SenderName:   "Alice",
		ReceiverID:   fx.bob.ID,
		ReceiverName: "bob",
		Content:      "hello",
		Timestamp:    fixedNow,
	}
	store.EXPECT().Append(gomock.Any(), fx.alice, fx.bob, "hello").Return(stored, nil).Times(1)

	conn := fx.mustDial(t, fx.alice, "bob")

	writeText(t, conn, `{"type":"ping"}`)
	writeText(t, conn, `not json at all`)
	writeText(t, conn, `{"type":"chat_message","message":"   "}`)
	writeText(t, conn, `{"type":"chat_message","message":"hello"}`)

	got := readDelivery(t, conn)
	require.Equal(t, stored.Delivery(), got)

	require.Equal(t, 1, fx.handler.Directory().ConnCount())
	require.Equal(t, float64(3), counterValue(t, fx.reg, "tuthub_chat_events_malformed_total"))
	require.Equal(t, float64(1), counterValue(t, fx.reg, "tuthub_chat_messages_persisted_total"))
}

func TestHandler_PersistFailureIsNotPublished(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockMessageStore(ctrl)

	fx := newChatFixture(t, fixtureOptions{store: store})

	store.EXPECT().Append(gomock.Any(), fx.alice, fx.bob, "lost").
		Return(realtime.Message{}, errors.New("disk full")).Times(1)

	aliceConn := fx.mustDial(t, fx.alice, "bob")
	bobConn := fx.mustDial(t, fx.bob, "alice")

	writeText(t, aliceConn, `{"type":"chat_message","message":"lost"}`)

	var frame v1.ErrorFrame
	require.NoError(t, json.Unmarshal(readRaw(t, aliceConn), &frame))
	require.Equal(t, v1.ErrorSendFailed, frame.Error)

	require.Equal(t, float64(1), counterValue(t, fx.reg, "tuthub_chat_messages_persist_failures_total"))
	requireSilent(t, bobConn)
}

func TestHandler_RoomsAreIsolated(t *testing.T) {
	fx := newChatFixture(t, fixtureOptions{})

	aliceToBob := fx.mustDial(t, fx.alice, "bob")
	bobConn := fx.mustDial(t, fx.bob, "alice")
	carolConn := fx.mustDial(t, fx.carol, "alice")
	aliceToCarol := fx.mustDial(t, fx.alice, "carol")

	require.Equal(t, 2, fx.handler.Directory().RoomCount())

	writeText(t, aliceToBob, `{"type":"chat_message","message":"for bob only"}`)

	require.Equal(t, "for bob only", readDelivery(t, aliceToBob).Content)
	require.Equal(t, "for bob only", readDelivery(t, bobConn).Content)

	requireSilent(t, carolConn)
	requireSilent(t, aliceToCarol)
}

func TestHandler_PublishReachesEveryRegisteredConnection(t *testing.T) {
	fx := newChatFixture(t, fixtureOptions{})

	laptop := fx.mustDial(t, fx.alice, "bob")
	phone := fx.mustDial(t, fx.alice, "bob")
	bobConn := fx.mustDial(t, fx.bob, "alice")

	require.Len(t, fx.handler.Directory().Members(realtime.RoomKey(fx.alice.ID, fx.bob.ID)), 3)

	writeText(t, bobConn, `{"type":"chat_message","message":"ping both"}`)

	for _, c := range []*websocket.Conn{laptop, phone, bobConn} {
		require.Equal(t, "ping both", readDelivery(t, c).Content)
	}
}

func TestHandler_DisconnectDeregisters(t *testing.T) {
	fx := newChatFixture(t, fixtureOptions{})

	aliceConn := fx.mustDial(t, fx.alice, "bob")
	bobConn := fx.mustDial(t, fx.bob, "alice")
	dir := fx.handler.Directory()
	require.Equal(t, 2, dir.ConnCount())

	require.NoError(t, aliceConn.Close(websocket.StatusNormalClosure, "bye"))
	require.Eventually(t, func() bool { return dir.ConnCount() == 1 }, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, bobConn.Close(websocket.StatusNormalClosure, "bye"))
	require.Eventually(t, func() bool { return dir.RoomCount() == 0 }, 3*time.Second, 10*time.Millisecond)
}

func TestHandler_LateJoinerSeesOnlyNewMessages(t *testing.T) {
	fx := newChatFixture(t, fixtureOptions{})

	aliceConn := fx.mustDial(t, fx.alice, "bob")
	writeText(t, aliceConn, `{"type":"chat_message","message":"before"}`)
	require.Equal(t, "before", readDelivery(t, aliceConn).Content)

	bobConn := fx.mustDial(t, fx.bob, "alice")
	writeText(t, aliceConn, `{"type":"chat_message","message":"after"}`)

	require.Equal(t, "after", readDelivery(t, bobConn).Content)
}

func TestHandleHistory(t *testing.T) {
	fx := newChatFixture(t, fixtureOptions{})

	aliceConn := fx.mustDial(t, fx.alice, "bob")
	writeText(t, aliceConn, `{"type":"chat_message","message":"first"}`)
	_ = readRaw(t, aliceConn)
	writeText(t, aliceConn, `{"type":"chat_message","message":"second"}`)
	_ = readRaw(t, aliceConn)

	req, err := http.NewRequest(http.MethodGet, fx.srv.URL+"/chat/alice/history", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+fx.token(t, fx.bob))

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "history", body)
}

func TestHandleHistory_RequiresCredential(t *testing.T) {
	fx := newChatFixture(t, fixtureOptions{})

	resp, err := http.Get(fx.srv.URL + "/chat/alice/history")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestNewHandler_RequiresAuthAndResolver(t *testing.T) {
	_, err := realtime.NewHandler(realtime.Deps{}, realtime.DefaultHandlerConfig())
	require.Error(t, err)

	_, err = realtime.NewHandler(realtime.Deps{Auth: realtime.TokenAuthenticator{}}, realtime.DefaultHandlerConfig())
	require.Error(t, err)
}
