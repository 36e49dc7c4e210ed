package chat

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	coderws "github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/commune-hq/backend/internal/websocket"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startSocketServer runs the full upgrade path: gin route, JWT auth,
// hub, and the chat message handlers, all against the service's db.
func startSocketServer(t *testing.T, s *Service) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hub := websocket.NewHub()
	go hub.Run()
	s.hub = hub
	s.RegisterHandlers(hub)

	wsHandler := websocket.NewHandler(hub, s.db, []byte("test-secret"))
	wsHandler.RegisterDefaultHandlers()

	r := gin.New()
	r.GET("/ws", wsHandler.HandleWebSocket)
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = hub.Shutdown(ctx)
	})
	return srv
}

func dialSocket(t *testing.T, serverURL, userID string) *coderws.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(serverURL, "http") + "/ws?token=" + mintToken(t, userID)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := coderws.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(coderws.StatusNormalClosure, "done") })

	welcome := readFrame(t, conn)
	require.Equal(t, websocket.MessageTypeSystem, welcome.Type)
	return conn
}

func mintToken(t *testing.T, userID string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"exp":     time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return signed
}

func writeFrame(t *testing.T, conn *coderws.Conn, msg *websocket.Message) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, wsjson.Write(ctx, conn, msg))
}

func readFrame(t *testing.T, conn *coderws.Conn) *websocket.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var msg websocket.Message
	require.NoError(t, wsjson.Read(ctx, conn, &msg))
	return &msg
}

// assertSocketSilent fails if any frame arrives within the grace
// window. The deadline tears the connection down, so call it last.
func assertSocketSilent(t *testing.T, conn *coderws.Conn) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	var msg websocket.Message
	err := wsjson.Read(ctx, conn, &msg)
	require.Error(t, err, "unexpected frame: type=%s reply_to=%s", msg.Type, msg.ReplyTo)
}

// joinCommunity subscribes the connection to a community's rooms.
// Joins carry no acknowledgment, so a heartbeat round-trip guarantees
// the join was processed before the caller proceeds.
func joinCommunity(t *testing.T, conn *coderws.Conn, communityID string) {
	t.Helper()
	writeFrame(t, conn, websocket.NewMessage(websocket.MessageTypeJoinCommunity,
		websocket.RoomPayload{CommunityID: communityID}))
	writeFrame(t, conn, websocket.NewMessage(websocket.MessageTypeHeartbeat,
		websocket.HeartbeatPayload{ClientTime: time.Now().UnixMilli()}))
	pong := readFrame(t, conn)
	require.Equal(t, websocket.MessageTypePong, pong.Type)
}

func TestSocketSendRepliesWithoutEcho(t *testing.T) {
	s := setupTestService(t)
	f := setupFixture(t, s)
	srv := startSocketServer(t, s)

	sender := dialSocket(t, srv.URL, f.member.ID)
	watcher := dialSocket(t, srv.URL, f.owner.ID)
	joinCommunity(t, sender, f.community.ID)
	joinCommunity(t, watcher, f.community.ID)

	writeFrame(t, sender, websocket.NewMessageWithID(websocket.MessageTypeSendMessage, "req-1",
		websocket.SendMessagePayload{CommunityID: f.community.ID, Content: "hello room"}))

	// The sender gets exactly one copy: the reply to their request.
	ack := readFrame(t, sender)
	assert.Equal(t, websocket.MessageTypeNewMessage, ack.Type)
	assert.Equal(t, "req-1", ack.ReplyTo)

	var payload websocket.ChatMessagePayload
	require.NoError(t, ack.ParsePayload(&payload))
	assert.Equal(t, "hello room", payload.Content)
	assert.Equal(t, f.member.ID, payload.SenderID)
	assert.NotEmpty(t, payload.MessageID)

	// The rest of the room gets the broadcast.
	broadcast := readFrame(t, watcher)
	assert.Equal(t, websocket.MessageTypeNewMessage, broadcast.Type)
	assert.Empty(t, broadcast.ReplyTo)

	// No broadcast echo lands on the sender's connection.
	assertSocketSilent(t, sender)
}

func TestSocketSendReportsFailures(t *testing.T) {
	s := setupTestService(t)
	f := setupFixture(t, s)
	srv := startSocketServer(t, s)

	conn := dialSocket(t, srv.URL, f.outsider.ID)

	writeFrame(t, conn, websocket.NewMessageWithID(websocket.MessageTypeSendMessage, "req-1",
		websocket.SendMessagePayload{CommunityID: f.community.ID, Content: "let me in"}))

	errFrame := readFrame(t, conn)
	require.Equal(t, websocket.MessageTypeError, errFrame.Type)

	var payload websocket.ErrorPayload
	require.NoError(t, errFrame.ParsePayload(&payload))
	assert.Equal(t, "send_failed", payload.Code)
}
