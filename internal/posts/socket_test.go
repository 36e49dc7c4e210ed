package posts

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

// startSocketServer runs the full upgrade path against the service's
// db and attaches a live hub to the service.
func startSocketServer(t *testing.T, s *Service) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hub := websocket.NewHub()
	go hub.Run()
	s.hub = hub

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

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"exp":     time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(serverURL, "http") + "/ws?token=" + signed
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := coderws.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(coderws.StatusNormalClosure, "done") })

	welcome := readFrame(t, conn)
	require.Equal(t, websocket.MessageTypeSystem, welcome.Type)
	return conn
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

// joinPost subscribes the connection to a post's live updates. A
// heartbeat round-trip guarantees the join was processed.
func joinPost(t *testing.T, conn *coderws.Conn, postID string) {
	t.Helper()
	writeFrame(t, conn, websocket.NewMessage(websocket.MessageTypeJoinPost,
		websocket.RoomPayload{PostID: postID}))
	writeFrame(t, conn, websocket.NewMessage(websocket.MessageTypeHeartbeat,
		websocket.HeartbeatPayload{ClientTime: time.Now().UnixMilli()}))
	pong := readFrame(t, conn)
	require.Equal(t, websocket.MessageTypePong, pong.Type)
}

func TestVoteBroadcastCarriesUserVote(t *testing.T) {
	s := setupTestService(t)
	f := setupFixture(t, s)
	post := createTestPost(t, s, f)
	srv := startSocketServer(t, s)

	watcher := dialSocket(t, srv.URL, f.owner.ID)
	joinPost(t, watcher, post.ID)

	_, err := s.Vote(context.Background(), post.ID, f.member.ID, 1)
	require.NoError(t, err)

	frame := readFrame(t, watcher)
	require.Equal(t, websocket.MessageTypeVoteUpdate, frame.Type)

	var payload websocket.VoteUpdatePayload
	require.NoError(t, frame.ParsePayload(&payload))
	assert.Equal(t, post.ID, payload.PostID)
	assert.Equal(t, 1, payload.UpvoteCount)
	assert.Equal(t, 1, payload.UserVote)

	// Voting the same way again toggles the vote off.
	_, err = s.Vote(context.Background(), post.ID, f.member.ID, 1)
	require.NoError(t, err)

	frame = readFrame(t, watcher)
	require.NoError(t, frame.ParsePayload(&payload))
	assert.Equal(t, 0, payload.UpvoteCount)
	assert.Equal(t, 0, payload.UserVote)
}
