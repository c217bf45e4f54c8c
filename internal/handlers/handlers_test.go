package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowrooms/server/internal/auth"
	"github.com/flowrooms/server/internal/database"
	"github.com/flowrooms/server/internal/directory"
	"github.com/flowrooms/server/internal/engine"
	"github.com/flowrooms/server/internal/middleware"
	"github.com/flowrooms/server/internal/models"
	"github.com/flowrooms/server/internal/presence"
	"github.com/flowrooms/server/internal/relay"
)

const secret = "handler-secret"

type testServer struct {
	*httptest.Server
	t *testing.T
}

func newTestServer(t *testing.T, cfg directory.Config) *testServer {
	t.Helper()
	name := strings.ReplaceAll(t.Name(), "/", "_")
	store, err := database.Open(database.DriverSQLite, "sqlite://file:"+name+"?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.RunMigrations(context.Background()))

	dir, err := directory.New(store, cfg)
	require.NoError(t, err)
	tracker := presence.New(presence.NewMemoryStore(), presence.Config{})
	router := NewRouter(Deps{
		Engine:     engine.New(dir, engine.WithPresence(tracker)),
		Relay:      relay.New(store, nil, relay.Config{}),
		Presence:   tracker,
		Limiter:    middleware.NewLimiter(1000, 1000),
		JWTSecret:  secret,
		CORSOrigin: "*",
		Health:     map[string]Pinger{"database": store},
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, t: t}
}

func (s *testServer) do(user, method, path, body string, out any) int {
	s.t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, s.URL+path, rdr)
	require.NoError(s.t, err)
	if user != "" {
		token, err := auth.GenerateToken(models.Identity{UserID: user, Alias: strings.ToUpper(user)}, secret)
		require.NoError(s.t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(s.t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(s.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

type envelope struct {
	Success bool      `json:"success"`
	Error   errorBody `json:"error"`
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, directory.Config{})
	var body map[string]any
	assert.Equal(t, http.StatusOK, srv.do("", http.MethodGet, "/health", "", &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestRequiresToken(t *testing.T) {
	srv := newTestServer(t, directory.Config{})
	var env envelope
	assert.Equal(t, http.StatusUnauthorized, srv.do("", http.MethodPost, "/api/rooms/next", "", &env))
	assert.Equal(t, "unauthorized", env.Error.Code)
}

func TestRoomFlow(t *testing.T) {
	srv := newTestServer(t, directory.Config{SoftCap: 1, HardCap: 2})

	var next models.NextRoomResult
	require.Equal(t, http.StatusOK, srv.do("alice", http.MethodPost, "/api/rooms/next?from_seq=0", "", &next))
	require.NotNil(t, next.Room)
	assert.True(t, next.IsNewRoom)
	roomID := next.Room.ID

	var room models.Room
	require.Equal(t, http.StatusOK, srv.do("alice", http.MethodPost, "/api/rooms/"+roomID+"/join", "", &room))
	assert.Equal(t, 1, room.Occupancy)

	require.Equal(t, http.StatusOK, srv.do("alice", http.MethodGet, "/api/rooms/current", "", &room))
	assert.Equal(t, roomID, room.ID)

	require.Equal(t, http.StatusOK, srv.do("bob", http.MethodPost, "/api/rooms/"+roomID+"/join", "", &room))
	var env envelope
	assert.Equal(t, http.StatusConflict, srv.do("carol", http.MethodPost, "/api/rooms/"+roomID+"/join", "", &env))
	assert.Equal(t, "capacity_exceeded", env.Error.Code)
	assert.True(t, env.Error.Retryable)

	var occupants []models.PresenceEntry
	require.Equal(t, http.StatusOK, srv.do("carol", http.MethodGet, "/api/rooms/"+roomID+"/occupants", "", &occupants))
	require.Len(t, occupants, 2)
	assert.Equal(t, "alice", occupants[0].UserID)
	assert.Equal(t, "ALICE", occupants[0].Alias)

	var status map[string]string
	require.Equal(t, http.StatusOK, srv.do("alice", http.MethodPost, "/api/rooms/"+roomID+"/heartbeat", "", &status))
	assert.Equal(t, "ok", status["status"])

	require.Equal(t, http.StatusOK, srv.do("alice", http.MethodDelete, "/api/rooms/"+roomID+"/leave", "", &status))
	require.Equal(t, http.StatusOK, srv.do("alice", http.MethodDelete, "/api/rooms/"+roomID+"/leave", "", &status))
	require.Equal(t, http.StatusOK, srv.do("alice", http.MethodGet, "/api/rooms/"+roomID, "", &room))
	assert.Equal(t, 1, room.Occupancy)

	assert.Equal(t, http.StatusNotFound, srv.do("alice", http.MethodGet, "/api/rooms/current", "", &env))
	assert.Equal(t, "not_found", env.Error.Code)
}

func TestMessages(t *testing.T) {
	srv := newTestServer(t, directory.Config{})

	var next models.NextRoomResult
	require.Equal(t, http.StatusOK, srv.do("alice", http.MethodPost, "/api/rooms/next", "", &next))
	roomID := next.Room.ID

	var env envelope
	assert.Equal(t, http.StatusBadRequest, srv.do("alice", http.MethodPost, "/api/rooms/"+roomID+"/messages", `{"body":"hi"}`, &env))
	assert.Equal(t, "validation", env.Error.Code)

	require.Equal(t, http.StatusOK, srv.do("alice", http.MethodPost, "/api/rooms/"+roomID+"/join", "", nil))

	var msg models.Message
	require.Equal(t, http.StatusCreated, srv.do("alice", http.MethodPost, "/api/rooms/"+roomID+"/messages", `{"body":"hi"}`, &msg))
	assert.Equal(t, int64(1), msg.ID)
	assert.Equal(t, "ALICE", msg.SenderAlias)

	long := strings.Repeat("x", models.MaxBodyLen+1)
	assert.Equal(t, http.StatusBadRequest, srv.do("alice", http.MethodPost, "/api/rooms/"+roomID+"/messages", `{"body":"`+long+`"}`, &env))

	require.Equal(t, http.StatusCreated, srv.do("alice", http.MethodPost, "/api/rooms/"+roomID+"/messages", `{"body":"again"}`, &msg))

	var messages []models.Message
	require.Equal(t, http.StatusOK, srv.do("bob", http.MethodGet, "/api/rooms/"+roomID+"/messages", "", &messages))
	require.Len(t, messages, 2)
	assert.Equal(t, "hi", messages[0].Body)

	require.Equal(t, http.StatusOK, srv.do("bob", http.MethodGet, "/api/rooms/"+roomID+"/messages?after=1", "", &messages))
	require.Len(t, messages, 1)
	assert.Equal(t, "again", messages[0].Body)

	assert.Equal(t, http.StatusBadRequest, srv.do("bob", http.MethodGet, "/api/rooms/"+roomID+"/messages?limit=x", "", &env))
	assert.Equal(t, http.StatusNotFound, srv.do("bob", http.MethodGet, "/api/rooms/missing/messages", "", &env))
}

func TestNextRoomRejectsBadSeq(t *testing.T) {
	srv := newTestServer(t, directory.Config{})
	var env envelope
	assert.Equal(t, http.StatusBadRequest, srv.do("alice", http.MethodPost, "/api/rooms/next?from_seq=abc", "", &env))
	assert.Equal(t, http.StatusBadRequest, srv.do("alice", http.MethodPost, "/api/rooms/next?from_seq=-1", "", &env))
}

func TestWriteErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{models.Validation("op", "bad"), http.StatusBadRequest, "validation"},
		{models.NotFound("op", "gone"), http.StatusNotFound, "not_found"},
		{models.CapacityExceeded("op", "r"), http.StatusConflict, "capacity_exceeded"},
		{models.Conflict("op", nil), http.StatusConflict, "conflict"},
		{models.Unavailable("op", errors.New("down")), http.StatusServiceUnavailable, "backend_unavailable"},
		{&models.Error{Kind: models.KindRateLimited, Op: "op"}, http.StatusTooManyRequests, "rate_limited"},
		{errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		writeError(rec, httptest.NewRequest(http.MethodGet, "/", nil), tc.err)
		assert.Equal(t, tc.status, rec.Code, tc.code)

		var env envelope
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
		assert.False(t, env.Success)
		assert.Equal(t, tc.code, env.Error.Code)
	}
}
