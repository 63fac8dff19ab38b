package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medimart/internal/app/chat"
	"medimart/internal/app/presence"
	"medimart/internal/app/realtime"
	"medimart/internal/app/user"
	"medimart/internal/configs"
	"medimart/internal/pkg/auth/jwt"
	"medimart/internal/pkg/errs"
)

const testSecret = "router-test-secret"

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type apiFixture struct {
	store    *chat.MemoryStore
	registry *presence.Registry
	server   *httptest.Server
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	store := chat.NewMemoryStore()
	store.PutUser(user.Identity{ID: "u1", FullName: "Alice Patient"})
	store.PutUser(user.Identity{ID: "d1", FullName: "Dr. Bob"})
	store.PutUser(user.Identity{ID: "p1", FullName: "Carol Pharmacist"})

	registry := presence.NewRegistry()
	hub := realtime.NewHub(registry)
	go hub.Run()

	limiters := NewLimiters()
	t.Cleanup(limiters.Close)

	deps := &AppDeps{
		Config: &configs.AppConfig{
			Environment: configs.EnvDevelopment,
			JWTSecret:   testSecret,
			StoreDriver: configs.StoreDriverMemory,
		},
		Chat:     chat.NewService(store, registry, hub),
		Store:    store,
		Hub:      hub,
		Registry: registry,
		Limiters: limiters,
	}

	server := httptest.NewServer(Router(deps))
	t.Cleanup(server.Close)
	t.Cleanup(hub.Stop)

	return &apiFixture{store: store, registry: registry, server: server}
}

func tokenFor(t *testing.T, id string, role user.Role, ttl time.Duration) string {
	t.Helper()

	token, err := jwt.GenerateToken(&jwt.Payload{ID: id, Role: role}, testSecret, ttl)
	require.NoError(t, err)
	return token
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body any) (int, envelope) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, f.server.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	var env envelope
	require.NoError(t, json.NewDecoder(res.Body).Decode(&env))
	return res.StatusCode, env
}

func (f *apiFixture) wsURL(token string) string {
	u := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws"
	if token != "" {
		u += "?" + url.Values{jwt.QueryTokenParam: {token}}.Encode()
	}
	return u
}

func readEvent(t *testing.T, conn *websocket.Conn, want realtime.EventType) realtime.Event {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var event realtime.Event
		require.NoError(t, conn.ReadJSON(&event))
		if event.Type == want {
			return event
		}
	}
}

func TestAPI_RequiresToken(t *testing.T) {
	f := newAPIFixture(t)

	status, env := f.do(t, http.MethodGet, "/api/chat/conversations", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, errs.ErrUnauthorized, env.Code)

	expired := tokenFor(t, "u1", user.RoleUser, -time.Minute)
	status, env = f.do(t, http.MethodGet, "/api/chat/conversations", expired, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, errs.ErrTokenInvalid, env.Code)
}

func TestAPI_SendMessageAndReadBack(t *testing.T) {
	f := newAPIFixture(t)
	patient := tokenFor(t, "u1", user.RoleUser, time.Hour)
	doctor := tokenFor(t, "d1", user.RoleDoctor, time.Hour)
	pharmacist := tokenFor(t, "p1", user.RolePharmacist, time.Hour)

	status, env := f.do(t, http.MethodPost, "/api/chat/messages", patient, SendMessageInput{RecipientID: "d1", Content: "  hello  "})
	require.Equal(t, http.StatusCreated, status)

	var sent chat.ResolvedMessage
	require.NoError(t, json.Unmarshal(env.Data, &sent))
	assert.Equal(t, "hello", sent.Content)
	assert.Equal(t, "Alice Patient", sent.Sender.FullName)

	status, env = f.do(t, http.MethodGet, "/api/chat/conversations", doctor, nil)
	require.Equal(t, http.StatusOK, status)

	var views []chat.ConversationView
	require.NoError(t, json.Unmarshal(env.Data, &views))
	require.Len(t, views, 1)
	require.NotNil(t, views[0].LastMessage)
	assert.Equal(t, "hello", views[0].LastMessage.Content)
	assert.Equal(t, sent.ConversationID, views[0].ID)

	messagesPath := "/api/chat/conversations/" + sent.ConversationID + "/messages"
	status, env = f.do(t, http.MethodGet, messagesPath, doctor, nil)
	require.Equal(t, http.StatusOK, status)

	var messages []chat.ResolvedMessage
	require.NoError(t, json.Unmarshal(env.Data, &messages))
	require.Len(t, messages, 1)
	assert.Equal(t, sent.ID, messages[0].ID)

	status, env = f.do(t, http.MethodGet, messagesPath, pharmacist, nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, errs.ErrNotParticipant, env.Code)

	status, env = f.do(t, http.MethodPost, "/api/chat/conversations/"+sent.ConversationID+"/read", doctor, nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"updated":1}`, string(env.Data))
}

func TestAPI_SendMessageValidation(t *testing.T) {
	f := newAPIFixture(t)
	patient := tokenFor(t, "u1", user.RoleUser, time.Hour)

	status, env := f.do(t, http.MethodPost, "/api/chat/messages", patient, SendMessageInput{RecipientID: "d1", Content: "   "})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, errs.ErrMessageContentEmpty, env.Code)
	assert.Zero(t, f.store.ConversationCount())

	status, env = f.do(t, http.MethodPost, "/api/chat/messages", patient, SendMessageInput{RecipientID: "ghost", Content: "hi"})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, errs.ErrUserNotFound, env.Code)

	status, env = f.do(t, http.MethodPost, "/api/chat/messages", patient, SendMessageInput{RecipientID: "u1", Content: "hi"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, errs.ErrSelfConversation, env.Code)

	status, env = f.do(t, http.MethodPost, "/api/chat/messages", patient, map[string]string{"recipientId": "d1", "body": "x"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.NotZero(t, env.Code)
}

func TestAPI_CreateConversationIsIdempotent(t *testing.T) {
	f := newAPIFixture(t)
	patient := tokenFor(t, "u1", user.RoleUser, time.Hour)
	doctor := tokenFor(t, "d1", user.RoleDoctor, time.Hour)

	_, first := f.do(t, http.MethodPost, "/api/chat/conversations", patient, CreateConversationInput{RecipientID: "d1"})
	status, second := f.do(t, http.MethodPost, "/api/chat/conversations", doctor, CreateConversationInput{RecipientID: "u1"})
	require.Equal(t, http.StatusOK, status)

	var a, b chat.ConversationView
	require.NoError(t, json.Unmarshal(first.Data, &a))
	require.NoError(t, json.Unmarshal(second.Data, &b))
	assert.Equal(t, a.ID, b.ID)
	assert.Nil(t, a.LastMessage)
	assert.Equal(t, 1, f.store.ConversationCount())
}

func TestAPI_CreateConversationIsRateLimitedPerIP(t *testing.T) {
	f := newAPIFixture(t)
	patient := tokenFor(t, "u1", user.RoleUser, time.Hour)

	for i := 0; i < CreateBurst; i++ {
		status, _ := f.do(t, http.MethodPost, "/api/chat/conversations", patient, CreateConversationInput{RecipientID: "d1"})
		require.Equal(t, http.StatusOK, status)
	}

	status, env := f.do(t, http.MethodPost, "/api/chat/conversations", patient, CreateConversationInput{RecipientID: "d1"})
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, errs.ErrRateLimitExceeded, env.Code)

	status, _ = f.do(t, http.MethodGet, "/api/chat/conversations", patient, nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestAPI_PresenceRoleRules(t *testing.T) {
	f := newAPIFixture(t)
	patient := tokenFor(t, "u1", user.RoleUser, time.Hour)
	doctor := tokenFor(t, "d1", user.RoleDoctor, time.Hour)

	conn, _, err := websocket.DefaultDialer.Dial(f.wsURL(doctor), nil)
	require.NoError(t, err)
	defer conn.Close()
	readEvent(t, conn, realtime.EventPresenceUpdate)

	status, env := f.do(t, http.MethodGet, "/api/presence/doctor", patient, nil)
	require.Equal(t, http.StatusOK, status)

	var online OnlineUsersResponse
	require.NoError(t, json.Unmarshal(env.Data, &online))
	assert.Equal(t, []string{"d1"}, online.UserIDs)

	status, _ = f.do(t, http.MethodGet, "/api/presence/admin", patient, nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = f.do(t, http.MethodGet, "/api/presence/user", patient, nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, env = f.do(t, http.MethodGet, "/api/presence/user", doctor, nil)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(env.Data, &online))
	assert.Empty(t, online.UserIDs)

	status, env = f.do(t, http.MethodGet, "/api/presence/nurse", doctor, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, errs.ErrInvalidRole, env.Code)
}

func TestWebSocket_RejectsBadHandshakes(t *testing.T) {
	f := newAPIFixture(t)

	_, res, err := websocket.DefaultDialer.Dial(f.wsURL(""), nil)
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	expired := tokenFor(t, "d1", user.RoleDoctor, -time.Minute)
	_, res, err = websocket.DefaultDialer.Dial(f.wsURL(expired), nil)
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	header := http.Header{}
	header.Set("Authorization", "Bearer not-a-jwt")
	_, res, err = websocket.DefaultDialer.Dial(f.wsURL(""), header)
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	assert.Zero(t, f.registry.Len())
}

func TestWebSocket_PushesMessagesSentOverREST(t *testing.T) {
	f := newAPIFixture(t)
	patient := tokenFor(t, "u1", user.RoleUser, time.Hour)
	doctor := tokenFor(t, "d1", user.RoleDoctor, time.Hour)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+doctor)
	conn, _, err := websocket.DefaultDialer.Dial(f.wsURL(""), header)
	require.NoError(t, err)
	defer conn.Close()

	presenceEvent := readEvent(t, conn, realtime.EventPresenceUpdate)
	var online realtime.PresencePayload
	require.NoError(t, json.Unmarshal(presenceEvent.Payload, &online))
	assert.Equal(t, []string{"d1"}, online.UserIDs)

	status, _ := f.do(t, http.MethodPost, "/api/chat/messages", patient, SendMessageInput{RecipientID: "d1", Content: "are you free?"})
	require.Equal(t, http.StatusCreated, status)

	event := readEvent(t, conn, realtime.EventMessageReceived)
	var pushed realtime.MessagePayload
	require.NoError(t, json.Unmarshal(event.Payload, &pushed))
	assert.Equal(t, "are you free?", pushed.Content)
	assert.Equal(t, "u1", pushed.Sender.ID)
}

func TestUpload_DisabledWithoutStorage(t *testing.T) {
	f := newAPIFixture(t)
	patient := tokenFor(t, "u1", user.RoleUser, time.Hour)

	status, env := f.do(t, http.MethodPost, "/api/upload/avatar/presign", patient, map[string]any{
		"fileName": "me.png", "mimeType": "image/png", "fileSize": 100,
	})
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, errs.ErrFeatureDisabled, env.Code)
}

func TestHealth(t *testing.T) {
	f := newAPIFixture(t)

	status, env := f.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, status)

	var data map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, "ok", data["status"])
	assert.Equal(t, "memory", data["storeDriver"])
	assert.EqualValues(t, 0, data["online"])
}
