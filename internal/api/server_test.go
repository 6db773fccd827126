package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illegalcall/wingwoman/internal/config"
	"github.com/illegalcall/wingwoman/internal/events"
	"github.com/illegalcall/wingwoman/internal/generation"
	"github.com/illegalcall/wingwoman/internal/inflight"
	"github.com/illegalcall/wingwoman/internal/metrics"
	"github.com/illegalcall/wingwoman/internal/models"
	"github.com/illegalcall/wingwoman/internal/pkg/supabase"
	"github.com/illegalcall/wingwoman/internal/session"
	"github.com/illegalcall/wingwoman/internal/storage"
	"github.com/illegalcall/wingwoman/internal/store"
)

// MockProducer simulates Kafka producer for testing
type MockProducer struct {
	sarama.SyncProducer
	mu       sync.Mutex
	messages []*sarama.ProducerMessage
}

func (m *MockProducer) SendMessage(msg *sarama.ProducerMessage) (partition int32, offset int64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	return 0, 0, nil
}

func (m *MockProducer) Close() error {
	return nil
}

func (m *MockProducer) kinds(t *testing.T) []models.UsageEventKind {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kinds []models.UsageEventKind
	for _, msg := range m.messages {
		value, err := msg.Value.Encode()
		require.NoError(t, err)
		event, err := events.Decode(value)
		require.NoError(t, err)
		kinds = append(kinds, event.Kind)
	}
	return kinds
}

// fakeAuth accepts any password except "wrong".
type fakeAuth struct {
	signedOut []string
}

func (f *fakeAuth) SignUp(ctx context.Context, email, password, name string) (supabase.Identity, error) {
	if email == "taken@example.com" {
		return supabase.Identity{}, &supabase.AuthError{Op: "signup", Message: "User already registered"}
	}
	return supabase.Identity{UserID: "user-" + email, Email: email, Name: name, AccessToken: "at-" + email}, nil
}

func (f *fakeAuth) SignIn(ctx context.Context, email, password string) (supabase.Identity, error) {
	if password == "wrong" {
		return supabase.Identity{}, &supabase.AuthError{Op: "signin", Message: "Invalid login credentials"}
	}
	return supabase.Identity{UserID: "user-" + email, Email: email, AccessToken: "at-" + email}, nil
}

func (f *fakeAuth) Recover(ctx context.Context, email string) error {
	return nil
}

func (f *fakeAuth) SignOut(ctx context.Context, accessToken string) error {
	f.signedOut = append(f.signedOut, accessToken)
	return nil
}

// fakeGenerator answers every feature with canned output.
type fakeGenerator struct {
	mu         sync.Mutex
	calls      int
	err        error
	set        models.IcebreakerSet
	transcript []models.ChatMessage
	images     int
}

func (f *fakeGenerator) record() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

func (f *fakeGenerator) AssessProfile(ctx context.Context, images []generation.Image, platform string) (string, error) {
	f.images = len(images)
	if err := f.record(); err != nil {
		return "", err
	}
	return "## Overall Score: 7/10\n• Great photos", nil
}

func (f *fakeGenerator) GenerateIcebreakers(ctx context.Context, interest, matchContext string) (models.IcebreakerSet, error) {
	if err := f.record(); err != nil {
		return models.IcebreakerSet{}, err
	}
	return f.set, nil
}

func (f *fakeGenerator) AnalyzePrompt(ctx context.Context, question, answer string, image *generation.Image) (string, error) {
	if err := f.record(); err != nil {
		return "", err
	}
	return "**Score: 8/10**", nil
}

func (f *fakeGenerator) AskAssistant(ctx context.Context, question string, transcript []models.ChatMessage) (string, error) {
	f.transcript = transcript
	if err := f.record(); err != nil {
		return "", err
	}
	return "Lead with a question about their photo.", nil
}

// memStore is an in-memory store.ProfileStore.
type memStore struct {
	mu       sync.Mutex
	profiles map[string]models.Profile
	saved    map[string][]models.SavedIcebreaker
	nextID   int
}

func newMemStore() *memStore {
	return &memStore{profiles: map[string]models.Profile{}, saved: map[string][]models.SavedIcebreaker{}}
}

func (m *memStore) GetProfile(ctx context.Context, userID string) (models.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	if !ok {
		return models.Profile{}, store.ErrNotFound
	}
	return p, nil
}

func (m *memStore) CreateProfile(ctx context.Context, p models.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.ID] = p
	return nil
}

func (m *memStore) UpdateProfile(ctx context.Context, userID string, patch models.ProfilePatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	if !ok {
		return store.ErrNotFound
	}
	if patch.Tier != nil {
		p.Tier = *patch.Tier
	}
	if patch.Credits != nil {
		p.Credits = *patch.Credits
	}
	if patch.Stats != nil {
		p.Stats = *patch.Stats
	}
	if patch.LastReset != nil {
		p.LastReset = *patch.LastReset
	}
	m.profiles[userID] = p
	return nil
}

func (m *memStore) ListSaved(ctx context.Context, userID string) ([]models.SavedIcebreaker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.SavedIcebreaker(nil), m.saved[userID]...), nil
}

func (m *memStore) InsertSaved(ctx context.Context, userID string, item models.Icebreaker) (models.SavedIcebreaker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	s := models.SavedIcebreaker{Icebreaker: item, UserID: userID, SavedAt: time.Now()}
	s.ID = fmt.Sprintf("row-%d", m.nextID)
	m.saved[userID] = append([]models.SavedIcebreaker{s}, m.saved[userID]...)
	return s, nil
}

func (m *memStore) DeleteSaved(ctx context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.saved[userID]
	for i, it := range items {
		if it.ID == id {
			m.saved[userID] = append(items[:i:i], items[i+1:]...)
			return nil
		}
	}
	return store.ErrNotFound
}

type testEnv struct {
	server    *Server
	auth      *fakeAuth
	gen       *fakeGenerator
	store     *memStore
	producer  *MockProducer
	miniRedis *miniredis.Miniredis
}

// setupTestServer initializes a test instance of the API server.
func setupTestServer(t *testing.T) *testEnv {
	miniRedis, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(miniRedis.Close)

	redisClient := redis.NewClient(&redis.Options{Addr: miniRedis.Addr()})

	cfg := &config.Config{
		Server: config.ServerConfig{
			Port:        ":8080",
			Environment: "development",
		},
		JWT: config.JWTConfig{
			Secret:     "test-secret",
			Expiration: 24 * time.Hour,
		},
		Credits: config.CreditsConfig{
			ResetInterval: 7 * 24 * time.Hour,
		},
		Storage: config.StorageConfig{
			MaxSize: 1 << 20,
		},
	}

	local, err := storage.NewLocalStorage(t.TempDir(), cfg.Storage.MaxSize)
	require.NoError(t, err)

	env := &testEnv{
		auth:      &fakeAuth{},
		gen:       &fakeGenerator{set: sampleSet()},
		store:     newMemStore(),
		producer:  &MockProducer{},
		miniRedis: miniRedis,
	}
	env.server = NewServer(cfg, Deps{
		Auth:      env.auth,
		Store:     env.store,
		Sessions:  session.NewManager(env.store, nil),
		Generator: env.gen,
		Storage:   local,
		Guard:     inflight.NewGuard(redisClient, time.Minute),
		Publisher: events.NewPublisher(env.producer, "usage-events"),
		Metrics:   metrics.New(prometheus.NewRegistry()),
	})
	return env
}

func sampleSet() models.IcebreakerSet {
	return models.IcebreakerSet{
		Icebreakers: []models.Icebreaker{
			{ID: "ib_001", Tone: "Playful", MessageText: "Best trail you've done this year?", InterestCategory: "Hiking"},
			{ID: "ib_002", Tone: "Curious", MessageText: "Sunrise or sunset hikes?", InterestCategory: "Hiking"},
		},
		ProTip: "Ask about their favorite trail",
	}
}

// login signs the user in and returns the API token.
func (e *testEnv) login(t *testing.T, email string) string {
	resp := e.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": email, "password": "secret1"})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var result models.LoginResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	return result.Token
}

func (e *testEnv) do(t *testing.T, method, path, token string, body interface{}) *http.Response {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := e.server.app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response) map[string]interface{} {
	var result map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	return result
}

func (e *testEnv) session(t *testing.T, email string) *session.Session {
	sess, err := e.server.sessions.Get(context.Background(), "user-"+email)
	require.NoError(t, err)
	return sess
}

func TestHealthz(t *testing.T) {
	env := setupTestServer(t)

	resp := env.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	env := setupTestServer(t)

	resp := env.do(t, http.MethodGet, "/api/profile", "", nil)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/profile", "not-a-token", nil)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestHandleGetProfile(t *testing.T) {
	env := setupTestServer(t)
	token := env.login(t, "asha@example.com")

	resp := env.do(t, http.MethodGet, "/api/profile", token, nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	result := decode(t, resp)
	profile := result["profile"].(map[string]interface{})
	assert.Equal(t, "Free", profile["tier"])
	assert.Equal(t, 3.0, profile["credits"])
	assert.Equal(t, 3.0, result["allotment"])

	costs := result["costs"].(map[string]interface{})
	assert.Equal(t, 0.0, costs["assessment"])
	assert.Equal(t, 0.25, costs["icebreakers"])
}

func TestHandleUpgrade(t *testing.T) {
	env := setupTestServer(t)
	token := env.login(t, "asha@example.com")

	resp := env.do(t, http.MethodPost, "/api/profile/upgrade", token, map[string]string{"tier": "Premium"})
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	profile := decode(t, resp)["profile"].(map[string]interface{})
	assert.Equal(t, "Premium", profile["tier"])
	assert.Equal(t, 9999.0, profile["credits"])
	assert.Contains(t, env.producer.kinds(t), models.EventTierUpgraded)

	resp = env.do(t, http.MethodPost, "/api/profile/upgrade", token, map[string]string{"tier": "Gold"})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestHandleGenerateIcebreakers(t *testing.T) {
	env := setupTestServer(t)
	token := env.login(t, "asha@example.com")

	resp := env.do(t, http.MethodPost, "/api/icebreakers", token, map[string]string{"interest": "Hiking"})
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	result := decode(t, resp)
	assert.Len(t, result["icebreakers"], 2)
	assert.Equal(t, []interface{}{false, false}, result["saved"])
	assert.Equal(t, 2.75, result["credits"])
	assert.Equal(t, []models.UsageEventKind{models.EventCreditsSpent}, env.producer.kinds(t))

	resp = env.do(t, http.MethodPost, "/api/icebreakers", token, map[string]string{"interest": ""})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, 1, env.gen.calls)
}

func TestSpendRejectedWithoutCredits(t *testing.T) {
	env := setupTestServer(t)
	token := env.login(t, "asha@example.com")

	sess := env.session(t, "asha@example.com")
	for sess.Ledger.TrySpend(0.5, models.ActivityNone) {
	}
	balance := sess.Ledger.Balance()

	resp := env.do(t, http.MethodPost, "/api/ama", token, map[string]string{"question": "What should I say first?"})
	assert.Equal(t, fiber.StatusPaymentRequired, resp.StatusCode)

	result := decode(t, resp)
	assert.Equal(t, true, result["upgrade"])
	assert.Equal(t, models.ErrCodeInsufficientCredits, result["code"])
	assert.Equal(t, balance, sess.Ledger.Balance())
	assert.Zero(t, env.gen.calls)
}

func TestGenerationFailureKeepsCharge(t *testing.T) {
	env := setupTestServer(t)
	token := env.login(t, "asha@example.com")
	env.gen.err = &generation.GenerationError{Op: "ask", Err: errors.New("quota")}

	resp := env.do(t, http.MethodPost, "/api/ama", token, map[string]string{"question": "Hi?"})
	assert.Equal(t, fiber.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, 2.5, env.session(t, "asha@example.com").Ledger.Balance())
}

func TestDuplicateSubmissionRejected(t *testing.T) {
	env := setupTestServer(t)
	token := env.login(t, "asha@example.com")
	require.NoError(t, env.miniRedis.Set("inflight:user-asha@example.com:icebreakers", "other"))

	resp := env.do(t, http.MethodPost, "/api/icebreakers", token, map[string]string{"interest": "Hiking"})
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)
	assert.Equal(t, 3.0, env.session(t, "asha@example.com").Ledger.Balance())
}

func TestHandleAskKeepsTranscript(t *testing.T) {
	env := setupTestServer(t)
	token := env.login(t, "asha@example.com")

	resp := env.do(t, http.MethodPost, "/api/ama", token, map[string]string{"question": "How long should my bio be?"})
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	message := decode(t, resp)["message"].(map[string]interface{})
	assert.Equal(t, "assistant", message["role"])

	// the model saw the welcome message only
	assert.Len(t, env.gen.transcript, 1)

	resp = env.do(t, http.MethodGet, "/api/ama/transcript", token, nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	messages := decode(t, resp)["messages"].([]interface{})
	assert.Len(t, messages, 3)
}

func TestHandleAssessProfile(t *testing.T) {
	env := setupTestServer(t)
	token := env.login(t, "asha@example.com")

	png := base64.StdEncoding.EncodeToString([]byte("\x89PNG\r\n\x1a\n0000"))
	body := map[string]interface{}{"platform": "Hinge", "sources": []string{png, "data:image/png;base64," + png}}

	resp := env.do(t, http.MethodPost, "/api/assessments", token, body)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	result := decode(t, resp)
	assert.Equal(t, 0.0, result["cost"])
	assert.Equal(t, 3.0, result["credits"])
	assert.Contains(t, result["markdown"], "## Overall Score")
	assert.Equal(t, 2, env.gen.images)

	// later assessments are charged
	resp = env.do(t, http.MethodPost, "/api/assessments", token, body)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, 1.0, decode(t, resp)["credits"])
}

func TestHandleAssessProfileRejectsBadImages(t *testing.T) {
	env := setupTestServer(t)
	token := env.login(t, "asha@example.com")

	png := base64.StdEncoding.EncodeToString([]byte("\x89PNG\r\n\x1a\n0000"))
	text := base64.StdEncoding.EncodeToString([]byte("just some text"))

	tests := []struct {
		name    string
		sources []string
	}{
		{name: "one image", sources: []string{png}},
		{name: "not an image", sources: []string{png, text}},
		{name: "not base64", sources: []string{png, "%%%"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, http.MethodPost, "/api/assessments", token, map[string]interface{}{"sources": tt.sources})
			assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
		})
	}
	assert.Zero(t, env.gen.calls)
}

func TestHandleAnalyzePrompt(t *testing.T) {
	env := setupTestServer(t)
	token := env.login(t, "asha@example.com")

	resp := env.do(t, http.MethodPost, "/api/prompts/analyze", token, map[string]string{"question": "My simple pleasures"})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/prompts/analyze", token,
		map[string]string{"question": "My simple pleasures", "answer": "Coffee and long walks"})
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, 2.0, decode(t, resp)["credits"])
}

func TestToggleSaveRoundTrip(t *testing.T) {
	env := setupTestServer(t)
	token := env.login(t, "asha@example.com")
	item := sampleSet().Icebreakers[0]

	resp := env.do(t, http.MethodPost, "/api/saved/toggle", token, map[string]interface{}{"icebreaker": item})
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)
	assert.Equal(t, true, decode(t, resp)["saved"])

	resp = env.do(t, http.MethodGet, "/api/saved/check?text=Best%20trail%20you%27ve%20done%20this%20year%3F", token, nil)
	assert.Equal(t, true, decode(t, resp)["saved"])

	resp = env.do(t, http.MethodGet, "/api/saved/categories", token, nil)
	assert.Equal(t, []interface{}{"All", "Hiking"}, decode(t, resp)["categories"])

	// regenerated icebreakers are flagged as saved by text
	resp = env.do(t, http.MethodPost, "/api/icebreakers", token, map[string]string{"interest": "Hiking"})
	assert.Equal(t, []interface{}{true, false}, decode(t, resp)["saved"])

	resp = env.do(t, http.MethodPost, "/api/saved/toggle", token, map[string]interface{}{"icebreaker": item})
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, false, decode(t, resp)["saved"])

	resp = env.do(t, http.MethodGet, "/api/saved", token, nil)
	assert.Equal(t, 0.0, decode(t, resp)["count"])

	assert.Equal(t, []models.UsageEventKind{
		models.EventItemSaved,
		models.EventCreditsSpent,
		models.EventItemUnsaved,
	}, env.producer.kinds(t))
}

func TestHandleDeleteSaved(t *testing.T) {
	env := setupTestServer(t)
	token := env.login(t, "asha@example.com")

	resp := env.do(t, http.MethodPost, "/api/saved/toggle", token,
		map[string]interface{}{"icebreaker": sampleSet().Icebreakers[1]})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	id := decode(t, resp)["item"].(map[string]interface{})["id"].(string)

	resp = env.do(t, http.MethodDelete, "/api/saved/"+id, token, nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodDelete, "/api/saved/"+id, token, nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestDeleteSavedOfAnotherUser(t *testing.T) {
	env := setupTestServer(t)
	asha := env.login(t, "asha@example.com")
	bob := env.login(t, "bob@example.com")

	resp := env.do(t, http.MethodPost, "/api/saved/toggle", asha,
		map[string]interface{}{"icebreaker": sampleSet().Icebreakers[0]})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	id := decode(t, resp)["item"].(map[string]interface{})["id"].(string)

	resp = env.do(t, http.MethodDelete, "/api/saved/"+id, bob, nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	assert.Len(t, env.store.saved["user-asha@example.com"], 1)
	assert.True(t, env.session(t, "asha@example.com").Saved.IsSaved(sampleSet().Icebreakers[0].MessageText))
}

func TestResetCreditsOnlyWhenDue(t *testing.T) {
	env := setupTestServer(t)
	token := env.login(t, "asha@example.com")

	resp := env.do(t, http.MethodPost, "/api/icebreakers", token, map[string]string{"interest": "Hiking"})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/profile/reset-credits", token, nil)
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)
	assert.Equal(t, 2.75, decode(t, resp)["credits"])
	assert.Equal(t, 2.75, env.session(t, "asha@example.com").Ledger.Balance())
	assert.NotContains(t, env.producer.kinds(t), models.EventCreditsReset)
}

func TestStaleWeekRefilledOnSessionOpen(t *testing.T) {
	env := setupTestServer(t)
	lastWeek := time.Now().Add(-8 * 24 * time.Hour)
	p := models.NewProfile("user-asha@example.com", "Asha", "asha@example.com", lastWeek)
	p.Credits = 0.5
	env.store.profiles[p.ID] = p

	// the token outlives any session, so the reset is evaluated on this request
	token, err := env.server.issueToken(p.ID, p.Email)
	require.NoError(t, err)

	resp := env.do(t, http.MethodPost, "/api/profile/reset-credits", token, nil)
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode, "session open already refilled the week")
	assert.Equal(t, 3.0, env.session(t, "asha@example.com").Ledger.Balance())
}
