package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/easel/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/easel/backend/internal/boards"
	"github.com/MarcoPoloResearchLab/easel/backend/internal/database"
	"github.com/MarcoPoloResearchLab/easel/backend/internal/notifications"
	"github.com/MarcoPoloResearchLab/easel/backend/internal/presence"
	"github.com/MarcoPoloResearchLab/easel/backend/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type testEnv struct {
	server  *httptest.Server
	relay   *presence.Relay
	gateway *presence.Gateway
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access database handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := database.Migrate(db); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	tokenIssuer := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("test-signing-secret"),
		Issuer:        "easel-auth",
		AccessTTL:     time.Minute,
		RefreshTTL:    time.Hour,
	})

	provider := users.NewUUIDProvider()
	userService, err := users.NewService(users.ServiceConfig{Database: db, IDProvider: provider})
	if err != nil {
		t.Fatalf("failed to construct user service: %v", err)
	}
	boardService, err := boards.NewService(boards.ServiceConfig{
		Database:   db,
		IDProvider: provider,
		Directory:  userService,
	})
	if err != nil {
		t.Fatalf("failed to construct board service: %v", err)
	}

	gateway := presence.NewGateway()
	relay := presence.NewRelay(presence.RelayConfig{Logger: zap.NewNop()})
	gateway.Start(relay)

	notificationService, err := notifications.NewService(notifications.ServiceConfig{
		Database:   db,
		Emitter:    gateway,
		IDProvider: provider,
	})
	if err != nil {
		t.Fatalf("failed to construct notification service: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		TokenManager:  tokenIssuer,
		Users:         userService,
		Boards:        boardService,
		Notifications: notificationService,
		Gateway:       gateway,
		Relay:         relay,
		Logger:        zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return testEnv{server: server, relay: relay, gateway: gateway}
}

func (e testEnv) postJSON(t *testing.T, path, token string, body interface{}) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to marshal request: %v", err)
	}
	request, err := http.NewRequest(http.MethodPost, e.server.URL+path, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("failed to construct request: %v", err)
	}
	request.Header.Set("Content-Type", "application/json")
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return response
}

func (e testEnv) getJSON(t *testing.T, path, token string) *http.Response {
	t.Helper()
	request, err := http.NewRequest(http.MethodGet, e.server.URL+path, http.NoBody)
	if err != nil {
		t.Fatalf("failed to construct request: %v", err)
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return response
}

func decodeBody(t *testing.T, response *http.Response, target interface{}) {
	t.Helper()
	defer response.Body.Close()
	if err := json.NewDecoder(response.Body).Decode(target); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}

type tokensResponse struct {
	Status string `json:"status"`
	Tokens struct {
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
		ExpiresIn    int64  `json:"expiresIn"`
		TokenType    string `json:"tokenType"`
	} `json:"tokens"`
}

// registerUser creates an account through the API and returns its tokens.
func (e testEnv) registerUser(t *testing.T, name, email string) tokensResponse {
	t.Helper()
	response := e.postJSON(t, "/auth/register", "", map[string]string{
		"name":     name,
		"email":    email,
		"password": "s3cret",
	})
	if response.StatusCode != http.StatusCreated {
		t.Fatalf("unexpected register status: %d", response.StatusCode)
	}
	var tokens tokensResponse
	decodeBody(t, response, &tokens)
	return tokens
}
