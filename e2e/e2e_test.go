//go:build e2e
// +build e2e

package e2e_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"gorm.io/gorm"

	"smartpot-app-go/internal/app"
	"smartpot-app-go/internal/config"
	"smartpot-app-go/internal/db"
	"smartpot-app-go/internal/transport/httpserver"
	"smartpot-app-go/pkg/logger"
)

type testEnv struct {
	server     *httptest.Server
	authServer *httptest.Server
	db         *gorm.DB
	services   app.Services

	owner      string
	stranger   string
	household1 string
	household2 string
	flower1    string
}

func setupE2E(t *testing.T) *testEnv {
	t.Helper()

	dsn := os.Getenv("E2E_DB_DSN")
	if dsn == "" {
		t.Skip("E2E_DB_DSN not set; skipping e2e tests")
	}

	authServer := newAuthServer(t)

	cfg := config.Config{
		DB: config.DBConfig{DSN: dsn},
		Auth: config.AuthConfig{
			URL:     authServer.URL,
			APIKey:  "test-key",
			Timeout: 2 * time.Second,
		},
		CORS:    config.CORSConfig{AllowedOrigins: []string{"*"}},
		Binding: config.BindingConfig{MaxVersionRetries: 3},
		Telemetry: config.TelemetryConfig{
			SendTimeout:  time.Second,
			HistoryLimit: 100,
		},
	}

	log := logger.NewNop()
	dbConn, err := db.NewPostgres(cfg.DB, log)
	if err != nil {
		t.Fatalf("db connect: %v", err)
	}
	if err := db.Migrate(dbConn, log, app.Models()...); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := cleanDB(dbConn); err != nil {
		t.Fatalf("clean db: %v", err)
	}

	env := &testEnv{
		authServer: authServer,
		db:         dbConn,
		owner:      uuid.NewString(),
		stranger:   uuid.NewString(),
		household1: uuid.NewString(),
		household2: uuid.NewString(),
		flower1:    uuid.NewString(),
	}

	seed := &app.Seed{Households: []app.SeedHousehold{
		{
			ID:    env.household1,
			Name:  "home",
			Owner: env.owner,
			Flowers: []app.SeedFlower{
				{ID: env.flower1, Name: "fern", Serial: "SN001"},
			},
			SmartPots: []app.SeedPot{
				{ID: uuid.NewString(), Serial: "SN001"},
				{ID: uuid.NewString(), Serial: "SN002"},
			},
		},
		{
			ID:    env.household2,
			Name:  "office",
			Owner: env.owner,
		},
	}}
	if err := seed.ApplyGorm(context.Background(), dbConn); err != nil {
		t.Fatalf("seed: %v", err)
	}

	services := app.NewServices(cfg, app.SQLStores(dbConn), log)
	env.services = services
	env.server = httptest.NewServer(httpserver.NewRouter(cfg, app.NewHandlers(cfg, services, log), log))
	return env
}

func (e *testEnv) Close() {
	e.services.Registry.CloseAll()
	e.server.Close()
	e.authServer.Close()
	sqlDB, err := e.db.DB()
	if err == nil {
		_ = sqlDB.Close()
	}
}

// newAuthServer accepts any non-empty bearer token and treats it as the user id.
func newAuthServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("apikey") != "test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		token := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
		if token == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":    token,
			"email": token + "@example.com",
		})
	}))
}

func cleanDB(dbConn *gorm.DB) error {
	return dbConn.WithContext(context.Background()).Exec(
		"TRUNCATE TABLE ingest_readings, ingest_batches, measurements, smart_pots, flowers, household_members, households CASCADE",
	).Error
}

func requestJSON(t *testing.T, method, url, token string, payload any) (*http.Response, []byte) {
	t.Helper()

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, url, body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	return resp, respBody
}

type frame struct {
	Type    string          `json:"type"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func dialStream(t *testing.T, env *testEnv, flowerID, token string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws/measurements/" + flowerID + "?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial stream: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	first := readFrame(t, conn)
	if first.Type != "connection" {
		t.Fatalf("expected connection frame, got %q", first.Type)
	}
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var f frame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return f
}

// waitFrame skips frames until one of the wanted type arrives.
func waitFrame(t *testing.T, conn *websocket.Conn, typ string) frame {
	t.Helper()
	for i := 0; i < 10; i++ {
		if f := readFrame(t, conn); f.Type == typ {
			return f
		}
	}
	t.Fatalf("no %s frame received", typ)
	return frame{}
}

func TestIngestReachesLiveStream(t *testing.T) {
	env := setupE2E(t)
	defer env.Close()

	conn := dialStream(t, env, env.flower1, env.owner)

	resp, body := requestJSON(t, http.MethodPost, env.server.URL+"/api/measurements", env.owner, map[string]any{
		"serial": "SN001",
		"type":   "humidity",
		"value":  41.5,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.StatusCode, body)
	}
	var ingest struct {
		Delivered int `json:"delivered"`
	}
	if err := json.Unmarshal(body, &ingest); err != nil {
		t.Fatalf("decode ingest: %v", err)
	}
	if ingest.Delivered != 1 {
		t.Fatalf("expected 1 delivery, got %d", ingest.Delivered)
	}

	inserted := waitFrame(t, conn, "measurement_inserted")
	var data struct {
		FlowerID string  `json:"flower_id"`
		Type     string  `json:"type"`
		Value    float64 `json:"value"`
	}
	if err := json.Unmarshal(inserted.Data, &data); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if data.FlowerID != env.flower1 || data.Type != "humidity" || data.Value != 41.5 {
		t.Fatalf("unexpected frame data %+v", data)
	}

	if err := conn.WriteJSON(map[string]string{"type": "get_measurements"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	history := waitFrame(t, conn, "measurements")
	if !strings.Contains(string(history.Data), `"humidity"`) {
		t.Fatalf("expected humidity history, got %s", history.Data)
	}
}

func TestSameHouseholdRebindNotifiesStream(t *testing.T) {
	env := setupE2E(t)
	defer env.Close()

	conn := dialStream(t, env, env.flower1, env.owner)

	resp, body := requestJSON(t, http.MethodPost, env.server.URL+"/api/transplant/same-household", env.owner, map[string]any{
		"flowerId":     env.flower1,
		"targetSerial": "SN002",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}

	rebound := false
	for i := 0; i < 5 && !rebound; i++ {
		f := waitFrame(t, conn, "rebind")
		var data struct {
			FlowerID     string  `json:"flower_id"`
			SerialNumber *string `json:"serial_number"`
		}
		if err := json.Unmarshal(f.Data, &data); err != nil {
			t.Fatalf("decode rebind: %v", err)
		}
		rebound = data.SerialNumber != nil && *data.SerialNumber == "SN002"
	}
	if !rebound {
		t.Fatalf("expected rebind to SN002")
	}

	resp, body = requestJSON(t, http.MethodGet, env.server.URL+"/api/flowers/"+env.flower1+"/binding", env.owner, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}
	if !strings.Contains(string(body), `"serial":"SN002"`) {
		t.Fatalf("expected SN002 binding, got %s", body)
	}
}

func TestCrossHouseholdTransplantKeepsPot(t *testing.T) {
	env := setupE2E(t)
	defer env.Close()

	resp, body := requestJSON(t, http.MethodPost, env.server.URL+"/api/transplant/cross-household", env.owner, map[string]any{
		"flowerId":          env.flower1,
		"targetHouseholdId": env.household2,
		"keepPot":           true,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}

	var result struct {
		HouseholdID string  `json:"householdId"`
		Serial      *string `json:"serial"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.HouseholdID != env.household2 || result.Serial == nil || *result.Serial != "SN001" {
		t.Fatalf("unexpected transplant result %s", body)
	}
}

func TestStrangerIsForbidden(t *testing.T) {
	env := setupE2E(t)
	defer env.Close()

	resp, body := requestJSON(t, http.MethodPost, env.server.URL+"/api/flowers/"+env.flower1+"/disconnect", env.stranger, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", resp.StatusCode, body)
	}

	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws/measurements/" + env.flower1 + "?token=" + env.stranger
	_, wsResp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatalf("expected stream to be refused")
	}
	if wsResp == nil || wsResp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 on upgrade, got %v", wsResp)
	}
}

func TestMissingTokenIsUnauthorized(t *testing.T) {
	env := setupE2E(t)
	defer env.Close()

	resp, _ := requestJSON(t, http.MethodGet, env.server.URL+"/api/flowers/"+env.flower1+"/measurements", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}
