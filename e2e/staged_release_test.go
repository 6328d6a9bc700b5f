package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tranche/client"
	"tranche/internal/codes"
	"tranche/internal/config"
	"tranche/internal/db"
	"tranche/internal/engine"
	"tranche/internal/handler"
	"tranche/internal/models"
	"tranche/internal/propagation"
	"tranche/internal/repository"
)

// testContext holds test dependencies
type testContext struct {
	database *db.DB
	broker   *propagation.Broker
	router   chi.Router
	cfg      *config.Config
	cancel   context.CancelFunc
}

func setupTestContext(t *testing.T) *testContext {
	t.Helper()

	cfg, err := config.Load()
	require.NoError(t, err, "failed to load config")

	// Override with test database URL if provided
	if dbURL := os.Getenv("TEST_DATABASE_URL"); dbURL != "" {
		cfg.Database.URL = dbURL
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	database, err := db.New(ctx, cfg.Database)
	if err != nil {
		t.Skipf("PostgreSQL not available: %v", err)
	}

	tc := &testContext{
		database: database,
		cfg:      cfg,
	}
	tc.router = setupRouter(tc)
	return tc
}

func (tc *testContext) cleanup() {
	if tc.cancel != nil {
		tc.cancel()
	}
	if tc.database != nil {
		tc.database.Close()
	}
}

// setupRouter wires the real stack minus Redis: events fan out in-process,
// which keeps the test hermetic and deterministic.
func setupRouter(tc *testContext) chi.Router {
	logger := zap.NewNop()

	repo := repository.NewTransferRepository(tc.database)
	ledger := codes.NewLedger(repo)

	broker := propagation.New(nil, repo, logger, propagation.Config{})
	brokerCtx, cancel := context.WithCancel(context.Background())
	tc.cancel = cancel
	broker.Start(brokerCtx)
	tc.broker = broker

	eng := engine.New(repo, ledger, broker, logger, engine.Config{
		RetryAttempts: tc.cfg.Progress.EngineRetryAttempts,
		RetryBackoff:  tc.cfg.Progress.EngineRetryBackoff,
	})

	transferHandler := handler.NewTransferHandler(eng)
	codeHandler := handler.NewCodeHandler(eng)
	progressHandler := handler.NewProgressHandler(broker)

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/transfers", transferHandler.Create)
		r.Get("/transfers", transferHandler.List)
		r.Get("/transfers/{id}", transferHandler.Get)
		r.Post("/transfers/{id}/suspend", transferHandler.Suspend)
		r.Post("/transfers/{id}/resume", transferHandler.Resume)
		r.Get("/transfers/{id}/codes", codeHandler.List)
		r.Get("/transfers/{id}/codes/next", codeHandler.PeekNext)
		r.Post("/transfers/{id}/codes/{sequence}", transferHandler.ApplyCode)
		r.Get("/transfers/{id}/progress", progressHandler.Snapshot)
		r.Get("/transfers/{id}/stream", progressHandler.Stream)
	})
	return r
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (tc *testContext) do(t *testing.T, method, path string, body any) (int, envelope) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	tc.router.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), "body: %s", w.Body.String())
	return w.Code, env
}

type createdTransfer struct {
	Transfer models.Transfer     `json:"transfer"`
	Codes    []models.IssuedCode `json:"codes"`
}

// TestStagedReleaseFlow walks one transfer through its full lifecycle over
// the HTTP surface: origination, out-of-order and mismatched codes, a
// suspension in the middle, and completion.
func TestStagedReleaseFlow(t *testing.T) {
	tc := setupTestContext(t)
	defer tc.cleanup()

	var created createdTransfer

	t.Run("1_Originate", func(t *testing.T) {
		status, env := tc.do(t, http.MethodPost, "/api/v1/transfers", map[string]any{
			"amount":    "2500.00",
			"recipient": "acct-7731",
			"stages": []map[string]any{
				{"pause_percent": 30, "code_context": "identity"},
				{"pause_percent": 70, "code_context": "compliance"},
				{"pause_percent": 100, "code_context": "release"},
			},
		})
		require.Equal(t, http.StatusCreated, status)
		require.NoError(t, json.Unmarshal(env.Data, &created))

		assert.Equal(t, models.TransferStatusPending, created.Transfer.Status)
		assert.Equal(t, 0, created.Transfer.Percent)
		assert.Equal(t, 3, created.Transfer.TotalSteps)
		require.Len(t, created.Codes, 3)
		for i, c := range created.Codes {
			assert.Equal(t, i+1, c.Sequence)
			assert.Len(t, c.Code, 6)
		}
	})

	t.Run("2_RejectInvalidStages", func(t *testing.T) {
		status, env := tc.do(t, http.MethodPost, "/api/v1/transfers", map[string]any{
			"amount":    "10.00",
			"recipient": "acct-7731",
			"stages": []map[string]any{
				{"pause_percent": 70, "code_context": "identity"},
				{"pause_percent": 30, "code_context": "release"},
			},
		})
		assert.Equal(t, http.StatusBadRequest, status)
		require.NotNil(t, env.Error)
		assert.Equal(t, "INVALID_STAGE_DEFINITION", env.Error.Code)
	})

	transferPath := func() string { return "/api/v1/transfers/" + created.Transfer.ID.String() }

	t.Run("3_CodesListHidesSecrets", func(t *testing.T) {
		status, env := tc.do(t, http.MethodGet, transferPath()+"/codes", nil)
		require.Equal(t, http.StatusOK, status)

		var listed []map[string]any
		require.NoError(t, json.Unmarshal(env.Data, &listed))
		require.Len(t, listed, 3)
		for _, item := range listed {
			_, leaked := item["code"]
			assert.False(t, leaked, "code secret must never appear on the listing surface")
		}
	})

	t.Run("4_GatingRejections", func(t *testing.T) {
		// Wrong secret
		status, env := tc.do(t, http.MethodPost, transferPath()+"/codes/1", map[string]any{"code": "000000"})
		assert.Equal(t, http.StatusUnprocessableEntity, status)
		require.NotNil(t, env.Error)
		assert.Equal(t, "CODE_MISMATCH", env.Error.Code)

		// Skipping ahead with the correct secret for stage 2
		status, env = tc.do(t, http.MethodPost, transferPath()+"/codes/2", map[string]any{"code": created.Codes[1].Code})
		assert.Equal(t, http.StatusUnprocessableEntity, status)
		require.NotNil(t, env.Error)
		assert.Equal(t, "OUT_OF_ORDER", env.Error.Code)

		// Rejections leave the transfer untouched
		status, env = tc.do(t, http.MethodGet, transferPath(), nil)
		require.Equal(t, http.StatusOK, status)
		var tr models.Transfer
		require.NoError(t, json.Unmarshal(env.Data, &tr))
		assert.Equal(t, models.TransferStatusPending, tr.Status)
		assert.Equal(t, 0, tr.Percent)
	})

	t.Run("5_FirstCodeAdvances", func(t *testing.T) {
		status, env := tc.do(t, http.MethodPost, transferPath()+"/codes/1", map[string]any{"code": created.Codes[0].Code})
		require.Equal(t, http.StatusOK, status)

		var tr models.Transfer
		require.NoError(t, json.Unmarshal(env.Data, &tr))
		assert.Equal(t, models.TransferStatusValidating, tr.Status)
		assert.Equal(t, 30, tr.Percent)
		assert.Equal(t, 1, tr.CurrentStepIndex)

		// Single use
		status, env = tc.do(t, http.MethodPost, transferPath()+"/codes/1", map[string]any{"code": created.Codes[0].Code})
		assert.Equal(t, http.StatusConflict, status)
		require.NotNil(t, env.Error)
	})

	t.Run("6_PeekNext", func(t *testing.T) {
		status, env := tc.do(t, http.MethodGet, transferPath()+"/codes/next", nil)
		require.Equal(t, http.StatusOK, status)

		var next models.CodeInfo
		require.NoError(t, json.Unmarshal(env.Data, &next))
		assert.Equal(t, 2, next.Sequence)
		assert.Equal(t, 70, next.PausePercent)
	})

	t.Run("7_SuspendBlocksCodes", func(t *testing.T) {
		status, env := tc.do(t, http.MethodPost, transferPath()+"/suspend", map[string]any{"reason": "manual review"})
		require.Equal(t, http.StatusOK, status)

		var tr models.Transfer
		require.NoError(t, json.Unmarshal(env.Data, &tr))
		assert.Equal(t, models.TransferStatusSuspended, tr.Status)
		require.NotNil(t, tr.SuspendReason)
		assert.Equal(t, "manual review", *tr.SuspendReason)

		status, _ = tc.do(t, http.MethodPost, transferPath()+"/codes/2", map[string]any{"code": created.Codes[1].Code})
		assert.Equal(t, http.StatusLocked, status)

		// Suspending again keeps the original reason
		status, env = tc.do(t, http.MethodPost, transferPath()+"/suspend", map[string]any{"reason": "second look"})
		require.Equal(t, http.StatusOK, status)
		require.NoError(t, json.Unmarshal(env.Data, &tr))
		require.NotNil(t, tr.SuspendReason)
		assert.Equal(t, "manual review", *tr.SuspendReason)
	})

	t.Run("8_ResumeRestoresStatus", func(t *testing.T) {
		status, env := tc.do(t, http.MethodPost, transferPath()+"/resume", nil)
		require.Equal(t, http.StatusOK, status)

		var tr models.Transfer
		require.NoError(t, json.Unmarshal(env.Data, &tr))
		assert.Equal(t, models.TransferStatusValidating, tr.Status)
		assert.Nil(t, tr.SuspendReason)

		status, _ = tc.do(t, http.MethodPost, transferPath()+"/resume", nil)
		assert.Equal(t, http.StatusConflict, status)
	})

	t.Run("9_CompleteRelease", func(t *testing.T) {
		status, env := tc.do(t, http.MethodPost, transferPath()+"/codes/2", map[string]any{"code": created.Codes[1].Code})
		require.Equal(t, http.StatusOK, status)

		var tr models.Transfer
		require.NoError(t, json.Unmarshal(env.Data, &tr))
		assert.Equal(t, models.TransferStatusInProgress, tr.Status)
		assert.Equal(t, 70, tr.Percent)

		status, env = tc.do(t, http.MethodPost, transferPath()+"/codes/3", map[string]any{"code": created.Codes[2].Code})
		require.Equal(t, http.StatusOK, status)
		require.NoError(t, json.Unmarshal(env.Data, &tr))
		assert.Equal(t, models.TransferStatusCompleted, tr.Status)
		assert.Equal(t, 100, tr.Percent)

		// Terminal state is final
		status, _ = tc.do(t, http.MethodPost, transferPath()+"/codes/3", map[string]any{"code": created.Codes[2].Code})
		assert.Equal(t, http.StatusConflict, status)
	})

	t.Run("10_ProgressSnapshot", func(t *testing.T) {
		status, env := tc.do(t, http.MethodGet, transferPath()+"/progress", nil)
		require.Equal(t, http.StatusOK, status)

		var snap models.ProgressSnapshot
		require.NoError(t, json.Unmarshal(env.Data, &snap))
		assert.Equal(t, created.Transfer.ID, snap.TransferID)
		assert.Equal(t, 100, snap.Percent)
		assert.Equal(t, models.TransferStatusCompleted, snap.Status)
	})
}

// TestStreamDeliversEvents drives a second transfer while a client view is
// attached over a real HTTP server, exercising the SSE surface end to end.
func TestStreamDeliversEvents(t *testing.T) {
	tc := setupTestContext(t)
	defer tc.cleanup()

	srv := httptest.NewServer(tc.router)
	defer srv.Close()

	status, env := tc.do(t, http.MethodPost, "/api/v1/transfers", map[string]any{
		"amount":    "500.00",
		"recipient": "acct-1180",
		"stages": []map[string]any{
			{"pause_percent": 50, "code_context": "identity"},
			{"pause_percent": 100, "code_context": "release"},
		},
	})
	require.Equal(t, http.StatusCreated, status)
	var created createdTransfer
	require.NoError(t, json.Unmarshal(env.Data, &created))

	source := client.NewHTTPSource(srv.URL+"/api/v1", 5*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	events := make(chan client.Event, 8)
	streamErr := make(chan error, 1)
	go func() {
		streamErr <- source.Stream(ctx, created.Transfer.ID.String(), func(evt client.Event) {
			events <- evt
		})
	}()

	// Give the subscription a moment to attach before driving the transfer
	time.Sleep(200 * time.Millisecond)

	path := fmt.Sprintf("/api/v1/transfers/%s/codes/1", created.Transfer.ID)
	status, _ = tc.do(t, http.MethodPost, path, map[string]any{"code": created.Codes[0].Code})
	require.Equal(t, http.StatusOK, status)

	select {
	case evt := <-events:
		assert.Equal(t, client.EventTransferProgressed, evt.Kind)
		assert.Equal(t, 50, evt.Percent)
		assert.Equal(t, created.Transfer.ID.String(), evt.TransferID)
	case <-time.After(5 * time.Second):
		t.Fatal("no event arrived on the stream")
	}

	cancel()
	select {
	case <-streamErr:
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not terminate after cancel")
	}
}
