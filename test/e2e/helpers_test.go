package e2e_test

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"github.com/alexjbarnes/checklist-sync/internal/auth"
	"github.com/alexjbarnes/checklist-sync/internal/drive"
	"github.com/alexjbarnes/checklist-sync/internal/drive/drivetest"
	"github.com/alexjbarnes/checklist-sync/internal/localstore"
	"github.com/alexjbarnes/checklist-sync/internal/mcpserver"
	"github.com/alexjbarnes/checklist-sync/internal/models"
	"github.com/alexjbarnes/checklist-sync/internal/server"
	"github.com/alexjbarnes/checklist-sync/internal/state"
	"github.com/alexjbarnes/checklist-sync/internal/syncer"
)

const (
	initialAccess = "e2e-access-1"
	rotatedAccess = "e2e-access-2"
	refreshToken  = "e2e-refresh"
	mcpToken      = "e2e-mcp-token"
)

// harness holds the full e2e stack: a fake Drive server, a fake OAuth
// token endpoint, real bbolt state, a local store in a temp directory,
// the sync engine, and the authenticated MCP HTTP surface.
type harness struct {
	Drive    *drivetest.Server
	State    *state.State
	Provider *auth.Provider
	Local    *localstore.Store
	Engine   *syncer.Engine
	URL      string

	mu        sync.Mutex
	refreshes int
}

// newHarness wires the stack with a valid cached token so the engine
// starts in NEEDS_SYNC.
func newHarness(t *testing.T) *harness {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	h := &harness{}

	h.Drive = drivetest.NewServer()
	t.Cleanup(h.Drive.Close)
	h.Drive.RequireToken(initialAccess)

	oauthSrv := httptest.NewServer(http.HandlerFunc(h.handleToken))
	t.Cleanup(oauthSrv.Close)

	st, err := state.LoadAt(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	h.State = st

	require.NoError(t, st.SetToken(&oauth2.Token{
		AccessToken:  initialAccess,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		Expiry:       time.Now().Add(time.Hour),
	}))

	h.Provider, err = auth.NewProvider(auth.Config{
		OAuth: &oauth2.Config{
			ClientID: "e2e-client",
			Endpoint: oauth2.Endpoint{
				TokenURL:      oauthSrv.URL + "/token",
				DeviceAuthURL: oauthSrv.URL + "/device/code",
				AuthStyle:     oauth2.AuthStyleInParams,
			},
		},
	}, st, logger)
	require.NoError(t, err)

	remote, err := drive.New(context.Background(), drive.Config{
		Endpoint:    h.Drive.URL,
		TokenSource: h.Provider.TokenSource(),
	}, logger)
	require.NoError(t, err)

	h.Local, err = localstore.New(filepath.Join(t.TempDir(), "checklists"), logger)
	require.NoError(t, err)

	h.Engine = syncer.NewEngine(syncer.Config{
		Local:            h.Local,
		Remote:           remote,
		Auth:             h.Provider,
		PollInterval:     50 * time.Millisecond,
		FullSyncInterval: time.Hour,
		OnPassComplete: func(r models.PassReport) {
			_ = st.SetStatus(r)
		},
	}, logger)

	hash, err := bcrypt.GenerateFromPassword([]byte(mcpToken), bcrypt.MinCost)
	require.NoError(t, err)

	mcpServer := mcp.NewServer(
		&mcp.Implementation{Name: "checklist-sync-e2e", Version: "test"},
		nil,
	)
	mcpserver.RegisterTools(mcpServer, h.Engine, h.Local, logger)

	mcpHandler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return mcpServer
	}, nil)

	ts := httptest.NewServer(server.NewMux(server.MuxConfig{
		TokenHash:  string(hash),
		MCPHandler: mcpHandler,
		State:      h.Engine.State,
		Logger:     logger,
	}))
	t.Cleanup(ts.Close)
	h.URL = ts.URL

	return h
}

// handleToken serves refresh grants for refreshToken with rotatedAccess.
func (h *harness) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/token" || r.ParseForm() != nil {
		http.NotFound(w, r)
		return
	}

	if r.PostForm.Get("grant_type") != "refresh_token" || r.PostForm.Get("refresh_token") != refreshToken {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))

		return
	}

	h.mu.Lock()
	h.refreshes++
	h.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"access_token": rotatedAccess,
		"token_type":   "Bearer",
		"expires_in":   3600,
	})
}

func (h *harness) refreshCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.refreshes
}

// run starts the engine and the local watcher until the test ends.
func (h *harness) run(t *testing.T) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return h.Engine.Run(gctx) })
	g.Go(func() error {
		_ = h.Local.Watch(gctx, h.Engine.NotifyLocalChange)
		return nil
	})

	t.Cleanup(func() {
		cancel()
		_ = g.Wait()
	})
}

// waitForState blocks until the engine reports want.
func (h *harness) waitForState(t *testing.T, want models.SyncState) {
	t.Helper()

	require.Eventually(t, func() bool {
		return h.Engine.State() == want
	}, 10*time.Second, 20*time.Millisecond, "engine never reached %s (at %s)", want, h.Engine.State())
}

// mcpSession creates an MCP client session authenticated with the given
// Bearer token.
func (h *harness) mcpSession(t *testing.T, token string) *mcp.ClientSession {
	t.Helper()

	transport := &mcp.StreamableClientTransport{
		Endpoint:             h.URL + "/mcp",
		HTTPClient:           newBearerClient(token),
		DisableStandaloneSSE: true,
	}

	client := mcp.NewClient(
		&mcp.Implementation{Name: "e2e-test-client", Version: "test"},
		nil,
	)

	session, err := client.Connect(t.Context(), transport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })

	return session
}

func newBearerClient(token string) *http.Client {
	return &http.Client{Transport: &bearerTransport{token: token, base: http.DefaultTransport}}
}

// bearerTransport is an http.RoundTripper that injects a Bearer token
// into every request's Authorization header.
type bearerTransport struct {
	token string
	base  http.RoundTripper
}

func (bt *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+bt.token)

	return bt.base.RoundTrip(req)
}

// checklistDoc returns a valid serialized checklist named name.
func checklistDoc(t *testing.T, name, prompt string) []byte {
	t.Helper()

	data, err := json.Marshal(map[string]any{
		"name": name,
		"groups": []any{map[string]any{
			"title": "Normal",
			"checklists": []any{map[string]any{
				"title": "Preflight",
				"items": []any{map[string]any{
					"type":        "challenge_response",
					"prompt":      prompt,
					"expectation": "Checked",
				}},
			}},
		}},
	})
	require.NoError(t, err)

	return data
}
