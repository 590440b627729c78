package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/sync/errgroup"
	gdrive "google.golang.org/api/drive/v3"
	"gopkg.in/yaml.v3"

	"github.com/alexjbarnes/checklist-sync/internal/auth"
	"github.com/alexjbarnes/checklist-sync/internal/config"
	"github.com/alexjbarnes/checklist-sync/internal/drive"
	"github.com/alexjbarnes/checklist-sync/internal/localstore"
	"github.com/alexjbarnes/checklist-sync/internal/logging"
	"github.com/alexjbarnes/checklist-sync/internal/mcpserver"
	"github.com/alexjbarnes/checklist-sync/internal/models"
	"github.com/alexjbarnes/checklist-sync/internal/server"
	"github.com/alexjbarnes/checklist-sync/internal/state"
	"github.com/alexjbarnes/checklist-sync/internal/syncer"
)

var Version = "dev"

func main() {
	var err error

	cmd := ""
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	switch cmd {
	case "hash-password":
		// Handled before config loading.
		err = hashPassword(os.Stdin, os.Stdout)
	case "status":
		err = withState(func(st *state.State) error { return printStatus(st, os.Stdout) })
	case "logout":
		err = withState(func(st *state.State) error { return logout(st, os.Stdout) })
	case "":
		err = run()
	default:
		err = fmt.Errorf("unknown command %q (expected status, logout or hash-password)", cmd)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// hashPassword reads a bearer token from in and prints its bcrypt hash,
// for use as MCP_TOKEN_HASH.
func hashPassword(in io.Reader, out io.Writer) error {
	fmt.Fprint(os.Stderr, "Enter token: ")

	scanner := bufio.NewScanner(in)
	if !scanner.Scan() {
		return errors.New("no input")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(scanner.Text()), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hashing token: %w", err)
	}

	fmt.Fprintln(out, string(hash))

	return nil
}

func withState(fn func(*state.State) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	st, err := state.LoadAt(cfg.StatePath)
	if err != nil {
		return fmt.Errorf("loading state: %w", err)
	}
	defer st.Close()

	return fn(st)
}

// printStatus writes the login state and the last persisted pass report
// as YAML.
func printStatus(st *state.State, out io.Writer) error {
	report, err := st.Status()
	if err != nil {
		return fmt.Errorf("reading status: %w", err)
	}

	tok, err := st.Token()
	if err != nil {
		return fmt.Errorf("reading token: %w", err)
	}

	doc := struct {
		LoggedIn bool               `yaml:"logged_in"`
		LastPass *models.PassReport `yaml:"last_pass,omitempty"`
	}{
		LoggedIn: tok != nil,
		LastPass: report,
	}

	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)

	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encoding status: %w", err)
	}

	return enc.Close()
}

func logout(st *state.State, out io.Writer) error {
	if err := st.DeleteToken(); err != nil {
		return fmt.Errorf("deleting token: %w", err)
	}

	fmt.Fprintln(out, "logged out")

	return nil
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment)
	logger.Info("checklist-sync starting",
		slog.String("version", Version),
		slog.String("dir", cfg.ChecklistDir),
		slog.Bool("mcp", cfg.EnableMCP),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := state.LoadAt(cfg.StatePath)
	if err != nil {
		return fmt.Errorf("loading state: %w", err)
	}
	defer st.Close()

	provider, err := auth.NewProvider(auth.Config{
		OAuth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       []string{gdrive.DriveAppdataScope},
		},
		OnPrompt: func(p auth.Prompt) {
			fmt.Fprintf(os.Stderr, "To authorize checklist-sync, visit %s and enter code %s (expires %s)\n",
				p.VerificationURI, p.UserCode, p.Expiry.Format(time.Kitchen))
		},
	}, st, logging.Component(logger, "auth"))
	if err != nil {
		return fmt.Errorf("creating auth provider: %w", err)
	}

	remote, err := drive.New(ctx, drive.Config{
		Endpoint:    cfg.DriveEndpoint,
		TokenSource: provider.TokenSource(),
	}, logging.Component(logger, "drive"))
	if err != nil {
		return fmt.Errorf("creating drive client: %w", err)
	}

	local, err := localstore.New(cfg.ChecklistDir, logging.Component(logger, "localstore"))
	if err != nil {
		return fmt.Errorf("opening checklist directory: %w", err)
	}

	syncLogger := logging.Component(logger, "syncer")

	engine := syncer.NewEngine(syncer.Config{
		Local:            local,
		Remote:           remote,
		Auth:             provider,
		PollInterval:     cfg.PollInterval,
		FullSyncInterval: cfg.FullInterval,
		MaxAuthRetries:   cfg.MaxAuthRetries,
		MaxTransfers:     cfg.MaxTransfers,
		OnPassComplete: func(r models.PassReport) {
			if err := st.SetStatus(r); err != nil {
				syncLogger.Warn("failed to save status", slog.String("error", err.Error()))
			}
		},
	}, syncLogger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return engine.Run(gctx)
	})

	g.Go(func() error {
		err := local.Watch(gctx, engine.NotifyLocalChange)
		if errors.Is(err, context.Canceled) {
			return nil
		}

		return err
	})

	g.Go(func() error {
		logStates(gctx, engine, syncLogger)
		return nil
	})

	if cfg.EnableMCP {
		g.Go(func() error {
			return runMCP(gctx, cfg, engine, local, logger)
		})
	}

	return g.Wait()
}

// logStates logs every sync state change until ctx is cancelled.
func logStates(ctx context.Context, engine *syncer.Engine, logger *slog.Logger) {
	states, cancel := engine.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-states:
			if !ok {
				return
			}

			logger.Info("sync state", slog.String("state", s.String()))
		}
	}
}

// runMCP starts the MCP HTTP server.
func runMCP(ctx context.Context, cfg *config.Config, engine *syncer.Engine, local *localstore.Store, logger *slog.Logger) error {
	mcpLogger := logging.Component(logger, "mcp")

	mcpServer := mcp.NewServer(
		&mcp.Implementation{Name: "checklist-sync", Version: Version},
		nil,
	)
	mcpserver.RegisterTools(mcpServer, engine, local, mcpLogger)

	mcpHandler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return mcpServer
	}, nil)

	mux := server.NewMux(server.MuxConfig{
		TokenHash:  cfg.MCPTokenHash,
		MCPHandler: mcpHandler,
		State:      engine.State,
		Logger:     mcpLogger,
	})

	srv := &http.Server{
		Addr:         cfg.MCPListenAddr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	mcpLogger.Info("starting MCP server", slog.String("listen", cfg.MCPListenAddr))

	// Shutdown when context is cancelled.
	go func() {
		<-ctx.Done()
		mcpLogger.Info("shutting down MCP server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("MCP server error: %w", err)
	}

	return nil
}
