package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/trinityai/trinity-gateway/internal/audit"
	"github.com/trinityai/trinity-gateway/internal/auth"
	"github.com/trinityai/trinity-gateway/internal/config"
	"github.com/trinityai/trinity-gateway/internal/database"
	"github.com/trinityai/trinity-gateway/internal/handlers"
	"github.com/trinityai/trinity-gateway/internal/jobs"
	"github.com/trinityai/trinity-gateway/internal/logging"
	"github.com/trinityai/trinity-gateway/internal/middleware"
	"github.com/trinityai/trinity-gateway/internal/orchestrator"
	"github.com/trinityai/trinity-gateway/internal/terminal"
)

func main() {
	// Handle CLI commands before starting the server
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "--create-admin":
			runCLICommand("create-admin")
			return
		case "--reset-password":
			runCLICommand("reset-password")
			return
		}
	}

	config.Load()
	logging.Init()
	defer logging.Close()

	if err := database.Init(); err != nil {
		log.Fatalf("Database init: %v", err)
	}
	defer database.Close()

	log.Printf("Config: AuthDisabled=%v, RuntimeBackend=%s, SystemContainer=%s",
		config.Cfg.AuthDisabled, config.Cfg.RuntimeBackend, config.Cfg.SystemContainer)

	sessionStore := auth.NewSessionStore()
	handlers.SessionStore = sessionStore

	ctx := context.Background()
	if err := orchestrator.InitOrchestrator(ctx); err != nil {
		log.Printf("WARNING: %v", err)
	}

	gateway, tickets, err := newGateway()
	if err != nil {
		log.Fatalf("Terminal gateway init: %v", err)
	}
	handlers.TerminalGateway = gateway

	scheduler, err := jobs.Start(jobs.Deps{
		Auditor:       handlers.AuditLog,
		Sessions:      sessionStore,
		Tickets:       tickets,
		RetentionDays: config.Cfg.AuditRetentionDays,
	})
	if err != nil {
		log.Fatalf("Jobs init: %v", err)
	}

	srv := &http.Server{
		Addr:    config.Cfg.ListenAddr,
		Handler: newRouter(sessionStore),
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("Server starting on %s", config.Cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-sigCtx.Done()
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Hijacked websocket connections are not tracked by srv.Shutdown, and
	// their session.end events must reach the audit log before the
	// database closes.
	if err := gateway.Shutdown(shutdownCtx); err != nil {
		log.Printf("WARNING: %v", err)
	}
	<-scheduler.Stop().Done()
	handlers.AuditLog.Close()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Shutdown error: %v", err)
	}
	log.Println("Server stopped")
}

// newGateway builds the terminal gateway and its audit sink from config.
func newGateway() (*terminal.Gateway, *auth.TicketAuthenticator, error) {
	modes := terminal.DefaultModes(config.Cfg.TerminalShellCommand, config.Cfg.TerminalAgentCommand)
	if path := config.Cfg.TerminalModesFile; path != "" {
		loaded, err := terminal.LoadModes(path, modes)
		if err != nil {
			return nil, nil, fmt.Errorf("load terminal modes: %w", err)
		}
		modes = loaded
		log.Printf("Terminal modes loaded from %s", path)
	}

	ticketTTL := config.Duration("TERMINAL_TICKET_TTL", config.Cfg.TerminalTicketTTL, auth.DefaultTicketTTL)
	handlers.TicketTTL = ticketTTL
	handlers.AuditLog = audit.InitGlobal(database.DB, config.Cfg.AuditRetentionDays)

	registry := terminal.NewRegistry(
		config.Duration("TERMINAL_STALE_AFTER", config.Cfg.TerminalStaleAfter, terminal.DefaultStaleAfter))

	tickets := auth.NewTicketAuthenticator(ticketTTL)
	return terminal.NewGateway(terminal.Options{
		Registry:      registry,
		Authenticator: tickets,
		Modes:         modes,
		Sink:          handlers.AuditLog,
		User:          config.Cfg.TerminalUser,
		Workdir:       config.Cfg.TerminalWorkdir,
		AuthTimeout:   config.Duration("TERMINAL_AUTH_TIMEOUT", config.Cfg.TerminalAuthTimeout, terminal.DefaultAuthTimeout),
		PollInterval:  config.Duration("TERMINAL_POLL_INTERVAL", config.Cfg.TerminalPollInterval, terminal.DefaultPollInterval),
	}), tickets, nil
}

func newRouter(sessionStore *auth.SessionStore) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	// Health (no auth)
	r.Get("/health", handlers.HealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.With(middleware.NoStore).Post("/auth/login", handlers.Login)

		// Terminal websockets authenticate in-band with a ticket, so they
		// sit outside the cookie middleware.
		r.Get("/agents/{name}/terminal", handlers.AgentTerminalWS)
		r.Get("/system/terminal", handlers.SystemTerminalWS)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth(sessionStore))

			r.Post("/auth/logout", handlers.Logout)
			r.Get("/auth/me", handlers.GetCurrentUser)
			r.With(middleware.NoStore).Post("/terminal/ticket", handlers.IssueTerminalTicket)

			// Admin-only routes
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireAdmin)

				r.Get("/terminal/sessions", handlers.ListTerminalSessions)
				r.Delete("/terminal/sessions/{principal}", handlers.CloseTerminalSession)
				r.Get("/audit-logs", handlers.GetAuditLogs)
				r.Get("/server-logs", handlers.GetServerLogs)
				r.Delete("/server-logs", handlers.ClearServerLogs)
			})
		})
	})
	return r
}

func runCLICommand(command string) {
	fs := flag.NewFlagSet(command, flag.ExitOnError)
	username := fs.String("username", "", "Username")
	password := fs.String("password", "", "Password")
	fs.Parse(os.Args[2:])

	if *username == "" || *password == "" {
		fmt.Fprintf(os.Stderr, "Usage: trinity-gateway --%s --username <user> --password <pass>\n", command)
		os.Exit(1)
	}

	config.Load()
	if err := database.Init(); err != nil {
		log.Fatalf("Database init: %v", err)
	}
	defer database.Close()

	hash, err := auth.HashPassword(*password)
	if err != nil {
		log.Fatalf("Failed to hash password: %v", err)
	}

	switch command {
	case "create-admin":
		user := &database.User{
			Username:     *username,
			PasswordHash: hash,
			Role:         "admin",
		}
		if err := database.CreateUser(user); err != nil {
			log.Fatalf("Failed to create admin: %v", err)
		}
		fmt.Printf("Admin user '%s' created successfully.\n", *username)

	case "reset-password":
		user, err := database.GetUserByUsername(*username)
		if err != nil {
			log.Fatalf("User '%s' not found", *username)
		}
		if err := database.UpdateUserPassword(user.ID, hash); err != nil {
			log.Fatalf("Failed to update password: %v", err)
		}
		// Sessions live in the server process; a restart is what drops them.
		fmt.Printf("Password reset for '%s'. Restart the server to end existing sessions.\n", *username)
	}
}
