package jobs

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/trinityai/trinity-gateway/internal/audit"
	"github.com/trinityai/trinity-gateway/internal/auth"
	"github.com/trinityai/trinity-gateway/internal/crypto"
	"github.com/trinityai/trinity-gateway/internal/database"
	"github.com/trinityai/trinity-gateway/internal/terminal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "jobs.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newTestAuditor(t *testing.T) *audit.Auditor {
	t.Helper()
	a := audit.NewAuditor(newTestDB(t), 30)
	t.Cleanup(a.Close)
	return a
}

func TestRegister(t *testing.T) {
	c := cron.New()
	if err := Register(c, Deps{}); err != nil {
		t.Fatal(err)
	}
	if len(c.Entries()) != 0 {
		t.Errorf("expected no jobs without deps, got %d", len(c.Entries()))
	}

	c = cron.New()
	err := Register(c, Deps{
		Auditor:  newTestAuditor(t),
		Sessions: auth.NewSessionStore(),
		Tickets:  auth.NewTicketAuthenticator(0),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(c.Entries()) != 3 {
		t.Errorf("expected 3 jobs, got %d", len(c.Entries()))
	}
}

func TestStart(t *testing.T) {
	c, err := Start(Deps{Sessions: auth.NewSessionStore()})
	if err != nil {
		t.Fatal(err)
	}
	ctx := c.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Error("scheduler did not stop")
	}
}

func TestPurgeAuditLogs(t *testing.T) {
	a := newTestAuditor(t)
	a.Emit(terminal.Event{Type: terminal.EventSessionEnd, Principal: "1", Time: time.Now().AddDate(0, 0, -45)})
	a.Emit(terminal.Event{Type: terminal.EventSessionEnd, Principal: "1", Time: time.Now()})

	a.Flush()

	PurgeAuditLogs(Deps{Auditor: a})

	res, err := a.Query(audit.QueryOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Total != 1 {
		t.Errorf("expected 1 entry within retention, got %d", res.Total)
	}
}

func TestCleanupSessions(t *testing.T) {
	store := auth.NewSessionStore()
	now := time.Now()
	store.SetNowFunc(func() time.Time { return now })
	store.Create(1)
	now = now.Add(auth.SessionDuration + time.Minute)
	store.Create(2)

	CleanupSessions(Deps{Sessions: store})
	if store.Len() != 1 {
		t.Errorf("expected 1 live session, got %d", store.Len())
	}
}

func TestSweepTickets(t *testing.T) {
	database.DB = newTestDB(t)
	crypto.ResetKeyCache()
	t.Cleanup(crypto.ResetKeyCache)

	admin := &database.User{Username: "alice", PasswordHash: "x", Role: "admin"}
	if err := database.CreateUser(admin); err != nil {
		t.Fatal(err)
	}
	tickets := auth.NewTicketAuthenticator(time.Minute)
	now := time.Now()
	tickets.SetNowFunc(func() time.Time { return now })

	tok, err := auth.IssueTicket(admin)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tickets.Authenticate(context.Background(), tok); err != nil {
		t.Fatal(err)
	}

	SweepTickets(Deps{Tickets: tickets})
	if tickets.Spent() != 1 {
		t.Fatalf("expected live nonce kept, have %d", tickets.Spent())
	}
	now = now.Add(2 * time.Minute)
	SweepTickets(Deps{Tickets: tickets})
	if tickets.Spent() != 0 {
		t.Errorf("expected expired nonce swept, have %d", tickets.Spent())
	}
}
