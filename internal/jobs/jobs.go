package jobs

import (
	"fmt"
	"log"

	"github.com/robfig/cron/v3"
	"github.com/trinityai/trinity-gateway/internal/audit"
	"github.com/trinityai/trinity-gateway/internal/auth"
)

const (
	AuditPurgeSchedule     = "@daily"
	SessionCleanupSchedule = "@every 10m"
	TicketSweepSchedule    = "@every 1m"
)

// Deps are the components the maintenance jobs operate on. Nil members
// skip their job.
type Deps struct {
	Auditor       *audit.Auditor
	Sessions      *auth.SessionStore
	Tickets       *auth.TicketAuthenticator
	RetentionDays int
}

// Register adds the maintenance jobs to c.
func Register(c *cron.Cron, deps Deps) error {
	if deps.Auditor != nil {
		if _, err := c.AddFunc(AuditPurgeSchedule, func() { PurgeAuditLogs(deps) }); err != nil {
			return fmt.Errorf("schedule audit purge: %w", err)
		}
	}
	if deps.Sessions != nil {
		if _, err := c.AddFunc(SessionCleanupSchedule, func() { CleanupSessions(deps) }); err != nil {
			return fmt.Errorf("schedule session cleanup: %w", err)
		}
	}
	if deps.Tickets != nil {
		if _, err := c.AddFunc(TicketSweepSchedule, func() { SweepTickets(deps) }); err != nil {
			return fmt.Errorf("schedule ticket sweep: %w", err)
		}
	}
	return nil
}

// Start registers the jobs on a new scheduler and starts it. Callers stop
// it with Stop on shutdown.
func Start(deps Deps) (*cron.Cron, error) {
	c := cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger)))
	if err := Register(c, deps); err != nil {
		return nil, err
	}
	c.Start()
	log.Printf("[jobs] scheduled %d maintenance jobs", len(c.Entries()))
	return c, nil
}

// PurgeAuditLogs deletes audit entries past retention.
func PurgeAuditLogs(deps Deps) {
	n, err := deps.Auditor.PurgeOlderThan(deps.RetentionDays)
	if err != nil {
		log.Printf("[jobs] audit purge failed: %v", err)
		return
	}
	log.Printf("[jobs] audit purge removed %d entries", n)
}

// CleanupSessions drops expired cookie sessions.
func CleanupSessions(deps Deps) {
	if n := deps.Sessions.Cleanup(); n > 0 {
		log.Printf("[jobs] removed %d expired login sessions", n)
	}
}

// SweepTickets forgets the nonces of spent terminal tickets once they are
// past their TTL.
func SweepTickets(deps Deps) {
	if n := deps.Tickets.Sweep(); n > 0 {
		log.Printf("[jobs] forgot %d spent terminal tickets", n)
	}
}
