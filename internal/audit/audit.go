package audit

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/docker/go-units"
	"github.com/trinityai/trinity-gateway/internal/database"
	"github.com/trinityai/trinity-gateway/internal/logutil"
	"github.com/trinityai/trinity-gateway/internal/terminal"
	"gorm.io/gorm"
)

// DefaultRetentionDays is the default number of days to keep audit logs.
const DefaultRetentionDays = 90

// QueueSize is how many events may wait for the database writer before
// Emit starts dropping them.
const QueueSize = 1024

// pending is one queued write. A nil record with ack set is a flush marker.
type pending struct {
	record *database.TerminalAuditLog
	ack    chan struct{}
}

// Auditor records terminal session lifecycle events in the database and the
// process log. It implements terminal.EventSink. Database writes happen on a
// single background writer so a slow database never stalls a session.
type Auditor struct {
	mu            sync.RWMutex
	db            *gorm.DB
	retentionDays int
	nowFn         func() time.Time

	queueMu sync.RWMutex
	closed  bool
	queue   chan pending
	done    chan struct{}
	dropped atomic.Int64
}

// NewAuditor creates an Auditor writing to db and starts its writer. If
// retentionDays is 0, DefaultRetentionDays is used. Close stops the writer.
func NewAuditor(db *gorm.DB, retentionDays int) *Auditor {
	return newAuditor(db, retentionDays, QueueSize)
}

func newAuditor(db *gorm.DB, retentionDays, queueSize int) *Auditor {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	a := &Auditor{
		db:            db,
		retentionDays: retentionDays,
		nowFn:         time.Now,
		queue:         make(chan pending, queueSize),
		done:          make(chan struct{}),
	}
	go a.writer()
	return a
}

func (a *Auditor) writer() {
	defer close(a.done)
	for p := range a.queue {
		if p.ack != nil {
			close(p.ack)
			continue
		}
		a.mu.RLock()
		err := a.db.Create(p.record).Error
		a.mu.RUnlock()
		if err != nil {
			log.Printf("[audit] failed to write audit log: %v", err)
		}
	}
}

// Emit logs e and queues it for the database. It never blocks: when the
// queue is full or the Auditor is closed the event is dropped and counted.
func (a *Auditor) Emit(e terminal.Event) {
	if e.Time.IsZero() {
		e.Time = a.nowFn()
	}
	record := &database.TerminalAuditLog{
		EventType:  string(e.Type),
		Principal:  e.Principal,
		Username:   e.Username,
		SessionID:  e.SessionID,
		Mode:       string(e.Mode),
		Container:  e.Container,
		SourceIP:   e.SourceIP,
		Reason:     e.Reason,
		DurationMs: e.Duration.Milliseconds(),
		BytesIn:    e.BytesIn,
		BytesOut:   e.BytesOut,
		CreatedAt:  e.Time,
	}

	user := logutil.SanitizeForLog(e.Username)
	switch e.Type {
	case terminal.EventSessionEnd:
		log.Printf("[audit] %s session=%s user=%s mode=%s container=%s ip=%s duration=%s in=%s out=%s reason=%s",
			e.Type, e.SessionID, user, e.Mode, e.Container, e.SourceIP,
			e.Duration.Round(time.Millisecond), units.HumanSize(float64(e.BytesIn)), units.HumanSize(float64(e.BytesOut)), e.Reason)
	case terminal.EventSessionRejected:
		log.Printf("[audit] %s session=%s user=%s mode=%s container=%s ip=%s reason=%s",
			e.Type, e.SessionID, user, e.Mode, e.Container, e.SourceIP, e.Reason)
	default:
		log.Printf("[audit] %s session=%s user=%s mode=%s container=%s ip=%s",
			e.Type, e.SessionID, user, e.Mode, e.Container, e.SourceIP)
	}

	a.queueMu.RLock()
	defer a.queueMu.RUnlock()
	if a.closed {
		a.dropped.Add(1)
		log.Printf("[audit] closed, dropped %s event session=%s", e.Type, e.SessionID)
		return
	}
	select {
	case a.queue <- pending{record: record}:
	default:
		a.dropped.Add(1)
		log.Printf("[audit] queue full, dropped %s event session=%s", e.Type, e.SessionID)
	}
}

// Flush blocks until every event emitted before the call has been written.
func (a *Auditor) Flush() {
	ack := make(chan struct{})
	a.queueMu.RLock()
	if a.closed {
		a.queueMu.RUnlock()
		return
	}
	a.queue <- pending{ack: ack}
	a.queueMu.RUnlock()
	<-ack
}

// Close stops accepting events, writes what is queued and stops the writer.
// It is safe to call more than once.
func (a *Auditor) Close() {
	a.queueMu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.queueMu.Unlock()
	<-a.done
}

// Dropped is the number of events that never reached the database queue.
func (a *Auditor) Dropped() int64 { return a.dropped.Load() }

// QueryOptions specifies filters for retrieving audit logs.
type QueryOptions struct {
	Principal string
	EventType string
	SessionID string
	Since     *time.Time
	Until     *time.Time
	Limit     int
	Offset    int
}

// QueryResult contains audit log entries and pagination metadata.
type QueryResult struct {
	Entries []database.TerminalAuditLog `json:"entries"`
	Total   int64                       `json:"total"`
	Limit   int                         `json:"limit"`
	Offset  int                         `json:"offset"`
}

// Query retrieves audit log entries matching opts, newest first.
func (a *Auditor) Query(opts QueryOptions) (*QueryResult, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	tx := a.db.Model(&database.TerminalAuditLog{})
	if opts.Principal != "" {
		tx = tx.Where("principal = ?", opts.Principal)
	}
	if opts.EventType != "" {
		tx = tx.Where("event_type = ?", opts.EventType)
	}
	if opts.SessionID != "" {
		tx = tx.Where("session_id = ?", opts.SessionID)
	}
	if opts.Since != nil {
		tx = tx.Where("created_at >= ?", *opts.Since)
	}
	if opts.Until != nil {
		tx = tx.Where("created_at <= ?", *opts.Until)
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, err
	}

	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	if opts.Limit > 1000 {
		opts.Limit = 1000
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}

	var entries []database.TerminalAuditLog
	if err := tx.Order("created_at DESC, id DESC").Offset(opts.Offset).Limit(opts.Limit).Find(&entries).Error; err != nil {
		return nil, err
	}

	return &QueryResult{
		Entries: entries,
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	}, nil
}

// PurgeOlderThan removes entries older than days, or the configured
// retention when days is 0. Returns the number of records deleted.
func (a *Auditor) PurgeOlderThan(days int) (int64, error) {
	if days <= 0 {
		days = a.retentionDays
	}
	cutoff := a.nowFn().AddDate(0, 0, -days)

	a.mu.Lock()
	result := a.db.Where("created_at < ?", cutoff).Delete(&database.TerminalAuditLog{})
	a.mu.Unlock()
	if result.Error != nil {
		log.Printf("[audit] purge failed: %v", result.Error)
		return 0, result.Error
	}
	if result.RowsAffected > 0 {
		log.Printf("[audit] purged %d audit log entries older than %d days", result.RowsAffected, days)
	}
	return result.RowsAffected, nil
}

func (a *Auditor) RetentionDays() int {
	return a.retentionDays
}

// SetNowFunc sets the clock function used for testing.
func (a *Auditor) SetNowFunc(fn func() time.Time) {
	a.nowFn = fn
}

var _ terminal.EventSink = (*Auditor)(nil)
