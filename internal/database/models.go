package database

import "time"

type Setting struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	Value     string    `gorm:"not null" json:"value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type User struct {
	ID           uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Username     string    `gorm:"uniqueIndex;not null;size:64" json:"username"`
	PasswordHash string    `gorm:"not null" json:"-"`
	Role         string    `gorm:"not null;default:user" json:"role"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsAdmin reports whether the user holds the privileged role required for
// terminal access.
func (u *User) IsAdmin() bool {
	return u.Role == "admin"
}

// TerminalAuditLog is one terminal session lifecycle event.
type TerminalAuditLog struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	EventType  string    `gorm:"not null;index" json:"event_type"`
	Principal  string    `gorm:"not null;index" json:"principal"`
	Username   string    `json:"username"`
	SessionID  string    `gorm:"index" json:"session_id"`
	Mode       string    `json:"mode"`
	Container  string    `json:"container"`
	SourceIP   string    `json:"source_ip"`
	Reason     string    `json:"reason,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	BytesIn    int64     `json:"bytes_in"`
	BytesOut   int64     `json:"bytes_out"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
