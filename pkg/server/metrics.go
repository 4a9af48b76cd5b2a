package server

import (
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"
)

// Metrics tracks server runtime statistics.
// All counters use atomic operations for lock-free concurrent access.
type Metrics struct {
	startTime time.Time

	// Connection counters
	TotalConnections  atomic.Int64 // lifetime TCP control connections accepted
	ActiveConnections atomic.Int64 // current active control connections
	RejectedBanned    atomic.Int64 // connections refused by an active ban
	TotalDisconnects  atomic.Int64 // total client disconnects (clean + unclean)

	// Chat counters
	OOCMessages atomic.Int64 // OOC messages relayed
	ICMessages  atomic.Int64 // IC messages relayed
	ICDropped   atomic.Int64 // IC messages refused (muted, spectator)
	Statements  atomic.Int64 // testimony statements recorded

	// Moderation counters
	Commands  atomic.Int64 // slash commands dispatched
	KickCount atomic.Int64 // sessions kicked
	BanCount  atomic.Int64 // bans issued
	Unbans    atomic.Int64 // bans lifted
	Curses    atomic.Int64 // area curses issued
	Mutes     atomic.Int64 // IC and OOC mutes applied
	Denials   atomic.Int64 // commands refused for lack of standing
}

// NewMetrics creates a new Metrics instance with the start time set to now.
func NewMetrics() *Metrics {
	return &Metrics{
		startTime: time.Now(),
	}
}

// Observe counts a moderation action by its log name.
func (m *Metrics) Observe(action string) {
	switch action {
	case "kick", "kms":
		m.KickCount.Add(1)
	case "ban", "banhdid":
		m.BanCount.Add(1)
	case "unban":
		m.Unbans.Add(1)
	case "area_curse":
		m.Curses.Add(1)
	case "mute", "ooc_mute":
		m.Mutes.Add(1)
	case "denied":
		m.Denials.Add(1)
	}
}

// MetricsSnapshot is a point-in-time view of all metrics as a serializable struct.
type MetricsSnapshot struct {
	Uptime        string `json:"uptime"`
	UptimeSeconds int64  `json:"uptime_seconds"`

	ActiveConnections int64 `json:"active_connections"`
	TotalConnections  int64 `json:"total_connections"`
	RejectedBanned    int64 `json:"rejected_banned"`
	TotalDisconnects  int64 `json:"total_disconnects"`

	OOCMessages int64 `json:"ooc_messages"`
	ICMessages  int64 `json:"ic_messages"`
	ICDropped   int64 `json:"ic_dropped"`
	Statements  int64 `json:"testimony_statements"`

	Commands  int64 `json:"commands"`
	KickCount int64 `json:"kick_count"`
	BanCount  int64 `json:"ban_count"`
	Unbans    int64 `json:"unbans"`
	Curses    int64 `json:"curses"`
	Mutes     int64 `json:"mutes"`
	Denials   int64 `json:"denials"`
}

// Snapshot returns a read-consistent snapshot of all metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	uptime := time.Since(m.startTime)
	return MetricsSnapshot{
		Uptime:            uptime.Truncate(time.Second).String(),
		UptimeSeconds:     int64(uptime.Seconds()),
		ActiveConnections: m.ActiveConnections.Load(),
		TotalConnections:  m.TotalConnections.Load(),
		RejectedBanned:    m.RejectedBanned.Load(),
		TotalDisconnects:  m.TotalDisconnects.Load(),
		OOCMessages:       m.OOCMessages.Load(),
		ICMessages:        m.ICMessages.Load(),
		ICDropped:         m.ICDropped.Load(),
		Statements:        m.Statements.Load(),
		Commands:          m.Commands.Load(),
		KickCount:         m.KickCount.Load(),
		BanCount:          m.BanCount.Load(),
		Unbans:            m.Unbans.Load(),
		Curses:            m.Curses.Load(),
		Mutes:             m.Mutes.Load(),
		Denials:           m.Denials.Load(),
	}
}

// JSON returns the metrics snapshot as a JSON string.
func (m *Metrics) JSON() string {
	data, err := json.MarshalIndent(m.Snapshot(), "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

// LogSummary writes a periodic metrics summary to the logger.
func (m *Metrics) LogSummary() {
	s := m.Snapshot()
	slog.Info("metrics",
		"uptime", s.Uptime,
		"connections", s.ActiveConnections,
		"total_connections", s.TotalConnections,
		"ic_msgs", s.ICMessages,
		"ooc_msgs", s.OOCMessages,
		"commands", s.Commands,
		"bans", s.BanCount,
	)
}

// runPeriodicLog logs metrics every interval until done is closed.
func (m *Metrics) runPeriodicLog(interval time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			m.LogSummary()
		}
	}
}
