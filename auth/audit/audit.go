// Package audit emits one structured record per authentication-relevant
// event. The Recorder is an injected capability: every auth component takes
// one in its constructor, so per-request emission order is preserved without
// ambient global logging.
package audit

import (
	"time"

	"github.com/rs/zerolog"
)

// EventType enumerates the authentication events that produce audit records.
type EventType string

const (
	EventLogin           EventType = "LOGIN"
	EventLogout          EventType = "LOGOUT"
	EventFailedLogin     EventType = "FAILED_LOGIN"
	EventOidcCallback    EventType = "OIDC_CALLBACK"
	EventTokenValidation EventType = "TOKEN_VALIDATION"
	EventTokenRefresh    EventType = "TOKEN_REFRESH"
	EventTokenRevocation EventType = "TOKEN_REVOCATION"
	EventAccessDenied    EventType = "ACCESS_DENIED"
	EventSessionCreated  EventType = "SESSION_CREATED"
	EventSessionConsumed EventType = "SESSION_CONSUMED"
	EventSessionExpired  EventType = "SESSION_EXPIRED"
)

// Event is a single write-once audit record. Build it with NewEvent and the
// With* methods, then hand it to a Recorder.
type Event struct {
	Type       EventType
	SubjectID  string
	Success    bool
	Timestamp  time.Time
	Detail     string
	Resource   string
	SourceIP   string
	UserAgent  string
	AuthMethod string
	// DurationMs is negative until set via WithDuration.
	DurationMs int64
}

// NewEvent creates an audit event. subjectID may be empty when the subject is
// not yet known (e.g. a failed validation of an unparseable token).
func NewEvent(t EventType, subjectID string, success bool) Event {
	return Event{
		Type:       t,
		SubjectID:  subjectID,
		Success:    success,
		DurationMs: -1,
	}
}

// WithDetail sets the free-text operator detail.
func (e Event) WithDetail(detail string) Event {
	e.Detail = detail
	return e
}

// WithResource sets the resource path the event relates to.
func (e Event) WithResource(resource string) Event {
	e.Resource = resource
	return e
}

// WithIP sets the client source IP.
func (e Event) WithIP(ip string) Event {
	e.SourceIP = ip
	return e
}

// WithUserAgent sets the client user agent.
func (e Event) WithUserAgent(ua string) Event {
	e.UserAgent = ua
	return e
}

// WithAuthMethod sets the authentication method (jwt, oidc, provider...).
func (e Event) WithAuthMethod(method string) Event {
	e.AuthMethod = method
	return e
}

// WithDuration sets the elapsed time of the operation being reported.
func (e Event) WithDuration(d time.Duration) Event {
	e.DurationMs = d.Milliseconds()
	return e
}

// Recorder is the audit sink contract. Record must not block or fail the
// auth decision it is reporting.
type Recorder interface {
	Record(Event)
}

// Logger is the zerolog-backed Recorder used in production.
type Logger struct {
	log     zerolog.Logger
	nowFunc func() time.Time
}

// LoggerOption configures a Logger.
type LoggerOption func(*Logger)

// WithNowFunc overrides the timestamp source (for testing).
func WithNowFunc(now func() time.Time) LoggerOption {
	return func(l *Logger) {
		l.nowFunc = now
	}
}

// NewLogger creates a Recorder writing structured records to the given
// zerolog logger.
func NewLogger(log zerolog.Logger, options ...LoggerOption) *Logger {
	l := &Logger{
		log:     log,
		nowFunc: time.Now,
	}
	for _, opt := range options {
		opt(l)
	}
	return l
}

// Record writes one structured line for the event. It never returns an error;
// a failed write is the logging backend's problem, not the auth decision's.
func (l *Logger) Record(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = l.nowFunc()
	}

	outcome := "FAILURE"
	if event.Success {
		outcome = "SUCCESS"
	}

	line := l.log.Info().
		Str("event_type", string(event.Type)).
		Str("outcome", outcome).
		Time("timestamp", event.Timestamp)

	if event.SubjectID != "" {
		line = line.Str("subject_id", event.SubjectID)
	}
	if event.Detail != "" {
		line = line.Str("detail", event.Detail)
	}
	if event.Resource != "" {
		line = line.Str("resource", event.Resource)
	}
	if event.SourceIP != "" {
		line = line.Str("source_ip", event.SourceIP)
	}
	if event.UserAgent != "" {
		line = line.Str("user_agent", event.UserAgent)
	}
	if event.AuthMethod != "" {
		line = line.Str("auth_method", event.AuthMethod)
	}
	if event.DurationMs >= 0 {
		line = line.Int64("duration_ms", event.DurationMs)
	}

	line.Msg("auth audit")
}
