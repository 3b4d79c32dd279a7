// Package audit records authentication events. Events never contain
// passwords or tokens.
package audit

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

type EventType string

const (
	EventRegister   EventType = "register"
	EventLogin      EventType = "login"
	EventOAuthLogin EventType = "oauth_login"
	EventCaptcha    EventType = "captcha"
	EventLogout     EventType = "logout"
)

type Event struct {
	Type     EventType `json:"type"`
	Success  bool      `json:"success"`
	Reason   string    `json:"reason,omitempty"`
	Detail   string    `json:"detail,omitempty"`
	Score    *float64  `json:"score,omitempty"`
	UserID   string    `json:"user_id,omitempty"`
	Email    string    `json:"email,omitempty"`
	RemoteIP string    `json:"remote_ip,omitempty"`
	Time     time.Time `json:"time"`
}

// Sink receives audit events. Record must not block on slow backends for
// longer than the request can tolerate, and never fails the caller.
type Sink interface {
	Record(ctx context.Context, e Event)
}

// LogSink writes events to a logrus logger.
type LogSink struct {
	logger logrus.FieldLogger
}

func NewLogSink(logger logrus.FieldLogger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Record(_ context.Context, e Event) {
	fields := logrus.Fields{
		"audit":   e.Type,
		"success": e.Success,
	}
	if e.Reason != "" {
		fields["reason"] = e.Reason
	}
	if e.Detail != "" {
		fields["detail"] = e.Detail
	}
	if e.Score != nil {
		fields["score"] = *e.Score
	}
	if e.UserID != "" {
		fields["user_id"] = e.UserID
	}
	if e.Email != "" {
		fields["email"] = e.Email
	}
	if e.RemoteIP != "" {
		fields["remote_ip"] = e.RemoteIP
	}

	entry := s.logger.WithFields(fields)
	if e.Success {
		entry.Info("audit event")
		return
	}
	entry.Warn("audit event")
}

// Multi fans events out to several sinks.
type Multi []Sink

func (m Multi) Record(ctx context.Context, e Event) {
	for _, s := range m {
		if s != nil {
			s.Record(ctx, e)
		}
	}
}

// Discard drops every event.
type Discard struct{}

func (Discard) Record(context.Context, Event) {}
