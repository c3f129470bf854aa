/*
sinks.go - Fire-and-forget side-effect collaborators

PURPOSE:
  Audit logging and student notification are external systems from the
  engine's point of view. They are invoked after a commit, outside the
  transaction boundary, and their failure must never roll back or fail the
  financial write.

CONTRACT:
  - Called after the transaction commits, typically from a goroutine
  - Errors are logged and swallowed by the caller, never propagated
  - No synchronous retry

SEE ALSO:
  - payments/admission.go: Emits audit + notification after each commit
  - treasury/outgoing.go: Emits audit on workflow transitions
*/
package ledger

import (
	"context"
	"log"
)

// =============================================================================
// AUDIT SINK
// =============================================================================

type AuditSeverity string

const (
	AuditInfo     AuditSeverity = "info"
	AuditWarning  AuditSeverity = "warning"
	AuditCritical AuditSeverity = "critical"
)

// AuditRecord describes one action for the external audit trail.
type AuditRecord struct {
	Action      string
	EntityType  string
	EntityID    string
	ActorID     string
	OldValues   map[string]any
	NewValues   map[string]any
	Severity    AuditSeverity
	Description string
}

// AuditSink receives audit records. Fire-and-forget.
type AuditSink interface {
	Record(ctx context.Context, rec AuditRecord) error
}

// =============================================================================
// NOTIFICATION SINK
// =============================================================================

// Notification is a best-effort confirmation message to a student.
type Notification struct {
	Recipient string // address; empty means nowhere to send
	Template  string
	Data      map[string]string
}

// NotificationSink delivers notifications. Fire-and-forget; failures are
// logged by the caller, never retried synchronously.
type NotificationSink interface {
	Notify(ctx context.Context, n Notification) error
}

// =============================================================================
// LOGGING IMPLEMENTATIONS - Default sinks when no external system is wired
// =============================================================================

// LogAuditSink writes audit records to the process log.
type LogAuditSink struct{}

func (LogAuditSink) Record(_ context.Context, rec AuditRecord) error {
	log.Printf("[Audit] %s %s/%s actor=%s severity=%s %s",
		rec.Action, rec.EntityType, rec.EntityID, rec.ActorID, rec.Severity, rec.Description)
	return nil
}

// LogNotificationSink writes notifications to the process log.
type LogNotificationSink struct{}

func (LogNotificationSink) Notify(_ context.Context, n Notification) error {
	if n.Recipient == "" {
		return nil
	}
	log.Printf("[Notify] to=%s template=%s", n.Recipient, n.Template)
	return nil
}

// NopAuditSink discards audit records. For tests.
type NopAuditSink struct{}

func (NopAuditSink) Record(context.Context, AuditRecord) error { return nil }

// NopNotificationSink discards notifications. For tests.
type NopNotificationSink struct{}

func (NopNotificationSink) Notify(context.Context, Notification) error { return nil }
