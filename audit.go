package clavis

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/clavisauth/clavis/internal/audit"
)

// AuditEvent re-exports the audit record type for sink implementors.
type AuditEvent = audit.Event

// AuditSink re-exports the sink interface for custom destinations.
type AuditSink = audit.Sink

// Audit event types emitted by the engine.
const (
	EventRegister         = "user.register"
	EventLogin            = "user.login"
	EventLoginFederated   = "user.login.federated"
	EventLockout          = "user.lockout"
	EventPasswordChange   = "user.password_change"
	EventMFASetup         = "mfa.setup"
	EventMFAEnable        = "mfa.enable"
	EventMFADisable       = "mfa.disable"
	EventBackupCodesReset = "mfa.backup_codes_reset"
	EventRefresh          = "token.refresh"
	EventRefreshReuse     = "token.refresh_reuse"
	EventLogout           = "session.logout"
	EventLogoutAll        = "session.logout_all"
	EventRoleChange       = "rbac.role_change"
	EventRoleAssign       = "rbac.role_assign"
	EventPermissionDenied = "rbac.permission_denied"
)

// auditDispatcher fans events out to sinks from a single background
// goroutine, so audit destinations never sit on the request path.
type auditDispatcher struct {
	events     chan audit.Event
	sinks      []audit.Sink
	log        *logrus.Logger
	dropOnFull bool

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func newAuditDispatcher(sinks []audit.Sink, log *logrus.Logger, buffer int, dropOnFull bool) *auditDispatcher {
	if buffer <= 0 {
		buffer = 1024
	}
	d := &auditDispatcher{
		events:     make(chan audit.Event, buffer),
		sinks:      sinks,
		log:        log,
		dropOnFull: dropOnFull,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *auditDispatcher) run() {
	defer close(d.done)
	for {
		select {
		case event := <-d.events:
			d.deliver(event)
		case <-d.stop:
			// Drain whatever was queued before shutdown.
			for {
				select {
				case event := <-d.events:
					d.deliver(event)
				default:
					return
				}
			}
		}
	}
}

func (d *auditDispatcher) deliver(event audit.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, sink := range d.sinks {
		sink.Emit(ctx, event)
	}
}

func (d *auditDispatcher) emit(event audit.Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	if d.dropOnFull {
		select {
		case d.events <- event:
		default:
			d.log.WithField("event_type", event.EventType).
				Warn("audit buffer full, event dropped")
		}
		return
	}
	d.events <- event
}

func (d *auditDispatcher) close() {
	d.stopOnce.Do(func() { close(d.stop) })
	<-d.done
}
