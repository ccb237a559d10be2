package rotation

import (
	"time"

	"github.com/meridianhq/rotatord/internal/logging"
)

// auditZone is the coarse risk classification attached to every audit
// record this engine emits. Secret operations are always yellow zone.
const auditZone = "yellow"

// AuditActor identifies who or what performed an audited action. The
// engine always fills this in with its own system identity; it is exposed
// so an AuditLogger implementation can still choose how to render it.
type AuditActor struct {
	Type string
	ID   string
	Name string
}

// AuditResource identifies what an audited action was performed against.
type AuditResource struct {
	Type string
	ID   string
}

// AuditRecord is one entry written through an AuditLogger: an action taken
// by the engine against a resource, with enough context to reconstruct who
// did what, to what, and whether it succeeded.
type AuditRecord struct {
	Action    string
	Actor     AuditActor
	Resource  AuditResource
	Zone      string
	Success   bool
	Metadata  map[string]interface{}
	Timestamp time.Time
}

// AuditLogger is the external audit sink. The engine never interprets or
// stores audit records itself; it only constructs them and hands them off.
type AuditLogger interface {
	Record(record AuditRecord) error
}

// loggingAuditLogger is the default AuditLogger used when an engine isn't
// given one explicitly: it writes a structured line through the shared
// logging.Logger rather than dropping audit records on the floor.
type loggingAuditLogger struct {
	logger *logging.Logger
}

func newLoggingAuditLogger(logger *logging.Logger) *loggingAuditLogger {
	if logger == nil {
		logger = logging.New(false, false)
	}
	return &loggingAuditLogger{logger: logger}
}

func (l *loggingAuditLogger) Record(record AuditRecord) error {
	l.logger.Info(
		"audit action=%s actor=%s:%s resource=%s:%s zone=%s success=%t",
		record.Action, record.Actor.Type, record.Actor.ID,
		record.Resource.Type, record.Resource.ID,
		record.Zone, record.Success,
	)
	return nil
}

// systemActor is the fixed actor identity the audit record contract
// requires every engine-originated record to carry.
var systemActor = AuditActor{Type: "system", ID: "secret-rotator", Name: "Secret Rotation Engine"}

func newAuditRecord(action, resourceID string, success bool, metadata map[string]interface{}) AuditRecord {
	return AuditRecord{
		Action:    action,
		Actor:     systemActor,
		Resource:  AuditResource{Type: "secret", ID: resourceID},
		Zone:      auditZone,
		Success:   success,
		Metadata:  metadata,
		Timestamp: time.Now(),
	}
}
