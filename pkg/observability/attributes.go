package observability

import (
	"errors"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Mindburn-Labs/agent-registry/pkg/agent"
)

// Metric names.
const (
	MetricRequests = "agentreg.operations.total"
	MetricErrors   = "agentreg.errors.total"
	MetricDuration = "agentreg.operation.duration"
	MetricActive   = "agentreg.operations.active"
	MetricClamped  = "agentreg.reputation.clamped"
	MetricScore    = "agentreg.reputation.score"
)

// Registry semantic convention attributes.
var (
	AttrOperation  = attribute.Key("agentreg.operation")
	AttrHandle     = attribute.Key("agentreg.agent.handle")
	AttrDisclosure = attribute.Key("agentreg.agent.disclosure")
	AttrDirection  = attribute.Key("agentreg.reputation.direction")
	AttrErrorKind  = attribute.Key("error.type")
)

// AgentOperation creates span attributes for an operation on one agent
// record. They carry one value per agent, so they go on spans only and
// never on metric instruments.
func AgentOperation(h agent.Handle) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrHandle.String(h.String()),
	}
}

// AgentRegistration adds the requested disclosure level to AgentOperation.
func AgentRegistration(h agent.Handle, md agent.Metadata) []attribute.KeyValue {
	return append(AgentOperation(h), AttrDisclosure.Int(int(md.Disclosure)))
}

// DeltaDirection labels a score change as "up", "down" or "none".
func DeltaDirection(change int64) attribute.KeyValue {
	switch {
	case change > 0:
		return AttrDirection.String("up")
	case change < 0:
		return AttrDirection.String("down")
	default:
		return AttrDirection.String("none")
	}
}

// ErrorKind maps an error onto a low-cardinality label.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, agent.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, agent.ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, agent.ErrNotFound):
		return "not_found"
	case errors.Is(err, agent.ErrAllocationFailed):
		return "allocation_failed"
	case errors.Is(err, agent.ErrConflict):
		return "conflict"
	case errors.Is(err, agent.ErrAdmissionDenied):
		return "admission_denied"
	case errors.Is(err, agent.ErrMetadataTooLarge):
		return "metadata_too_large"
	case errors.Is(err, agent.ErrInvalidRecord):
		return "invalid_record"
	default:
		return "internal"
	}
}
