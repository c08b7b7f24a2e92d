package proxy

import (
	"time"

	"github.com/google/uuid"

	"github.com/crossfeed-proxy/crossfeed-core/pkg/constants"
	"github.com/crossfeed-proxy/crossfeed-core/pkg/httperr"
)

// ScopeEvaluation is the scope decision recorded on an Observation at
// the moment it was captured, together with the rules snapshot
// version that produced it.
type ScopeEvaluation struct {
	InScope      bool
	RulesVersion int64
}

// Observation is the orchestrator's primary output: one fully
// captured request/response pair plus metadata, handed off to the
// external sink and then dropped.
type Observation struct {
	ID       uuid.UUID
	ConnID   uuid.UUID
	// Seq is a monotonically increasing sequence number scoped to
	// ConnID, letting a sink order observations within one connection
	// without assuming FIFO delivery across goroutines.
	Seq uint64

	RequestBytes  []byte
	ResponseBytes []byte

	Method      string
	Scheme      string
	Host        string
	Port        uint16
	Path        string
	Query       string
	URL         string
	HTTPVersion string
	StatusCode  int
	Reason      string

	RequestHeaders  []byte
	ResponseHeaders []byte
	Body            []byte

	StartedAt   time.Time
	CompletedAt time.Time
	DurationMS  int64

	ScopeEvaluation ScopeEvaluation

	// Warnings accumulates the non-fatal parse conditions (obs-fold,
	// unknown version tokens, oversized frames) recorded while the
	// exchange was parsed, surfaced to the sink alongside the capture.
	Warnings []httperr.Warning

	RequestBodyTruncated  bool
	ResponseBodyTruncated bool
}

// Sink is the external collaborator that receives completed
// observations. The orchestrator never expects a sink to mutate what
// it's handed; persistence, enrichment, and downstream propagation
// are the sink's concern, not this module's.
type Sink interface {
	Emit(Observation)
}

// ChannelSink is a bounded-queue Sink: a full channel blocks the
// orchestrator at the emit suspension point rather than drop
// observations.
type ChannelSink struct {
	ch chan Observation
}

// NewChannelSink builds a ChannelSink with the given channel
// capacity; 0 or negative falls back to the package default.
func NewChannelSink(capacity int) *ChannelSink {
	if capacity <= 0 {
		capacity = constants.DefaultObservationChannelSize
	}
	return &ChannelSink{ch: make(chan Observation, capacity)}
}

func (s *ChannelSink) Emit(o Observation) { s.ch <- o }

// Observations exposes the receive side for a consumer to drain.
func (s *ChannelSink) Observations() <-chan Observation { return s.ch }
