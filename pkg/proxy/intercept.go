package proxy

import (
	"sync"

	"github.com/google/uuid"
)

// InterceptDecision is the outcome an external editor sends back for
// a pending intercepted value: forward it (optionally edited) or drop
// it outright.
type InterceptDecision[T any] struct {
	Allow bool
	Value T
}

// InterceptResult is either an immediate pass-through or a pending
// decision the caller must await on Channel.
type InterceptResult[T any] struct {
	Forwarded bool
	Value     T

	ID      uuid.UUID
	Channel <-chan InterceptDecision[T]
}

type pending[T any] struct {
	value T
	ch    chan InterceptDecision[T]
}

// InterceptManager is the generic request/response pause-for-edit
// hook an external UI attaches to: toggling interception on holds
// in-flight exchanges behind a channel-based decision point instead
// of forwarding them immediately. This is orchestrator-adjacent
// plumbing the distilled spec dropped; only the attach/allow/drop/
// flush state machine lives here, not any editor itself.
type InterceptManager[Request any, Response any] struct {
	mu sync.Mutex

	requestInterceptEnabled  bool
	responseInterceptEnabled bool

	pendingRequests      map[uuid.UUID]*pending[Request]
	pendingResponses     map[uuid.UUID]*pending[Response]
	responseInterceptFor map[uuid.UUID]struct{}
}

// NewInterceptManager builds a manager with interception disabled.
func NewInterceptManager[Request any, Response any]() *InterceptManager[Request, Response] {
	return &InterceptManager[Request, Response]{
		pendingRequests:      make(map[uuid.UUID]*pending[Request]),
		pendingResponses:     make(map[uuid.UUID]*pending[Response]),
		responseInterceptFor: make(map[uuid.UUID]struct{}),
	}
}

// SetRequestIntercept toggles request interception. Disabling it
// flushes every pending request as Allow(original value).
func (m *InterceptManager[Request, Response]) SetRequestIntercept(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !enabled && m.requestInterceptEnabled {
		for id, p := range m.pendingRequests {
			p.ch <- InterceptDecision[Request]{Allow: true, Value: p.value}
			close(p.ch)
			delete(m.responseInterceptFor, id)
		}
		m.pendingRequests = make(map[uuid.UUID]*pending[Request])
	}
	m.requestInterceptEnabled = enabled
}

func (m *InterceptManager[Request, Response]) IsRequestInterceptEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requestInterceptEnabled
}

// SetResponseIntercept toggles global response interception. Disabling
// it flushes every pending response as Allow(original value).
func (m *InterceptManager[Request, Response]) SetResponseIntercept(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !enabled && m.responseInterceptEnabled {
		for _, p := range m.pendingResponses {
			p.ch <- InterceptDecision[Response]{Allow: true, Value: p.value}
			close(p.ch)
		}
		m.pendingResponses = make(map[uuid.UUID]*pending[Response])
	}
	m.responseInterceptEnabled = enabled
}

func (m *InterceptManager[Request, Response]) IsResponseInterceptEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.responseInterceptEnabled
}

// InterceptResponseForRequest marks a single request's eventual
// response for interception even when the global toggle is off — used
// when an editor wants to pause just one exchange's response.
func (m *InterceptManager[Request, Response]) InterceptResponseForRequest(requestID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responseInterceptFor[requestID] = struct{}{}
}

// InterceptRequest either forwards request immediately (interception
// disabled) or registers it as pending and returns a channel the
// caller must receive the eventual decision from.
func (m *InterceptManager[Request, Response]) InterceptRequest(id uuid.UUID, request Request) InterceptResult[Request] {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.requestInterceptEnabled {
		return InterceptResult[Request]{Forwarded: true, Value: request}
	}

	ch := make(chan InterceptDecision[Request], 1)
	m.pendingRequests[id] = &pending[Request]{value: request, ch: ch}
	return InterceptResult[Request]{ID: id, Channel: ch}
}

// InterceptResponse either forwards response immediately, or pauses it
// if global response interception is on or the owning request was
// individually flagged via InterceptResponseForRequest.
func (m *InterceptManager[Request, Response]) InterceptResponse(requestID, responseID uuid.UUID, response Response) InterceptResult[Response] {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, flagged := m.responseInterceptFor[requestID]
	shouldIntercept := m.responseInterceptEnabled || flagged
	if flagged {
		delete(m.responseInterceptFor, requestID)
	}
	if !shouldIntercept {
		return InterceptResult[Response]{Forwarded: true, Value: response}
	}

	ch := make(chan InterceptDecision[Response], 1)
	m.pendingResponses[responseID] = &pending[Response]{value: response, ch: ch}
	return InterceptResult[Response]{ID: responseID, Channel: ch}
}

// ResolveRequest delivers decision to the pending request id, if any.
// Reports whether a pending request was found.
func (m *InterceptManager[Request, Response]) ResolveRequest(id uuid.UUID, decision InterceptDecision[Request]) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pendingRequests[id]
	if !ok {
		return false
	}
	delete(m.pendingRequests, id)
	p.ch <- decision
	close(p.ch)
	return true
}

// ResolveResponse delivers decision to the pending response id, if
// any. Reports whether a pending response was found.
func (m *InterceptManager[Request, Response]) ResolveResponse(id uuid.UUID, decision InterceptDecision[Response]) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pendingResponses[id]
	if !ok {
		return false
	}
	delete(m.pendingResponses, id)
	p.ch <- decision
	close(p.ch)
	return true
}
