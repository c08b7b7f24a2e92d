package proxy

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestRequestInterceptDisabledForwards(t *testing.T) {
	m := NewInterceptManager[string, string]()
	result := m.InterceptRequest(uuid.New(), "GET /index.html")
	if !result.Forwarded || result.Value != "GET /index.html" {
		t.Fatalf("expected immediate forward, got %+v", result)
	}
}

func TestRequestInterceptEnabledWaitsForDecision(t *testing.T) {
	m := NewInterceptManager[string, string]()
	m.SetRequestIntercept(true)

	requestID := uuid.New()
	result := m.InterceptRequest(requestID, "GET /index.html")
	if result.Forwarded {
		t.Fatalf("expected the request to be intercepted")
	}
	if result.ID != requestID {
		t.Fatalf("expected returned id to match")
	}

	if !m.ResolveRequest(requestID, InterceptDecision[string]{Allow: true, Value: "GET /edited"}) {
		t.Fatalf("expected resolve to find the pending request")
	}

	select {
	case decision := <-result.Channel:
		if !decision.Allow || decision.Value != "GET /edited" {
			t.Fatalf("unexpected decision: %+v", decision)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for decision")
	}
}

func TestRequestInterceptFlushesWhenDisabled(t *testing.T) {
	m := NewInterceptManager[string, string]()
	m.SetRequestIntercept(true)

	result := m.InterceptRequest(uuid.New(), "GET /index.html")
	if result.Forwarded {
		t.Fatalf("expected the request to be intercepted")
	}

	m.SetRequestIntercept(false)

	select {
	case decision := <-result.Channel:
		if !decision.Allow || decision.Value != "GET /index.html" {
			t.Fatalf("expected flushed decision to allow the original value, got %+v", decision)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for flushed decision")
	}
}

func TestResponseInterceptForRequestOverridesToggle(t *testing.T) {
	m := NewInterceptManager[string, string]()
	requestID := uuid.New()
	responseID := uuid.New()

	m.InterceptResponseForRequest(requestID)
	result := m.InterceptResponse(requestID, responseID, "HTTP/1.1 200 OK")
	if result.Forwarded {
		t.Fatalf("expected the response to be intercepted even with the global toggle off")
	}
	if result.ID != responseID {
		t.Fatalf("expected returned id to match response id")
	}

	if !m.ResolveResponse(responseID, InterceptDecision[string]{Allow: true, Value: "HTTP/1.1 200 OK"}) {
		t.Fatalf("expected resolve to find the pending response")
	}

	select {
	case decision := <-result.Channel:
		if !decision.Allow || decision.Value != "HTTP/1.1 200 OK" {
			t.Fatalf("unexpected decision: %+v", decision)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for decision")
	}
}

func TestResponseInterceptDisabledForwards(t *testing.T) {
	m := NewInterceptManager[string, string]()
	result := m.InterceptResponse(uuid.New(), uuid.New(), "HTTP/1.1 200 OK")
	if !result.Forwarded || result.Value != "HTTP/1.1 200 OK" {
		t.Fatalf("expected immediate forward, got %+v", result)
	}
}
