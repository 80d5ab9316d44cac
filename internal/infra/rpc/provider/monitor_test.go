package provider

import (
	"testing"
	"time"
)

func TestMonitor_RecordRequest(t *testing.T) {
	m := NewProviderMonitor()

	m.RecordRequest(100 * time.Millisecond)
	for i := 0; i < 100; i++ {
		m.RecordRequest(50 * time.Millisecond)
	}

	stats := m.GetStats()
	if stats.RequestsLast1Hour != 101 {
		t.Errorf("Expected 101 requests, got %d", stats.RequestsLast1Hour)
	}
	if stats.Status != StatusHealthy {
		t.Errorf("Expected healthy, got %s", stats.Status)
	}
}

func TestMonitor_ThrottleTolerance(t *testing.T) {
	m := NewProviderMonitor()

	m.RecordThrottle(429, "")
	m.RecordThrottle(429, "")
	if m.CheckProviderStatus() != StatusHealthy {
		t.Fatalf("expected provider to tolerate two 429s")
	}

	m.RecordThrottle(429, "5")
	if m.CheckProviderStatus() != StatusThrottled {
		t.Fatalf("expected throttled after three 429s")
	}
	if ra := m.GetRetryAfter(); ra <= 0 || ra > 5*time.Second {
		t.Errorf("expected retry after within 5s, got %v", ra)
	}

	m.RecordRequest(10 * time.Millisecond)
	if m.CheckProviderStatus() != StatusHealthy {
		t.Errorf("expected a success to clear the 429 streak")
	}
}

func TestMonitor_DetectThrottlePattern(t *testing.T) {
	m := NewProviderMonitor()
	if !m.DetectThrottlePattern("Max rate limit reached, please use API Key") {
		t.Error("expected etherscan rate limit message to match")
	}
	if m.DetectThrottlePattern("execution reverted") {
		t.Error("expected revert message not to match")
	}
}
