package metrics

import (
	"sync"
	"testing"
)

func TestCollector_IncrementMethods(t *testing.T) {
	c := NewCollector("cdp", "fs", "webhook")

	c.IncRequestsSent()
	c.IncRequestsSent()
	c.IncRequestsResolved()
	c.IncRequestsTimedOut()
	c.IncLateResponses()
	c.IncPeerUnreachable()
	c.IncHeartbeats()
	c.IncHeartbeats()
	c.IncHeartbeats()
	c.IncLivenessLost()
	c.IncDeploymentsStaged()
	c.IncPayloadsDelivered()
	c.IncReadyRejected()
	c.IncUploadsSucceeded()
	c.IncTabsOpened()
	c.IncTabsFocused()
	c.IncArchiveWriteSuccess()
	c.IncAdapterPublishFailure()

	s := c.Snapshot()

	if s.RequestsSent != 2 {
		t.Errorf("RequestsSent = %d, want 2", s.RequestsSent)
	}
	if s.RequestsResolved != 1 {
		t.Errorf("RequestsResolved = %d, want 1", s.RequestsResolved)
	}
	if s.RequestsTimedOut != 1 {
		t.Errorf("RequestsTimedOut = %d, want 1", s.RequestsTimedOut)
	}
	if s.LateResponses != 1 {
		t.Errorf("LateResponses = %d, want 1", s.LateResponses)
	}
	if s.PeerUnreachable != 1 {
		t.Errorf("PeerUnreachable = %d, want 1", s.PeerUnreachable)
	}
	if s.Heartbeats != 3 {
		t.Errorf("Heartbeats = %d, want 3", s.Heartbeats)
	}
	if s.LivenessLost != 1 {
		t.Errorf("LivenessLost = %d, want 1", s.LivenessLost)
	}
	if s.DeploymentsStaged != 1 || s.PayloadsDelivered != 1 || s.ReadyRejected != 1 {
		t.Errorf("deployment counters = %d/%d/%d", s.DeploymentsStaged, s.PayloadsDelivered, s.ReadyRejected)
	}
	if s.UploadsSucceeded != 1 || s.UploadsFailed != 0 {
		t.Errorf("uploads = %d/%d, want 1/0", s.UploadsSucceeded, s.UploadsFailed)
	}
	if s.TabsOpened != 1 || s.TabsFocused != 1 {
		t.Errorf("tabs = %d/%d, want 1/1", s.TabsOpened, s.TabsFocused)
	}
	if s.ArchiveWriteSuccess != 1 || s.AdapterPublishFailure != 1 {
		t.Errorf("sinks = %d/%d, want 1/1", s.ArchiveWriteSuccess, s.AdapterPublishFailure)
	}
}

func TestCollector_Dimensions(t *testing.T) {
	s := NewCollector("memory", "s3", "redis").Snapshot()

	if s.BrowserBackend != "memory" {
		t.Errorf("BrowserBackend = %q, want %q", s.BrowserBackend, "memory")
	}
	if s.ArchiveBackend != "s3" {
		t.Errorf("ArchiveBackend = %q, want %q", s.ArchiveBackend, "s3")
	}
	if s.Adapter != "redis" {
		t.Errorf("Adapter = %q, want %q", s.Adapter, "redis")
	}
}

func TestCollector_MessagesByTypeIsCopied(t *testing.T) {
	c := NewCollector("", "", "")
	c.IncMessage("READY")
	c.IncMessage("READY")
	c.IncMessage("TAB_READY")

	s := c.Snapshot()
	if s.MessagesByType["READY"] != 2 || s.MessagesByType["TAB_READY"] != 1 {
		t.Fatalf("MessagesByType = %v", s.MessagesByType)
	}

	s.MessagesByType["READY"] = 100
	if got := c.Snapshot().MessagesByType["READY"]; got != 2 {
		t.Errorf("collector mutated through snapshot: READY = %d", got)
	}
}

func TestCollector_NilReceiver(t *testing.T) {
	var c *Collector

	c.IncRequestsSent()
	c.IncHeartbeats()
	c.IncMessage("PING")
	c.IncArchiveWriteFailure()

	s := c.Snapshot()
	if s.RequestsSent != 0 || s.MessagesByType != nil {
		t.Errorf("nil collector snapshot = %+v", s)
	}
}

func TestCollector_ConcurrentIncrements(t *testing.T) {
	c := NewCollector("", "", "")

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				c.IncRequestsSent()
				c.IncMessage("READY")
			}
		}()
	}
	wg.Wait()

	s := c.Snapshot()
	if s.RequestsSent != 5000 {
		t.Errorf("RequestsSent = %d, want 5000", s.RequestsSent)
	}
	if s.MessagesByType["READY"] != 5000 {
		t.Errorf("MessagesByType[READY] = %d, want 5000", s.MessagesByType["READY"])
	}
}
