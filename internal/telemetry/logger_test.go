package telemetry

import "testing"

func TestNewWithoutInitDoesNotPanic(t *testing.T) {
	root = nil
	l := New("agent")
	l.Info("hello", "k", "v")
	l.Warn("careful", "n", 3)
	l.Error("broke", "err", "boom")
}

func TestInitRejectsBadLevel(t *testing.T) {
	if err := Init("not-a-level", false); err == nil {
		t.Fatal("expected error for invalid level")
	}
}

func TestInitJSON(t *testing.T) {
	if err := Init("debug", true); err != nil {
		t.Fatalf("Init: %v", err)
	}
	New("").Debug("ready")
}
