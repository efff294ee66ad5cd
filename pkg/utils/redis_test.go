package utils

import "testing"

func TestDialSlotScriptsCompile(t *testing.T) {
	// Compile-time smoke test: scripts should be initialized.
	if dialSlotAcquireScript == nil || dialSlotReleaseScript == nil {
		t.Fatalf("expected scripts to be initialized")
	}
}

func TestDialSlotKey(t *testing.T) {
	if got := DialSlotKey("ws_1"); got != "dialslots:ws_1" {
		t.Fatalf("unexpected key %q", got)
	}
}
