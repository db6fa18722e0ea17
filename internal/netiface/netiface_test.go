package netiface

import "testing"

func TestIsAllowedEmptyListPermitsAll(t *testing.T) {
	if !IsAllowed("eth0", nil) {
		t.Fatalf("expected empty allowlist to permit any interface")
	}
}

func TestIsAllowedRespectsAllowlist(t *testing.T) {
	allowed := []string{"eth0", "eth1"}
	if !IsAllowed("eth0", allowed) {
		t.Fatalf("expected eth0 to be allowed")
	}
	if IsAllowed("eth2", allowed) {
		t.Fatalf("expected eth2 to be rejected")
	}
}
