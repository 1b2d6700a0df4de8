package engine

import "testing"

func TestFingerprint_StableAcrossKeyOrder(t *testing.T) {
	a := Fingerprint("authorizeDevice", map[string]string{
		"multisigAddress": "0xdead",
		"deviceNonce":     "7",
	})
	b := Fingerprint("authorizeDevice", map[string]string{
		"deviceNonce":     "7",
		"multisigAddress": "0xdead",
	})
	if a != b {
		t.Fatalf("same identity must produce the same hash: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("expected 32 byte hex digest, got %q", a)
	}
}

func TestFingerprint_DiscriminatesKindAndIdentity(t *testing.T) {
	base := Fingerprint("authorizeDevice", map[string]string{"multisigAddress": "0xdead", "deviceNonce": "7"})

	if other := Fingerprint("revokeDevice", map[string]string{"multisigAddress": "0xdead", "deviceNonce": "7"}); other == base {
		t.Fatal("different workflow kinds must not collide")
	}
	if other := Fingerprint("authorizeDevice", map[string]string{"multisigAddress": "0xdead", "deviceNonce": "8"}); other == base {
		t.Fatal("different identity values must not collide")
	}
	// Key/value boundaries must be unambiguous.
	if other := Fingerprint("authorizeDevice", map[string]string{"multisigAddress": "0xdead", "deviceNonce7": ""}); other == base {
		t.Fatal("shifting the key/value boundary must change the hash")
	}
}
