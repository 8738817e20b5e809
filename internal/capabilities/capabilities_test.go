package capabilities

import (
	"testing"

	"kernel.org/pub/linux/libs/security/libcap/cap"
)

func TestValuesResolvesSpecNames(t *testing.T) {
	vals, err := values([]string{"CAP_NET_BIND_SERVICE", "CAP_KILL", "CAP_AUDIT_WRITE"})
	if err != nil {
		t.Fatalf("values: %v", err)
	}
	if len(vals) != 3 {
		t.Fatalf("values returned %d entries, want 3", len(vals))
	}
	if vals[0] != cap.NET_BIND_SERVICE {
		t.Fatalf("values[0] = %v, want NET_BIND_SERVICE", vals[0])
	}
}

func TestValuesRejectsUnknown(t *testing.T) {
	if _, err := values([]string{"CAP_DOES_NOT_EXIST"}); err == nil {
		t.Fatal("unknown capability accepted")
	}
}

func TestApplyNilIsNoop(t *testing.T) {
	if err := Apply(nil); err != nil {
		t.Fatalf("Apply(nil) = %v", err)
	}
}
