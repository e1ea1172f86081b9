package mexc

import (
	"testing"
)

func TestSignDeterministic(t *testing.T) {
	payload := "symbol=BTCUSDT&timestamp=1700000000000"
	secret := "topsecret"

	first := Sign(payload, secret)
	second := Sign(payload, secret)
	if first != second {
		t.Fatalf("signature not deterministic: %s != %s", first, second)
	}
	if len(first) != 64 {
		t.Fatalf("expected 64 hex chars, got %d: %s", len(first), first)
	}
	for _, c := range first {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			t.Fatalf("signature contains non-hex character %q", c)
		}
	}
}

func TestSignSensitivity(t *testing.T) {
	payload := "symbol=BTCUSDT&timestamp=1700000000000"
	secret := "topsecret"
	base := Sign(payload, secret)

	if got := Sign(payload+"x", secret); got == base {
		t.Error("payload change did not change signature")
	}
	if got := Sign("xymbol=BTCUSDT&timestamp=1700000000000", secret); got == base {
		t.Error("single-character payload change did not change signature")
	}
	if got := Sign(payload, "topsecres"); got == base {
		t.Error("secret change did not change signature")
	}
}
