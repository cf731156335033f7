package event

import "testing"

func TestNormalizeEventTypeEVM(t *testing.T) {
	cases := map[string]string{
		"Transfer":  "token_transfer",
		"Approval":  "token_approval",
		"Swap":      "token_swap",
		"Mint":      "mint",
	}
	for in, want := range cases {
		if got := NormalizeEventType(in, "ethereum-mainnet"); got != want {
			t.Errorf("NormalizeEventType(%q, ethereum-mainnet) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeEventTypeCosmos(t *testing.T) {
	cases := map[string]string{
		"coin_received": "token_transfer",
		"coin_spent":    "token_transfer",
		"transfer":      "token_transfer",
		"delegate":      "delegate",
	}
	for in, want := range cases {
		if got := NormalizeEventType(in, "osmosis-1"); got != want {
			t.Errorf("NormalizeEventType(%q, osmosis-1) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeEventTypeUnknownChainPassthrough(t *testing.T) {
	if got := NormalizeEventType("Foo", "solana-mainnet"); got != "Foo" {
		t.Errorf("expected passthrough, got %q", got)
	}
}
