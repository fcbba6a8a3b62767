package contextbank

import "testing"

func TestScanDetectsETHAddress(t *testing.T) {
	b := NewBank(nil)
	ents := b.Scan("send 1 ETH to 0x1234567890123456789012345678901234567890 please")

	var gotAddr, gotSym bool
	for _, e := range ents {
		if e.Kind == EntityETHAddress && e.Value == "0x1234567890123456789012345678901234567890" {
			gotAddr = true
		}
		if e.Kind == EntityTokenSym && e.Value == "ETH" {
			gotSym = true
		}
	}
	if !gotAddr {
		t.Fatal("expected ETH address to be detected")
	}
	if !gotSym {
		t.Fatal("expected ETH token symbol to be detected")
	}
}

func TestScanDeduplicates(t *testing.T) {
	b := NewBank(nil)
	b.Scan("USDC USDC USDC")
	if len(b.Entities()) != 1 {
		t.Fatalf("expected 1 deduplicated entity, got %d", len(b.Entities()))
	}
}

func TestSystemBlockEmptyWhenNothingDetected(t *testing.T) {
	b := NewBank(nil)
	if b.SystemBlock() != "" {
		t.Fatal("expected empty system block before any scan")
	}
}
