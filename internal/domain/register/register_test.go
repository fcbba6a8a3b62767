package register

import "testing"

func TestGetFieldDottedPath(t *testing.T) {
	s := NewStore()
	s.Set("k", map[string]any{"a": map[string]any{"b": "v"}}, "test_tool")

	got, ok := s.GetField("k", "a.b")
	if !ok || got != "v" {
		t.Fatalf("GetField(k, a.b) = %v, %v; want v, true", got, ok)
	}
}

func TestExpandTemplates(t *testing.T) {
	s := NewStore()
	s.Set("k", map[string]any{"a": map[string]any{"b": "v"}}, "test_tool")

	got := s.ExpandTemplates("x={{k.a.b}}")
	if got != "x=v" {
		t.Fatalf("ExpandTemplates = %q, want %q", got, "x=v")
	}
}

func TestExpandTemplatesMissingRefLeftUnchanged(t *testing.T) {
	s := NewStore()
	got := s.ExpandTemplates("x={{missing.field}} y={{missing2}}")
	if got != "x={{missing.field}} y={{missing2}}" {
		t.Fatalf("ExpandTemplates left unresolved refs unchanged; got %q", got)
	}
}

func TestExpandTemplatesSimpleName(t *testing.T) {
	s := NewStore()
	s.Set("register_name", "hello", "test_tool")
	got := s.ExpandTemplates("say {{register_name}}")
	if got != "say hello" {
		t.Fatalf("ExpandTemplates = %q, want %q", got, "say hello")
	}
}

type fakeWallet struct{ addr string }

func (f fakeWallet) WalletAddress() (string, bool) { return f.addr, f.addr != "" }

func TestIntrinsicWalletAddress(t *testing.T) {
	s := NewStore().WithWalletResolver(fakeWallet{addr: "0xabc"})
	got, ok := s.Get("wallet_address")
	if !ok || got != "0xabc" {
		t.Fatalf("Get(wallet_address) = %v, %v; want 0xabc, true", got, ok)
	}
}
