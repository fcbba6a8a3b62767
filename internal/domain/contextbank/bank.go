// Package contextbank implements the per-dispatch set of recognized
// entities (ETH addresses, token symbols) extracted from the user's text.
package contextbank

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// EntityKind classifies a detected entity.
type EntityKind string

const (
	EntityETHAddress EntityKind = "eth_address"
	EntityTokenSym   EntityKind = "token_symbol"
)

// Entity is one recognized item from the inbound text.
type Entity struct {
	Kind  EntityKind
	Value string
}

var ethAddressRe = regexp.MustCompile(`0x[a-fA-F0-9]{40}`)

// defaultTokenSymbols is the known-token allow-list scanned for. A real
// deployment loads this from config/datastore; kept small and explicit
// here since token-symbol resolution is an external collaborator.
var defaultTokenSymbols = []string{
	"ETH", "WETH", "USDC", "USDT", "DAI", "WBTC", "BTC", "SOL", "MATIC", "ARB", "OP",
}

// Bank accumulates entities recognized for one dispatch. ToolContext has a
// ContextBank field for it, but nothing in this module fills that field.
type Bank struct {
	mu       sync.RWMutex
	entities []Entity
	symbols  map[string]bool
}

// NewBank creates an empty context bank, optionally overriding the token
// symbol allow-list (nil uses defaultTokenSymbols).
func NewBank(tokenSymbols []string) *Bank {
	if tokenSymbols == nil {
		tokenSymbols = defaultTokenSymbols
	}
	set := make(map[string]bool, len(tokenSymbols))
	for _, s := range tokenSymbols {
		set[strings.ToUpper(s)] = true
	}
	return &Bank{symbols: set}
}

// Scan extracts ETH addresses and known token symbols from text and
// records them (deduplicated).
func (b *Bank) Scan(text string) []Entity {
	b.mu.Lock()
	defer b.mu.Unlock()

	seen := make(map[string]bool, len(b.entities))
	for _, e := range b.entities {
		seen[string(e.Kind)+":"+e.Value] = true
	}

	var fresh []Entity
	add := func(e Entity) {
		key := string(e.Kind) + ":" + e.Value
		if seen[key] {
			return
		}
		seen[key] = true
		b.entities = append(b.entities, e)
		fresh = append(fresh, e)
	}

	for _, addr := range ethAddressRe.FindAllString(text, -1) {
		add(Entity{Kind: EntityETHAddress, Value: addr})
	}

	for _, word := range strings.FieldsFunc(text, func(r rune) bool {
		return !(r == '$' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'))
	}) {
		sym := strings.ToUpper(strings.TrimPrefix(word, "$"))
		if b.symbols[sym] {
			add(Entity{Kind: EntityTokenSym, Value: sym})
		}
	}

	return fresh
}

// Entities returns a copy of every entity recorded so far this dispatch.
func (b *Bank) Entities() []Entity {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Entity, len(b.entities))
	copy(out, b.entities)
	return out
}

// IsEmpty reports whether nothing has been recorded yet.
func (b *Bank) IsEmpty() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entities) == 0
}

// SystemBlock renders the recorded entities as a system-prompt block so
// the AI sees what was already detected. Returns "" when nothing has been
// recorded.
func (b *Bank) SystemBlock() string {
	ents := b.Entities()
	if len(ents) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("Detected entities in the user's message:\n")
	for _, e := range ents {
		fmt.Fprintf(&sb, "- %s: %s\n", e.Kind, e.Value)
	}
	return sb.String()
}
