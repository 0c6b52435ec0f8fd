package feed

import (
	"sort"
	"strings"
)

// Subscription is a logical request for a class of ongoing updates,
// identified by kind plus parameters. Identity is structural: two
// subscriptions with the same kind and params are the same subscription.
type Subscription struct {
	Kind   string
	Params map[string]string
}

// NewSubscription builds a subscription for a kind with optional params.
func NewSubscription(kind string, params map[string]string) Subscription {
	return Subscription{Kind: kind, Params: params}
}

// SymbolSubscription builds the common kind+symbol form, e.g.
// ("price", "AAPL").
func SymbolSubscription(kind, symbol string) Subscription {
	return Subscription{
		Kind:   kind,
		Params: map[string]string{"symbol": symbol},
	}
}

// key returns the canonical identity of the subscription: kind plus
// params in sorted order. Used as the registry set key.
func (s Subscription) key() string {
	if len(s.Params) == 0 {
		return s.Kind
	}

	names := make([]string, 0, len(s.Params))
	for name := range s.Params {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(s.Kind)
	for _, name := range names {
		b.WriteByte('|')
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(s.Params[name])
	}
	return b.String()
}

// subscribeFrame builds the outbound subscribe payload:
// {"type":"subscribe_<kind>", ...params}.
func (s Subscription) subscribeFrame() map[string]any {
	return s.frame("subscribe_")
}

// unsubscribeFrame builds the outbound unsubscribe payload:
// {"type":"unsubscribe_<kind>", ...params}.
func (s Subscription) unsubscribeFrame() map[string]any {
	return s.frame("unsubscribe_")
}

func (s Subscription) frame(prefix string) map[string]any {
	m := make(map[string]any, len(s.Params)+1)
	m["type"] = prefix + s.Kind
	for name, value := range s.Params {
		m[name] = value
	}
	return m
}
