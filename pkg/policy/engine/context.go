package engine

import "strings"

// Context is a read-only, path-addressable evaluation context built from a
// raw event. Rules address values with dotted paths such as "event.type" or
// "detail.remote_addr".
type Context map[string]any

// Resolve extracts the value at a dotted path. It is total over arbitrary
// malformed contexts: a missing or non-traversable path yields
// (nil, false), never a panic.
func (c Context) Resolve(dotted string) (any, bool) {
	if dotted == "" {
		return nil, false
	}

	var cur any = map[string]any(c)
	for _, part := range strings.Split(dotted, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// EventView is the subset of event fields the extractor needs. It decouples
// the pure engine from the audit storage types.
type EventView struct {
	ID        string
	Timestamp string
	Type      string
	Source    string
	Summary   string
	Actor     string
	Details   map[string]any
}

// ExtractContext builds the evaluation context for an event. Event identity
// fields are addressable under "event.*"; the structured details payload is
// additionally flattened under "detail.*" for convenience.
func ExtractContext(ev EventView) Context {
	ctx := Context{
		"event": map[string]any{
			"id":        ev.ID,
			"timestamp": ev.Timestamp,
			"type":      ev.Type,
			"source":    ev.Source,
			"summary":   ev.Summary,
			"actor":     ev.Actor,
			"details":   ev.Details,
		},
	}
	if ev.Details != nil {
		ctx["detail"] = ev.Details
	}
	return ctx
}
