package analytics

import (
	"context"

	"progresskit/core"
)

// BridgeHook bridges an event source to multiple hooks.
type BridgeHook struct{ hooks []Hook }

func NewBridge(hooks ...Hook) *BridgeHook { return &BridgeHook{hooks: hooks} }

func (b *BridgeHook) OnEvent(e core.Event) {
	for _, h := range b.hooks {
		h.OnEvent(e)
	}
}

// Source is the subscription side of an event bus.
type Source interface {
	SubscribeAll(handler func(context.Context, core.Event)) func()
}

// Attach feeds every event published on src to h.
func Attach(src Source, h Hook) func() {
	return src.SubscribeAll(func(_ context.Context, e core.Event) { h.OnEvent(e) })
}
