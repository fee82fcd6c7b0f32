package meter

import "github.com/ineyio/quotarelay"

// Multi fans every event out to all meters in order.
type Multi []quotarelay.Meter

var _ quotarelay.Meter = Multi(nil)

func (m Multi) OnRelayed(e quotarelay.RelayedEvent) {
	for _, mm := range m {
		mm.OnRelayed(e)
	}
}

func (m Multi) OnDenied(e quotarelay.DeniedEvent) {
	for _, mm := range m {
		mm.OnDenied(e)
	}
}
