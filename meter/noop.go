package meter

import "github.com/ineyio/quotarelay"

// NoopMeter is a meter that does nothing.
type NoopMeter struct{}

var _ quotarelay.Meter = (*NoopMeter)(nil)

func (m *NoopMeter) OnRelayed(quotarelay.RelayedEvent) {}
func (m *NoopMeter) OnDenied(quotarelay.DeniedEvent)   {}
