package stream

import "time"

type ticker interface {
	Stop()
	C() <-chan time.Time
}

type timeTicker struct {
	ticker *time.Ticker
}

func (t *timeTicker) Stop() {
	t.ticker.Stop()
}

func (t *timeTicker) C() <-chan time.Time {
	return t.ticker.C
}
