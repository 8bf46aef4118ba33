package indicator

// ema is the recursive exponential average with alpha = 2/(period+1).
// The first value seeds it.
type ema struct {
	alpha  float64
	value  float64
	seeded bool
}

func newEMA(period int) ema {
	return ema{alpha: 2.0 / (float64(period) + 1)}
}

func (e *ema) update(price float64) {
	if !e.seeded {
		e.value = price
		e.seeded = true
		return
	}
	e.value = e.alpha*price + (1-e.alpha)*e.value
}

// wilder is an ATR with Wilder smoothing: atr = atr*(1-1/n) + tr/n.
type wilder struct {
	period float64
	value  float64
	seeded bool
}

func newWilder(period int) wilder {
	return wilder{period: float64(period)}
}

func (w *wilder) update(tr float64) {
	if !w.seeded {
		w.value = tr
		w.seeded = true
		return
	}
	w.value = w.value*(1-1/w.period) + tr/w.period
}
