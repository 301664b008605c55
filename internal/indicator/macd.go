package indicator

import "altregime/internal/model"

// MACD calculates the MACD line, signal line, and histogram incrementally
// from two EMAs plus a signal EMA over the line.
type MACD struct {
	fast   *EMA
	slow   *EMA
	signal *EMA
	line   float64
	hist   float64
}

// NewMACD creates a MACD indicator with the given fast/slow/signal periods
// (standard 12/26/9).
func NewMACD(fast, slow, signal int) *MACD {
	return &MACD{
		fast:   NewEMA(fast),
		slow:   NewEMA(slow),
		signal: NewEMA(signal),
	}
}

func (m *MACD) Name() string {
	return "MACD_" + itoa(m.fast.period) + "_" + itoa(m.slow.period) + "_" + itoa(m.signal.period)
}

func (m *MACD) Update(bar model.Bar) {
	m.fast.Update(bar)
	m.slow.Update(bar)
	if !m.slow.Ready() {
		return
	}
	m.line = m.fast.Value() - m.slow.Value()
	m.signal.update(m.line)
	if m.signal.Ready() {
		m.hist = m.line - m.signal.Value()
	}
}

// Value returns the MACD line; Line/Signal/Hist expose all three outputs.
func (m *MACD) Value() float64  { return m.line }
func (m *MACD) Line() float64   { return m.line }
func (m *MACD) Signal() float64 { return m.signal.Value() }
func (m *MACD) Hist() float64   { return m.hist }

// Ready reports whether the signal EMA has warmed up, i.e. all three
// outputs are defined.
func (m *MACD) Ready() bool { return m.slow.Ready() && m.signal.Ready() }
