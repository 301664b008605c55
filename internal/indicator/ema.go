package indicator

import "altregime/internal/model"

// EMA calculates an exponential moving average with an SMA seed.
// O(1) per update — no window storage needed.
type EMA struct {
	period     int
	multiplier float64
	current    float64
	count      int
	sum        float64
}

// NewEMA creates an EMA indicator with the given period.
func NewEMA(period int) *EMA {
	return &EMA{
		period:     period,
		multiplier: 2.0 / float64(period+1),
	}
}

func (e *EMA) Name() string { return "EMA_" + itoa(e.period) }

func (e *EMA) Update(bar model.Bar) {
	e.update(bar.Close)
}

// update feeds a raw value; MACD reuses this for its signal line, which
// runs over MACD values rather than closes.
func (e *EMA) update(price float64) {
	e.count++
	if e.count <= e.period {
		// Accumulate for initial SMA seed
		e.sum += price
		if e.count == e.period {
			e.current = e.sum / float64(e.period)
		}
		return
	}
	e.current = (price * e.multiplier) + (e.current * (1 - e.multiplier))
}

func (e *EMA) Value() float64 { return e.current }
func (e *EMA) Ready() bool    { return e.count >= e.period }

// itoa converts int to string without importing strconv.
func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	buf := [20]byte{}
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
