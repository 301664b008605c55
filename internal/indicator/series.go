package indicator

import (
	"math"

	"altregime/internal/model"
)

// RSISeries computes Wilder-smoothed RSI over closes. The first period
// indices are NaN: RSI needs period+1 closes for its first defined value.
func RSISeries(closes []float64, period int) []float64 {
	n := len(closes)
	out := nanSlice(n)
	if n < period+1 {
		return out
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		ch := closes[i] - closes[i-1]
		if ch > 0 {
			avgGain += ch
		} else {
			avgLoss -= ch
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	out[period] = rsiFromAvgs(avgGain, avgLoss)

	p := float64(period)
	for i := period + 1; i < n; i++ {
		ch := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if ch > 0 {
			gain = ch
		} else {
			loss = -ch
		}
		avgGain = (avgGain*(p-1) + gain) / p
		avgLoss = (avgLoss*(p-1) + loss) / p
		out[i] = rsiFromAvgs(avgGain, avgLoss)
	}
	return out
}

func rsiFromAvgs(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100.0
	}
	rs := avgGain / avgLoss
	return 100.0 - (100.0 / (1.0 + rs))
}

// EMASeries computes an SMA-seeded exponential moving average. Indices
// before period-1 are NaN.
func EMASeries(values []float64, period int) []float64 {
	n := len(values)
	out := nanSlice(n)
	if period <= 0 || n < period {
		return out
	}
	k := 2.0 / float64(period+1)
	sum := 0.0
	for i := 0; i < period; i++ {
		sum += values[i]
	}
	prev := sum / float64(period)
	out[period-1] = prev
	for i := period; i < n; i++ {
		prev = (values[i]-prev)*k + prev
		out[i] = prev
	}
	return out
}

// MACDSeries computes the MACD line (fast EMA − slow EMA), its signal EMA,
// and the histogram. The line is NaN until the slow EMA warms up; the
// signal and histogram additionally wait for the signal EMA.
func MACDSeries(closes []float64, fast, slow, signal int) MACDValues {
	n := len(closes)
	emaFast := EMASeries(closes, fast)
	emaSlow := EMASeries(closes, slow)

	line := nanSlice(n)
	for i := 0; i < n; i++ {
		if !math.IsNaN(emaFast[i]) && !math.IsNaN(emaSlow[i]) {
			line[i] = emaFast[i] - emaSlow[i]
		}
	}

	// Signal EMA runs over the defined suffix of the line.
	sig := nanSlice(n)
	start := slow - 1
	if start < n {
		defined := EMASeries(line[start:], signal)
		for i, v := range defined {
			sig[start+i] = v
		}
	}

	hist := nanSlice(n)
	for i := 0; i < n; i++ {
		if !math.IsNaN(line[i]) && !math.IsNaN(sig[i]) {
			hist[i] = line[i] - sig[i]
		}
	}
	return MACDValues{Line: line, Signal: sig, Hist: hist}
}

// VolumeSeries extracts per-bar volume; bars without volume yield NaN so
// the detector skips them the same way it skips warm-up values.
func VolumeSeries(bars []model.Bar) []float64 {
	out := nanSlice(len(bars))
	for i, b := range bars {
		if b.Volume != nil {
			out[i] = *b.Volume
		}
	}
	return out
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
