package marketdata

import "math"

// window keeps the last n prices of one asset
type window struct {
	prices []float64
	next   int
	full   bool
}

func newWindow(size int) *window {
	if size < 2 {
		size = 2
	}
	return &window{prices: make([]float64, size)}
}

func (w *window) add(price float64) {
	w.prices[w.next] = price
	w.next = (w.next + 1) % len(w.prices)
	if w.next == 0 {
		w.full = true
	}
}

func (w *window) len() int {
	if w.full {
		return len(w.prices)
	}
	return w.next
}

// ordered returns the prices oldest first
func (w *window) ordered() []float64 {
	if !w.full {
		return append([]float64(nil), w.prices[:w.next]...)
	}
	out := make([]float64, 0, len(w.prices))
	out = append(out, w.prices[w.next:]...)
	return append(out, w.prices[:w.next]...)
}

// logReturnStdDev is the population standard deviation of consecutive log returns
func logReturnStdDev(prices []float64) (float64, error) {
	returns := make([]float64, 0, len(prices))
	for i := 1; i < len(prices); i++ {
		if prices[i-1] <= 0 || prices[i] <= 0 {
			continue
		}
		returns = append(returns, math.Log(prices[i]/prices[i-1]))
	}
	if len(returns) < 2 {
		return 0, ErrNotEnoughData
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns))
	return math.Sqrt(variance), nil
}
