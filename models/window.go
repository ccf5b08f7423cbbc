package models

import "time"

// BarWindow is a borrowed, read-only slice of one symbol's bar history used
// by the evaluator and the indicator derivation layer. All slices share the
// same length and are aligned by index; prices are plain float64 so the
// evaluator's NaN rules apply directly.
type BarWindow struct {
	Code     string
	Name     string
	Exchange string
	Period   string

	Dates    []time.Time
	Open     []float64
	High     []float64
	Low      []float64
	Close    []float64
	Volume   []float64
	Amount   []float64
	Turnover []float64
}

func (w *BarWindow) Len() int {
	if w == nil {
		return 0
	}
	return len(w.Close)
}

// LastDate returns the date of the most recent bar in the window.
func (w *BarWindow) LastDate() (time.Time, bool) {
	if w.Len() == 0 {
		return time.Time{}, false
	}
	return w.Dates[len(w.Dates)-1], true
}
