package indicator

import (
	"math"
	"time"

	"tdx_screener/models"
	"tdx_screener/services/tdx"
)

// Standard parameter sets served for chart rendering.
const (
	MACDFast   = 12
	MACDSlow   = 26
	MACDSignal = 9

	KDJPeriod = 9
	KDJSlowK  = 3
	KDJSlowD  = 3

	ShortTrendPeriod = 10
)

// BullBearPeriods are the moving-average legs of the bull/bear trend line.
var BullBearPeriods = [4]int{14, 28, 57, 114}

// LongestLookback is the largest window any derived column needs; seed
// windows for backfill are sized from it.
const LongestLookback = 114

// Columns holds every derived indicator column, aligned 1:1 with the bar
// window it was computed from.
type Columns struct {
	MacdDif        []float64
	MacdDea        []float64
	MacdHist       []float64
	KdjK           []float64
	KdjD           []float64
	KdjJ           []float64
	ShortTrendLine []float64
	BullBearLine   []float64
}

// Derive computes MACD, KDJ and the trend lines over one symbol's window
// using the same recursive-function semantics as the formula evaluator.
func Derive(w *models.BarWindow) *Columns {
	n := w.Len()
	c := &Columns{}
	if n == 0 {
		return c
	}

	// MACD(12,26,9): DIF = EMA12 - EMA26, DEA = EMA(DIF,9), HIST = 2*(DIF-DEA)
	emaFast := tdx.EMA(w.Close, MACDFast)
	emaSlow := tdx.EMA(w.Close, MACDSlow)
	c.MacdDif = sub(emaFast, emaSlow)
	c.MacdDea = tdx.EMA(c.MacdDif, MACDSignal)
	c.MacdHist = make([]float64, n)
	for i := range c.MacdHist {
		c.MacdHist[i] = 2 * (c.MacdDif[i] - c.MacdDea[i])
	}

	// KDJ(9,3,3). A flat window (HHV == LLV) defines RSV as 50 so a run of
	// limit-locked or untraded bars cannot poison the K/D/J recursion.
	low9 := tdx.LLV(w.Low, KDJPeriod)
	high9 := tdx.HHV(w.High, KDJPeriod)
	rsv := make([]float64, n)
	for i := range rsv {
		denom := high9[i] - low9[i]
		switch {
		case math.IsNaN(denom) || math.IsNaN(w.Close[i]):
			rsv[i] = math.NaN()
		case denom == 0:
			rsv[i] = 50
		default:
			rsv[i] = (w.Close[i] - low9[i]) / denom * 100
		}
	}
	c.KdjK = tdx.SMA(rsv, KDJSlowK, 1)
	c.KdjD = tdx.SMA(c.KdjK, KDJSlowD, 1)
	c.KdjJ = make([]float64, n)
	for i := range c.KdjJ {
		c.KdjJ[i] = 3*c.KdjK[i] - 2*c.KdjD[i]
	}

	// short trend line: double-smoothed close
	c.ShortTrendLine = tdx.EMA(tdx.EMA(w.Close, ShortTrendPeriod), ShortTrendPeriod)

	// bull/bear line: mean of the four trend MAs
	mas := make([][]float64, len(BullBearPeriods))
	for i, p := range BullBearPeriods {
		mas[i] = tdx.MA(w.Close, p)
	}
	c.BullBearLine = make([]float64, n)
	for i := 0; i < n; i++ {
		sum := 0.0
		for _, ma := range mas {
			sum += ma[i]
		}
		c.BullBearLine[i] = sum / float64(len(mas))
	}
	return c
}

// Rows converts derived columns into cache rows, one per bar date. NaN values
// become nil so the cache distinguishes "not computable" from a real zero.
func (c *Columns) Rows(w *models.BarWindow, now time.Time) []models.IndicatorRow {
	rows := make([]models.IndicatorRow, w.Len())
	for i := range rows {
		rows[i] = models.IndicatorRow{
			Code:           w.Code,
			TradeDate:      w.Dates[i],
			Period:         w.Period,
			MacdDif:        finitePtr(c.MacdDif[i]),
			MacdDea:        finitePtr(c.MacdDea[i]),
			MacdHist:       finitePtr(c.MacdHist[i]),
			KdjK:           finitePtr(c.KdjK[i]),
			KdjD:           finitePtr(c.KdjD[i]),
			KdjJ:           finitePtr(c.KdjJ[i]),
			ShortTrendLine: finitePtr(c.ShortTrendLine[i]),
			BullBearLine:   finitePtr(c.BullBearLine[i]),
			UpdatedAt:      now,
		}
	}
	return rows
}

func sub(a, b []float64) []float64 {
	out := make([]float64, len(a))
	for i := range a {
		out[i] = a[i] - b[i]
	}
	return out
}

func finitePtr(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
