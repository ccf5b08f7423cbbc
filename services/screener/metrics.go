package screener

import (
	"encoding/json"

	"tdx_screener/services/tdx"
)

// metricKeys maps formula column names onto the stable English metric keys
// stored with each pick. Columns a rule does not define are simply absent.
var metricKeys = map[string]string{
	"J":     "j",
	"短期趋势线": "short_trend_line",
	"知行多空线": "bull_bear_line",
	"振幅":    "amplitude_pct",
	"涨跌幅":   "change_pct",
}

// snapshotMetrics captures the last-bar value of the well-known columns of an
// evaluated formula. Non-finite values are stored as JSON null.
func snapshotMetrics(r *tdx.Result, n int) ([]byte, error) {
	out := map[string]*float64{}
	for _, name := range r.Names {
		key, ok := metricKeys[name]
		if !ok {
			continue
		}
		col := r.Columns[name]
		if col.IsBool() || col.IsString() {
			continue
		}
		if v, ok := col.LastNum(n); ok {
			out[key] = &v
		} else {
			out[key] = nil
		}
	}
	if len(out) == 0 {
		return nil, nil
	}
	return json.Marshal(out)
}
