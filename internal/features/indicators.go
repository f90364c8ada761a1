package features

import "math"

// IndicatorFeatures holds the technical indicator values for one row.
type IndicatorFeatures struct {
	RSI14         *float64
	MACDLine      *float64
	MACDSignal    *float64
	MACDHistogram *float64
	BBUpper       *float64
	BBMiddle      *float64
	BBLower       *float64
	BBWidth       *float64
	BBPosition    *float64
	ATR14         *float64
	StochK        *float64
	StochD        *float64
}

// indicatorEngine carries the recurrence state for all five indicators.
// Every seed is an explicit rule tied to a row index, so a cold start over
// raw history and a warm start from a snapshot produce the same values.
type indicatorEngine struct {
	rsiAvgGain float64
	rsiAvgLoss float64
	rsiSeeded  bool

	emaFast       float64
	emaFastSeeded bool
	emaSlow       float64
	emaSlowSeeded bool
	signal        float64
	signalSeeded  bool
	macdSeedBuf   []float64

	atr       float64
	atrSeeded bool

	recentK []*float64
}

// update advances all indicator recurrences with the newest observation
// and returns the indicator values for the row at rowIndex (0-based).
// prices is the trailing context, oldest first, current price last.
func (e *indicatorEngine) update(prices []float64, rowIndex int64) IndicatorFeatures {
	price := prices[len(prices)-1]
	out := IndicatorFeatures{}
	out.RSI14 = e.updateRSI(prices, rowIndex)
	out.MACDLine, out.MACDSignal, out.MACDHistogram = e.updateMACD(prices, rowIndex)
	out.BBUpper, out.BBMiddle, out.BBLower, out.BBWidth, out.BBPosition = computeBollinger(prices, price)
	out.ATR14 = e.updateATR(prices, rowIndex)
	out.StochK, out.StochD = e.updateStochastic(prices, price, rowIndex)
	return out
}

// updateRSI computes RSI(14) with Wilder smoothing. The averages seed as
// the simple mean of the first 14 gains and losses (rows 1..14), then
// follow avg = (avg_prev*(n-1) + current)/n. RSI is 100 when the average
// loss is 0.
func (e *indicatorEngine) updateRSI(prices []float64, rowIndex int64) *float64 {
	switch {
	case rowIndex < RSIPeriod:
		return nil
	case !e.rsiSeeded:
		w := windowTail(prices, RSIPeriod+1)
		gains, losses := 0.0, 0.0
		for i := 1; i < len(w); i++ {
			delta := w[i] - w[i-1]
			if delta > 0 {
				gains += delta
			} else {
				losses += -delta
			}
		}
		e.rsiAvgGain = gains / RSIPeriod
		e.rsiAvgLoss = losses / RSIPeriod
		e.rsiSeeded = true
	default:
		delta := prices[len(prices)-1] - prices[len(prices)-2]
		gain, loss := 0.0, 0.0
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
		e.rsiAvgGain = (e.rsiAvgGain*(RSIPeriod-1) + gain) / RSIPeriod
		e.rsiAvgLoss = (e.rsiAvgLoss*(RSIPeriod-1) + loss) / RSIPeriod
	}

	if e.rsiAvgLoss == 0 {
		return floatPtr(100)
	}
	rs := e.rsiAvgGain / e.rsiAvgLoss
	return floatPtr(100 - 100/(1+rs))
}

// updateMACD advances both price EMAs and the signal EMA. The MACD line
// exists once the slow EMA has seeded (row 25); the signal seeds as the
// simple average of the first 9 MACD values (row 33).
func (e *indicatorEngine) updateMACD(prices []float64, rowIndex int64) (line, signal, histogram *float64) {
	e.emaFast, e.emaFastSeeded = updateEMA(e.emaFast, e.emaFastSeeded, prices, rowIndex, MACDFastPeriod)
	e.emaSlow, e.emaSlowSeeded = updateEMA(e.emaSlow, e.emaSlowSeeded, prices, rowIndex, MACDSlowPeriod)
	if !e.emaSlowSeeded {
		return nil, nil, nil
	}

	macd := e.emaFast - e.emaSlow
	line = floatPtr(macd)

	if e.signalSeeded {
		k := 2.0 / float64(MACDSignalPeriod+1)
		e.signal = macd*k + e.signal*(1-k)
	} else {
		e.macdSeedBuf = append(e.macdSeedBuf, macd)
		if len(e.macdSeedBuf) < MACDSignalPeriod {
			return line, nil, nil
		}
		sum := 0.0
		for _, v := range e.macdSeedBuf {
			sum += v
		}
		e.signal = sum / MACDSignalPeriod
		e.signalSeeded = true
		e.macdSeedBuf = nil
	}

	return line, floatPtr(e.signal), floatPtr(macd - e.signal)
}

// updateEMA advances one price EMA recurrence: seeded at rowIndex ==
// period-1 with the simple average of the first period prices, then
// ema = price*k + ema*(1-k) with k = 2/(period+1).
func updateEMA(value float64, seeded bool, prices []float64, rowIndex int64, period int) (float64, bool) {
	if !seeded {
		if rowIndex < int64(period-1) {
			return value, false
		}
		w := windowTail(prices, period)
		sum := 0.0
		for _, p := range w {
			sum += p
		}
		return sum / float64(period), true
	}
	k := 2.0 / float64(period+1)
	return prices[len(prices)-1]*k + value*(1-k), true
}

// computeBollinger derives the Bollinger(20, 2σ) band fields from the
// trailing window. Position is null when the band width is 0 (flat
// window); a zero-width band is a degenerate window, not an error.
func computeBollinger(prices []float64, price float64) (upper, middle, lower, width, position *float64) {
	mid := windowMean(prices, BollingerPeriod)
	std := windowStd(prices, BollingerPeriod)
	if mid == nil || std == nil {
		return nil, nil, nil, nil, nil
	}

	up := *mid + BollingerStdDevs*(*std)
	lo := *mid - BollingerStdDevs*(*std)
	w := up - lo

	upper, middle, lower, width = floatPtr(up), mid, floatPtr(lo), floatPtr(w)
	if w != 0 {
		position = floatPtr((price - lo) / w)
	}
	return upper, middle, lower, width, position
}

// updateATR computes ATR(14) with Wilder smoothing over the close-to-close
// range proxy |price_t - price_{t-1}|. Only the close is recorded here, so
// this is deliberately not textbook high/low true range; trained models
// depend on the proxy, see FEATURE_CATALOG.md.
func (e *indicatorEngine) updateATR(prices []float64, rowIndex int64) *float64 {
	if rowIndex < ATRPeriod {
		return nil
	}
	if !e.atrSeeded {
		w := windowTail(prices, ATRPeriod+1)
		sum := 0.0
		for i := 1; i < len(w); i++ {
			sum += math.Abs(w[i] - w[i-1])
		}
		e.atr = sum / ATRPeriod
		e.atrSeeded = true
	} else {
		tr := math.Abs(prices[len(prices)-1] - prices[len(prices)-2])
		e.atr = (e.atr*(ATRPeriod-1) + tr) / ATRPeriod
	}
	return floatPtr(e.atr)
}

// updateStochastic computes %K over the trailing 14 observations and %D as
// the 3-period simple average of %K. %K is null when the window is flat;
// %D requires the last 3 %K values all present.
func (e *indicatorEngine) updateStochastic(prices []float64, price float64, rowIndex int64) (k, d *float64) {
	if rowIndex < StochKPeriod-1 {
		return nil, nil
	}

	lo, hi := windowMinMax(prices, StochKPeriod)
	if *hi != *lo {
		k = floatPtr(100 * (price - *lo) / (*hi - *lo))
	}

	if k != nil {
		e.recentK = append(e.recentK, floatPtr(*k))
	} else {
		e.recentK = append(e.recentK, nil)
	}
	if len(e.recentK) > StochDPeriod {
		e.recentK = e.recentK[1:]
	}

	if len(e.recentK) == StochDPeriod {
		sum := 0.0
		for _, v := range e.recentK {
			if v == nil {
				return k, nil
			}
			sum += *v
		}
		d = floatPtr(sum / StochDPeriod)
	}
	return k, d
}

// toState copies the engine recurrences into a snapshot.
func (e *indicatorEngine) toState(s *PipelineState) {
	s.RSIAvgGain = e.rsiAvgGain
	s.RSIAvgLoss = e.rsiAvgLoss
	s.RSISeeded = e.rsiSeeded

	s.EMAFast = e.emaFast
	s.EMAFastSeeded = e.emaFastSeeded
	s.EMASlow = e.emaSlow
	s.EMASlowSeeded = e.emaSlowSeeded
	s.Signal = e.signal
	s.SignalSeeded = e.signalSeeded
	s.MACDSeedBuf = append([]float64(nil), e.macdSeedBuf...)

	s.ATRValue = e.atr
	s.ATRSeeded = e.atrSeeded

	s.RecentK = make([]*float64, len(e.recentK))
	for i, v := range e.recentK {
		if v != nil {
			s.RecentK[i] = floatPtr(*v)
		}
	}
}

// engineFromState rebuilds the engine recurrences from a snapshot.
func engineFromState(s *PipelineState) *indicatorEngine {
	e := &indicatorEngine{
		rsiAvgGain: s.RSIAvgGain,
		rsiAvgLoss: s.RSIAvgLoss,
		rsiSeeded:  s.RSISeeded,

		emaFast:       s.EMAFast,
		emaFastSeeded: s.EMAFastSeeded,
		emaSlow:       s.EMASlow,
		emaSlowSeeded: s.EMASlowSeeded,
		signal:        s.Signal,
		signalSeeded:  s.SignalSeeded,
		macdSeedBuf:   append([]float64(nil), s.MACDSeedBuf...),

		atr:       s.ATRValue,
		atrSeeded: s.ATRSeeded,
	}
	e.recentK = make([]*float64, len(s.RecentK))
	for i, v := range s.RecentK {
		if v != nil {
			e.recentK[i] = floatPtr(*v)
		}
	}
	return e
}
