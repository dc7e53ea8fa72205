package oee

import (
	"math"
	"strconv"
	"strings"
)

// Totals is the shift-wide sum of per-asset aggregates.
type Totals struct {
	RuntimeSeconds  float64
	DowntimeSeconds float64
	Stops           int
	MicroStops      int
}

// Production is optional piece-count data. IdealRunSeconds is the ideal cycle
// time multiplied by the total count.
//
// When Scoped is set the counts cover only some assets, and performance is
// measured against RuntimeSeconds, the runtime of those assets, instead of
// the shift total.
type Production struct {
	TotalCount      int64
	GoodCount       int64
	IdealRunSeconds float64
	Scoped          bool
	RuntimeSeconds  float64
}

func (p *Production) runtime(t Totals) float64 {
	if p.Scoped {
		return p.RuntimeSeconds
	}
	return t.RuntimeSeconds
}

// Defaults are used for performance and quality when no production data exists.
type Defaults struct {
	PerformancePct float64
	QualityPct     float64
}

// ShiftMetrics is the derived per-shift result. All percentages are in [0, 100].
type ShiftMetrics struct {
	AvailabilityPct      float64 `json:"availability_pct"`
	PerformancePct       float64 `json:"performance_pct"`
	QualityPct           float64 `json:"quality_pct"`
	OEEPct               float64 `json:"oee_pct"`
	TotalRuntimeSeconds  float64 `json:"total_runtime_seconds"`
	TotalDowntimeSeconds float64 `json:"total_downtime_seconds"`
	TotalStops           int     `json:"total_stops"`
	TotalMicroStops      int     `json:"total_micro_stops"`
	IsFinal              bool    `json:"is_final"`
}

// Calculator turns totals into shift metrics.
type Calculator struct {
	defaults Defaults
}

// NewCalculator creates a calculator. Non-positive defaults fall back to 100%.
func NewCalculator(d Defaults) *Calculator {
	if d.PerformancePct <= 0 {
		d.PerformancePct = 100
	}
	if d.QualityPct <= 0 {
		d.QualityPct = 100
	}
	return &Calculator{defaults: d}
}

// Calculate derives shift metrics. prod may be nil.
func (c *Calculator) Calculate(t Totals, prod *Production, isFinal bool) ShiftMetrics {
	availability := availability(t.RuntimeSeconds, t.DowntimeSeconds)

	performance := clampPct(c.defaults.PerformancePct)
	quality := clampPct(c.defaults.QualityPct)
	if prod != nil && prod.TotalCount > 0 {
		if prod.IdealRunSeconds > 0 {
			performance = clampPct(ratio(prod.IdealRunSeconds, prod.runtime(t)) * 100)
		}
		quality = clampPct(ratio(float64(prod.GoodCount), float64(prod.TotalCount)) * 100)
	}

	oee := availability / 100 * performance / 100 * quality / 100 * 100

	return ShiftMetrics{
		AvailabilityPct:      Round(availability),
		PerformancePct:       Round(performance),
		QualityPct:           Round(quality),
		OEEPct:               Round(oee),
		TotalRuntimeSeconds:  finite(t.RuntimeSeconds),
		TotalDowntimeSeconds: finite(t.DowntimeSeconds),
		TotalStops:           t.Stops,
		TotalMicroStops:      t.MicroStops,
		IsFinal:              isFinal,
	}
}

// AvailabilityPct is runtime / (runtime + downtime) as a rounded percentage,
// 0 when there is no observed time.
func AvailabilityPct(runtimeSeconds, downtimeSeconds float64) float64 {
	return Round(availability(runtimeSeconds, downtimeSeconds))
}

// Round rounds half-to-even to one decimal place, deciding ties on the
// shortest decimal form of v so 66.65 rounds to 66.6. NaN and infinities
// become 0.
func Round(v float64) float64 {
	v = finite(v)
	neg := v < 0
	if neg {
		v = -v
	}

	whole, frac, _ := strings.Cut(strconv.FormatFloat(v, 'f', -1, 64), ".")
	if len(frac) <= 1 {
		return sign(v, neg)
	}
	tenths, err := strconv.ParseInt(whole+frac[:1], 10, 64)
	if err != nil {
		return sign(math.RoundToEven(v*10)/10, neg)
	}

	rest := frac[1:]
	switch {
	case rest[0] > '5':
		tenths++
	case rest[0] == '5':
		if strings.TrimRight(rest[1:], "0") != "" || tenths%2 == 1 {
			tenths++
		}
	}
	return sign(float64(tenths)/10, neg)
}

func sign(v float64, neg bool) float64 {
	if neg && v != 0 {
		return -v
	}
	return v
}

func availability(runtime, downtime float64) float64 {
	return clampPct(ratio(runtime, runtime+downtime) * 100)
}

func ratio(num, den float64) float64 {
	if den <= 0 || math.IsNaN(den) || math.IsInf(den, 0) {
		return 0
	}
	return finite(num / den)
}

func clampPct(v float64) float64 {
	v = finite(v)
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
