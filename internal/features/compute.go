package features

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
)

// Computer produces a feature vector for one entity. The cache calls it on
// a miss; tests and other deployments may substitute their own.
type Computer interface {
	Compute(ctx context.Context, entity, schemaVersion string) (*Vector, error)
}

// minBars is the history needed by the widest indicator window (20-bar
// stats need 21 bars of closes).
const minBars = 21

// schemaV1 is the only feature schema this build computes.
const schemaV1 = "v1"

var schemaV1Names = []string{
	"ret_1",
	"ret_5",
	"ma_10_ratio",
	"ma_20_ratio",
	"rsi_14",
	"vol_20",
	"volume_z_20",
	"range_pct",
}

// Calculator computes technical features from recent candles.
type Calculator struct {
	repo     CandleRepository
	lookback int
	log      zerolog.Logger
}

// NewCalculator creates a feature calculator.
func NewCalculator(repo CandleRepository, lookback int, log zerolog.Logger) *Calculator {
	if lookback < minBars {
		lookback = minBars
	}
	return &Calculator{
		repo:     repo,
		lookback: lookback,
		log:      log.With().Str("component", "features.calculator").Logger(),
	}
}

// Compute pulls recent candles and derives the schema's feature vector.
func (c *Calculator) Compute(ctx context.Context, entity, schemaVersion string) (*Vector, error) {
	if schemaVersion != schemaV1 {
		return nil, fmt.Errorf("unknown feature schema %q", schemaVersion)
	}

	candles, err := c.repo.RecentCandles(ctx, entity, c.lookback)
	if err != nil {
		return nil, fmt.Errorf("load candles for %s: %w", entity, err)
	}

	if len(candles) < minBars {
		return nil, fmt.Errorf("insufficient history for %s: have %d bars, need %d", entity, len(candles), minBars)
	}

	closes := make([]float64, len(candles))
	volumes := make([]float64, len(candles))
	for i, cd := range candles {
		closes[i] = cd.Close
		volumes[i] = cd.Volume
	}

	last := candles[len(candles)-1]

	values := []float64{
		pctChange(closes, 1),
		pctChange(closes, 5),
		ratioToMA(closes, 10),
		ratioToMA(closes, 20),
		rsi(closes, 14),
		returnVolatility(closes, 20),
		zscore(volumes, 20),
		rangePct(last),
	}

	v := &Vector{
		Entity:        entity,
		SchemaVersion: schemaVersion,
		Names:         schemaV1Names,
		Values:        values,
		ComputedAt:    time.Now(),
	}

	c.log.Debug().
		Str("entity", entity).
		Str("schema", schemaVersion).
		Int("bars", len(candles)).
		Msg("computed feature vector")

	return v, nil
}

// pctChange returns the fractional change over n bars.
func pctChange(closes []float64, n int) float64 {
	i := len(closes) - 1
	prev := closes[i-n]
	if prev == 0 {
		return 0
	}
	return (closes[i] - prev) / prev
}

// ratioToMA returns last close divided by the n-bar moving average.
func ratioToMA(closes []float64, n int) float64 {
	ma := mean(closes[len(closes)-n:])
	if ma == 0 {
		return 0
	}
	return closes[len(closes)-1] / ma
}

// rsi computes the Relative Strength Index over the trailing period.
func rsi(closes []float64, period int) float64 {
	start := len(closes) - period - 1

	var gains, losses float64
	for i := start; i < len(closes)-1; i++ {
		change := closes[i+1] - closes[i]
		if change > 0 {
			gains += change
		} else {
			losses += -change
		}
	}

	if losses == 0 {
		return 100.0
	}

	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)
	rs := avgGain / avgLoss

	return 100.0 - 100.0/(1.0+rs)
}

// returnVolatility is the standard deviation of 1-bar returns over the
// trailing n bars.
func returnVolatility(closes []float64, n int) float64 {
	rets := make([]float64, 0, n)
	for i := len(closes) - n; i < len(closes); i++ {
		if closes[i-1] == 0 {
			continue
		}
		rets = append(rets, (closes[i]-closes[i-1])/closes[i-1])
	}
	return stddev(rets)
}

// zscore returns how many standard deviations the last value sits from
// the trailing n-bar mean.
func zscore(values []float64, n int) float64 {
	window := values[len(values)-n:]
	m := mean(window)
	sd := stddev(window)
	if sd == 0 {
		return 0
	}
	return (values[len(values)-1] - m) / sd
}

// rangePct is the bar's high-low range relative to its close.
func rangePct(c Candle) float64 {
	if c.Close == 0 {
		return 0
	}
	return (c.High - c.Low) / c.Close
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stddev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := mean(values)
	var sq float64
	for _, v := range values {
		d := v - m
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(values)-1))
}
