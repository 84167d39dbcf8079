package features

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Candle is one OHLCV bar for an entity.
type Candle struct {
	Symbol string
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// CandleRepository supplies recent bars for feature computation.
type CandleRepository interface {
	// RecentCandles returns up to limit bars for a symbol, newest last.
	RecentCandles(ctx context.Context, symbol string, limit int) ([]Candle, error)
}

// Repository implements CandleRepository over PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new candle repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// RecentCandles returns the most recent bars for a symbol in ascending
// time order.
func (r *Repository) RecentCandles(ctx context.Context, symbol string, limit int) ([]Candle, error) {
	query := `
		SELECT symbol, bar_time, open_price, high_price, low_price, close_price, volume
		FROM (
			SELECT symbol, bar_time, open_price, high_price, low_price, close_price, volume
			FROM data.candles
			WHERE symbol = $1
			ORDER BY bar_time DESC
			LIMIT $2
		) recent
		ORDER BY bar_time ASC
	`

	rows, err := r.pool.Query(ctx, query, symbol, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candles []Candle
	for rows.Next() {
		var c Candle
		if err := rows.Scan(&c.Symbol, &c.Time, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, err
		}
		candles = append(candles, c)
	}
	return candles, rows.Err()
}
