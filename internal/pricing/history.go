package pricing

import (
	"context"
	"database/sql"
	"math"

	"github.com/example/freight-matching/internal/models"
)

// PostgresHistory reads accepted-bid prices of comparable routes: same
// origin/destination region cell (coordinates rounded to one decimal, roughly
// an 11 km grid), newest first. Pinning both endpoints to a cell also bounds
// how much the routes' lengths can differ.
type PostgresHistory struct {
	db    *sql.DB
	limit int
}

func NewPostgresHistory(db *sql.DB, limit int) *PostgresHistory {
	if limit <= 0 {
		limit = 50
	}
	return &PostgresHistory{db: db, limit: limit}
}

func regionCell(v float64) float64 { return math.Round(v*10) / 10 }

func (h *PostgresHistory) AcceptedPrices(ctx context.Context, origin, dest models.Coord) ([]float64, error) {
	rows, err := h.db.QueryContext(ctx, `SELECT b.offered_price
		FROM bids b JOIN routes r ON r.id = b.route_id
		WHERE b.status = 'ACCEPTED'
		  AND round(r.origin_lat::numeric, 1) = $1 AND round(r.origin_lng::numeric, 1) = $2
		  AND round(r.dest_lat::numeric, 1) = $3 AND round(r.dest_lng::numeric, 1) = $4
		ORDER BY b.updated_at DESC
		LIMIT $5`,
		regionCell(origin.Lat), regionCell(origin.Lng), regionCell(dest.Lat), regionCell(dest.Lng), h.limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []float64
	for rows.Next() {
		var p float64
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
