package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/example/freight-matching/internal/models"
)

// PostgresStore persists routes, bids and delivery requests. Every bid
// mutation starts by locking the parent route row (SELECT ... FOR UPDATE),
// which serializes accept vs accept and place vs accept on the same route.
// The pending-bid uniqueness is additionally backed by a partial unique
// index, so the check-then-insert cannot race even across processes.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromDB wraps an existing handle; the caller owns its
// lifecycle.
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// DB exposes the underlying handle for collaborators sharing the connection
// pool (migrations, bid history reads).
func (p *PostgresStore) DB() *sql.DB { return p.db }

func (p *PostgresStore) Close() error { return p.db.Close() }

const routeColumns = `id, driver_id, origin_lat, origin_lng, dest_lat, dest_lng, polyline,
	departure_at, detour_tolerance_km, suggested_price_min, suggested_price_max, status, created_at, updated_at`

const bidColumns = `id, route_id, customer_id, request_id, offered_price, instructions, status, created_at, updated_at`

func (p *PostgresStore) CreateRoute(ctx context.Context, r *models.Route) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO routes(`+routeColumns+`)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		r.ID, r.DriverID, r.Origin.Lat, r.Origin.Lng, r.Destination.Lat, r.Destination.Lng, r.Polyline,
		r.DepartureAt, r.DetourToleranceKm, r.SuggestedPriceMin, r.SuggestedPriceMax, r.Status, r.CreatedAt, r.UpdatedAt)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRoute(row rowScanner) (*models.Route, error) {
	var r models.Route
	err := row.Scan(&r.ID, &r.DriverID, &r.Origin.Lat, &r.Origin.Lng, &r.Destination.Lat, &r.Destination.Lng,
		&r.Polyline, &r.DepartureAt, &r.DetourToleranceKm, &r.SuggestedPriceMin, &r.SuggestedPriceMax,
		&r.Status, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrRouteNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func scanBid(row rowScanner) (*models.Bid, error) {
	var b models.Bid
	err := row.Scan(&b.ID, &b.RouteID, &b.CustomerID, &b.RequestID, &b.OfferedPrice,
		&b.Instructions, &b.Status, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrBidNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (p *PostgresStore) GetRoute(ctx context.Context, id uuid.UUID) (*models.Route, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+routeColumns+` FROM routes WHERE id = $1`, id)
	return scanRoute(row)
}

func (p *PostgresStore) ListRoutesByDriver(ctx context.Context, driverID uuid.UUID) ([]*models.Route, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+routeColumns+` FROM routes WHERE driver_id = $1 ORDER BY created_at DESC`, driverID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Route
	for rows.Next() {
		r, err := scanRoute(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *PostgresStore) UpdateRoute(ctx context.Context, r *models.Route) error {
	res, err := p.db.ExecContext(ctx, `UPDATE routes SET origin_lat=$1, origin_lng=$2, dest_lat=$3, dest_lng=$4,
		polyline=$5, departure_at=$6, detour_tolerance_km=$7, suggested_price_min=$8, suggested_price_max=$9,
		status=$10, updated_at=$11 WHERE id=$12`,
		r.Origin.Lat, r.Origin.Lng, r.Destination.Lat, r.Destination.Lng, r.Polyline, r.DepartureAt,
		r.DetourToleranceKm, r.SuggestedPriceMin, r.SuggestedPriceMax, r.Status, r.UpdatedAt, r.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return models.ErrRouteNotFound
	}
	return nil
}

func (p *PostgresStore) DeleteRoute(ctx context.Context, id uuid.UUID) error {
	return p.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := lockRoute(ctx, tx, id); err != nil {
			return err
		}
		var active int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM bids WHERE route_id = $1 AND status IN ('PENDING','ACCEPTED')`, id).Scan(&active); err != nil {
			return err
		}
		if active > 0 {
			return models.ErrConflict
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM routes WHERE id = $1`, id)
		return err
	})
}

func (p *PostgresStore) CreateBid(ctx context.Context, b *models.Bid) error {
	return p.withTx(ctx, func(tx *sql.Tx) error {
		return insertBid(ctx, tx, b)
	})
}

func (p *PostgresStore) CreateBidWithRequest(ctx context.Context, req *models.DeliveryRequest, b *models.Bid) error {
	return p.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO delivery_requests(id, customer_id, description, weight_kg, volume_m3, pickup_address, dropoff_address, created_at)
			VALUES($1,$2,$3,$4,$5,$6,$7,$8)`,
			req.ID, req.CustomerID, req.Description, req.WeightKg, req.VolumeM3, req.PickupAddr, req.DropoffAddr, req.CreatedAt); err != nil {
			return err
		}
		return insertBid(ctx, tx, b)
	})
}

func insertBid(ctx context.Context, tx *sql.Tx, b *models.Bid) error {
	route, err := lockRoute(ctx, tx, b.RouteID)
	if err != nil {
		return err
	}
	if !route.Status.Biddable() {
		return models.ErrRouteNotBiddable
	}
	var pending int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM bids WHERE route_id = $1 AND customer_id = $2 AND status = 'PENDING'`,
		b.RouteID, b.CustomerID).Scan(&pending); err != nil {
		return err
	}
	if pending > 0 {
		return models.ErrDuplicatePendingBid
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO bids(`+bidColumns+`) VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		b.ID, b.RouteID, b.CustomerID, b.RequestID, b.OfferedPrice, b.Instructions, b.Status, b.CreatedAt, b.UpdatedAt)
	if isUniqueViolation(err) {
		return models.ErrDuplicatePendingBid
	}
	return err
}

func (p *PostgresStore) GetBid(ctx context.Context, id uuid.UUID) (*models.Bid, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+bidColumns+` FROM bids WHERE id = $1`, id)
	return scanBid(row)
}

func (p *PostgresStore) ListBidsByRoute(ctx context.Context, routeID uuid.UUID) ([]*models.Bid, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+bidColumns+` FROM bids WHERE route_id = $1 ORDER BY created_at DESC`, routeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Bid
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (p *PostgresStore) AcceptBid(ctx context.Context, bidID, actingDriverID uuid.UUID) (*models.Bid, []*models.Bid, error) {
	var winner *models.Bid
	var rejected []*models.Bid
	err := p.withTx(ctx, func(tx *sql.Tx) error {
		bid, route, err := lockBidAndRoute(ctx, tx, bidID)
		if err != nil {
			return err
		}
		if route.DriverID != actingDriverID {
			return models.ErrAccessDenied
		}
		if bid.Status != models.BidPending {
			return models.NewBidTransitionError(bid.Status, models.BidAccepted)
		}
		if !route.Status.CanTransitionTo(models.RouteBooked) {
			return models.NewRouteTransitionError(route.Status, models.RouteBooked)
		}

		now := time.Now()
		if _, err := tx.ExecContext(ctx, `UPDATE bids SET status='ACCEPTED', updated_at=$1 WHERE id=$2`, now, bid.ID); err != nil {
			return err
		}
		rows, err := tx.QueryContext(ctx, `UPDATE bids SET status='REJECTED', updated_at=$1
			WHERE route_id = $2 AND id <> $3 AND status = 'PENDING' RETURNING `+bidColumns, now, bid.RouteID, bid.ID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			sibling, err := scanBid(rows)
			if err != nil {
				return err
			}
			rejected = append(rejected, sibling)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE routes SET status='BOOKED', updated_at=$1 WHERE id=$2`, now, bid.RouteID); err != nil {
			return err
		}
		bid.Status = models.BidAccepted
		bid.UpdatedAt = now
		winner = bid
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return winner, rejected, nil
}

func (p *PostgresStore) RejectBid(ctx context.Context, bidID, actingDriverID uuid.UUID) (*models.Bid, error) {
	return p.transition(ctx, bidID, models.BidRejected, func(b *models.Bid, r *models.Route) error {
		if r.DriverID != actingDriverID {
			return models.ErrAccessDenied
		}
		return nil
	})
}

func (p *PostgresStore) WithdrawBid(ctx context.Context, bidID, actingCustomerID uuid.UUID) (*models.Bid, error) {
	return p.transition(ctx, bidID, models.BidWithdrawn, func(b *models.Bid, r *models.Route) error {
		if b.CustomerID != actingCustomerID {
			return models.ErrAccessDenied
		}
		return nil
	})
}

func (p *PostgresStore) ExpireBid(ctx context.Context, bidID uuid.UUID) (*models.Bid, error) {
	return p.transition(ctx, bidID, models.BidExpired, func(*models.Bid, *models.Route) error { return nil })
}

func (p *PostgresStore) transition(ctx context.Context, bidID uuid.UUID, to models.BidStatus, authorize func(*models.Bid, *models.Route) error) (*models.Bid, error) {
	var out *models.Bid
	err := p.withTx(ctx, func(tx *sql.Tx) error {
		bid, route, err := lockBidAndRoute(ctx, tx, bidID)
		if err != nil {
			return err
		}
		if err := authorize(bid, route); err != nil {
			return err
		}
		if bid.Status != models.BidPending {
			return models.NewBidTransitionError(bid.Status, to)
		}
		now := time.Now()
		if _, err := tx.ExecContext(ctx, `UPDATE bids SET status=$1, updated_at=$2 WHERE id=$3`, to, now, bid.ID); err != nil {
			return err
		}
		bid.Status = to
		bid.UpdatedAt = now
		out = bid
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (p *PostgresStore) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func lockRoute(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*models.Route, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+routeColumns+` FROM routes WHERE id = $1 FOR UPDATE`, id)
	return scanRoute(row)
}

func lockBidAndRoute(ctx context.Context, tx *sql.Tx, bidID uuid.UUID) (*models.Bid, *models.Route, error) {
	// Route first: all bid mutations take the route lock in the same order.
	var routeID uuid.UUID
	err := tx.QueryRowContext(ctx, `SELECT route_id FROM bids WHERE id = $1`, bidID).Scan(&routeID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, models.ErrBidNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	route, err := lockRoute(ctx, tx, routeID)
	if err != nil {
		return nil, nil, err
	}
	bid, err := scanBid(tx.QueryRowContext(ctx, `SELECT `+bidColumns+` FROM bids WHERE id = $1`, bidID))
	if err != nil {
		return nil, nil, err
	}
	return bid, route, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
