package storage

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/freight-matching/internal/models"
)

var routeCols = []string{
	"id", "driver_id", "origin_lat", "origin_lng", "dest_lat", "dest_lng", "polyline",
	"departure_at", "detour_tolerance_km", "suggested_price_min", "suggested_price_max",
	"status", "created_at", "updated_at",
}

var bidCols = []string{
	"id", "route_id", "customer_id", "request_id", "offered_price", "instructions",
	"status", "created_at", "updated_at",
}

func openRouteRow(routeID, driverID uuid.UUID) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(routeCols).AddRow(
		routeID.String(), driverID.String(), 40.71, -74.01, 42.36, -71.06, "",
		now.Add(48*time.Hour), 0.0, nil, nil, string(models.RouteOpen), now, now)
}

func TestPostgresCreateBidMapsUniqueViolation(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := NewPostgresStoreFromDB(db)

	routeID, driverID, customerID := uuid.New(), uuid.New(), uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM routes WHERE id = \$1 FOR UPDATE`).
		WithArgs(routeID.String()).
		WillReturnRows(openRouteRow(routeID, driverID))
	// in-tx pre-check passes; the partial unique index still fires on insert
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM bids WHERE route_id = \$1 AND customer_id = \$2`).
		WithArgs(routeID.String(), customerID.String()).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec(`INSERT INTO bids`).
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	bid := &models.Bid{
		ID:         uuid.New(),
		RouteID:    routeID,
		CustomerID: customerID,
		Status:     models.BidPending,
		CreatedAt:  time.Now(),
	}
	err = store.CreateBid(context.Background(), bid)
	assert.ErrorIs(t, err, models.ErrDuplicatePendingBid)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCreateBidRouteNotBiddable(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := NewPostgresStoreFromDB(db)

	routeID, driverID := uuid.New(), uuid.New()
	now := time.Now()
	booked := sqlmock.NewRows(routeCols).AddRow(
		routeID.String(), driverID.String(), 40.71, -74.01, 42.36, -71.06, "",
		now, 0.0, nil, nil, string(models.RouteBooked), now, now)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM routes WHERE id = \$1 FOR UPDATE`).
		WithArgs(routeID.String()).
		WillReturnRows(booked)
	mock.ExpectRollback()

	bid := &models.Bid{ID: uuid.New(), RouteID: routeID, CustomerID: uuid.New(), Status: models.BidPending}
	err = store.CreateBid(context.Background(), bid)
	assert.ErrorIs(t, err, models.ErrRouteNotBiddable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAcceptBidTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := NewPostgresStoreFromDB(db)

	routeID, driverID := uuid.New(), uuid.New()
	bidID, customerID := uuid.New(), uuid.New()
	siblingID, siblingCustomer := uuid.New(), uuid.New()
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT route_id FROM bids WHERE id = \$1`).
		WithArgs(bidID.String()).
		WillReturnRows(sqlmock.NewRows([]string{"route_id"}).AddRow(routeID.String()))
	mock.ExpectQuery(`FROM routes WHERE id = \$1 FOR UPDATE`).
		WithArgs(routeID.String()).
		WillReturnRows(openRouteRow(routeID, driverID))
	mock.ExpectQuery(`FROM bids WHERE id = \$1`).
		WithArgs(bidID.String()).
		WillReturnRows(sqlmock.NewRows(bidCols).AddRow(
			bidID.String(), routeID.String(), customerID.String(), nil, 150.0, "",
			string(models.BidPending), now, now))
	mock.ExpectExec(`UPDATE bids SET status='ACCEPTED'`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`UPDATE bids SET status='REJECTED'`).
		WillReturnRows(sqlmock.NewRows(bidCols).AddRow(
			siblingID.String(), routeID.String(), siblingCustomer.String(), nil, 120.0, "",
			string(models.BidRejected), now, now))
	mock.ExpectExec(`UPDATE routes SET status='BOOKED'`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	winner, rejected, err := store.AcceptBid(context.Background(), bidID, driverID)
	require.NoError(t, err)
	assert.Equal(t, models.BidAccepted, winner.Status)
	require.Len(t, rejected, 1)
	assert.Equal(t, siblingID, rejected[0].ID)
	assert.Equal(t, models.BidRejected, rejected[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAcceptBidDeniedForForeignDriver(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := NewPostgresStoreFromDB(db)

	routeID, driverID, bidID := uuid.New(), uuid.New(), uuid.New()
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT route_id FROM bids WHERE id = \$1`).
		WithArgs(bidID.String()).
		WillReturnRows(sqlmock.NewRows([]string{"route_id"}).AddRow(routeID.String()))
	mock.ExpectQuery(`FROM routes WHERE id = \$1 FOR UPDATE`).
		WithArgs(routeID.String()).
		WillReturnRows(openRouteRow(routeID, driverID))
	mock.ExpectQuery(`FROM bids WHERE id = \$1`).
		WithArgs(bidID.String()).
		WillReturnRows(sqlmock.NewRows(bidCols).AddRow(
			bidID.String(), routeID.String(), uuid.New().String(), nil, 150.0, "",
			string(models.BidPending), now, now))
	mock.ExpectRollback()

	_, _, err = store.AcceptBid(context.Background(), bidID, uuid.New())
	assert.ErrorIs(t, err, models.ErrAccessDenied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDeleteRouteWithActiveBids(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := NewPostgresStoreFromDB(db)

	routeID, driverID := uuid.New(), uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM routes WHERE id = \$1 FOR UPDATE`).
		WithArgs(routeID.String()).
		WillReturnRows(openRouteRow(routeID, driverID))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM bids WHERE route_id = \$1 AND status IN`).
		WithArgs(routeID.String()).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectRollback()

	err = store.DeleteRoute(context.Background(), routeID)
	assert.ErrorIs(t, err, models.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}
