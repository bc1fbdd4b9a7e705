package pricing

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/freight-matching/internal/models"
)

func TestPostgresHistoryMatchesRegionCells(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	h := NewPostgresHistory(db, 5)

	mock.ExpectQuery(`WHERE b\.status = 'ACCEPTED'`).
		WithArgs(52.5, 13.4, 48.1, 11.6, 5).
		WillReturnRows(sqlmock.NewRows([]string{"offered_price"}).
			AddRow(140.0).AddRow(120.0).AddRow(135.0))

	prices, err := h.AcceptedPrices(context.Background(),
		models.Coord{Lat: 52.5200, Lng: 13.4050},
		models.Coord{Lat: 48.1351, Lng: 11.5820})
	require.NoError(t, err)
	assert.Equal(t, []float64{140, 120, 135}, prices)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresHistoryEmptyResult(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	h := NewPostgresHistory(db, 5)

	mock.ExpectQuery(`WHERE b\.status = 'ACCEPTED'`).
		WillReturnRows(sqlmock.NewRows([]string{"offered_price"}))

	prices, err := h.AcceptedPrices(context.Background(), models.Coord{}, models.Coord{})
	require.NoError(t, err)
	assert.Empty(t, prices)
	assert.NoError(t, mock.ExpectationsWereMet())
}
