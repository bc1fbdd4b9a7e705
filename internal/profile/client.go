package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/example/freight-matching/internal/models"
)

// Reader fetches driver/vehicle metadata from the profile service. A missing
// profile is reported as (nil, nil): detail views tolerate absent metadata.
type Reader interface {
	Profile(ctx context.Context, driverID uuid.UUID) (*models.DriverProfile, error)
	Vehicle(ctx context.Context, driverID uuid.UUID) (*models.Vehicle, error)
}

// HTTPReader talks to the profile service over its JSON API.
type HTTPReader struct {
	BaseURL string
	Client  *http.Client
}

func NewHTTPReader(baseURL string) *HTTPReader {
	return &HTTPReader{BaseURL: baseURL, Client: &http.Client{Timeout: 2 * time.Second}}
}

func (r *HTTPReader) Profile(ctx context.Context, driverID uuid.UUID) (*models.DriverProfile, error) {
	var p models.DriverProfile
	found, err := r.getJSON(ctx, fmt.Sprintf("%s/api/v1/profiles/%s", r.BaseURL, driverID), &p)
	if err != nil || !found {
		return nil, err
	}
	return &p, nil
}

func (r *HTTPReader) Vehicle(ctx context.Context, driverID uuid.UUID) (*models.Vehicle, error) {
	var v models.Vehicle
	found, err := r.getJSON(ctx, fmt.Sprintf("%s/api/v1/drivers/%s/vehicle", r.BaseURL, driverID), &v)
	if err != nil || !found {
		return nil, err
	}
	return &v, nil
}

func (r *HTTPReader) getJSON(ctx context.Context, url string, out any) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, err
	}
	resp, err := r.Client.Do(req)
	if err != nil {
		return false, fmt.Errorf("%w: %v", models.ErrDependencyUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("%w: profile service status %d", models.ErrDependencyUnavailable, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("%w: %v", models.ErrDependencyUnavailable, err)
	}
	return true, nil
}
