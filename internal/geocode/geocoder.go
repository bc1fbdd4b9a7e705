package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/example/freight-matching/internal/models"
)

// NominatimClient performs reverse-geocode lookups against an OSM Nominatim
// HTTP server.
type NominatimClient struct {
	Endpoint  string
	UserAgent string
	Client    *http.Client
}

func NewNominatimClient(endpoint string) *NominatimClient {
	return &NominatimClient{
		Endpoint:  endpoint,
		UserAgent: "freight-matching/1.0",
		Client:    &http.Client{Timeout: 2 * time.Second},
	}
}

// PlaceName queries /reverse and returns the most specific locality available.
func (c *NominatimClient) PlaceName(ctx context.Context, lat, lng float64) (string, error) {
	q := url.Values{}
	q.Set("format", "jsonv2")
	q.Set("lat", strconv.FormatFloat(lat, 'f', 6, 64))
	q.Set("lon", strconv.FormatFloat(lng, 'f', 6, 64))
	q.Set("zoom", "12")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Endpoint+"/reverse?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", c.UserAgent)

	resp, err := c.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrDependencyUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: reverse geocode status %d", models.ErrDependencyUnavailable, resp.StatusCode)
	}

	var out struct {
		Name    string `json:"name"`
		Address struct {
			Suburb  string `json:"suburb"`
			City    string `json:"city"`
			Town    string `json:"town"`
			Village string `json:"village"`
			County  string `json:"county"`
			State   string `json:"state"`
		} `json:"address"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrDependencyUnavailable, err)
	}
	for _, candidate := range []string{
		out.Address.Suburb, out.Address.Town, out.Address.Village,
		out.Address.City, out.Address.County, out.Address.State, out.Name,
	} {
		if candidate != "" {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: no place name in response", models.ErrDependencyUnavailable)
}
