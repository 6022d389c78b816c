package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/danny/vacsync/internal/config"
	"github.com/danny/vacsync/internal/domain"
	"github.com/danny/vacsync/internal/httpclient"
	"github.com/danny/vacsync/internal/logger"
)

// Geocoder resolves address blocks to coordinates through a
// Nominatim-style lookup service. The external service enforces a
// strict one-request-per-second policy, hence the 1100ms gap.
type Geocoder struct {
	client *httpclient.Client
	email  string
	log    *logger.Logger
}

// NewGeocoder creates a Geocoder from configuration.
// Returns nil when geocoding is disabled, which the importer treats as
// "no enrichment".
func NewGeocoder(cfg *config.GeocoderConfig, log *logger.Logger) *Geocoder {
	if cfg == nil || !cfg.Enabled {
		return nil
	}
	client := httpclient.New(httpclient.Options{
		BaseURL:       cfg.BaseURL,
		Timeout:       cfg.Timeout,
		MinRequestGap: cfg.MinRequestGap,
		Logger:        log,
	})
	return &Geocoder{client: client, email: cfg.Email, log: log}
}

// Enrich resolves an address block to coordinates. Lookup failures are
// returned to the caller, which treats them as non-fatal.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - address: structured address block from the mapped record.
// Returns:
//   - lat, lng: resolved coordinates.
//   - err: non-nil when the lookup failed or found nothing.
func (g *Geocoder) Enrich(ctx context.Context, address domain.JSONObject) (float64, float64, error) {
	query := buildAddressQuery(address)
	if query == "" {
		return 0, 0, fmt.Errorf("address block has no usable fields")
	}

	params := map[string]string{
		"q":      query,
		"format": "json",
		"limit":  "1",
	}
	if g.email != "" {
		params["email"] = g.email
	}

	res, err := g.client.Get(ctx, "/search", params, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("geocode lookup: %w", err)
	}

	hits := res.Array()
	if len(hits) == 0 {
		return 0, 0, fmt.Errorf("no geocode result for %q", query)
	}
	hit, ok := hits[0].(map[string]interface{})
	if !ok {
		return 0, 0, fmt.Errorf("unexpected geocode result shape")
	}

	lat, latErr := parseCoord(hit["lat"])
	lng, lngErr := parseCoord(hit["lon"])
	if latErr != nil || lngErr != nil {
		return 0, 0, fmt.Errorf("unparseable coordinates in geocode result")
	}
	return lat, lng, nil
}

// buildAddressQuery joins the usable address parts into a search string.
func buildAddressQuery(address domain.JSONObject) string {
	var parts []string
	for _, key := range []string{"addressLine1", "addressLine2", "addressLine3", "city", "town", "postcode"} {
		if v, ok := address[key].(string); ok {
			v = strings.TrimSpace(v)
			if v != "" {
				parts = append(parts, v)
			}
		}
	}
	return strings.Join(parts, ", ")
}

func parseCoord(v interface{}) (float64, error) {
	switch c := v.(type) {
	case string:
		return strconv.ParseFloat(c, 64)
	case float64:
		return c, nil
	default:
		return 0, fmt.Errorf("missing coordinate")
	}
}
