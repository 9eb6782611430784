// Package location implements the address collaborator: reverse geocoding
// of the configured house coordinate, and persistence of user-confirmed
// addresses back into the note store.
package location

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/c11s/house-core/internal/address"
	"github.com/c11s/house-core/internal/obs"
	"github.com/c11s/house-core/internal/store"
)

// DefaultBaseURL is the public Nominatim instance. Production deployments
// should point at their own instance; the public one enforces 1 req/s.
const DefaultBaseURL = "https://nominatim.openstreetmap.org"

// Client reverse-geocodes the house coordinate through Nominatim.
type Client struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
	coord      address.Coordinate
	notes      *store.Service
	log        *slog.Logger
}

// NewClient creates a geocoding client anchored at the house coordinate.
// The user agent is required by Nominatim's usage policy.
func NewClient(notes *store.Service, baseURL, userAgent string, coord address.Coordinate, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		userAgent:  userAgent,
		coord:      coord,
		notes:      notes,
		log:        obs.Pkg("location"),
	}
}

type reverseResponse struct {
	Address struct {
		HouseNumber string `json:"house_number"`
		Road        string `json:"road"`
		City        string `json:"city"`
		Town        string `json:"town"`
		Village     string `json:"village"`
		State       string `json:"state"`
		Postcode    string `json:"postcode"`
		Country     string `json:"country"`
	} `json:"address"`
}

// DetectCurrentAddress reverse-geocodes the configured house coordinate.
func (c *Client) DetectCurrentAddress(ctx context.Context) (*address.Address, error) {
	query := url.Values{}
	query.Set("format", "jsonv2")
	query.Set("lat", fmt.Sprintf("%.6f", c.coord.Latitude))
	query.Set("lon", fmt.Sprintf("%.6f", c.coord.Longitude))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/reverse?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build reverse geocode request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("reverse geocode: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("geocoder returned %d: %s", resp.StatusCode, body)
	}

	var parsed reverseResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode reverse geocode response: %w", err)
	}

	street := strings.TrimSpace(parsed.Address.HouseNumber + " " + parsed.Address.Road)
	city := parsed.Address.City
	if city == "" {
		city = parsed.Address.Town
	}
	if city == "" {
		city = parsed.Address.Village
	}
	if street == "" || city == "" {
		return nil, fmt.Errorf("geocoder result has no usable street or city")
	}

	coord := c.coord
	detected := &address.Address{
		Street:     street,
		City:       city,
		State:      parsed.Address.State,
		PostalCode: parsed.Address.Postcode,
		Country:    parsed.Address.Country,
		Coordinate: &coord,
	}
	if detected.Country == "" {
		detected.Country = address.DefaultCountry
	}
	c.log.Info("detected house address", "city", city)
	return detected, nil
}

// ConfirmAddress persists a user-confirmed address as the address note.
// An address without its own geocode inherits the house coordinate.
func (c *Client) ConfirmAddress(ctx context.Context, addr address.Address) error {
	if !addr.HasCoordinate() {
		coord := c.coord
		addr.Coordinate = &coord
	}
	return saveConfirmed(ctx, c.notes, addr)
}

// saveConfirmed writes the confirmed address to the note store, attaching
// coordinate metadata when known.
func saveConfirmed(ctx context.Context, notes *store.Service, addr address.Address) error {
	metadata := map[string]string{
		store.MetaUpdatedViaConversation: "true",
		store.MetaSource:                 "confirmed",
	}
	if addr.HasCoordinate() {
		lat, lon := addr.Coordinate.MetadataPair()
		metadata[store.MetaLatitude] = lat
		metadata[store.MetaLongitude] = lon
	}
	return notes.SaveOrUpdateNote(ctx, store.QuestionIDAddress, addr.FullText(), metadata)
}

// Mock is the deterministic address collaborator used in development and
// tests (the --no-geo switch).
type Mock struct {
	notes *store.Service
	Addr  address.Address
}

// NewMock creates a mock provider that always detects the same address.
func NewMock(notes *store.Service) *Mock {
	return &Mock{
		notes: notes,
		Addr: address.Address{
			Street:     "123 Main St",
			City:       "Springfield",
			State:      "IL",
			PostalCode: "62701",
			Country:    address.DefaultCountry,
			Coordinate: &address.Coordinate{Latitude: 39.799999, Longitude: -89.650000},
		},
	}
}

// DetectCurrentAddress returns the fixed mock address.
func (m *Mock) DetectCurrentAddress(context.Context) (*address.Address, error) {
	addr := m.Addr
	if addr.Coordinate != nil {
		coord := *addr.Coordinate
		addr.Coordinate = &coord
	}
	return &addr, nil
}

// ConfirmAddress persists exactly like the real client.
func (m *Mock) ConfirmAddress(ctx context.Context, addr address.Address) error {
	return saveConfirmed(ctx, m.notes, addr)
}
