package carriers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	defaultTokenTTL   = 24 * time.Hour
	maxErrorBodyBytes = 4 << 10
)

// ErrUnauthorized is returned when the carrier rejects the cached token even
// after a refresh.
var ErrUnauthorized = errors.New("carriers: authentication rejected")

// ShiprocketProvider queries a Shiprocket-compatible serviceability API.
// Authentication is a login call exchanging credentials for a bearer token,
// cached until it expires or the API rejects it.
type ShiprocketProvider struct {
	httpClient   *http.Client
	rateEndpoint string
	authEndpoint string
	email        string
	password     string
	clock        func() time.Time

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// ShiprocketOption customises provider construction.
type ShiprocketOption func(*ShiprocketProvider)

// WithHTTPClient overrides the HTTP client, primarily for tests.
func WithHTTPClient(client *http.Client) ShiprocketOption {
	return func(p *ShiprocketProvider) {
		if client != nil {
			p.httpClient = client
		}
	}
}

// WithClock overrides the time source used for token expiry.
func WithClock(clock func() time.Time) ShiprocketOption {
	return func(p *ShiprocketProvider) {
		if clock != nil {
			p.clock = clock
		}
	}
}

// NewShiprocketProvider constructs a provider for the given endpoints and
// credentials.
func NewShiprocketProvider(rateEndpoint, authEndpoint, email, password string, opts ...ShiprocketOption) (*ShiprocketProvider, error) {
	rateEndpoint = strings.TrimSpace(rateEndpoint)
	authEndpoint = strings.TrimSpace(authEndpoint)
	if rateEndpoint == "" {
		return nil, errors.New("carriers: rate endpoint is required")
	}
	if authEndpoint == "" {
		return nil, errors.New("carriers: auth endpoint is required")
	}
	if strings.TrimSpace(email) == "" || strings.TrimSpace(password) == "" {
		return nil, errors.New("carriers: credentials are required")
	}

	p := &ShiprocketProvider{
		httpClient:   &http.Client{},
		rateEndpoint: rateEndpoint,
		authEndpoint: authEndpoint,
		email:        strings.TrimSpace(email),
		password:     strings.TrimSpace(password),
		clock:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// FetchRates returns the courier options for the shipment, sorted as the API
// delivers them. A token rejection triggers one re-login before giving up.
func (p *ShiprocketProvider) FetchRates(ctx context.Context, req RateRequest) ([]RateOption, error) {
	if strings.TrimSpace(req.PickupPostalCode) == "" || strings.TrimSpace(req.DeliveryPostalCode) == "" {
		return nil, errors.New("carriers: pickup and delivery postal codes are required")
	}

	options, err := p.fetchOnce(ctx, req, false)
	if errors.Is(err, ErrUnauthorized) {
		options, err = p.fetchOnce(ctx, req, true)
	}
	return options, err
}

func (p *ShiprocketProvider) fetchOnce(ctx context.Context, req RateRequest, forceLogin bool) ([]RateOption, error) {
	token, err := p.bearerToken(ctx, forceLogin)
	if err != nil {
		return nil, err
	}

	payload := serviceabilityRequest{
		PickupPostcode:   strings.TrimSpace(req.PickupPostalCode),
		DeliveryPostcode: strings.TrimSpace(req.DeliveryPostalCode),
		Weight:           req.WeightKg,
		Length:           req.LengthCm,
		Breadth:          req.BreadthCm,
		Height:           req.HeightCm,
		COD:              0,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("carriers: encode serviceability request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.rateEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("carriers: build serviceability request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("carriers: serviceability call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		p.invalidateToken()
		return nil, ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return nil, fmt.Errorf("carriers: serviceability returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var decoded serviceabilityResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("carriers: decode serviceability response: %w", err)
	}

	companies := decoded.Data.AvailableCourierCompanies
	if len(companies) == 0 {
		return nil, ErrNoRates
	}

	options := make([]RateOption, 0, len(companies))
	for _, company := range companies {
		label := strings.TrimSpace(company.CourierName)
		if label == "" || company.Rate <= 0 {
			continue
		}
		options = append(options, RateOption{
			Label: label,
			Fee:   int64(math.Round(company.Rate)),
			ETA:   strings.TrimSpace(company.ETD),
		})
	}
	if len(options) == 0 {
		return nil, ErrNoRates
	}
	return options, nil
}

func (p *ShiprocketProvider) bearerToken(ctx context.Context, force bool) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock()
	if !force && p.token != "" && now.Before(p.tokenExpiry) {
		return p.token, nil
	}

	body, err := json.Marshal(loginRequest{Email: p.email, Password: p.password})
	if err != nil {
		return "", fmt.Errorf("carriers: encode login request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.authEndpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("carriers: build login request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("carriers: login call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return "", fmt.Errorf("carriers: login returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var decoded loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("carriers: decode login response: %w", err)
	}
	token := strings.TrimSpace(decoded.Token)
	if token == "" {
		return "", errors.New("carriers: login response missing token")
	}

	p.token = token
	p.tokenExpiry = now.Add(defaultTokenTTL)
	return token, nil
}

func (p *ShiprocketProvider) invalidateToken() {
	p.mu.Lock()
	p.token = ""
	p.tokenExpiry = time.Time{}
	p.mu.Unlock()
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

type serviceabilityRequest struct {
	PickupPostcode   string  `json:"pickup_postcode"`
	DeliveryPostcode string  `json:"delivery_postcode"`
	Weight           float64 `json:"weight"`
	Length           float64 `json:"length"`
	Breadth          float64 `json:"breadth"`
	Height           float64 `json:"height"`
	COD              int     `json:"cod"`
}

type serviceabilityResponse struct {
	Data struct {
		AvailableCourierCompanies []courierCompany `json:"available_courier_companies"`
	} `json:"data"`
}

type courierCompany struct {
	CourierName string  `json:"courier_name"`
	Rate        float64 `json:"rate"`
	ETD         string  `json:"etd"`
}

// Ensure the concrete type satisfies the provider interface.
var _ RateProvider = (*ShiprocketProvider)(nil)
