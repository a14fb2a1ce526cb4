package geocode

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"

	"leadfunnel/models"
)

// ErrDisabled is returned when no access token is configured.
var ErrDisabled = errors.New("address suggestions disabled")

const (
	minQueryLen = 3
	maxQueryLen = 200
)

// Suggestion is one candidate address for an autocomplete query. Address is
// ready to be patched into the form as-is.
type Suggestion struct {
	ID      string         `json:"id"`
	Label   string         `json:"label"`
	Address models.Address `json:"address"`
}

// Cache holds encoded results between identical queries.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}

type Config struct {
	Token    string
	Endpoint string
	Country  string
	Limit    int
	Timeout  time.Duration
}

// Oracle answers address autocomplete queries against a Mapbox-compatible
// geocoding endpoint.
type Oracle struct {
	cfg    Config
	client *fasthttp.Client
	cache  Cache
	logger logrus.FieldLogger
}

func NewOracle(cfg Config, cache Cache, logger logrus.FieldLogger) *Oracle {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://api.mapbox.com/geocoding/v5/mapbox.places"
	}
	if cfg.Country == "" {
		cfg.Country = "ca"
	}
	if cfg.Limit <= 0 || cfg.Limit > 10 {
		cfg.Limit = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Oracle{
		cfg:   cfg,
		cache: cache,
		client: &fasthttp.Client{
			Name:         "leadfunnel-geocode",
			ReadTimeout:  cfg.Timeout,
			WriteTimeout: cfg.Timeout,
		},
		logger: logger.WithField("component", "geocode"),
	}
}

func (o *Oracle) Enabled() bool {
	return o.cfg.Token != ""
}

// Search returns up to the configured number of suggestions. Queries shorter
// than three characters return nothing.
func (o *Oracle) Search(ctx context.Context, query string) ([]Suggestion, error) {
	query = strings.Join(strings.Fields(query), " ")
	if len(query) < minQueryLen {
		return []Suggestion{}, nil
	}
	if len(query) > maxQueryLen {
		query = query[:maxQueryLen]
	}
	if !o.Enabled() {
		return nil, ErrDisabled
	}

	key := cacheKey(o.cfg.Country, query)
	if cached := o.cached(ctx, key); cached != nil {
		return cached, nil
	}

	body, err := o.fetch(ctx, query)
	if err != nil {
		return nil, err
	}
	suggestions, err := parseResponse(body)
	if err != nil {
		return nil, err
	}

	if o.cache != nil {
		if raw, err := json.Marshal(suggestions); err == nil {
			if err := o.cache.Set(ctx, key, raw); err != nil {
				o.logger.WithError(err).Debug("Geocode cache write failed")
			}
		}
	}
	return suggestions, nil
}

func (o *Oracle) cached(ctx context.Context, key string) []Suggestion {
	if o.cache == nil {
		return nil
	}
	raw, err := o.cache.Get(ctx, key)
	if err != nil || raw == nil {
		return nil
	}
	var out []Suggestion
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

func (o *Oracle) fetch(ctx context.Context, query string) ([]byte, error) {
	params := url.Values{}
	params.Set("access_token", o.cfg.Token)
	params.Set("country", o.cfg.Country)
	params.Set("types", "address")
	params.Set("autocomplete", "true")
	params.Set("limit", fmt.Sprint(o.cfg.Limit))
	uri := fmt.Sprintf("%s/%s.json?%s", strings.TrimRight(o.cfg.Endpoint, "/"), url.PathEscape(query), params.Encode())

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(uri)
	req.Header.SetMethod(fasthttp.MethodGet)

	timeout := o.cfg.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		return nil, context.DeadlineExceeded
	}
	if err := o.client.DoTimeout(req, resp, timeout); err != nil {
		return nil, fmt.Errorf("geocode request: %w", err)
	}
	if status := resp.StatusCode(); status != fasthttp.StatusOK {
		return nil, fmt.Errorf("geocode API returned %d", status)
	}
	body := make([]byte, len(resp.Body()))
	copy(body, resp.Body())
	return body, nil
}

type featureCollection struct {
	Features []feature `json:"features"`
}

type feature struct {
	ID        string    `json:"id"`
	PlaceName string    `json:"place_name"`
	Center    []float64 `json:"center"`
	Context   []struct {
		ID        string `json:"id"`
		Text      string `json:"text"`
		ShortCode string `json:"short_code"`
	} `json:"context"`
}

func parseResponse(body []byte) ([]Suggestion, error) {
	var fc featureCollection
	if err := json.Unmarshal(body, &fc); err != nil {
		return nil, fmt.Errorf("decode geocode response: %w", err)
	}
	out := make([]Suggestion, 0, len(fc.Features))
	for _, f := range fc.Features {
		s := Suggestion{ID: f.ID, Label: f.PlaceName}
		s.Address.FullAddress = f.PlaceName
		if len(f.Center) == 2 {
			lng, lat := f.Center[0], f.Center[1]
			s.Address.Lng, s.Address.Lat = &lng, &lat
		}
		for _, c := range f.Context {
			kind, _, _ := strings.Cut(c.ID, ".")
			switch kind {
			case "postcode":
				s.Address.PostalCode = c.Text
			case "place":
				s.Address.City = c.Text
			case "region":
				s.Address.Province = regionCode(c.ShortCode, c.Text)
			}
		}
		out = append(out, s)
	}
	return out, nil
}

// regionCode turns "CA-ON" into "ON".
func regionCode(short, fallback string) string {
	if _, code, ok := strings.Cut(short, "-"); ok && code != "" {
		return strings.ToUpper(code)
	}
	return fallback
}

func cacheKey(country, query string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(query)))
	return "geo:" + country + ":" + hex.EncodeToString(sum[:8])
}
