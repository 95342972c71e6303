// Package datadragon fetches the public League of Legends champion catalog
// from Riot's Data Dragon CDN and maps GRID champion names onto Riot keys
// and icon URLs. No credential is needed.
package datadragon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultBaseURL is the Data Dragon CDN.
const DefaultBaseURL = "https://ddragon.leagueoflegends.com"

// Locale of the champion documents.
const Locale = "en_US"

var datadragonRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "grid_datadragon_requests_total",
	Help: "Total Data Dragon CDN requests by document and status",
}, []string{"document", "status"})

// ErrNoVersions is returned when the version list is empty.
var ErrNoVersions = errors.New("data dragon returned no versions")

// StatusError is a non-2xx CDN response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("data dragon %s: status %d", e.URL, e.StatusCode)
}

// Config holds the CDN client settings.
type Config struct {
	// BaseURL is the CDN root (default: DefaultBaseURL).
	BaseURL string

	Timeout time.Duration

	// HTTPClient overrides the transport (for testing).
	HTTPClient *http.Client
}

// DefaultConfig returns the public CDN with a 30s timeout.
func DefaultConfig() Config {
	return Config{BaseURL: DefaultBaseURL, Timeout: 30 * time.Second}
}

// Client reads Data Dragon documents.
type Client struct {
	httpClient *http.Client
	config     Config
	logger     zerolog.Logger
}

// New creates a CDN client.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		httpClient: httpClient,
		config:     cfg,
		logger:     log.With().Str("component", "datadragon").Logger(),
	}
}

// Champion is one catalog entry.
type Champion struct {
	DisplayName string   `json:"display_name"`
	RiotKey     string   `json:"riot_key"`
	RiotID      string   `json:"riot_id"`
	Title       string   `json:"title"`
	IconURL     string   `json:"icon_url"`
	Tags        []string `json:"tags"`
	Partype     string   `json:"partype"`
}

// Catalog is the champion list of one Data Dragon version, sorted by display name.
type Catalog struct {
	Version   string     `json:"version"`
	Champions []Champion `json:"champions"`
}

// Fetch loads the catalog of the latest published version.
func (c *Client) Fetch(ctx context.Context) (*Catalog, error) {
	version, err := c.LatestVersion(ctx)
	if err != nil {
		return nil, err
	}
	return c.Champions(ctx, version)
}

// LatestVersion returns the newest published version, the first entry of versions.json.
func (c *Client) LatestVersion(ctx context.Context) (string, error) {
	var versions []string
	if err := c.get(ctx, "versions", c.config.BaseURL+"/api/versions.json", &versions); err != nil {
		return "", err
	}
	if len(versions) == 0 || versions[0] == "" {
		return "", ErrNoVersions
	}
	return versions[0], nil
}

type championDocument struct {
	Data map[string]struct {
		ID      string   `json:"id"`
		Name    string   `json:"name"`
		Title   string   `json:"title"`
		Tags    []string `json:"tags"`
		Partype string   `json:"partype"`
	} `json:"data"`
}

// Champions loads the champion catalog of version.
func (c *Client) Champions(ctx context.Context, version string) (*Catalog, error) {
	url := fmt.Sprintf("%s/cdn/%s/data/%s/champion.json", c.config.BaseURL, version, Locale)
	var doc championDocument
	if err := c.get(ctx, "champion", url, &doc); err != nil {
		return nil, err
	}

	cat := &Catalog{Version: version, Champions: make([]Champion, 0, len(doc.Data))}
	for key, info := range doc.Data {
		cat.Champions = append(cat.Champions, Champion{
			DisplayName: info.Name,
			RiotKey:     key,
			RiotID:      info.ID,
			Title:       info.Title,
			IconURL:     c.IconURL(version, key),
			Tags:        info.Tags,
			Partype:     info.Partype,
		})
	}
	sort.Slice(cat.Champions, func(i, j int) bool {
		if cat.Champions[i].DisplayName != cat.Champions[j].DisplayName {
			return cat.Champions[i].DisplayName < cat.Champions[j].DisplayName
		}
		return cat.Champions[i].RiotKey < cat.Champions[j].RiotKey
	})

	c.logger.Info().
		Str("version", version).
		Int("champions", len(cat.Champions)).
		Msg("Champion catalog fetched")
	return cat, nil
}

// IconURL is the square icon of a champion in version.
func (c *Client) IconURL(version, riotKey string) string {
	return fmt.Sprintf("%s/cdn/%s/img/champion/%s.png", c.config.BaseURL, version, riotKey)
}

func (c *Client) get(ctx context.Context, document, url string, v any) error {
	reqCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	c.logger.Debug().Str("url", url).Msg("Fetching Data Dragon document")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		datadragonRequestsTotal.WithLabelValues(document, "network_error").Inc()
		return fmt.Errorf("data dragon %s: %w", document, err)
	}
	defer resp.Body.Close()

	datadragonRequestsTotal.WithLabelValues(document, strconv.Itoa(resp.StatusCode)).Inc()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{URL: url, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s: %w", document, err)
	}
	if err := sonic.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode %s: %w", document, err)
	}
	return nil
}
