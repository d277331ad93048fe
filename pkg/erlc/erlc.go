package erlc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://api.policeroleplay.community/v1"
	keyHeader      = "Server-Key"
)

// ErrFetch is wrapped by every error returned from FetchSnapshot.
var ErrFetch = errors.New("erlc: fetch failed")

type Env struct {
	APIKey    string  `envconfig:"ERLC_API_KEY" required:"true"`
	BaseURL   string  `envconfig:"ERLC_BASE_URL" default:"https://api.policeroleplay.community/v1"`
	RateLimit float64 `envconfig:"ERLC_RATE_LIMIT" default:"1"`
	RateBurst int     `envconfig:"ERLC_RATE_BURST" default:"4"`
}

// Server is the subset of GET /server consumed by the bot.
type Server struct {
	Name           string `json:"Name"`
	JoinKey        string `json:"JoinKey"`
	CurrentPlayers int    `json:"CurrentPlayers"`
	MaxPlayers     int    `json:"MaxPlayers"`
	QueuePlayers   int    `json:"QueuePlayers"`
}

// Player is one entry of GET /server/players.
type Player struct {
	Player          string `json:"Player"`
	PermissionLevel string `json:"PermissionLevel"`
}

// Snapshot is a point-in-time read of the server and its players.
type Snapshot struct {
	Server  Server
	Players []Player
}

// StatusError reports a non-200 answer from one endpoint.
type StatusError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("erlc: %s status=%d body=%s", e.Endpoint, e.StatusCode, e.Body)
}

type Client struct {
	Env
	hc      *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.hc = hc }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func New(e Env, opts ...Option) *Client {
	if e.BaseURL == "" {
		e.BaseURL = DefaultBaseURL
	}
	limit := rate.Inf
	if e.RateLimit > 0 {
		limit = rate.Limit(e.RateLimit)
	}
	burst := e.RateBurst
	if burst < 1 {
		burst = 1
	}
	c := &Client{
		Env:     e,
		hc:      &http.Client{},
		limiter: rate.NewLimiter(limit, burst),
		logger:  zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// FetchSnapshot reads /server and /server/players. Both calls must succeed.
func (c *Client) FetchSnapshot(ctx context.Context) (Snapshot, error) {
	var (
		srv     Server
		players []Player
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.getJSON(gctx, "/server", &srv) })
	g.Go(func() error { return c.getJSON(gctx, "/server/players", &players) })
	if err := g.Wait(); err != nil {
		c.logger.Warn("fetch snapshot", zap.Error(err))
		return Snapshot{}, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	for i := range players {
		if players[i].PermissionLevel == "" {
			players[i].PermissionLevel = "Civilian"
		}
	}
	return Snapshot{Server: srv, Players: players}, nil
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	url := strings.TrimRight(c.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set(keyHeader, c.APIKey)
	req.Header.Set("Accept", "application/json")
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Endpoint: path, StatusCode: resp.StatusCode, Body: string(b)}
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	c.logger.Debug("fetched", zap.String("endpoint", path))
	return nil
}
