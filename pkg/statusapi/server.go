// Package statusapi serves a small read-only HTTP API about the running bot:
// session state, tracked status messages and a live server summary.
package statusapi

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/masahide/erlc-sessionbot/pkg/erlc"
	"github.com/masahide/erlc-sessionbot/pkg/session"
	"github.com/masahide/erlc-sessionbot/pkg/statusview"
	"github.com/masahide/erlc-sessionbot/pkg/tracker"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

//go:embed openapi.yaml
var docsFS embed.FS

type Config struct {
	Addr              string        `envconfig:"STATUS_API_ADDR"`
	AuthBearerToken   string        `envconfig:"STATUS_API_TOKEN"`
	AuthAPIKey        string        `envconfig:"STATUS_API_KEY"`
	AllowNoAuth       bool          `envconfig:"STATUS_API_ALLOW_NO_AUTH" default:"false"`
	PublicBaseURL     string        `envconfig:"STATUS_API_PUBLIC_BASE_URL"`
	GlobalTimeout     time.Duration `envconfig:"STATUS_API_TIMEOUT" default:"30s"`
	ReadHeaderTimeout time.Duration `envconfig:"STATUS_API_READ_HEADER_TIMEOUT" default:"5s"`
}

type Sessions interface {
	Current() (session.State, bool)
}

type Tracked interface {
	Entries() []tracker.Entry
}

type Fetcher interface {
	FetchSnapshot(ctx context.Context) (erlc.Snapshot, error)
}

type Deps struct {
	Sessions Sessions
	Tracked  Tracked
	Fetcher  Fetcher
	Logger   *zap.Logger
	Now      func() time.Time
}

// --- DTOs (openapi.yaml) ---

type HealthResponse struct {
	OK bool `json:"ok"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type SessionResponse struct {
	Active                bool       `json:"active"`
	ID                    string     `json:"id,omitempty"`
	StartedAt             *time.Time `json:"startedAt,omitempty"`
	StartedBy             string     `json:"startedBy,omitempty"`
	AnnouncementMessageID string     `json:"announcementMessageId,omitempty"`
	AnnouncementChannelID string     `json:"announcementChannelId,omitempty"`
	ElapsedSeconds        *int64     `json:"elapsedSeconds,omitempty"`
}

type TrackedMessage struct {
	MessageID string `json:"messageId"`
	ChannelID string `json:"channelId"`
}

type TrackedResponse struct {
	Messages []TrackedMessage `json:"messages"`
}

type StaffMember struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

type SummaryResponse struct {
	Name           string        `json:"name"`
	JoinKey        string        `json:"joinKey"`
	CurrentPlayers int           `json:"currentPlayers"`
	MaxPlayers     int           `json:"maxPlayers"`
	QueuePlayers   int           `json:"queuePlayers"`
	ActiveStaff    int           `json:"activeStaff"`
	Staff          []StaffMember `json:"staff"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type api struct {
	Deps
	cfg Config
}

// New builds the router.
func New(cfg Config, d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	a := &api{Deps: d, cfg: cfg}

	r := chi.NewRouter()
	r.Use(
		recoverMW(d.Logger),
		logMW(d.Logger),
		authMW(cfg.AuthBearerToken, cfg.AuthAPIKey, cfg.AllowNoAuth),
		timeoutMW(cfg.GlobalTimeout),
	)
	r.Get("/health", a.health)
	r.Get("/session", a.session)
	r.Get("/tracked", a.tracked)
	r.Get("/server/summary", a.summary)
	r.Get("/docs/openapi.yaml", a.openapiYAML)
	return r
}

func (a *api) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{OK: true})
}

func (a *api) session(w http.ResponseWriter, r *http.Request) {
	st, active := a.Sessions.Current()
	resp := SessionResponse{Active: active}
	if active {
		resp.ID = st.ID
		resp.StartedBy = st.StartedBy
		resp.AnnouncementMessageID = st.AnnouncementID
		resp.AnnouncementChannelID = st.AnnouncementChannelID
		if st.StartedAt != nil {
			started := st.StartedAt.UTC()
			elapsed := int64(a.Now().Sub(started) / time.Second)
			resp.StartedAt = &started
			resp.ElapsedSeconds = &elapsed
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *api) tracked(w http.ResponseWriter, r *http.Request) {
	entries := a.Tracked.Entries()
	out := TrackedResponse{Messages: make([]TrackedMessage, 0, len(entries))}
	for _, e := range entries {
		out.Messages = append(out.Messages, TrackedMessage{MessageID: e.MessageID, ChannelID: e.ChannelID})
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *api) summary(w http.ResponseWriter, r *http.Request) {
	snap, err := a.Fetcher.FetchSnapshot(r.Context())
	if err != nil {
		writeJSON(w, http.StatusBadGateway, ErrorResponse{Error: ErrorDetail{Code: "UPSTREAM_FAILED", Message: err.Error()}})
		return
	}
	staff := make([]StaffMember, 0)
	for _, p := range snap.Players {
		if statusview.IsStaff(p) {
			staff = append(staff, StaffMember{Name: p.Player, Role: statusview.RoleLabel(p.PermissionLevel)})
		}
	}
	writeJSON(w, http.StatusOK, SummaryResponse{
		Name:           snap.Server.Name,
		JoinKey:        snap.Server.JoinKey,
		CurrentPlayers: snap.Server.CurrentPlayers,
		MaxPlayers:     snap.Server.MaxPlayers,
		QueuePlayers:   snap.Server.QueuePlayers,
		ActiveStaff:    len(staff),
		Staff:          staff,
	})
}

// openapiYAML serves the embedded document with servers resolved from the
// config or, failing that, from the request.
func (a *api) openapiYAML(w http.ResponseWriter, r *http.Request) {
	b, err := docsFS.ReadFile("openapi.yaml")
	if err != nil {
		http.Error(w, fmt.Sprintf("openapi not found: %v", err), http.StatusInternalServerError)
		return
	}
	var doc map[string]any
	if err := yaml.Unmarshal(b, &doc); err != nil {
		http.Error(w, fmt.Sprintf("openapi yaml parse error: %v", err), http.StatusInternalServerError)
		return
	}
	doc["servers"] = []map[string]any{{"url": a.serverURL(r)}}
	out, err := yaml.Marshal(doc)
	if err != nil {
		http.Error(w, fmt.Sprintf("openapi yaml marshal error: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/yaml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

func (a *api) serverURL(r *http.Request) string {
	if u := strings.TrimSpace(a.cfg.PublicBaseURL); u != "" {
		return u
	}
	scheme := "http"
	if xf := r.Header.Get("X-Forwarded-Proto"); xf != "" {
		scheme = xf
	} else if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

// Serve listens on cfg.Addr until ctx is done, then shuts down gracefully.
func Serve(ctx context.Context, cfg Config, h http.Handler, logger *zap.Logger) error {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           h,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("status api listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}
