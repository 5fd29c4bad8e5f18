package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"

	"constructlink/internal/config"
	"constructlink/internal/models"

	"github.com/rs/zerolog"
)

const (
	apiKeyHeaderDefault = "x-api-key"
	permReadBatches     = "read:batches"
	permWriteBatches    = "write:batches"
	clientKeyUnknown    = "unknown"

	// Identity headers honoured only while auth is disabled.
	headerActorID   = "X-Actor-ID"
	headerActorName = "X-Actor-Name"
	headerActorRole = "X-Actor-Role"
)

var (
	errMissingKey       = errors.New("missing api key")
	errInvalidKey       = errors.New("invalid api key")
	errPermissionDenied = errors.New("permission denied")
	errNoIdentity       = errors.New("missing actor identity headers")
)

type actorKey struct{}

type client struct {
	key         string
	actor       models.Actor
	permissions []string
}

// HTTPAuth maps API keys to workflow actors and applies per-key rate limits.
type HTTPAuth struct {
	cfg     config.APIConfig
	header  string
	clients []client
	limiter *rateLimiter
	logger  *zerolog.Logger
}

func NewHTTPAuth(cfg config.APIConfig, logger *zerolog.Logger) (*HTTPAuth, error) {
	header := strings.TrimSpace(cfg.Auth.HeaderAPIKey)
	if header == "" {
		header = apiKeyHeaderDefault
	}

	clients := make([]client, 0, len(cfg.Auth.APIKeys))
	for _, k := range cfg.Auth.APIKeys {
		role, err := models.ParseRole(k.Role)
		if err != nil {
			return nil, err
		}
		clients = append(clients, client{
			key:         k.Key,
			actor:       models.Actor{ID: k.ActorID, Name: k.Name, Role: role},
			permissions: k.Permissions,
		})
	}

	return &HTTPAuth{
		cfg:     cfg,
		header:  header,
		clients: clients,
		limiter: newRateLimiter(cfg.RateLimit),
		logger:  logger,
	}, nil
}

// Wrap authenticates every request except the health check.
func (a *HTTPAuth) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			next.ServeHTTP(w, r)
			return
		}

		if !a.limiter.allow(a.clientKey(r)) {
			writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
			return
		}

		actor, err := a.authenticate(r)
		if err != nil {
			status := http.StatusUnauthorized
			if errors.Is(err, errPermissionDenied) {
				status = http.StatusForbidden
			}
			writeError(w, status, "unauthenticated", err.Error())
			return
		}

		ctx := context.WithValue(r.Context(), actorKey{}, actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *HTTPAuth) authenticate(r *http.Request) (models.Actor, error) {
	if !a.cfg.Auth.Enabled {
		return actorFromHeaders(r)
	}

	key := strings.TrimSpace(r.Header.Get(a.header))
	if key == "" {
		return models.Actor{}, errMissingKey
	}

	c, ok := a.lookup(key)
	if !ok {
		return models.Actor{}, errInvalidKey
	}
	if !hasPermission(c.permissions, requiredPermission(r)) {
		return models.Actor{}, errPermissionDenied
	}
	return c.actor, nil
}

func (a *HTTPAuth) lookup(key string) (client, bool) {
	for _, c := range a.clients {
		if subtle.ConstantTimeCompare([]byte(c.key), []byte(key)) == 1 {
			return c, true
		}
	}
	return client{}, false
}

func actorFromHeaders(r *http.Request) (models.Actor, error) {
	rawID := strings.TrimSpace(r.Header.Get(headerActorID))
	rawRole := strings.TrimSpace(r.Header.Get(headerActorRole))
	if rawID == "" || rawRole == "" {
		return models.Actor{}, errNoIdentity
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || id <= 0 {
		return models.Actor{}, errors.New("invalid actor id")
	}
	role, err := models.ParseRole(rawRole)
	if err != nil {
		return models.Actor{}, err
	}
	return models.Actor{ID: id, Name: strings.TrimSpace(r.Header.Get(headerActorName)), Role: role}, nil
}

// hasPermission treats an empty permission list as allow-all.
func hasPermission(perms []string, required string) bool {
	if required == "" || len(perms) == 0 {
		return true
	}
	for _, p := range perms {
		if strings.TrimSpace(p) == required {
			return true
		}
	}
	return false
}

func requiredPermission(r *http.Request) string {
	if !strings.HasPrefix(r.URL.Path, "/api/v1/batches") {
		return ""
	}
	if r.Method == http.MethodGet {
		return permReadBatches
	}
	return permWriteBatches
}

func (a *HTTPAuth) clientKey(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get(a.header)); key != "" {
		return key
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return clientKeyUnknown
}

// ActorFromContext returns the authenticated actor of a request.
func ActorFromContext(ctx context.Context) (models.Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(models.Actor)
	return a, ok
}
