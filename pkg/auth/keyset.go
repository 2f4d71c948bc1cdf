package auth

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/angelmondragon/storefront-user-service/pkg/logger"
	"github.com/go-jose/go-jose/v4"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

const (
	defaultKeyCacheSize = 32
	defaultKeyTTL       = 10 * time.Minute
	// minRefreshInterval bounds refetches triggered by unknown key ids.
	minRefreshInterval = 10 * time.Second
	maxJWKSBytes       = 1 << 20
	// defaultFetchTimeout bounds a shared refresh when the client has no timeout.
	defaultFetchTimeout = 10 * time.Second
)

var errUnknownKey = errors.New("unknown signing key")

// KeySource resolves a verification key by key id.
type KeySource interface {
	Key(ctx context.Context, kid string) (*rsa.PublicKey, error)
}

// KeySetParams configures a remote JWKS.
type KeySetParams struct {
	URL        string
	HTTPClient *http.Client
	TTL        time.Duration
	Logger     *logger.Logger
}

// KeySet caches the realm's RSA signing keys by kid and refetches the JWKS
// when an unseen kid arrives.
type KeySet struct {
	url    string
	client *http.Client
	logg   *logger.Logger
	cache  *expirable.LRU[string, *rsa.PublicKey]
	group  singleflight.Group
	// fetchTimeout bounds the shared refresh, which outlives any one caller.
	fetchTimeout time.Duration

	mu          sync.Mutex
	lastRefresh time.Time
	now         func() time.Time
}

// NewKeySet builds a JWKS-backed KeySource.
func NewKeySet(params KeySetParams) (*KeySet, error) {
	if params.URL == "" {
		return nil, fmt.Errorf("jwks url is required")
	}
	client := params.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	ttl := params.TTL
	if ttl <= 0 {
		ttl = defaultKeyTTL
	}
	fetchTimeout := client.Timeout
	if fetchTimeout <= 0 {
		fetchTimeout = defaultFetchTimeout
	}
	return &KeySet{
		url:          params.URL,
		client:       client,
		logg:         params.Logger,
		cache:        expirable.NewLRU[string, *rsa.PublicKey](defaultKeyCacheSize, nil, ttl),
		fetchTimeout: fetchTimeout,
		now:          time.Now,
	}, nil
}

// Key returns the RSA key for kid, refreshing the set at most once per
// concurrent burst of misses. The refresh runs detached from ctx so a
// cancelled caller only abandons its own wait.
func (k *KeySet) Key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	if kid == "" {
		return nil, errUnknownKey
	}
	if key, ok := k.cache.Get(kid); ok {
		return key, nil
	}
	if !k.refreshAllowed() {
		return nil, errUnknownKey
	}
	results := k.group.DoChan("jwks", func() (any, error) {
		if _, ok := k.cache.Get(kid); ok {
			return nil, nil
		}
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), k.fetchTimeout)
		defer cancel()
		return nil, k.refresh(fetchCtx)
	})
	select {
	case res := <-results:
		if res.Err != nil {
			return nil, fmt.Errorf("%w: %v", ErrKeyUnavailable, res.Err)
		}
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrKeyUnavailable, ctx.Err())
	}
	if key, ok := k.cache.Get(kid); ok {
		return key, nil
	}
	return nil, errUnknownKey
}

func (k *KeySet) refreshAllowed() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.lastRefresh.IsZero() {
		return true
	}
	// an empty cache means the previous keys expired and a refetch is due
	if k.cache.Len() == 0 {
		return true
	}
	return k.now().Sub(k.lastRefresh) >= minRefreshInterval
}

func (k *KeySet) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.url, nil)
	if err != nil {
		return fmt.Errorf("build jwks request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := k.now()
	resp, err := k.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch jwks: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch jwks: unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxJWKSBytes))
	if err != nil {
		return fmt.Errorf("read jwks: %w", err)
	}

	var set jose.JSONWebKeySet
	if err := json.Unmarshal(body, &set); err != nil {
		return fmt.Errorf("decode jwks: %w", err)
	}

	loaded := 0
	for _, jwk := range set.Keys {
		if jwk.Use != "" && jwk.Use != "sig" {
			continue
		}
		pub, ok := jwk.Key.(*rsa.PublicKey)
		if !ok || jwk.KeyID == "" {
			continue
		}
		k.cache.Add(jwk.KeyID, pub)
		loaded++
	}

	k.mu.Lock()
	k.lastRefresh = k.now()
	k.mu.Unlock()

	if k.logg != nil {
		ctx = k.logg.WithFields(ctx, map[string]any{
			"keys":        loaded,
			"duration_ms": k.now().Sub(start).Milliseconds(),
		})
		k.logg.Debug(ctx, "jwks refreshed")
	}
	if loaded == 0 {
		return fmt.Errorf("jwks contained no rsa signing keys")
	}
	return nil
}
