package bitable

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/okian/sheetsync/internal/domain/model"
	"github.com/okian/sheetsync/pkg/logger"
	"github.com/okian/sheetsync/pkg/metrics"
	"github.com/zeebo/xxh3"
	"golang.org/x/sync/singleflight"
)

const (
	tokenPath = "/auth/v3/tenant_access_token/internal"
	// Applied when the token response omits expire.
	defaultTokenTTL = 7200 * time.Second
	// Tokens are treated as expired this long before the remote deadline.
	tokenSkew = 60 * time.Second
)

// tokenSource caches one access token per credential pair in memory.
type tokenSource struct {
	c      *Client
	mu     sync.RWMutex
	tokens map[uint64]model.AccessToken
	group  singleflight.Group
}

func newTokenSource(c *Client) *tokenSource {
	return &tokenSource{c: c, tokens: make(map[uint64]model.AccessToken)}
}

func credentialKey(creds model.Credentials) uint64 {
	return xxh3.HashString(creds.AppID + "\x00" + creds.AppSecret)
}

func (t *tokenSource) cached(key uint64) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	tok, ok := t.tokens[key]
	if !ok || !tok.Valid(t.c.now()) {
		return "", false
	}
	return tok.Value, true
}

// token returns a valid token for creds, refreshing it at most once at a
// time per credential pair.
func (t *tokenSource) token(ctx context.Context, creds model.Credentials) (string, error) {
	if creds.Empty() {
		return "", newError("auth", KindAuthenticationMissing, "app id and app secret are required")
	}
	key := credentialKey(creds)
	if v, ok := t.cached(key); ok {
		return v, nil
	}

	// The fetch outlives the cancellation of any single waiter.
	ch := t.group.DoChan(strconv.FormatUint(key, 16), func() (any, error) {
		if v, ok := t.cached(key); ok {
			return v, nil
		}
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.c.timeout)
		defer cancel()
		tok, err := t.fetch(fctx, creds)
		metrics.RecordTokenRefresh(err == nil)
		if err != nil {
			return nil, err
		}
		t.mu.Lock()
		t.tokens[key] = tok
		t.mu.Unlock()
		return tok.Value, nil
	})
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("auth: %w", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (t *tokenSource) fetch(ctx context.Context, creds model.Credentials) (model.AccessToken, error) {
	var resp tokenResponse
	req := request{
		method: http.MethodPost,
		path:   tokenPath,
		body:   tokenRequest{AppID: creds.AppID, AppSecret: creds.AppSecret},
	}
	if err := t.c.do(ctx, "auth", nil, req, &resp); err != nil {
		return model.AccessToken{}, err
	}
	if resp.TenantAccessToken == "" {
		return model.AccessToken{}, newError("auth", KindAuthenticationInvalid, "empty access token")
	}

	ttl := defaultTokenTTL
	if resp.Expire > 0 {
		ttl = time.Duration(resp.Expire) * time.Second
	}
	t.c.log.Debug(ctx, "access token refreshed",
		logger.Redact("app_id", creds.AppID),
		logger.Duration("ttl", ttl),
	)
	return model.AccessToken{
		Value:     resp.TenantAccessToken,
		ExpiresAt: t.c.now().Add(ttl - tokenSkew),
	}, nil
}

func (t *tokenSource) invalidate(creds model.Credentials) {
	t.mu.Lock()
	delete(t.tokens, credentialKey(creds))
	t.mu.Unlock()
}

func (t *tokenSource) len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.tokens)
}
