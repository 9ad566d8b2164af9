package oidc

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

const (
	defaultRefreshGracePeriod = 10 * time.Second
	refreshGraceCacheSize     = 10000
)

type refreshFunc func(ctx context.Context, refreshToken string) (*TokenSet, error)

// refreshGroup collapses concurrent refreshes of the same session into a single
// provider call. Sessions are keyed by a hash of their refresh token.
type refreshGroup struct {
	group   singleflight.Group
	refresh refreshFunc
	// successful results, replayed to callers still holding the rotated-out token
	recent *expirable.LRU[string, *TokenSet]
}

func newRefreshGroup(refresh refreshFunc, gracePeriod time.Duration) *refreshGroup {
	g := &refreshGroup{refresh: refresh}
	if gracePeriod > 0 {
		g.recent = expirable.NewLRU[string, *TokenSet](refreshGraceCacheSize, nil, gracePeriod)
	}
	return g
}

// Do refreshes the session bound to refreshToken. All concurrent callers for the
// same token share one provider call and its outcome. The shared call is not
// cancelled when an individual caller goes away; each caller may stop waiting
// on its own context.
func (g *refreshGroup) Do(ctx context.Context, refreshToken string) (*TokenSet, error) {
	key := hashToken(refreshToken)

	if tokenSet, ok := g.fromGraceWindow(key); ok {
		return tokenSet, nil
	}
	return g.join(ctx, key, refreshToken)
}

// join runs or joins the shared provider call for key.
func (g *refreshGroup) join(ctx context.Context, key string, refreshToken string) (*TokenSet, error) {
	detached := context.WithoutCancel(ctx)
	ch := g.group.DoChan(key, func() (interface{}, error) {
		// a shared call may have finished after the caller missed the grace window
		if tokenSet, ok := g.fromGraceWindow(key); ok {
			return tokenSet, nil
		}
		tokenSet, err := g.refresh(detached, refreshToken)
		if err != nil {
			return nil, err
		}
		if g.recent != nil {
			g.recent.Add(key, tokenSet)
		}
		return tokenSet, nil
	})

	select {
	case res := <-ch:
		if res.Shared {
			refreshSharedTotal.WithLabelValues("inflight").Inc()
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*TokenSet), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (g *refreshGroup) fromGraceWindow(key string) (*TokenSet, bool) {
	if g.recent == nil {
		return nil, false
	}
	tokenSet, ok := g.recent.Get(key)
	if ok {
		refreshSharedTotal.WithLabelValues("grace").Inc()
		log.Debug().Msg("serving refresh from grace window")
	}
	return tokenSet, ok
}
