package oidc

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestRefreshGroupCollapsesConcurrentCalls(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})

	group := newRefreshGroup(func(ctx context.Context, refreshToken string) (*TokenSet, error) {
		calls.Add(1)
		<-release
		return &TokenSet{AccessToken: "access-2", RefreshToken: "refresh-2", ExpiresIn: 300, RefreshRotated: true}, nil
	}, -1)

	const callers = 10
	var wg sync.WaitGroup
	results := make([]*TokenSet, callers)
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = group.Do(context.Background(), "refresh-1")
		}()
	}

	// give every caller time to join the in-flight call
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Errorf("provider calls: got %d, want 1", got)
	}
	for i := range callers {
		if errs[i] != nil {
			t.Fatalf("caller %d: unexpected error: %v", i, errs[i])
		}
		if results[i].AccessToken != "access-2" {
			t.Errorf("caller %d: AccessToken got %q, want %q", i, results[i].AccessToken, "access-2")
		}
	}
}

func TestRefreshGroupSharesFailures(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	refreshErr := newRejectedError(OpRefresh, 400, "invalid_grant", errors.New("token is not active"))

	group := newRefreshGroup(func(ctx context.Context, refreshToken string) (*TokenSet, error) {
		calls.Add(1)
		<-release
		return nil, refreshErr
	}, time.Minute)

	var wg sync.WaitGroup
	var failures atomic.Int32
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := group.Do(context.Background(), "refresh-1"); errors.Is(err, ErrIdpRefresh) {
				failures.Add(1)
			}
		}()
	}
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Errorf("provider calls: got %d, want 1", got)
	}
	if got := failures.Load(); got != 5 {
		t.Errorf("failed callers: got %d, want 5", got)
	}
}

func TestRefreshGroupFailuresAreNotCached(t *testing.T) {
	var calls atomic.Int32
	group := newRefreshGroup(func(ctx context.Context, refreshToken string) (*TokenSet, error) {
		if calls.Add(1) == 1 {
			return nil, newUnavailableError(OpRefresh, 503, errors.New("service unavailable"))
		}
		return &TokenSet{AccessToken: "access-2", RefreshToken: refreshToken}, nil
	}, time.Minute)

	if _, err := group.Do(context.Background(), "refresh-1"); err == nil {
		t.Fatal("expected first refresh to fail")
	}
	tokenSet, err := group.Do(context.Background(), "refresh-1")
	if err != nil {
		t.Fatalf("expected second refresh to succeed, got: %v", err)
	}
	if tokenSet.AccessToken != "access-2" {
		t.Errorf("AccessToken: got %q, want %q", tokenSet.AccessToken, "access-2")
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("provider calls: got %d, want 2", got)
	}
}

func TestRefreshGroupGraceWindow(t *testing.T) {
	var calls atomic.Int32
	group := newRefreshGroup(func(ctx context.Context, refreshToken string) (*TokenSet, error) {
		calls.Add(1)
		return &TokenSet{AccessToken: "access-2", RefreshToken: "refresh-2", RefreshRotated: true}, nil
	}, time.Minute)

	first, err := group.Do(context.Background(), "refresh-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// a late caller still presenting the rotated-out token
	second, err := group.Do(context.Background(), "refresh-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := calls.Load(); got != 1 {
		t.Errorf("provider calls: got %d, want 1", got)
	}
	if second.RefreshToken != first.RefreshToken {
		t.Errorf("RefreshToken: got %q, want %q", second.RefreshToken, first.RefreshToken)
	}
}

func TestRefreshGroupLateJoinerUsesGraceWindow(t *testing.T) {
	var calls atomic.Int32
	group := newRefreshGroup(func(ctx context.Context, refreshToken string) (*TokenSet, error) {
		calls.Add(1)
		return nil, newRejectedError(OpRefresh, 400, "invalid_grant", errors.New("token is not active"))
	}, time.Minute)

	// a shared call stored its result after this caller missed the grace window
	key := hashToken("refresh-1")
	group.recent.Add(key, &TokenSet{AccessToken: "access-2", RefreshToken: "refresh-2", RefreshRotated: true})

	tokenSet, err := group.join(context.Background(), key, "refresh-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tokenSet.RefreshToken != "refresh-2" {
		t.Errorf("RefreshToken: got %q, want %q", tokenSet.RefreshToken, "refresh-2")
	}
	if got := calls.Load(); got != 0 {
		t.Errorf("provider calls: got %d, want 0", got)
	}
}

func TestRefreshGroupWithoutGraceWindow(t *testing.T) {
	var calls atomic.Int32
	group := newRefreshGroup(func(ctx context.Context, refreshToken string) (*TokenSet, error) {
		calls.Add(1)
		return &TokenSet{AccessToken: "access-2", RefreshToken: refreshToken}, nil
	}, -1)

	for range 3 {
		if _, err := group.Do(context.Background(), "refresh-1"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("provider calls: got %d, want 3", got)
	}
}

func TestRefreshGroupDistinctTokensAreIndependent(t *testing.T) {
	var calls atomic.Int32
	group := newRefreshGroup(func(ctx context.Context, refreshToken string) (*TokenSet, error) {
		calls.Add(1)
		return &TokenSet{AccessToken: "access-for-" + refreshToken, RefreshToken: refreshToken}, nil
	}, time.Minute)

	a, _ := group.Do(context.Background(), "refresh-a")
	b, _ := group.Do(context.Background(), "refresh-b")

	if a.AccessToken == b.AccessToken {
		t.Error("expected different sessions to get different results")
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("provider calls: got %d, want 2", got)
	}
}

func TestRefreshGroupCallerCancellationDoesNotCancelSharedCall(t *testing.T) {
	release := make(chan struct{})
	var sharedCtxErr atomic.Value

	group := newRefreshGroup(func(ctx context.Context, refreshToken string) (*TokenSet, error) {
		<-release
		if err := ctx.Err(); err != nil {
			sharedCtxErr.Store(err)
		}
		return &TokenSet{AccessToken: "access-2", RefreshToken: refreshToken}, nil
	}, -1)

	cancelled, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := group.Do(cancelled, "refresh-1")
		done <- err
	}()

	survivor := make(chan *TokenSet, 1)
	go func() {
		tokenSet, _ := group.Do(context.Background(), "refresh-1")
		survivor <- tokenSet
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled caller: got %v, want context.Canceled", err)
	}

	close(release)
	tokenSet := <-survivor
	if tokenSet == nil || tokenSet.AccessToken != "access-2" {
		t.Errorf("surviving caller: got %+v", tokenSet)
	}
	if err := sharedCtxErr.Load(); err != nil {
		t.Errorf("shared call saw a cancelled context: %v", err)
	}
}
