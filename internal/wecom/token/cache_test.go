package token

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func countingFetch(calls *int32, token string, ttl time.Duration) FetchFunc {
	return func(ctx context.Context) (string, time.Duration, error) {
		atomic.AddInt32(calls, 1)
		return token, ttl, nil
	}
}

func TestTokenCachedUntilMargin(t *testing.T) {
	c := NewCache(5*time.Minute, nil)
	base := time.Unix(1700000000, 0)
	now := base
	c.now = func() time.Time { return now }

	var calls int32
	fetch := countingFetch(&calls, "tok1", 2*time.Hour)

	for i := 0; i < 3; i++ {
		tok, err := c.Token(context.Background(), "corp", "sec", fetch)
		if err != nil {
			t.Fatalf("Token: %v", err)
		}
		if tok != "tok1" {
			t.Errorf("token = %q", tok)
		}
	}
	if calls != 1 {
		t.Errorf("fetch calls = %d, want 1", calls)
	}

	// Advance to within the margin of expiry: must refetch.
	now = base.Add(2*time.Hour - 4*time.Minute)
	if _, err := c.Token(context.Background(), "corp", "sec", fetch); err != nil {
		t.Fatalf("Token: %v", err)
	}
	if calls != 2 {
		t.Errorf("fetch calls = %d, want 2 after margin crossed", calls)
	}
}

func TestInvalidateForcesRefetch(t *testing.T) {
	c := NewCache(5*time.Minute, nil)
	var calls int32
	fetch := countingFetch(&calls, "tok", 2*time.Hour)

	c.Token(context.Background(), "corp", "sec", fetch)
	c.Invalidate("corp", "sec")
	c.Token(context.Background(), "corp", "sec", fetch)
	if calls != 2 {
		t.Errorf("fetch calls = %d, want 2", calls)
	}
}

func TestCredentialsIsolated(t *testing.T) {
	c := NewCache(5*time.Minute, nil)
	var callsA, callsB int32

	tokA, _ := c.Token(context.Background(), "corpA", "secA", countingFetch(&callsA, "tokA", time.Hour))
	tokB, _ := c.Token(context.Background(), "corpB", "secB", countingFetch(&callsB, "tokB", time.Hour))
	if tokA != "tokA" || tokB != "tokB" {
		t.Errorf("tokens = %q, %q", tokA, tokB)
	}
	if callsA != 1 || callsB != 1 {
		t.Errorf("calls = %d, %d", callsA, callsB)
	}
}

func TestSingleFlight(t *testing.T) {
	c := NewCache(5*time.Minute, nil)

	var calls int32
	release := make(chan struct{})
	fetch := func(ctx context.Context) (string, time.Duration, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return "tok", time.Hour, nil
	}

	const n = 10
	var wg sync.WaitGroup
	results := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok, err := c.Token(context.Background(), "corp", "sec", fetch)
			if err != nil {
				t.Errorf("Token: %v", err)
			}
			results[i] = tok
		}(i)
	}

	// Let all goroutines reach the flight before releasing the fetch.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("fetch calls = %d, want 1", got)
	}
	for i, tok := range results {
		if tok != "tok" {
			t.Errorf("result[%d] = %q", i, tok)
		}
	}
}

func TestFetchErrorNotCached(t *testing.T) {
	c := NewCache(5*time.Minute, nil)
	var calls int32
	fetch := func(ctx context.Context) (string, time.Duration, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return "", 0, errors.New("boom")
		}
		return "tok", time.Hour, nil
	}

	if _, err := c.Token(context.Background(), "corp", "sec", fetch); err == nil {
		t.Fatal("expected fetch error")
	}
	tok, err := c.Token(context.Background(), "corp", "sec", fetch)
	if err != nil {
		t.Fatalf("Token after failure: %v", err)
	}
	if tok != "tok" {
		t.Errorf("token = %q", tok)
	}
}

func TestShortLivedTokenKeptForFullLifetime(t *testing.T) {
	c := NewCache(5*time.Minute, nil)
	base := time.Unix(1700000000, 0)
	now := base
	c.now = func() time.Time { return now }

	var calls int32
	fetch := countingFetch(&calls, "tok", time.Minute)

	c.Token(context.Background(), "corp", "sec", fetch)
	now = base.Add(30 * time.Second)
	c.Token(context.Background(), "corp", "sec", fetch)
	if calls != 1 {
		t.Errorf("fetch calls = %d, want 1 within short lifetime", calls)
	}
}

func TestCredentialKeyHidesSecret(t *testing.T) {
	key := CredentialKey("corp", "super-secret")
	if key == "super-secret" || len(key) != 64 {
		t.Errorf("key = %q, want 64-char digest", key)
	}
	if CredentialKey("corp", "a") == CredentialKey("corp", "b") {
		t.Error("distinct secrets produced the same key")
	}
}
