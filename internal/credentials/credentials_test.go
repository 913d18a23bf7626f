package credentials

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeProvider struct {
	name    string
	results []RegistryCredentials
	errs    []error
	calls   int
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Fetch(ctx context.Context, endpoint string) (RegistryCredentials, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return RegistryCredentials{}, f.errs[i]
	}
	if i < len(f.results) {
		return f.results[i], nil
	}
	return f.results[len(f.results)-1], nil
}

func TestExpiredZeroValueNeverExpires(t *testing.T) {
	c := RegistryCredentials{Username: "u", Password: "p"}
	if c.Expired(time.Now().Add(100 * time.Hour)) {
		t.Fatal("zero ExpiresAt must never report expired")
	}
}

func TestExpiredAtBoundary(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := RegistryCredentials{ExpiresAt: now}
	if !c.Expired(now) {
		t.Fatal("credentials expiring exactly now must be treated as expired")
	}
}

func TestResolverCachesUntilExpiry(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clk := base
	provider := &fakeProvider{
		results: []RegistryCredentials{
			{Username: "u1", ExpiresAt: base.Add(time.Hour)},
		},
	}
	r := NewResolver(provider, func() time.Time { return clk })

	first, err := r.Get(context.Background(), "ep")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Username != "u1" {
		t.Fatalf("got username %q", first.Username)
	}

	second, err := r.Get(context.Background(), "ep")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.Username != "u1" {
		t.Fatalf("expected cached credentials, got %q", second.Username)
	}
	if provider.calls != 1 {
		t.Fatalf("expected a single fetch while cache is valid, got %d", provider.calls)
	}
}

func TestResolverRefetchesAfterExpiry(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clk := base
	provider := &fakeProvider{
		results: []RegistryCredentials{
			{Username: "u1", ExpiresAt: base.Add(time.Minute)},
			{Username: "u2", ExpiresAt: base.Add(2 * time.Hour)},
		},
	}
	r := NewResolver(provider, func() time.Time { return clk })

	if _, err := r.Get(context.Background(), "ep"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	clk = base.Add(2 * time.Minute)

	refreshed, err := r.Get(context.Background(), "ep")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if refreshed.Username != "u2" {
		t.Fatalf("expected refreshed credentials u2, got %q", refreshed.Username)
	}
	if provider.calls != 2 {
		t.Fatalf("expected two fetches across expiry, got %d", provider.calls)
	}
}

func TestResolverRetriesOnceWhenProviderReturnsExpired(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	provider := &fakeProvider{
		results: []RegistryCredentials{
			{Username: "stale", ExpiresAt: base.Add(-time.Minute)},
			{Username: "fresh", ExpiresAt: base.Add(time.Hour)},
		},
	}
	r := NewResolver(provider, func() time.Time { return base })

	got, err := r.Get(context.Background(), "ep")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Username != "fresh" {
		t.Fatalf("expected resolver to retry once and return fresh credentials, got %q", got.Username)
	}
	if provider.calls != 2 {
		t.Fatalf("expected exactly one refresh attempt (two total fetches), got %d", provider.calls)
	}
}

func TestResolverPropagatesFetchError(t *testing.T) {
	wantErr := errors.New("boom")
	provider := &fakeProvider{errs: []error{wantErr}}
	r := NewResolver(provider, nil)

	_, err := r.Get(context.Background(), "ep")
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected fetch error to propagate, got %v", err)
	}
}
