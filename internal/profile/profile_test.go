package profile

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zulandar/junction/internal/chaterr"
)

// failingResolver fails every batch.
type failingResolver struct{ calls atomic.Int32 }

func (f *failingResolver) ResolveProfiles(ctx context.Context, ids []string) (Result, error) {
	f.calls.Add(1)
	return Result{}, errors.New("directory down")
}

// countingResolver wraps a Static resolver and counts calls.
type countingResolver struct {
	*Static
	calls atomic.Int32
}

func (c *countingResolver) ResolveProfiles(ctx context.Context, ids []string) (Result, error) {
	c.calls.Add(1)
	return c.Static.ResolveProfiles(ctx, ids)
}

func TestLabels_PartialFailureUsesPlaceholder(t *testing.T) {
	r := NewStatic(Profile{ID: "alice", DisplayName: "Alice"})

	labels := Labels(context.Background(), r, []string{"alice", "ghost"})
	if labels["alice"] != "Alice" {
		t.Errorf("labels[alice] = %q, want Alice", labels["alice"])
	}
	if labels["ghost"] != Placeholder {
		t.Errorf("labels[ghost] = %q, want %q", labels["ghost"], Placeholder)
	}
}

func TestLabels_ResolverErrorDegrades(t *testing.T) {
	labels := Labels(context.Background(), &failingResolver{}, []string{"a", "b"})
	for id, l := range labels {
		if l != Placeholder {
			t.Errorf("labels[%s] = %q, want placeholder", id, l)
		}
	}
	if len(labels) != 2 {
		t.Errorf("len(labels) = %d, want 2", len(labels))
	}
}

func TestLabels_NilResolver(t *testing.T) {
	labels := Labels(context.Background(), nil, []string{"a"})
	if labels["a"] != Placeholder {
		t.Errorf("labels[a] = %q", labels["a"])
	}
}

func TestExists(t *testing.T) {
	r := NewStatic(Profile{ID: "alice", DisplayName: "Alice"})

	ok, err := Exists(context.Background(), r, "alice")
	if err != nil || !ok {
		t.Errorf("Exists(alice) = %v, %v; want true, nil", ok, err)
	}
	ok, err = Exists(context.Background(), r, "ghost")
	if err != nil || ok {
		t.Errorf("Exists(ghost) = %v, %v; want false, nil", ok, err)
	}
	ok, _ = Exists(context.Background(), r, "")
	if ok {
		t.Error("Exists(\"\") = true")
	}

	_, err = Exists(context.Background(), &failingResolver{}, "alice")
	if !errors.Is(err, chaterr.Unavailable) {
		t.Errorf("err = %v, want Unavailable", err)
	}
}

func TestAnonymous_ResolvesEverything(t *testing.T) {
	res, err := Anonymous{}.ResolveProfiles(context.Background(), []string{"0123456789abcdef", "ab"})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Profiles) != 2 || res.Partial {
		t.Fatalf("res = %+v", res)
	}
	if res.Profiles[0].DisplayName != "user-01234567" {
		t.Errorf("DisplayName = %q", res.Profiles[0].DisplayName)
	}
	if res.Profiles[1].DisplayName != "user-ab" {
		t.Errorf("DisplayName = %q", res.Profiles[1].DisplayName)
	}
}

func TestMemoryCache_Expiry(t *testing.T) {
	c := NewMemoryCache()
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }

	ctx := context.Background()
	if err := c.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatal(err)
	}
	if v, err := c.Get(ctx, "k"); err != nil || v != "v" {
		t.Errorf("Get = %q, %v", v, err)
	}

	now = now.Add(2 * time.Minute)
	if _, err := c.Get(ctx, "k"); !errors.Is(err, ErrMiss) {
		t.Errorf("expired Get err = %v, want ErrMiss", err)
	}
	if _, err := c.Get(ctx, "missing"); !errors.Is(err, ErrMiss) {
		t.Errorf("missing Get err = %v, want ErrMiss", err)
	}
}

func TestCached_ServesFromCache(t *testing.T) {
	inner := &countingResolver{Static: NewStatic(Profile{ID: "alice", DisplayName: "Alice"})}
	c := NewCached(inner, NewMemoryCache(), time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := c.ResolveProfiles(ctx, []string{"alice"})
		if err != nil {
			t.Fatal(err)
		}
		if len(res.Profiles) != 1 || res.Profiles[0].DisplayName != "Alice" {
			t.Fatalf("res = %+v", res)
		}
	}
	if n := inner.calls.Load(); n != 1 {
		t.Errorf("directory calls = %d, want 1", n)
	}
}

func TestCached_DirectoryOutageWithWarmCache(t *testing.T) {
	cache := NewMemoryCache()
	raw, _ := json.Marshal(Profile{ID: "alice", DisplayName: "Alice"})
	cache.Set(context.Background(), cacheKey("alice"), string(raw), time.Minute)

	c := NewCached(&failingResolver{}, cache, time.Minute)
	res, err := c.ResolveProfiles(context.Background(), []string{"alice", "bob"})
	if err != nil {
		t.Fatalf("expected degraded result, got error %v", err)
	}
	if !res.Partial || len(res.Errors) != 1 || res.Errors[0] != "bob" {
		t.Errorf("res = %+v, want bob in errors", res)
	}
	if len(res.Profiles) != 1 || res.Profiles[0].ID != "alice" {
		t.Errorf("profiles = %+v", res.Profiles)
	}
}

func TestCached_DirectoryOutageColdCache(t *testing.T) {
	c := NewCached(&failingResolver{}, NewMemoryCache(), time.Minute)
	if _, err := c.ResolveProfiles(context.Background(), []string{"alice"}); err == nil {
		t.Error("expected error with cold cache")
	}
}

func TestHTTPResolver(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		var req struct{ IDs []string }
		json.NewDecoder(r.Body).Decode(&req)
		res := Result{}
		for _, id := range req.IDs {
			if id == "alice" {
				res.Profiles = append(res.Profiles, Profile{ID: id, DisplayName: "Alice"})
			} else {
				res.Errors = append(res.Errors, id)
			}
		}
		json.NewEncoder(w).Encode(res)
	}))
	defer srv.Close()

	r := NewHTTPResolver(srv.URL, time.Second)
	res, err := r.ResolveProfiles(context.Background(), []string{"alice", "ghost"})
	if err != nil {
		t.Fatalf("ResolveProfiles: %v", err)
	}
	if len(res.Profiles) != 1 || res.Profiles[0].DisplayName != "Alice" {
		t.Errorf("profiles = %+v", res.Profiles)
	}
	if !res.Partial || len(res.Errors) != 1 {
		t.Errorf("errors = %+v, partial = %v", res.Errors, res.Partial)
	}
}

func TestHTTPResolver_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewHTTPResolver(srv.URL, time.Second).ResolveProfiles(context.Background(), []string{"a"})
	if err == nil {
		t.Fatal("expected error for 502")
	}
}
