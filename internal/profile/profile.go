// Package profile resolves user UUIDs to display profiles through the
// external profile directory.
package profile

import (
	"context"
	"fmt"
	"sort"

	"github.com/zulandar/junction/internal/chaterr"
)

// Placeholder is the label rendered for users the directory could not resolve.
const Placeholder = "Unknown user"

// Profile is the display data for one user.
type Profile struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// Result is a batch resolution. Errors lists the ids that could not be
// resolved; Partial is set when Errors is non-empty.
type Result struct {
	Profiles []Profile `json:"profiles"`
	Errors   []string  `json:"errors"`
	Partial  bool      `json:"partial"`
}

// Resolver batch-resolves user ids. A returned error means the whole batch
// failed; per-id failures are reported in Result.Errors.
type Resolver interface {
	ResolveProfiles(ctx context.Context, ids []string) (Result, error)
}

// Labels maps every id to a display label, substituting Placeholder for ids
// that failed to resolve. A resolver error degrades to all placeholders.
func Labels(ctx context.Context, r Resolver, ids []string) map[string]string {
	labels := make(map[string]string, len(ids))
	for _, id := range ids {
		labels[id] = Placeholder
	}
	if r == nil || len(ids) == 0 {
		return labels
	}
	res, err := r.ResolveProfiles(ctx, dedupe(ids))
	if err != nil {
		return labels
	}
	for _, p := range res.Profiles {
		if _, ok := labels[p.ID]; ok && p.DisplayName != "" {
			labels[p.ID] = p.DisplayName
		}
	}
	return labels
}

// Exists reports whether the directory knows id. A failed batch is a
// transient error rather than a negative answer.
func Exists(ctx context.Context, r Resolver, id string) (bool, error) {
	if id == "" {
		return false, nil
	}
	res, err := r.ResolveProfiles(ctx, []string{id})
	if err != nil {
		return false, chaterr.Unavailable.Wrap(err, "profile directory")
	}
	for _, p := range res.Profiles {
		if p.ID == id {
			return true, nil
		}
	}
	return false, nil
}

// Static resolves from a fixed set of profiles supplied by the caller.
type Static struct {
	profiles map[string]Profile
}

// NewStatic builds a Static resolver.
func NewStatic(profiles ...Profile) *Static {
	s := &Static{profiles: make(map[string]Profile, len(profiles))}
	for _, p := range profiles {
		s.profiles[p.ID] = p
	}
	return s
}

// ResolveProfiles implements Resolver.
func (s *Static) ResolveProfiles(ctx context.Context, ids []string) (Result, error) {
	var res Result
	for _, id := range ids {
		if p, ok := s.profiles[id]; ok {
			res.Profiles = append(res.Profiles, p)
		} else {
			res.Errors = append(res.Errors, id)
		}
	}
	res.Partial = len(res.Errors) > 0
	return res, nil
}

// Anonymous accepts every id and labels it with a short form of the id.
// It is the fallback when no directory is configured.
type Anonymous struct{}

// ResolveProfiles implements Resolver.
func (Anonymous) ResolveProfiles(ctx context.Context, ids []string) (Result, error) {
	res := Result{Profiles: make([]Profile, 0, len(ids))}
	for _, id := range ids {
		short := id
		if len(short) > 8 {
			short = short[:8]
		}
		res.Profiles = append(res.Profiles, Profile{ID: id, DisplayName: fmt.Sprintf("user-%s", short)})
	}
	return res, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
