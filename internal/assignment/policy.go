package assignment

import (
	"fmt"
	"sort"
	"sync"

	"github.com/zulandar/junction/internal/config"
	"github.com/zulandar/junction/internal/models"
)

// Policy picks one agent from a non-empty candidate list. Candidates are
// all available and below capacity.
type Policy interface {
	Name() string
	Pick(businessID string, candidates []models.Agent) models.Agent
}

// NewPolicy returns the policy registered under name.
func NewPolicy(name string) (Policy, error) {
	switch name {
	case config.PolicyRoundRobin, "":
		return NewRoundRobin(), nil
	case config.PolicyLeastBusy:
		return LeastBusy{}, nil
	default:
		return nil, fmt.Errorf("assignment: unknown policy %q", name)
	}
}

// RoundRobin prefers the agent with the fewest open chats. Ties rotate:
// the next tied agent after the one picked last for the business wins.
type RoundRobin struct {
	mu   sync.Mutex
	last map[string]string // business -> agent picked last
}

// NewRoundRobin creates a RoundRobin policy with empty rotation state.
func NewRoundRobin() *RoundRobin {
	return &RoundRobin{last: make(map[string]string)}
}

func (r *RoundRobin) Name() string { return config.PolicyRoundRobin }

func (r *RoundRobin) Pick(businessID string, candidates []models.Agent) models.Agent {
	lowest := candidates[0].CurrentChatCount
	for _, a := range candidates[1:] {
		if a.CurrentChatCount < lowest {
			lowest = a.CurrentChatCount
		}
	}
	var tied []models.Agent
	for _, a := range candidates {
		if a.CurrentChatCount == lowest {
			tied = append(tied, a)
		}
	}
	sort.Slice(tied, func(i, j int) bool { return tied[i].ID < tied[j].ID })

	r.mu.Lock()
	defer r.mu.Unlock()
	pick := tied[0]
	if prev, ok := r.last[businessID]; ok {
		for _, a := range tied {
			if a.ID > prev {
				pick = a
				break
			}
		}
	}
	r.last[businessID] = pick.ID
	return pick
}

// LeastBusy picks the agent with the lowest load ratio
// currentChatCount/maxConcurrentChats, breaking ties by agent id.
type LeastBusy struct{}

func (LeastBusy) Name() string { return config.PolicyLeastBusy }

func (LeastBusy) Pick(_ string, candidates []models.Agent) models.Agent {
	best := candidates[0]
	for _, a := range candidates[1:] {
		// a.cur/a.max < best.cur/best.max without floats.
		lhs := a.CurrentChatCount * best.MaxConcurrentChats
		rhs := best.CurrentChatCount * a.MaxConcurrentChats
		if lhs < rhs || (lhs == rhs && a.ID < best.ID) {
			best = a
		}
	}
	return best
}
