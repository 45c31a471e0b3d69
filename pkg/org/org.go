package org

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"

	"github.com/cuemby/burrow/pkg/store"
	"github.com/cuemby/burrow/pkg/types"
)

const (
	// prefsCacheSize bounds the cached agent set; eviction is LRU
	prefsCacheSize = 1024

	// prefsCacheTTL bounds staleness of cached communication preferences
	prefsCacheTTL = 5 * time.Minute
)

// Directory answers organizational questions about agents: who reports to
// whom, and whether an agent wants a given class of notification.
//
// Agent records are read-only reference data, so communication preferences
// are served from an expiring LRU cache in front of the store. A preference
// change is picked up within the cache TTL.
type Directory struct {
	store  store.Store
	prefs  *expirable.LRU[string, types.CommunicationPrefs]
	logger zerolog.Logger
}

// NewDirectory creates a directory over the given store
func NewDirectory(s store.Store, logger zerolog.Logger) *Directory {
	return &Directory{
		store:  s,
		prefs:  expirable.NewLRU[string, types.CommunicationPrefs](prefsCacheSize, nil, prefsCacheTTL),
		logger: logger.With().Str("component", "org").Logger(),
	}
}

// GetAgent returns the agent record, uncached
func (d *Directory) GetAgent(ctx context.Context, agentID string) (*types.Agent, error) {
	return d.store.GetAgent(ctx, agentID)
}

// Prefs returns the agent's communication preferences. Unknown agents get
// the all-enabled defaults so notification delivery never fails on a missing
// directory entry.
func (d *Directory) Prefs(ctx context.Context, agentID string) types.CommunicationPrefs {
	if cached, ok := d.prefs.Get(agentID); ok {
		return cached
	}
	agent, err := d.store.GetAgent(ctx, agentID)
	if err != nil {
		if !types.IsKind(err, types.ErrAgentNotFound) {
			d.logger.Warn().Err(err).Str("agent_id", agentID).Msg("Preference lookup failed, using defaults")
		}
		return types.CommunicationPrefs{}
	}
	d.prefs.Add(agentID, agent.Prefs)
	return agent.Prefs
}

// Manager returns the agent's manager id, or empty at the top of the
// reporting line
func (d *Directory) Manager(ctx context.Context, agentID string) (string, error) {
	agent, err := d.store.GetAgent(ctx, agentID)
	if err != nil {
		return "", err
	}
	return agent.ReportingTo, nil
}

// Subordinates returns every agent reporting directly to managerID
func (d *Directory) Subordinates(ctx context.Context, managerID string) ([]*types.Agent, error) {
	agents, err := d.store.ListAgents(ctx)
	if err != nil {
		return nil, err
	}
	var out []*types.Agent
	for _, a := range agents {
		if a.ReportingTo == managerID {
			out = append(out, a)
		}
	}
	return out, nil
}

// Chain walks the reporting line upward from agentID, returning the agent's
// ancestors nearest-first. The walk is bounded so a corrupted cyclic
// reporting line cannot spin forever.
func (d *Directory) Chain(ctx context.Context, agentID string) ([]string, error) {
	const maxDepth = 32
	var chain []string
	current := agentID
	for i := 0; i < maxDepth; i++ {
		agent, err := d.store.GetAgent(ctx, current)
		if err != nil {
			if types.IsKind(err, types.ErrAgentNotFound) && len(chain) > 0 {
				return chain, nil
			}
			return nil, err
		}
		if agent.ReportingTo == "" {
			return chain, nil
		}
		chain = append(chain, agent.ReportingTo)
		current = agent.ReportingTo
	}
	return chain, nil
}

// InvalidatePrefs drops an agent's cached preferences, forcing the next
// lookup back to the store
func (d *Directory) InvalidatePrefs(agentID string) {
	d.prefs.Remove(agentID)
}
