package utils

import (
	"errors"
	"math/rand"
	"sync"
	"time"
)

// ErrNoAvailableKeys is returned when every key is blacklisted or the pool is empty
var ErrNoAvailableKeys = errors.New("no available API keys")

// APIKeyPool manages a pool of API keys with rotation and blacklisting
type APIKeyPool struct {
	keys        []string
	usageCounts map[string]int
	failures    map[string]int
	blacklist   map[string]time.Time
	mu          sync.Mutex
}

// NewAPIKeyPool creates a new API key pool; it returns nil for no keys
func NewAPIKeyPool(keys []string) *APIKeyPool {
	if len(keys) == 0 {
		return nil
	}

	return &APIKeyPool{
		keys:        keys,
		usageCounts: make(map[string]int),
		failures:    make(map[string]int),
		blacklist:   make(map[string]time.Time),
	}
}

// Len returns the number of keys in the pool
func (p *APIKeyPool) Len() int {
	if p == nil {
		return 0
	}
	return len(p.keys)
}

// GetRandomKey returns an available API key.
// Less-used keys are preferred; blacklisted keys are skipped.
func (p *APIKeyPool) GetRandomKey() (string, error) {
	if p == nil {
		return "", ErrNoAvailableKeys
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	available := p.availableKeys(time.Now())
	if len(available) == 0 {
		return "", ErrNoAvailableKeys
	}

	minUsage := -1
	for _, key := range available {
		if count := p.usageCounts[key]; minUsage == -1 || count < minUsage {
			minUsage = count
		}
	}

	// Pick among keys within half a rotation of the least used one
	candidates := make([]string, 0, len(available))
	threshold := minUsage + len(available)/2
	for _, key := range available {
		if p.usageCounts[key] <= threshold {
			candidates = append(candidates, key)
		}
	}

	selected := candidates[rand.Intn(len(candidates))]
	p.usageCounts[selected]++
	return selected, nil
}

// MarkSuccess clears the failure streak of a key
func (p *APIKeyPool) MarkSuccess(key string) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.failures, key)
}

// MarkFailed blacklists a key. Consecutive failures extend the blacklist
// linearly, capped at ten times retryAfter.
func (p *APIKeyPool) MarkFailed(key string, retryAfter time.Duration) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.failures[key]++
	streak := min(p.failures[key], 10)
	p.blacklist[key] = time.Now().Add(retryAfter * time.Duration(streak))
}

// availableKeys returns keys that are not blacklisted. Must be called with lock held.
func (p *APIKeyPool) availableKeys(now time.Time) []string {
	available := make([]string, 0, len(p.keys))
	for _, key := range p.keys {
		if until, ok := p.blacklist[key]; ok {
			if now.Before(until) {
				continue
			}
			delete(p.blacklist, key)
		}
		available = append(available, key)
	}
	return available
}

// GetStats returns usage statistics without exposing the keys
func (p *APIKeyPool) GetStats() map[string]any {
	if p == nil {
		return map[string]any{"total_keys": 0, "available_keys": 0, "blacklisted": 0}
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	available := p.availableKeys(time.Now())
	return map[string]any{
		"total_keys":     len(p.keys),
		"available_keys": len(available),
		"blacklisted":    len(p.keys) - len(available),
	}
}
