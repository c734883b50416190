package relay

import (
	"sync"

	"go.uber.org/zap"
)

// Global amount bounds; a Group B chat with no configured range accepts
// anything inside them.
const (
	GlobalMinAmount = 20
	GlobalMaxAmount = 5000
)

// Range is the inclusive amount interval a Group B chat accepts.
type Range struct {
	Min int
	Max int
}

const (
	keyAmountRanges = "group_b_amount_ranges"
	keyPercentages  = "group_b_percentages"
	keyClickModes   = "group_b_click_mode"
	keySettings     = "bot_settings"
)

type storedRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

type storedSettings struct {
	ForwardingEnabled     bool `json:"forwarding_enabled"`
	RecentFallbackEnabled bool `json:"recent_fallback_enabled"`
}

// Prefs holds per-chat routing preferences (amount ranges, distribution
// weights, display modes) and the process-wide toggles. Write-through
// persistence like Roles.
type Prefs struct {
	mu         sync.RWMutex
	ranges     map[int64]Range
	weights    map[int64]int
	clickModes map[int64]bool

	forwardingEnabled bool
	// recentFallbackEnabled gates the last-resort lone-number matcher,
	// a known source of mismatches under concurrent requests.
	recentFallbackEnabled bool

	store StateStore
}

func NewPrefs(st StateStore) (*Prefs, error) {
	p := &Prefs{
		ranges:                map[int64]Range{},
		weights:               map[int64]int{},
		clickModes:            map[int64]bool{},
		forwardingEnabled:     true,
		recentFallbackEnabled: true,
		store:                 st,
	}
	if err := p.load(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Prefs) load() error {
	var ranges map[string]storedRange
	if _, err := p.store.Load(keyAmountRanges, &ranges); err != nil {
		return err
	}
	for k, v := range ranges {
		if id, ok := parseIDKey(k); ok {
			p.ranges[id] = Range{Min: v.Min, Max: v.Max}
		}
	}

	var weights map[string]int
	if _, err := p.store.Load(keyPercentages, &weights); err != nil {
		return err
	}
	for k, v := range weights {
		if id, ok := parseIDKey(k); ok {
			p.weights[id] = v
		}
	}

	var clicks map[string]bool
	if _, err := p.store.Load(keyClickModes, &clicks); err != nil {
		return err
	}
	for k, v := range clicks {
		if id, ok := parseIDKey(k); ok {
			p.clickModes[id] = v
		}
	}

	var settings storedSettings
	found, err := p.store.Load(keySettings, &settings)
	if err != nil {
		return err
	}
	if found {
		p.forwardingEnabled = settings.ForwardingEnabled
		p.recentFallbackEnabled = settings.RecentFallbackEnabled
	}
	return nil
}

// SetRange validates and stores a chat's accepted amount interval.
func (p *Prefs) SetRange(chatID int64, min, max int) bool {
	if min < GlobalMinAmount || max > GlobalMaxAmount || min >= max {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ranges[chatID] = Range{Min: min, Max: max}
	p.persistRanges()
	return true
}

// RemoveRange deletes a chat's range; the chat falls back to the global
// bounds. Returns the removed range.
func (p *Prefs) RemoveRange(chatID int64) (Range, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.ranges[chatID]
	if ok {
		delete(p.ranges, chatID)
		p.persistRanges()
	}
	return r, ok
}

func (p *Prefs) RangeOf(chatID int64) (Range, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	r, ok := p.ranges[chatID]
	return r, ok
}

// Ranges returns a copy of the configured ranges.
func (p *Prefs) Ranges() map[int64]Range {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[int64]Range, len(p.ranges))
	for k, v := range p.ranges {
		out[k] = v
	}
	return out
}

func (p *Prefs) SetWeight(chatID int64, percent int) bool {
	if percent < 0 || percent > 100 {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.weights[chatID] = percent
	p.persistWeights()
	return true
}

func (p *Prefs) ResetWeights() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.weights = map[int64]int{}
	p.persistWeights()
}

func (p *Prefs) Weights() map[int64]int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[int64]int, len(p.weights))
	for k, v := range p.weights {
		out[k] = v
	}
	return out
}

// ToggleClickMode flips a chat's display mode and returns the new state.
func (p *Prefs) ToggleClickMode(chatID int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clickModes[chatID] = !p.clickModes[chatID]
	clicks := map[string]bool{}
	for id, v := range p.clickModes {
		clicks[idKey(id)] = v
	}
	if err := p.store.Save(keyClickModes, clicks); err != nil {
		zap.L().Error("persist click modes failed", zap.Error(err))
	}
	return p.clickModes[chatID]
}

func (p *Prefs) ClickMode(chatID int64) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.clickModes[chatID]
}

// ForwardingEnabled reports whether Group B responses are relayed to Group A.
// When disabled, local state transitions still happen; only the relay send
// is skipped.
func (p *Prefs) ForwardingEnabled() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.forwardingEnabled
}

func (p *Prefs) SetForwarding(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.forwardingEnabled = enabled
	p.persistSettings()
}

func (p *Prefs) RecentFallbackEnabled() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.recentFallbackEnabled
}

func (p *Prefs) SetRecentFallback(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recentFallbackEnabled = enabled
	p.persistSettings()
}

func (p *Prefs) persistRanges() {
	ranges := map[string]storedRange{}
	for id, r := range p.ranges {
		ranges[idKey(id)] = storedRange{Min: r.Min, Max: r.Max}
	}
	if err := p.store.Save(keyAmountRanges, ranges); err != nil {
		zap.L().Error("persist amount ranges failed", zap.Error(err))
	}
}

func (p *Prefs) persistWeights() {
	weights := map[string]int{}
	for id, w := range p.weights {
		weights[idKey(id)] = w
	}
	if err := p.store.Save(keyPercentages, weights); err != nil {
		zap.L().Error("persist percentages failed", zap.Error(err))
	}
}

func (p *Prefs) persistSettings() {
	s := storedSettings{
		ForwardingEnabled:     p.forwardingEnabled,
		RecentFallbackEnabled: p.recentFallbackEnabled,
	}
	if err := p.store.Save(keySettings, s); err != nil {
		zap.L().Error("persist settings failed", zap.Error(err))
	}
}
