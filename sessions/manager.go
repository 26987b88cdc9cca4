// Package sessions is the authoritative in-memory map of CDP targets,
// debugging sessions, page bindings, and agent focus. It is a pure state
// container: no I/O, no event dispatch, every method returns before any
// suspension point, so interleaved handler work can never observe a
// half-applied update.
package sessions

import (
	"sync"
	"time"
)

// Source records how a target became known.
type Source string

const (
	// SourceTab marks targets reported by the agent's tab list. They are the
	// externally visible tabs, so losing their last CDP session marks them
	// detached instead of deleting them.
	SourceTab Source = "tab"
	// SourceCDP marks targets discovered through Target.attachedToTarget.
	SourceCDP Source = "cdp"
	// SourceUnknown is the fallback for targets seen before their origin is
	// established.
	SourceUnknown Source = "unknown"
)

// TargetType distinguishes top-level pages from iframes.
type TargetType string

const (
	TargetPage   TargetType = "page"
	TargetIFrame TargetType = "iframe"
)

// Target is one browser tab or frame as known to CDP. TargetID is opaque and
// stable for the target's lifetime.
type Target struct {
	ID          string
	Type        TargetType
	URL         string
	Title       string
	Attached    bool
	Source      Source
	FirstSeenAt time.Time
	LastSeenAt  time.Time
}

// Session is one CDP debugging channel over a Target. A Target may carry
// several concurrent Sessions during handoff.
type Session struct {
	ID         string
	TargetID   string
	AttachedAt time.Time
	LastSeenAt time.Time
}

// Tab describes one entry of the agent's authoritative tab list, fed to
// SyncTabs. TargetID may be empty for tabs not yet bound to a target.
type Tab struct {
	PageID   string
	TargetID string
	URL      string
	Title    string
}

// Manager tracks targets, sessions, page bindings, and focus. All methods
// are synchronous and guarded by a single RWMutex.
type Manager struct {
	mu               sync.RWMutex
	targets          map[string]*Target
	sessions         map[string]*Session
	sessionsByTarget map[string]map[string]struct{}
	pageTargets      map[string]string // page id -> target id
	focused          string            // "" when nothing is focused
}

// NewManager creates an empty Manager.
func NewManager() *Manager {
	return &Manager{
		targets:          make(map[string]*Target),
		sessions:         make(map[string]*Session),
		sessionsByTarget: make(map[string]map[string]struct{}),
		pageTargets:      make(map[string]string),
	}
}

// UpsertTarget inserts or updates a target. For an existing target the
// source is only upgraded from unknown; a tab-sourced target stays
// tab-sourced even when CDP later reports it. Returns true when the target
// was newly created.
func (m *Manager) UpsertTarget(t Target) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upsertTargetLocked(t)
}

func (m *Manager) upsertTargetLocked(t Target) bool {
	now := time.Now()
	existing, ok := m.targets[t.ID]
	if !ok {
		if t.Source == "" {
			t.Source = SourceUnknown
		}
		if t.FirstSeenAt.IsZero() {
			t.FirstSeenAt = now
		}
		t.LastSeenAt = now
		cp := t
		m.targets[t.ID] = &cp
		return true
	}

	existing.Type = t.Type
	existing.URL = t.URL
	existing.Title = t.Title
	existing.Attached = t.Attached
	existing.LastSeenAt = now
	if existing.Source == SourceUnknown && t.Source != "" {
		existing.Source = t.Source
	}
	return false
}

// UpsertSession inserts or updates a session and keeps the target<->session
// index consistent. A session that moved to a new target (handoff) is
// rewired; if its old target was CDP-sourced and lost its last session, the
// old target is removed.
func (m *Manager) UpsertSession(s Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	existing, ok := m.sessions[s.ID]
	if ok && existing.TargetID != s.TargetID {
		m.unindexSessionLocked(existing.TargetID, s.ID)
		m.reapTargetLocked(existing.TargetID)
	}
	if !ok {
		if s.AttachedAt.IsZero() {
			s.AttachedAt = now
		}
		s.LastSeenAt = now
		cp := s
		m.sessions[s.ID] = &cp
	} else {
		existing.TargetID = s.TargetID
		existing.LastSeenAt = now
	}

	idx, ok := m.sessionsByTarget[s.TargetID]
	if !ok {
		idx = make(map[string]struct{})
		m.sessionsByTarget[s.TargetID] = idx
	}
	idx[s.ID] = struct{}{}
}

// SyncTabs reconciles the agent's authoritative tab list against tracked
// targets. Tabs without a target id are assigned one via newID and bound
// page->target. Tab-sourced targets absent from the list are removed, not
// merely detached: the tab list is the external truth for them. Focus moves
// to the tab at focusedIndex (out-of-range clears focus).
func (m *Manager) SyncTabs(tabs []Tab, focusedIndex int, newID func() string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]struct{}, len(tabs))
	for i := range tabs {
		tab := &tabs[i]
		if tab.TargetID == "" {
			if bound, ok := m.pageTargets[tab.PageID]; ok {
				tab.TargetID = bound
			} else {
				tab.TargetID = newID()
			}
		}
		seen[tab.TargetID] = struct{}{}

		m.upsertTargetLocked(Target{
			ID:       tab.TargetID,
			Type:     TargetPage,
			URL:      tab.URL,
			Title:    tab.Title,
			Attached: true,
			Source:   SourceTab,
		})
		// Tab sync is authoritative about the source.
		m.targets[tab.TargetID].Source = SourceTab
		m.pageTargets[tab.PageID] = tab.TargetID
	}

	// Tab-sourced targets missing from the new list are hard-removed.
	for id, t := range m.targets {
		if t.Source != SourceTab {
			continue
		}
		if _, ok := seen[id]; !ok {
			m.removeTargetLocked(id)
		}
	}

	if focusedIndex >= 0 && focusedIndex < len(tabs) {
		m.focused = tabs[focusedIndex].TargetID
	} else {
		m.focused = ""
	}
}

// HandleTargetAttached records a CDP Target.attachedToTarget notification.
// Returns true when the target was newly created, so the caller can emit a
// creation event exactly once per target.
func (m *Manager) HandleTargetAttached(sessionID string, t Target) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t.Source == "" {
		t.Source = SourceCDP
	}
	t.Attached = true
	created := m.upsertTargetLocked(t)
	m.targets[t.ID].Attached = true

	now := time.Now()
	if existing, ok := m.sessions[sessionID]; ok {
		if existing.TargetID != t.ID {
			m.unindexSessionLocked(existing.TargetID, sessionID)
			m.reapTargetLocked(existing.TargetID)
		}
		existing.TargetID = t.ID
		existing.LastSeenAt = now
	} else {
		m.sessions[sessionID] = &Session{
			ID: sessionID, TargetID: t.ID, AttachedAt: now, LastSeenAt: now,
		}
	}
	idx, ok := m.sessionsByTarget[t.ID]
	if !ok {
		idx = make(map[string]struct{})
		m.sessionsByTarget[t.ID] = idx
	}
	idx[sessionID] = struct{}{}

	return created
}

// HandleTargetInfoChanged applies a Target.targetInfoChanged notification.
// Returns whether the URL changed from the tracked value; title-only changes
// report false so callers don't mistake them for navigations. Unknown
// targets are created (info-changed can race ahead of attach) and report no
// navigation.
func (m *Manager) HandleTargetInfoChanged(t Target) (urlChanged bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.targets[t.ID]
	if !ok {
		if t.Source == "" {
			t.Source = SourceCDP
		}
		m.upsertTargetLocked(t)
		return false
	}

	urlChanged = existing.URL != t.URL && t.URL != ""
	existing.URL = t.URL
	existing.Title = t.Title
	if t.Type != "" {
		existing.Type = t.Type
	}
	existing.LastSeenAt = time.Now()
	return urlChanged
}

// HandleTargetDetached records a Target.detachedFromTarget notification.
// The target is removed only when this was its last session and it is not
// tab-sourced; a tab-sourced target is marked detached and kept so the
// agent's tab list stays consistent. Returns the target id and whether the
// target was actually removed.
func (m *Manager) HandleTargetDetached(sessionID string) (targetID string, removed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return "", false
	}
	targetID = s.TargetID
	delete(m.sessions, sessionID)
	m.unindexSessionLocked(targetID, sessionID)

	if len(m.sessionsByTarget[targetID]) > 0 {
		return targetID, false
	}

	t, ok := m.targets[targetID]
	if !ok {
		return targetID, false
	}
	if t.Source == SourceTab {
		t.Attached = false
		return targetID, false
	}
	m.removeTargetLocked(targetID)
	return targetID, true
}

// RemoveTarget drops a target unconditionally, along with its sessions and
// page bindings.
func (m *Manager) RemoveTarget(targetID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeTargetLocked(targetID)
}

// RemoveSession drops a session; the owning target follows the same
// keep-or-remove rule as HandleTargetDetached.
func (m *Manager) RemoveSession(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return
	}
	delete(m.sessions, sessionID)
	m.unindexSessionLocked(s.TargetID, sessionID)
	m.reapTargetLocked(s.TargetID)
}

// BindPage binds a process-local page handle id to a target id.
func (m *Manager) BindPage(pageID, targetID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pageTargets[pageID] = targetID
}

// SetFocus sets the focused target. Unknown ids clear focus.
func (m *Manager) SetFocus(targetID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.targets[targetID]; ok {
		m.focused = targetID
	} else {
		m.focused = ""
	}
}

// GetTarget returns a copy of the tracked target, or nil.
func (m *Manager) GetTarget(targetID string) *Target {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.targets[targetID]
	if !ok {
		return nil
	}
	cp := *t
	return &cp
}

// GetSession returns a copy of the tracked session, or nil.
func (m *Manager) GetSession(sessionID string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil
	}
	cp := *s
	return &cp
}

// TargetIDForSession resolves a session id to its target id.
func (m *Manager) TargetIDForSession(sessionID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return "", false
	}
	return s.TargetID, true
}

// TargetIDForPage resolves a page id to its bound target id.
func (m *Manager) TargetIDForPage(pageID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.pageTargets[pageID]
	return id, ok
}

// SessionsForTarget lists the ids of sessions attached to a target.
func (m *Manager) SessionsForTarget(targetID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	idx := m.sessionsByTarget[targetID]
	out := make([]string, 0, len(idx))
	for id := range idx {
		out = append(out, id)
	}
	return out
}

// FocusedTargetID returns the focused target id, or "" when none.
func (m *Manager) FocusedTargetID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.focused
}

// Targets returns copies of all tracked targets.
func (m *Manager) Targets() []Target {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Target, 0, len(m.targets))
	for _, t := range m.targets {
		out = append(out, *t)
	}
	return out
}

// Sessions returns copies of all tracked sessions.
func (m *Manager) Sessions() []Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, *s)
	}
	return out
}

// Clear drops all state. Used on full browser stop.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.targets = make(map[string]*Target)
	m.sessions = make(map[string]*Session)
	m.sessionsByTarget = make(map[string]map[string]struct{})
	m.pageTargets = make(map[string]string)
	m.focused = ""
}

func (m *Manager) unindexSessionLocked(targetID, sessionID string) {
	if idx, ok := m.sessionsByTarget[targetID]; ok {
		delete(idx, sessionID)
		if len(idx) == 0 {
			delete(m.sessionsByTarget, targetID)
		}
	}
}

// reapTargetLocked applies the keep-or-remove rule after a target lost a
// session: CDP-sourced targets with zero sessions go away, tab-sourced ones
// are marked detached and kept.
func (m *Manager) reapTargetLocked(targetID string) {
	if len(m.sessionsByTarget[targetID]) > 0 {
		return
	}
	t, ok := m.targets[targetID]
	if !ok {
		return
	}
	if t.Source == SourceTab {
		t.Attached = false
		return
	}
	m.removeTargetLocked(targetID)
}

func (m *Manager) removeTargetLocked(targetID string) {
	delete(m.targets, targetID)
	if idx, ok := m.sessionsByTarget[targetID]; ok {
		for sid := range idx {
			delete(m.sessions, sid)
		}
		delete(m.sessionsByTarget, targetID)
	}
	for pid, tid := range m.pageTargets {
		if tid == targetID {
			delete(m.pageTargets, pid)
		}
	}
	if m.focused == targetID {
		m.focused = ""
	}
}
