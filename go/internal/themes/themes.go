// Package themes tracks the team's chosen colour theme and any theme forced
// on it by a powerup.
package themes

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/classroom/go/internal/localstore"
	"github.com/mcdev12/classroom/go/internal/models"
	"github.com/mcdev12/classroom/go/internal/state"
)

// StorageKey is where the user's own choice is kept.
const StorageKey = "classroom-theme"

const DefaultTheme = "default"

var (
	ErrUnknownTheme = errors.New("unknown theme")
	ErrThemeLocked  = errors.New("theme is locked by a powerup")
)

type Colors struct {
	Primary    string `json:"primary"`
	Secondary  string `json:"secondary"`
	Success    string `json:"success"`
	Warning    string `json:"warning"`
	Danger     string `json:"danger"`
	Background string `json:"background"`
	Card       string `json:"card"`
	Text       string `json:"text"`
	TextLight  string `json:"textLight"`
}

type Theme struct {
	Key    string `json:"key"`
	Name   string `json:"name"`
	Colors Colors `json:"colors"`
	// Selectable themes are offered to the user. Forced-only themes are not.
	Selectable bool `json:"selectable"`
}

// CSSVariables renders the palette as custom properties.
func (t Theme) CSSVariables() map[string]string {
	return map[string]string{
		"--theme-primary":    t.Colors.Primary,
		"--theme-secondary":  t.Colors.Secondary,
		"--theme-success":    t.Colors.Success,
		"--theme-warning":    t.Colors.Warning,
		"--theme-danger":     t.Colors.Danger,
		"--theme-background": t.Colors.Background,
		"--theme-card":       t.Colors.Card,
		"--theme-text":       t.Colors.Text,
		"--theme-text-light": t.Colors.TextLight,
	}
}

// ClassName is the body class for the theme.
func (t Theme) ClassName() string {
	return "theme-" + t.Key
}

var builtin = []Theme{
	{Key: "default", Name: "Default", Selectable: true, Colors: Colors{
		Primary: "#667eea", Secondary: "#764ba2", Success: "#10b981", Warning: "#f59e0b", Danger: "#ef4444",
		Background: "#f8f9fa", Card: "#ffffff", Text: "#1f2937", TextLight: "#6b7280",
	}},
	{Key: "dark", Name: "Dark Mode", Selectable: true, Colors: Colors{
		Primary: "#8b5cf6", Secondary: "#6366f1", Success: "#10b981", Warning: "#f59e0b", Danger: "#ef4444",
		Background: "#111827", Card: "#1f2937", Text: "#f9fafb", TextLight: "#d1d5db",
	}},
	{Key: "ocean", Name: "Ocean", Selectable: true, Colors: Colors{
		Primary: "#06b6d4", Secondary: "#0891b2", Success: "#10b981", Warning: "#f59e0b", Danger: "#ef4444",
		Background: "#ecfeff", Card: "#ffffff", Text: "#0c4a6e", TextLight: "#075985",
	}},
	{Key: "forest", Name: "Forest", Selectable: true, Colors: Colors{
		Primary: "#059669", Secondary: "#047857", Success: "#10b981", Warning: "#f59e0b", Danger: "#ef4444",
		Background: "#f0fdf4", Card: "#ffffff", Text: "#064e3b", TextLight: "#065f46",
	}},
	{Key: "sunset", Name: "Sunset", Selectable: true, Colors: Colors{
		Primary: "#f97316", Secondary: "#ea580c", Success: "#10b981", Warning: "#f59e0b", Danger: "#ef4444",
		Background: "#fff7ed", Card: "#ffffff", Text: "#7c2d12", TextLight: "#9a3412",
	}},
	{Key: "neon", Name: "Neon", Selectable: true, Colors: Colors{
		Primary: "#a855f7", Secondary: "#ec4899", Success: "#10b981", Warning: "#f59e0b", Danger: "#ef4444",
		Background: "#0f172a", Card: "#1e293b", Text: "#f1f5f9", TextLight: "#cbd5e1",
	}},
	// Near-identical foreground and background.
	{Key: models.ThemeHardToRead, Name: "Hard to Read", Colors: Colors{
		Primary: "#fde68a", Secondary: "#fef3c7", Success: "#fef9c3", Warning: "#fefce8", Danger: "#fef2f2",
		Background: "#fefce8", Card: "#fef9c3", Text: "#fef08a", TextLight: "#fefce8",
	}},
}

// Lookup returns a theme by key.
func Lookup(key string) (Theme, bool) {
	for _, t := range builtin {
		if t.Key == key {
			return t, true
		}
	}
	return Theme{}, false
}

// Available returns the themes a user may pick.
func Available() []Theme {
	var out []Theme
	for _, t := range builtin {
		if t.Selectable {
			out = append(out, t)
		}
	}
	return out
}

// Manager resolves the effective theme: a forced theme wins over the
// user's selection until the team record clears it.
type Manager struct {
	storage localstore.Storage
	timeout time.Duration

	mu       sync.Mutex
	selected string
	forced   string
	onChange []func(Theme)
}

// NewManager restores the saved selection. A missing, unknown or unreadable
// value falls back to the default theme.
func NewManager(storage localstore.Storage) *Manager {
	if storage == nil {
		storage = localstore.NewMemoryStorage()
	}
	m := &Manager{storage: storage, timeout: 2 * time.Second, selected: DefaultTheme}

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	raw, err := storage.Get(ctx, StorageKey)
	switch {
	case errors.Is(err, localstore.ErrNotExist):
	case err != nil:
		log.Warn().Err(err).Msg("could not read saved theme")
	default:
		if t, ok := Lookup(string(raw)); ok && t.Selectable {
			m.selected = t.Key
		}
	}
	return m
}

// Select saves the user's choice. It is refused while a theme is forced.
func (m *Manager) Select(ctx context.Context, key string) error {
	t, ok := Lookup(key)
	if !ok || !t.Selectable {
		return fmt.Errorf("%w: %s", ErrUnknownTheme, key)
	}

	m.mu.Lock()
	if m.forced != "" {
		m.mu.Unlock()
		return ErrThemeLocked
	}
	changed := m.selected != key
	m.selected = key
	m.mu.Unlock()

	if err := m.storage.Set(ctx, StorageKey, []byte(key)); err != nil {
		log.Warn().Err(err).Str("theme", key).Msg("could not save theme")
	}
	if changed {
		m.changed()
	}
	return nil
}

// Apply takes the forced theme from the local team's record.
func (m *Manager) Apply(team models.Team) {
	forced := ""
	if team.ForcedTheme != nil {
		if _, ok := Lookup(*team.ForcedTheme); ok {
			forced = *team.ForcedTheme
		} else {
			log.Warn().Str("theme", *team.ForcedTheme).Msg("unknown forced theme, using hard_to_read")
			forced = models.ThemeHardToRead
		}
	}

	m.mu.Lock()
	changed := m.forced != forced
	m.forced = forced
	m.mu.Unlock()
	if changed {
		log.Info().Str("forced", forced).Msg("forced theme changed")
		m.changed()
	}
}

// Bind keeps the forced theme in step with the local team in store.
func (m *Manager) Bind(store *state.Store) state.Subscription {
	apply := func() {
		if team, ok := store.Team(store.TeamID()); ok {
			m.Apply(team)
		}
	}
	apply()
	return store.On(state.KeyTeams, func(state.Key, any, any) { apply() })
}

// Effective is the theme to render now.
func (m *Manager) Effective() Theme {
	m.mu.Lock()
	key := m.selected
	if m.forced != "" {
		key = m.forced
	}
	m.mu.Unlock()
	t, ok := Lookup(key)
	if !ok {
		t, _ = Lookup(DefaultTheme)
	}
	return t
}

// Selected is the user's own choice, which may be hidden by a forced theme.
func (m *Manager) Selected() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selected
}

// SelectorEnabled is false while a theme is forced.
func (m *Manager) SelectorEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.forced == ""
}

// OnChange registers fn to run with the new effective theme.
func (m *Manager) OnChange(fn func(Theme)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = append(m.onChange, fn)
}

func (m *Manager) changed() {
	m.mu.Lock()
	hooks := append([]func(Theme){}, m.onChange...)
	m.mu.Unlock()
	t := m.Effective()
	for _, fn := range hooks {
		fn(t)
	}
}
