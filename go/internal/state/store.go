// Package state holds the local client's view of the game and notifies
// per-key listeners when it changes.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"maps"
	"reflect"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/classroom/go/internal/localstore"
	"github.com/mcdev12/classroom/go/internal/models"
)

// Listener receives the key that changed with its new and previous values.
// Wildcard listeners are also told which key changed. After Reset, wildcard
// listeners get (Wildcard, nil, nil).
type Listener func(key Key, newValue, oldValue any)

// Subscription is returned by On and passed to Off.
type Subscription struct {
	key Key
	id  int
}

// Snapshot is the identity subset of the store that survives a restart.
type Snapshot struct {
	SessionID   uuid.UUID `json:"sessionId"`
	SessionCode string    `json:"sessionCode"`
	TeamID      uuid.UUID `json:"teamId"`
	TeamName    string    `json:"teamName"`
	IsAdmin     bool      `json:"isAdmin"`
}

// Empty reports whether the snapshot has no session.
func (s Snapshot) Empty() bool {
	return s.SessionID == uuid.Nil
}

// Store is the single source of truth for local state. It is safe for
// concurrent use; listeners run outside the lock on the goroutine that made
// the change.
type Store struct {
	storage      localstore.Storage
	fetchTimeout time.Duration

	mu        sync.RWMutex
	values    map[Key]any
	listeners map[Key]map[int]Listener
	nextID    int
}

// Option configures a Store.
type Option func(*Store)

// WithFetchTimeout bounds each individual fetch in SyncState.
func WithFetchTimeout(d time.Duration) Option {
	return func(s *Store) { s.fetchTimeout = d }
}

// New creates a store backed by storage for durable snapshots and caches.
func New(storage localstore.Storage, opts ...Option) *Store {
	if storage == nil {
		storage = localstore.NewMemoryStorage()
	}
	s := &Store{
		storage:      storage,
		fetchTimeout: 3 * time.Second,
		values:       defaults(),
		listeners:    make(map[Key]map[int]Listener),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func defaults() map[Key]any {
	return map[Key]any{
		KeySessionID:       uuid.Nil,
		KeySessionCode:     "",
		KeyTeamID:          uuid.Nil,
		KeyTeamName:        "",
		KeyIsAdmin:         false,
		KeyCurrentQuestion: (*models.Question)(nil),
		KeyAnswers:         map[uuid.UUID]models.Answer{},
		KeyTeams:           []models.Team(nil),
		KeyPowerups:        []models.PowerupType(nil),
		KeyConnectionState: ConnectionDisconnected,
	}
}

// Get returns the raw value for key. Callers must not mutate it; use the typed
// getters for copies.
func (s *Store) Get(key Key) any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values[key]
}

// Set stores value and notifies listeners of key with (value, previous) even
// when the value is unchanged. Setting an identity field persists the snapshot.
func (s *Store) Set(key Key, value any) {
	s.mu.Lock()
	old := s.values[key]
	s.values[key] = value
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if identityKey(key) {
		s.persistSnapshot(snap)
	}
	s.notify(key, value, old)
}

// Update applies every entry, persists the snapshot at most once, then
// notifies once per key whose value actually changed.
func (s *Store) Update(partial map[Key]any) {
	type change struct {
		key      Key
		new, old any
	}
	var changes []change
	persist := false

	s.mu.Lock()
	for k, v := range partial {
		persist = persist || identityKey(k)
		old := s.values[k]
		s.values[k] = v
		if !reflect.DeepEqual(old, v) {
			changes = append(changes, change{k, v, old})
		}
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if persist {
		s.persistSnapshot(snap)
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].key < changes[j].key })
	for _, c := range changes {
		s.notify(c.key, c.new, c.old)
	}
}

// On subscribes fn to key, or to every key with Wildcard.
func (s *Store) On(key Key, fn Listener) Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	if s.listeners[key] == nil {
		s.listeners[key] = make(map[int]Listener)
	}
	s.listeners[key][s.nextID] = fn
	return Subscription{key: key, id: s.nextID}
}

// Off removes a subscription. Removing twice is a no-op.
func (s *Store) Off(sub Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.listeners[sub.key], sub.id)
}

func (s *Store) notify(key Key, newValue, oldValue any) {
	s.mu.RLock()
	direct := sortedListeners(s.listeners[key])
	var wild []Listener
	if key != Wildcard {
		wild = sortedListeners(s.listeners[Wildcard])
	}
	s.mu.RUnlock()

	for _, fn := range direct {
		call(fn, key, newValue, oldValue)
	}
	for _, fn := range wild {
		call(fn, key, newValue, oldValue)
	}
}

// sortedListeners returns listeners in subscription order.
func sortedListeners(m map[int]Listener) []Listener {
	ids := slices.Sorted(maps.Keys(m))
	out := make([]Listener, 0, len(ids))
	for _, id := range ids {
		out = append(out, m[id])
	}
	return out
}

func call(fn Listener, key Key, newValue, oldValue any) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("key", string(key)).Msg("state listener panicked")
		}
	}()
	fn(key, newValue, oldValue)
}

func (s *Store) snapshotLocked() Snapshot {
	snap := Snapshot{}
	snap.SessionID, _ = s.values[KeySessionID].(uuid.UUID)
	snap.SessionCode, _ = s.values[KeySessionCode].(string)
	snap.TeamID, _ = s.values[KeyTeamID].(uuid.UUID)
	snap.TeamName, _ = s.values[KeyTeamName].(string)
	snap.IsAdmin, _ = s.values[KeyIsAdmin].(bool)
	return snap
}

func (s *Store) storageCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.fetchTimeout)
}

func (s *Store) persistSnapshot(snap Snapshot) {
	raw, err := json.Marshal(snap)
	if err != nil {
		log.Warn().Err(err).Msg("failed to encode state snapshot")
		return
	}
	ctx, cancel := s.storageCtx()
	defer cancel()
	if err := s.storage.Set(ctx, SnapshotKey, raw); err != nil {
		log.Warn().Err(err).Msg("failed to persist state snapshot")
	}
}

// LoadState rehydrates the identity fields from local storage. Volatile
// fields are left alone; SyncState fills them. A missing or corrupt snapshot
// is treated as empty.
func (s *Store) LoadState() Snapshot {
	ctx, cancel := s.storageCtx()
	defer cancel()

	raw, err := s.storage.Get(ctx, SnapshotKey)
	if err != nil {
		if !errors.Is(err, localstore.ErrNotExist) {
			log.Warn().Err(err).Msg("local storage unavailable, starting empty")
		}
		return Snapshot{}
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		log.Warn().Err(err).Msg("corrupt state snapshot, starting empty")
		return Snapshot{}
	}

	s.Update(map[Key]any{
		KeySessionID:   snap.SessionID,
		KeySessionCode: snap.SessionCode,
		KeyTeamID:      snap.TeamID,
		KeyTeamName:    snap.TeamName,
		KeyIsAdmin:     snap.IsAdmin,
	})
	return snap
}

// Reset restores every field to its default, erases the durable snapshot and
// fires the wildcard listeners once.
func (s *Store) Reset() {
	s.mu.Lock()
	s.values = defaults()
	s.mu.Unlock()

	ctx, cancel := s.storageCtx()
	defer cancel()
	if err := s.storage.Remove(ctx, SnapshotKey); err != nil {
		log.Warn().Err(err).Msg("failed to erase state snapshot")
	}

	s.mu.RLock()
	wild := sortedListeners(s.listeners[Wildcard])
	s.mu.RUnlock()
	for _, fn := range wild {
		call(fn, Wildcard, nil, nil)
	}
}

// Typed accessors. Each returns a copy.

func (s *Store) SessionID() uuid.UUID {
	v, _ := s.Get(KeySessionID).(uuid.UUID)
	return v
}

func (s *Store) SessionCode() string {
	v, _ := s.Get(KeySessionCode).(string)
	return v
}

func (s *Store) TeamID() uuid.UUID {
	v, _ := s.Get(KeyTeamID).(uuid.UUID)
	return v
}

func (s *Store) TeamName() string {
	v, _ := s.Get(KeyTeamName).(string)
	return v
}

func (s *Store) IsAdmin() bool {
	v, _ := s.Get(KeyIsAdmin).(bool)
	return v
}

func (s *Store) ConnectionState() string {
	v, _ := s.Get(KeyConnectionState).(string)
	return v
}

// CurrentQuestion returns the cached active question or nil.
func (s *Store) CurrentQuestion() *models.Question {
	q, _ := s.Get(KeyCurrentQuestion).(*models.Question)
	return q.Clone()
}

// Teams returns the cached team list.
func (s *Store) Teams() []models.Team {
	teams, _ := s.Get(KeyTeams).([]models.Team)
	out := make([]models.Team, len(teams))
	for i, t := range teams {
		out[i] = t.Clone()
	}
	return out
}

// Team returns one cached team.
func (s *Store) Team(id uuid.UUID) (models.Team, bool) {
	for _, t := range s.Teams() {
		if t.ID == id {
			return t, true
		}
	}
	return models.Team{}, false
}

// Powerups returns the local team's cached inventory.
func (s *Store) Powerups() []models.PowerupType {
	p, _ := s.Get(KeyPowerups).([]models.PowerupType)
	return slices.Clone(p)
}

// Answer returns the local team's cached answer for a question.
func (s *Store) Answer(questionID uuid.UUID) (models.Answer, bool) {
	answers, _ := s.Get(KeyAnswers).(map[uuid.UUID]models.Answer)
	a, ok := answers[questionID]
	return a, ok
}

// SetAnswer caches the local team's answer under its question.
func (s *Store) SetAnswer(a models.Answer) {
	s.mu.Lock()
	old, _ := s.values[KeyAnswers].(map[uuid.UUID]models.Answer)
	next := maps.Clone(old)
	if next == nil {
		next = map[uuid.UUID]models.Answer{}
	}
	prev, had := next[a.QuestionID]
	next[a.QuestionID] = a
	s.values[KeyAnswers] = next
	s.mu.Unlock()

	if had && reflect.DeepEqual(prev, a) {
		return
	}
	s.notify(KeyAnswers, next, old)
}
