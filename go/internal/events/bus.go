// Package events carries local UI events and the typed powerup payloads.
package events

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/classroom/go/internal/models"
)

// Name identifies a local event.
type Name string

const (
	// PowerupReceived fires when a character injection targets the local team.
	PowerupReceived Name = "powerupReceived"
	// EarlyLockReceived fires when an early lock targets the local team.
	EarlyLockReceived Name = "earlyLockReceived"
	ThemeForced       Name = "themeForced"
	PowerupUsed       Name = "powerupUsed"
	QuestionStarted   Name = "questionStarted"
	QuestionEnded     Name = "questionEnded"
	AllLocked         Name = "allLocked"
)

// Event is what handlers receive. Only the fields relevant to Name are set.
type Event struct {
	Name     Name                 `json:"name"`
	Powerup  *models.PowerupEvent `json:"powerup,omitempty"`
	Payload  Payload              `json:"payload,omitempty"`
	Question *models.Question     `json:"question,omitempty"`
}

// Handler reacts to an event.
type Handler func(Event)

// Bus is a synchronous in-process dispatcher. Handlers run on the goroutine
// that calls Trigger.
type Bus struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[Name]map[int]Handler
}

func NewBus() *Bus {
	return &Bus{handlers: make(map[Name]map[int]Handler)}
}

// On registers h for name and returns a function that unregisters it.
func (b *Bus) On(name Name, h Handler) (off func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	if b.handlers[name] == nil {
		b.handlers[name] = make(map[int]Handler)
	}
	b.handlers[name][id] = h
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers[name], id)
	}
}

// OnAny registers h for every named event.
func (b *Bus) OnAny(h Handler) (off func()) {
	names := []Name{PowerupReceived, EarlyLockReceived, ThemeForced, PowerupUsed, QuestionStarted, QuestionEnded, AllLocked}
	offs := make([]func(), 0, len(names))
	for _, n := range names {
		offs = append(offs, b.On(n, h))
	}
	return func() {
		for _, off := range offs {
			off()
		}
	}
}

// Trigger delivers e to the handlers registered for e.Name.
func (b *Bus) Trigger(e Event) {
	b.mu.RLock()
	hs := make([]Handler, 0, len(b.handlers[e.Name]))
	for _, h := range b.handlers[e.Name] {
		hs = append(hs, h)
	}
	b.mu.RUnlock()

	for _, h := range hs {
		b.deliver(h, e)
	}
}

func (b *Bus) deliver(h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("event", string(e.Name)).Msg("event handler panicked")
		}
	}()
	h(e)
}
