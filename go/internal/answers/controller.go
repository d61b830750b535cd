// Package answers owns the local answer field: the race between the user
// typing, periodic outbound sync and inbound values arriving from polls.
package answers

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/classroom/go/internal/classroom"
	"github.com/mcdev12/classroom/go/internal/models"
	"github.com/mcdev12/classroom/go/internal/scheduler"
)

const (
	debounceKey = "answer:debounce"
	backupKey   = "answer:backup"
)

// Writer saves answer text.
type Writer interface {
	UpdateAnswerText(ctx context.Context, id uuid.UUID, text string) (*models.Answer, error)
}

// Settings are the controller's timing knobs.
type Settings struct {
	// TypingWindow is how long after the last keystroke the field still counts as being edited.
	TypingWindow time.Duration
	// Debounce coalesces keystrokes into one write after this much quiet.
	Debounce time.Duration
	// BackupInterval is the cadence of the sync that runs while the user is idle.
	BackupInterval time.Duration
	// WriteTimeout bounds each outbound write made from a timer.
	WriteTimeout time.Duration
}

func DefaultSettings() Settings {
	return Settings{
		TypingWindow:   5 * time.Second,
		Debounce:       500 * time.Millisecond,
		BackupInterval: 3 * time.Second,
		WriteTimeout:   3 * time.Second,
	}
}

// Controller reconciles one answer field. Focus, Blur and Type are driven by
// the UI layer; ApplyInbound by the sync loop.
type Controller struct {
	writer   Writer
	clock    clockwork.Clock
	tasks    *scheduler.Scheduler
	settings Settings

	mu           sync.Mutex
	answerID     uuid.UUID
	questionID   uuid.UUID
	value        string
	serverValue  string
	focused      bool
	lastEditedAt time.Time
	locked       bool
	disabled     bool
	onChange     []func(string)
}

func NewController(writer Writer, clock clockwork.Clock, settings Settings) *Controller {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Controller{
		writer:   writer,
		clock:    clock,
		tasks:    scheduler.New(clock),
		settings: settings,
	}
}

// Load binds the controller to an answer, replacing whatever was shown.
func (c *Controller) Load(a models.Answer) {
	c.tasks.Cancel(debounceKey)
	c.mu.Lock()
	c.answerID = a.ID
	c.questionID = a.QuestionID
	c.value = a.Answer
	c.serverValue = a.Answer
	c.locked = a.Locked
	c.disabled = a.Locked
	c.lastEditedAt = time.Time{}
	value := c.value
	c.mu.Unlock()
	c.changed(value)
}

// AnswerID returns the bound answer, or uuid.Nil.
func (c *Controller) AnswerID() uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.answerID
}

// QuestionID returns the question of the bound answer, or uuid.Nil.
func (c *Controller) QuestionID() uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.questionID
}

func (c *Controller) Focus() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.focused = true
}

// Blur ends the edit and forces one final sync, regardless of debounce state.
func (c *Controller) Blur(ctx context.Context) error {
	c.mu.Lock()
	c.focused = false
	c.mu.Unlock()
	c.tasks.Cancel(debounceKey)
	return c.Sync(ctx)
}

// Type records a local edit and schedules a debounced sync.
// It returns classroom.ErrAnswerLocked when the field is no longer editable.
func (c *Controller) Type(value string) error {
	c.mu.Lock()
	if c.locked || c.disabled {
		c.mu.Unlock()
		return classroom.ErrAnswerLocked
	}
	c.value = value
	c.lastEditedAt = c.clock.Now()
	c.mu.Unlock()

	c.tasks.ScheduleOnce(debounceKey, c.settings.Debounce, c.debouncedSync)
	c.changed(value)
	return nil
}

// debouncedSync is skipped while the field has focus; Blur covers that case.
func (c *Controller) debouncedSync() {
	c.mu.Lock()
	focused := c.focused
	c.mu.Unlock()
	if focused {
		log.Debug().Msg("debounced answer sync skipped while focused")
		return
	}
	c.syncInBackground()
}

// IsEditing reports whether the field has focus or was typed in within the typing window.
func (c *Controller) IsEditing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isEditingLocked()
}

func (c *Controller) isEditingLocked() bool {
	if c.focused {
		return true
	}
	return !c.lastEditedAt.IsZero() && c.clock.Since(c.lastEditedAt) < c.settings.TypingWindow
}

// IsInjection reports whether inbound looks like characters appended to
// serverValue by another client while current still shows serverValue.
func IsInjection(current, serverValue, inbound string) bool {
	return len(inbound) > len(serverValue) &&
		current == serverValue &&
		strings.HasPrefix(inbound, serverValue)
}

// ApplyInbound reconciles a value read from the server. While the user is
// editing it is ignored unless it is an injection on top of an untouched
// field. It reports whether the displayed value changed.
func (c *Controller) ApplyInbound(a models.Answer) bool {
	c.mu.Lock()
	if a.ID != c.answerID {
		c.mu.Unlock()
		return false
	}
	if a.Locked {
		c.locked = true
		c.disabled = true
	}

	inbound := a.Answer
	prevServer := c.serverValue
	c.serverValue = inbound

	var apply bool
	switch {
	case IsInjection(c.value, prevServer, inbound):
		apply = true
	case c.isEditingLocked():
		apply = false
	default:
		apply = c.value != inbound
	}
	if apply {
		c.value = inbound
	}
	value := c.value
	c.mu.Unlock()

	if apply {
		c.changed(value)
	}
	return apply
}

// Sync writes the local value if it differs from the last known server value.
// A locked answer is never written.
func (c *Controller) Sync(ctx context.Context) error {
	c.mu.Lock()
	id, value := c.answerID, c.value
	skip := id == uuid.Nil || c.locked || c.disabled || value == c.serverValue
	c.mu.Unlock()
	if skip {
		return nil
	}

	saved, err := c.writer.UpdateAnswerText(ctx, id, value)
	if errors.Is(err, classroom.ErrAnswerLocked) {
		c.MarkLocked()
		return err
	}
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.answerID == id {
		c.serverValue = saved.Answer
	}
	c.mu.Unlock()
	return nil
}

func (c *Controller) syncInBackground() {
	ctx, cancel := context.WithTimeout(context.Background(), c.settings.WriteTimeout)
	defer cancel()
	if err := c.Sync(ctx); err != nil {
		log.Warn().Err(err).Msg("answer sync failed")
	}
}

// StartBackupSync begins the idle-time sync loop.
func (c *Controller) StartBackupSync() {
	c.tasks.ScheduleEvery(backupKey, c.settings.BackupInterval, func() {
		if c.IsEditing() {
			return
		}
		c.syncInBackground()
	})
}

func (c *Controller) StopBackupSync() {
	c.tasks.Cancel(backupKey)
}

// QuestionEnded forces a final sync and then disables the field. The
// displayed value is kept.
func (c *Controller) QuestionEnded(ctx context.Context) error {
	c.tasks.Cancel(debounceKey)
	err := c.Sync(ctx)
	c.mu.Lock()
	c.disabled = true
	c.focused = false
	c.mu.Unlock()
	return err
}

// MarkLocked makes the field read-only after the answer was locked.
func (c *Controller) MarkLocked() {
	c.tasks.Cancel(debounceKey)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.locked = true
	c.disabled = true
	c.focused = false
}

func (c *Controller) Value() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

func (c *Controller) ServerValue() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverValue
}

func (c *Controller) Locked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.locked
}

func (c *Controller) Disabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disabled
}

// OnChange registers a render hook called with the displayed value.
func (c *Controller) OnChange(fn func(string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = append(c.onChange, fn)
}

func (c *Controller) changed(value string) {
	c.mu.Lock()
	hooks := append([]func(string){}, c.onChange...)
	c.mu.Unlock()
	for _, fn := range hooks {
		fn(value)
	}
}

// Close cancels every timer the controller owns.
func (c *Controller) Close() {
	c.tasks.CancelAll()
}
