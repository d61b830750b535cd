package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mcdev12/classroom/go/internal/models"
	"github.com/mcdev12/classroom/go/internal/powerups"
	"github.com/mcdev12/classroom/go/internal/themes"
	"github.com/mcdev12/classroom/go/internal/timer"
	"github.com/mcdev12/classroom/go/internal/uifeed"
)

// Command types accepted from UI shells.
const (
	CmdFocus         = "focus"
	CmdBlur          = "blur"
	CmdType          = "type"
	CmdLock          = "lock"
	CmdBuy           = "buy"
	CmdUse           = "use"
	CmdTheme         = "theme"
	CmdJoin          = "join"
	CmdHost          = "host"
	CmdLeave         = "leave"
	CmdStartQuestion = "start_question"
	CmdEndQuestion   = "end_question"
	CmdAdjustScore   = "adjust_score"
)

// HandleCommand runs one UI command. For join, Value is the session code and
// Powerup carries the team name.
func (a *Agent) HandleCommand(ctx context.Context, cmd uifeed.Command) error {
	switch cmd.Type {
	case CmdFocus:
		a.Answers.Focus()
		return nil
	case CmdBlur:
		return a.Answers.Blur(ctx)
	case CmdType:
		return a.Answers.Type(cmd.Value)
	case CmdLock:
		return a.LockAnswer(ctx)
	case CmdBuy:
		_, err := a.Buy(ctx, models.PowerupType(cmd.Powerup))
		return err
	case CmdUse:
		_, err := a.Use(ctx, models.PowerupType(cmd.Powerup), cmd.Target)
		return err
	case CmdTheme:
		return a.Themes.Select(ctx, cmd.Value)
	case CmdJoin:
		_, err := a.Join(ctx, cmd.Value, cmd.Powerup)
		return err
	case CmdHost:
		_, err := a.Host(ctx)
		return err
	case CmdLeave:
		a.Leave()
		return nil
	case CmdStartQuestion:
		_, err := a.StartQuestion(ctx, cmd.Value, cmd.Amount)
		return err
	case CmdEndQuestion:
		return a.EndQuestion(ctx)
	case CmdAdjustScore:
		_, err := a.AdjustScore(ctx, cmd.Target, cmd.Amount)
		return err
	}
	return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Type)
}

// View is the read model served to UI shells.
type View struct {
	SessionID       uuid.UUID            `json:"sessionId"`
	SessionCode     string               `json:"sessionCode"`
	TeamID          uuid.UUID            `json:"teamId"`
	TeamName        string               `json:"teamName"`
	IsAdmin         bool                 `json:"isAdmin"`
	ConnectionState string               `json:"connectionState"`
	Question        *models.Question     `json:"question"`
	Remaining       int                  `json:"remaining"`
	TimeLimit       int                  `json:"timeLimit"`
	Clock           string               `json:"clock"`
	Teams           []models.Team        `json:"teams"`
	Powerups        []models.PowerupType `json:"powerups"`
	Shop            []powerups.Info      `json:"shop"`
	Answer          string               `json:"answer"`
	AnswerLocked    bool                 `json:"answerLocked"`
	AnswerDisabled  bool                 `json:"answerDisabled"`
	Theme           string               `json:"theme"`
	ThemeVariables  map[string]string    `json:"themeVariables"`
	ThemeSelectable bool                 `json:"themeSelectable"`
	Themes          []themes.Theme       `json:"themes"`
	RenderedAt      time.Time            `json:"renderedAt"`
}

// Snapshot renders the current view.
func (a *Agent) Snapshot() View {
	theme := a.Themes.Effective()
	remaining := a.Timer.Remaining()
	return View{
		SessionID:       a.Store.SessionID(),
		SessionCode:     a.Store.SessionCode(),
		TeamID:          a.Store.TeamID(),
		TeamName:        a.Store.TeamName(),
		IsAdmin:         a.Store.IsAdmin(),
		ConnectionState: a.Store.ConnectionState(),
		Question:        a.Store.CurrentQuestion(),
		Remaining:       remaining,
		TimeLimit:       a.Timer.TimeLimit(),
		Clock:           timer.FormatTime(remaining),
		Teams:           a.Store.Teams(),
		Powerups:        a.Store.Powerups(),
		Shop:            a.Powerups.Available(),
		Answer:          a.Answers.Value(),
		AnswerLocked:    a.Answers.Locked(),
		AnswerDisabled:  a.Answers.Disabled(),
		Theme:           theme.Key,
		ThemeVariables:  theme.CSSVariables(),
		ThemeSelectable: a.Themes.SelectorEnabled(),
		Themes:          themes.Available(),
		RenderedAt:      a.clock.Now(),
	}
}
