package classroom

import "errors"

var (
	ErrSessionNotFound      = errors.New("session not found")
	ErrTeamNotFound         = errors.New("team not found")
	ErrQuestionNotFound     = errors.New("question not found")
	ErrAnswerNotFound       = errors.New("answer not found")
	ErrAnswerLocked         = errors.New("answer is locked")
	ErrSessionCodeRequired  = errors.New("session code is required")
	ErrTeamNameRequired     = errors.New("team name is required")
	ErrQuestionTextRequired = errors.New("question text is required")
	ErrInvalidTimeLimit     = errors.New("time limit must be positive")
	ErrCodeExhausted        = errors.New("could not generate a unique session code")
)

// CodeAlphabet leaves out characters that are easy to misread (0/O, 1/I).
const CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// CodeLength is the number of characters in a join code.
const CodeLength = 6

// RandSource is the randomness the package needs. *math/rand/v2.Rand satisfies it.
type RandSource interface {
	IntN(n int) int
}
