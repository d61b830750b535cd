package state

import (
	"fmt"

	"github.com/google/uuid"
)

// Key names one field of the store.
type Key string

const (
	KeySessionID       Key = "sessionId"
	KeySessionCode     Key = "sessionCode"
	KeyTeamID          Key = "teamId"
	KeyTeamName        Key = "teamName"
	KeyIsAdmin         Key = "isAdmin"
	KeyCurrentQuestion Key = "currentQuestion"
	KeyAnswers         Key = "answers"
	KeyTeams           Key = "teams"
	KeyPowerups        Key = "powerups"
	KeyConnectionState Key = "connectionState"

	// Wildcard listeners receive every change.
	Wildcard Key = "*"
)

// Connection states reported under KeyConnectionState.
const (
	ConnectionDisconnected = "disconnected"
	ConnectionConnected    = "connected"
	ConnectionDegraded     = "degraded"
)

// SnapshotKey is where the identity snapshot is kept in local storage.
const SnapshotKey = "classroomGameState"

func teamsCacheKey(sessionID uuid.UUID) string { return fmt.Sprintf("teams_%s", sessionID) }
func questionCacheKey(sessionID uuid.UUID) string { return fmt.Sprintf("question_%s", sessionID) }
func teamCacheKey(teamID uuid.UUID) string { return fmt.Sprintf("team_%s", teamID) }

func answerCacheKey(teamID, questionID uuid.UUID) string {
	return fmt.Sprintf("answer_%s_%s", teamID, questionID)
}

func identityKey(k Key) bool {
	switch k {
	case KeySessionID, KeySessionCode, KeyTeamID, KeyTeamName, KeyIsAdmin:
		return true
	}
	return false
}
