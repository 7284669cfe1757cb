package models

import "github.com/google/uuid"

// Action types recorded in the match action log.
const (
	ActionInvite   = "match_invite"
	ActionAccept   = "match_accept"
	ActionSetBoard = "board_set"
	ActionStart    = "match_start"
	ActionMove     = "move"
	ActionClaim    = "bingo_claim"
	ActionFinish   = "match_finish"
)

// MatchAction is one entry of the match audit log consumed by the historian.
type MatchAction struct {
	MatchID     uuid.UUID              `json:"match_id"`
	Sequence    int                    `json:"sequence"`
	ActorUserID uuid.UUID              `json:"actor_user_id"`
	ActionType  string                 `json:"action_type"`
	Payload     map[string]interface{} `json:"action_payload"`
	Timestamp   int64                  `json:"timestamp"`
}
