package models

import "time"

// ConversationTurn is one question and the answer shown for it.
type ConversationTurn struct {
	Question string    `json:"question"`
	Answer   string    `json:"answer"`
	Failed   bool      `json:"failed"`
	AskedAt  time.Time `json:"asked_at"`
}
