package models

import "time"

// UsageEventKind classifies a usage event published after a ledger or saved-list change.
type UsageEventKind string

const (
	EventCreditsSpent UsageEventKind = "credits_spent"
	EventTierUpgraded UsageEventKind = "tier_upgraded"
	EventCreditsReset UsageEventKind = "credits_reset"
	EventItemSaved    UsageEventKind = "item_saved"
	EventItemUnsaved  UsageEventKind = "item_unsaved"
)

// UsageEvent is the message carried on the usage-events topic.
type UsageEvent struct {
	ID           string         `json:"id" db:"id"`
	UserID       string         `json:"user_id" db:"user_id"`
	Kind         UsageEventKind `json:"kind" db:"kind"`
	Activity     Activity       `json:"activity,omitempty" db:"activity"`
	Amount       float64        `json:"amount" db:"amount"`
	CreditsAfter float64        `json:"credits_after" db:"credits_after"`
	OccurredAt   time.Time      `json:"occurred_at" db:"occurred_at"`
}
