package models

import (
	"time"
	"unicode/utf8"
)

// Icebreaker is one generated opening message.
type Icebreaker struct {
	ID               string `json:"id" db:"id"`
	Tone             string `json:"tone" db:"tone"`
	Emoji            string `json:"emoji" db:"emoji"`
	MessageText      string `json:"message_text" db:"message_text"`
	WhyItWorks       string `json:"why_it_works" db:"why_it_works"`
	FollowUp         string `json:"follow_up" db:"follow_up"`
	CharacterCount   int    `json:"character_count" db:"-"`
	InterestCategory string `json:"interest_category" db:"interest_category"`
	Copyable         bool   `json:"copyable" db:"-"`
	Saveable         bool   `json:"saveable" db:"-"`
}

// IcebreakerSet is the structured result of one icebreaker generation.
type IcebreakerSet struct {
	Icebreakers []Icebreaker `json:"icebreakers"`
	ProTip      string       `json:"pro_tip"`
}

// SavedIcebreaker is an icebreaker the user bookmarked. ID holds the row id
// assigned by the profile store, not the id the model generated.
type SavedIcebreaker struct {
	Icebreaker
	UserID  string    `json:"-" db:"user_id"`
	SavedAt time.Time `json:"saved_at" db:"saved_at"`
}

// Normalize fills the display-only fields that are not stored.
func (s *SavedIcebreaker) Normalize() {
	s.CharacterCount = utf8.RuneCountInString(s.MessageText)
	s.Copyable = true
	s.Saveable = true
}
