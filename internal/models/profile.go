package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Tier is the subscription level that decides the weekly credit allotment.
type Tier string

const (
	TierFree    Tier = "Free"
	TierBasic   Tier = "Basic"
	TierPremium Tier = "Premium"
)

// Valid reports whether t is one of the known tiers.
func (t Tier) Valid() bool {
	switch t {
	case TierFree, TierBasic, TierPremium:
		return true
	}
	return false
}

// Allotment returns the weekly credit refill for the tier. Unknown tiers get the Free allotment.
func (t Tier) Allotment() float64 {
	if v, ok := WeeklyCredits[t]; ok {
		return v
	}
	return WeeklyCredits[TierFree]
}

// Activity names one of the usage counters kept on a profile.
type Activity string

const (
	ActivityNone        Activity = ""
	ActivityAssessments Activity = "assessments"
	ActivityIcebreakers Activity = "icebreakers"
	ActivityPrompts     Activity = "prompts"
	ActivityQuestions   Activity = "questions"
)

// UsageStats counts how often each paid action was used. Stored as jsonb.
type UsageStats struct {
	Assessments int `json:"assessments"`
	Icebreakers int `json:"icebreakers"`
	Prompts     int `json:"prompts"`
	Questions   int `json:"questions"`
}

// Increment returns a copy of s with the counter for a bumped by one.
func (s UsageStats) Increment(a Activity) UsageStats {
	switch a {
	case ActivityAssessments:
		s.Assessments++
	case ActivityIcebreakers:
		s.Icebreakers++
	case ActivityPrompts:
		s.Prompts++
	case ActivityQuestions:
		s.Questions++
	}
	return s
}

func (s UsageStats) Value() (driver.Value, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (s *UsageStats) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*s = UsageStats{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported stats type %T", src)
	}
	if len(raw) == 0 {
		*s = UsageStats{}
		return nil
	}
	return json.Unmarshal(raw, s)
}

// Profile represents a user profile in the system
type Profile struct {
	ID        string     `json:"id" db:"id"` // UUID that matches auth.users.id
	Name      string     `json:"name" db:"name"`
	Email     string     `json:"email" db:"email"`
	Tier      Tier       `json:"tier" db:"tier"`
	Credits   float64    `json:"credits" db:"credits"`
	LastReset time.Time  `json:"last_reset" db:"last_reset"`
	Stats     UsageStats `json:"stats" db:"stats"`
}

// ProfilePatch lists the columns to change on a profile row. Nil fields are left alone.
type ProfilePatch struct {
	Tier      *Tier       `json:"tier,omitempty"`
	Credits   *float64    `json:"credits,omitempty"`
	Stats     *UsageStats `json:"stats,omitempty"`
	LastReset *time.Time  `json:"last_reset,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p ProfilePatch) Empty() bool {
	return p.Tier == nil && p.Credits == nil && p.Stats == nil && p.LastReset == nil
}

// NewProfile builds the row written for a freshly signed-up user.
func NewProfile(userID, name, email string, now time.Time) Profile {
	return Profile{
		ID:        userID,
		Name:      name,
		Email:     email,
		Tier:      TierFree,
		Credits:   TierFree.Allotment(),
		LastReset: now,
	}
}
