package types

import "time"

// Complexity is the conversational sophistication assigned by analysis.
type Complexity string

const (
	ComplexityBeginner     Complexity = "beginner"
	ComplexityIntermediate Complexity = "intermediate"
	ComplexityExpert       Complexity = "expert"
)

// Valid reports whether c is one of the known levels.
func (c Complexity) Valid() bool {
	switch c {
	case ComplexityBeginner, ComplexityIntermediate, ComplexityExpert:
		return true
	}
	return false
}

// ConversationProfile is derived by background analysis and overwritten wholesale.
type ConversationProfile struct {
	Topics         []string   `json:"topics"`
	SentimentScore float64    `json:"sentimentScore"`
	Complexity     Complexity `json:"complexity"`
	UserType       string     `json:"userType,omitempty"`
	TotalMessages  int        `json:"totalMessages"`
	AvgChatLength  float64    `json:"avgChatLength"`
	LastUpdated    time.Time  `json:"lastUpdated"`
}

// User is the progression and profile state of one account.
type User struct {
	ID          string              `json:"id"`
	Username    string              `json:"username"`
	XP          int                 `json:"xp"`
	Level       int                 `json:"level"`
	Rating      int                 `json:"rating"`
	Profile     ConversationProfile `json:"metrics"`
	Suggestions []string            `json:"suggestions"`
	CreatedAt   time.Time           `json:"createdAt"`
	UpdatedAt   time.Time           `json:"updatedAt"`
}

// NewUser returns a level 1 user with the default beginner profile.
func NewUser(id, username string, now time.Time) *User {
	return &User{
		ID:       id,
		Username: username,
		Level:    1,
		Profile: ConversationProfile{
			Complexity:  ComplexityBeginner,
			LastUpdated: now,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// HasProfile reports whether analysis has produced anything worth personalising on.
func (u *User) HasProfile() bool {
	return u != nil && (len(u.Profile.Topics) > 0 || u.Profile.TotalMessages > 0)
}

// Clone returns a deep copy.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	out := *u
	out.Profile.Topics = append([]string(nil), u.Profile.Topics...)
	out.Suggestions = append([]string(nil), u.Suggestions...)
	return &out
}
