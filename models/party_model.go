package models

import "time"

const (
	MinPartySize     = 2
	MaxPartySize     = 10
	DefaultPartySize = 10
)

type Participant struct {
	UserID   string    `json:"userId" bson:"user_id"`
	JoinedAt time.Time `json:"joinedAt" bson:"joined_at"`
}

// Party is never physically removed. Once IsActive flips to false it stays false.
type Party struct {
	ID              string        `json:"id" bson:"_id"`
	Name            string        `json:"name" bson:"name"`
	HostID          string        `json:"host" bson:"host_id"`
	Participants    []Participant `json:"participants" bson:"participants"`
	MaxParticipants int           `json:"maxParticipants" bson:"max_participants"`
	IsActive        bool          `json:"isActive" bson:"is_active"`
	Channel         string        `json:"channelName" bson:"channel"`
	StartTime       time.Time     `json:"startTime" bson:"start_time"`
	EndTime         *time.Time    `json:"endTime,omitempty" bson:"end_time,omitempty"`
	Version         int64         `json:"-" bson:"version"`
	CreatedAt       time.Time     `json:"createdAt" bson:"created_at"`
}

func (p *Party) HasParticipant(userID string) bool {
	return p.indexOf(userID) >= 0
}

func (p *Party) IsFull() bool {
	return len(p.Participants) >= p.MaxParticipants
}

func (p *Party) ParticipantIDs() []string {
	ids := make([]string, len(p.Participants))
	for i, pt := range p.Participants {
		ids[i] = pt.UserID
	}
	return ids
}

// Add appends userID unless already present. Reports whether it was added.
func (p *Party) Add(userID string, at time.Time) bool {
	if p.HasParticipant(userID) {
		return false
	}
	p.Participants = append(p.Participants, Participant{UserID: userID, JoinedAt: at})
	return true
}

// Remove drops userID, hands the host role to the earliest joined remaining
// participant when the host leaves, and deactivates the party when it empties.
func (p *Party) Remove(userID string, at time.Time) bool {
	i := p.indexOf(userID)
	if i < 0 {
		return false
	}
	p.Participants = append(p.Participants[:i:i], p.Participants[i+1:]...)

	if len(p.Participants) == 0 {
		p.IsActive = false
		end := at
		p.EndTime = &end
		return true
	}
	if p.HostID == userID {
		p.HostID = p.earliest().UserID
	}
	return true
}

// earliest breaks JoinedAt ties by list position.
func (p *Party) earliest() Participant {
	best := p.Participants[0]
	for _, pt := range p.Participants[1:] {
		if pt.JoinedAt.Before(best.JoinedAt) {
			best = pt
		}
	}
	return best
}

func (p *Party) indexOf(userID string) int {
	for i, pt := range p.Participants {
		if pt.UserID == userID {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy so callers can mutate without touching shared state.
func (p *Party) Clone() *Party {
	cp := *p
	cp.Participants = append([]Participant(nil), p.Participants...)
	if p.EndTime != nil {
		end := *p.EndTime
		cp.EndTime = &end
	}
	return &cp
}

type VideoCredential struct {
	Token       string `json:"token"`
	UID         uint32 `json:"uid"`
	ChannelName string `json:"channelName"`
	ExpiresIn   int64  `json:"expiresIn"`
	ExpiresAt   int64  `json:"expiresAt"`
}

type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}
