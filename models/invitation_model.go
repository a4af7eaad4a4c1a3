package models

import "time"

type InvitationKind string

const (
	KindFriend InvitationKind = "friend"
	KindParty  InvitationKind = "party"
)

type InvitationStatus string

const (
	StatusPending  InvitationStatus = "pending"
	StatusAccepted InvitationStatus = "accepted"
	StatusDeclined InvitationStatus = "declined"
	StatusExpired  InvitationStatus = "expired"
)

// Invitation targets either an account (ReceiverID) or, for people without
// one yet, a contact string (ReceiverEmail / ReceiverPhone).
type Invitation struct {
	ID            string           `json:"id" bson:"_id"`
	Kind          InvitationKind   `json:"type" bson:"kind"`
	SenderID      string           `json:"sender" bson:"sender_id"`
	ReceiverID    string           `json:"receiver,omitempty" bson:"receiver_id,omitempty"`
	ReceiverEmail string           `json:"receiverEmail,omitempty" bson:"receiver_email,omitempty"`
	ReceiverPhone string           `json:"receiverPhone,omitempty" bson:"receiver_phone,omitempty"`
	PartyID       string           `json:"party,omitempty" bson:"party_id,omitempty"`
	Status        InvitationStatus `json:"status" bson:"status"`
	ExpiresAt     time.Time        `json:"expiresAt" bson:"expires_at"`
	CreatedAt     time.Time        `json:"createdAt" bson:"created_at"`
	UpdatedAt     time.Time        `json:"updatedAt" bson:"updated_at"`
}

func (i *Invitation) Open(now time.Time) bool {
	return i.Status == StatusPending && now.Before(i.ExpiresAt)
}

// InvitationView is an invitation with its sender resolved for display.
type InvitationView struct {
	Invitation
	Sender FriendSummary `json:"senderUser"`
}
