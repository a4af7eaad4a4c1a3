package realtime

import "houseparty-server/models"

// Client to server events.
const (
	EventEnterHouse      = "enter_house"
	EventLeaveHouse      = "leave_house"
	EventGetUsersInHouse = "get_users_in_house"
)

// Server to client events.
const (
	EventAck                = "ack"
	EventError              = "error"
	EventUserEntered        = "user_entered"
	EventUserLeft           = "user_left"
	EventPartyCreated       = "party_created"
	EventPartyEnded         = "party_ended"
	EventPartyJoined        = "party_joined"
	EventPartyLeft          = "party_left"
	EventInvitationReceived = "invitation_received"
)

// Event is the envelope for every frame in both directions. Ack is echoed
// back on the reply to a request that carried one.
type Event struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
	Ack   *int   `json:"ack,omitempty"`
}

type userPayload struct {
	UserID string `json:"userId"`
}

type partyPayload struct {
	PartyID string        `json:"partyId"`
	UserID  string        `json:"userId,omitempty"`
	Party   *models.Party `json:"party,omitempty"`
}

type errorPayload struct {
	Message string `json:"message"`
}
