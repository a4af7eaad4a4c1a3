package services

import (
	"context"

	"houseparty-server/models"
)

// EventPublisher receives domain events that connected clients should see.
// The realtime coordinator implements it; calls must not block.
type EventPublisher interface {
	PartyCreated(party *models.Party)
	PartyJoined(party *models.Party, userID string)
	PartyLeft(party *models.Party, userID string)
	PartyEnded(party *models.Party)
	InvitationReceived(userID string, inv *models.Invitation)
}

type nopEvents struct{}

func (nopEvents) PartyCreated(*models.Party) {}

func (nopEvents) PartyJoined(*models.Party, string) {}

func (nopEvents) PartyLeft(*models.Party, string) {}

func (nopEvents) PartyEnded(*models.Party) {}

func (nopEvents) InvitationReceived(string, *models.Invitation) {}

// Notifier is the part of NotificationService other services depend on.
type Notifier interface {
	NotifyUser(ctx context.Context, userID, body string, data map[string]string)
	NotifyUsers(ctx context.Context, userIDs []string, body string, data map[string]string)
}
