package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/option"

	"houseparty-server/metrics"
	"houseparty-server/store"
	"houseparty-server/utils/logger"
)

const notificationTitle = "House Party"

var ErrUnregisteredToken = errors.New("push: device token is no longer registered")

type PushMessage struct {
	Title string
	Body  string
	Data  map[string]string
}

// PushSender delivers one message to one device token.
type PushSender interface {
	Send(ctx context.Context, token string, msg PushMessage) error
}

// messagingClient is the part of *messaging.Client the sender uses.
type messagingClient interface {
	Send(ctx context.Context, msg *messaging.Message) (string, error)
}

// FCMSender delivers through the FCM HTTP v1 API with service-account auth.
type FCMSender struct {
	client         messagingClient
	isUnregistered func(error) bool
}

// NewFCMSender authenticates with a service-account JSON document, or with a
// credentials file when the JSON is empty.
func NewFCMSender(ctx context.Context, serviceAccountJSON, credentialsFile string) (*FCMSender, error) {
	opt := option.WithCredentialsFile(credentialsFile)
	if serviceAccountJSON != "" {
		opt = option.WithCredentialsJSON([]byte(serviceAccountJSON))
	}
	app, err := firebase.NewApp(ctx, nil, opt)
	if err != nil {
		return nil, fmt.Errorf("init firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("init fcm client: %w", err)
	}
	return &FCMSender{client: client, isUnregistered: messaging.IsUnregistered}, nil
}

func fcmMessage(token string, msg PushMessage) *messaging.Message {
	return &messaging.Message{
		Token:        token,
		Notification: &messaging.Notification{Title: msg.Title, Body: msg.Body},
		Data:         msg.Data,
		Android: &messaging.AndroidConfig{
			Priority:     "high",
			Notification: &messaging.AndroidNotification{Sound: "default"},
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{Aps: &messaging.Aps{Sound: "default"}},
		},
	}
}

func (s *FCMSender) Send(ctx context.Context, token string, msg PushMessage) error {
	_, err := s.client.Send(ctx, fcmMessage(token, msg))
	switch {
	case err == nil:
		return nil
	case s.isUnregistered(err):
		return ErrUnregisteredToken
	default:
		return fmt.Errorf("fcm send: %w", err)
	}
}

// NoopSender stands in when FCM is not configured.
type NoopSender struct{}

func (NoopSender) Send(ctx context.Context, token string, msg PushMessage) error {
	logger.FromContext(ctx).WithField("title", msg.Title).Debug("push disabled, dropping notification")
	return nil
}

type DispatchResult struct {
	Sent         int
	Failed       int
	Unregistered []string
}

// NotificationService fans a message out to a user's devices in fixed size
// batches with a pause between batches. One token failing never stops the rest.
type NotificationService struct {
	users      store.UserStore
	sender     PushSender
	batchSize  int
	batchDelay time.Duration
	async      func(func())
	wg         sync.WaitGroup
}

func NewNotificationService(users store.UserStore, sender PushSender, batchSize int, batchDelay time.Duration) *NotificationService {
	if batchSize <= 0 {
		batchSize = 10
	}
	s := &NotificationService{
		users:      users,
		sender:     sender,
		batchSize:  batchSize,
		batchDelay: batchDelay,
	}
	s.async = func(fn func()) {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			fn()
		}()
	}
	return s
}

// Wait blocks until in-flight background dispatches finish. Used on shutdown.
func (s *NotificationService) Wait() {
	s.wg.Wait()
}

// NotifyUser sends in the background and returns immediately. Users with
// notifications switched off are skipped.
func (s *NotificationService) NotifyUser(ctx context.Context, userID, body string, data map[string]string) {
	s.NotifyUsers(ctx, []string{userID}, body, data)
}

func (s *NotificationService) NotifyUsers(ctx context.Context, userIDs []string, body string, data map[string]string) {
	if len(userIDs) == 0 {
		return
	}
	bg := context.WithoutCancel(ctx)
	msg := PushMessage{Title: notificationTitle, Body: body, Data: data}
	s.async(func() {
		s.deliver(bg, userIDs, msg)
	})
}

func (s *NotificationService) deliver(ctx context.Context, userIDs []string, msg PushMessage) {
	log := logger.FromContext(ctx)
	users, err := s.users.FindByIDs(ctx, userIDs)
	if err != nil {
		log.WithError(err).Warn("failed to load notification recipients")
		return
	}
	for _, u := range users {
		if !u.Settings.Notifications || len(u.DeviceTokens) == 0 {
			continue
		}
		res := s.Dispatch(ctx, u.DeviceTokens, msg)
		log.WithField("user_id", u.ID).WithField("sent", res.Sent).WithField("failed", res.Failed).Debug("push dispatched")
		if len(res.Unregistered) > 0 {
			if err := s.users.RemoveDeviceTokens(ctx, u.ID, res.Unregistered...); err != nil {
				log.WithError(err).WithField("user_id", u.ID).Warn("failed to prune device tokens")
			}
		}
	}
}

// Dispatch sends msg to every token, batchSize at a time. A batch completes
// before the next one starts.
func (s *NotificationService) Dispatch(ctx context.Context, tokens []string, msg PushMessage) DispatchResult {
	log := logger.FromContext(ctx)
	var (
		mu  sync.Mutex
		res DispatchResult
	)

	for start := 0; start < len(tokens); start += s.batchSize {
		if start > 0 && s.batchDelay > 0 {
			select {
			case <-ctx.Done():
				log.WithError(ctx.Err()).Warn("push dispatch cancelled between batches")
				return res
			case <-time.After(s.batchDelay):
			}
		}
		end := min(start+s.batchSize, len(tokens))

		var g errgroup.Group
		for _, token := range tokens[start:end] {
			g.Go(func() error {
				err := s.sender.Send(ctx, token, msg)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					res.Sent++
					metrics.RecordPush("sent")
				case errors.Is(err, ErrUnregisteredToken):
					res.Failed++
					res.Unregistered = append(res.Unregistered, token)
					metrics.RecordPush("unregistered")
				default:
					res.Failed++
					metrics.RecordPush("failed")
					log.WithError(err).Warn("push delivery failed")
				}
				// per-token failures are absorbed so the group never short-circuits
				return nil
			})
		}
		_ = g.Wait()
	}
	return res
}
