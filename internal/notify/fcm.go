package notify

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"
)

// FCMSink sends notifications through Firebase Cloud Messaging. FCM has no
// scheduled delivery, so the sink waits out the delay before sending.
type FCMSink struct {
	client *messaging.Client
	token  string
}

// NewFCMSink builds a sink from a base64 encoded service account and a device token.
func NewFCMSink(ctx context.Context, credentialsB64, token string) (*FCMSink, error) {
	if token == "" {
		return nil, errors.New("fcm: device token is required")
	}
	decodedKey, err := base64.StdEncoding.DecodeString(credentialsB64)
	if err != nil {
		return nil, fmt.Errorf("fcm: decode credentials: %w", err)
	}
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsJSON(decodedKey))
	if err != nil {
		return nil, fmt.Errorf("fcm: init app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("fcm: messaging client: %w", err)
	}
	return &FCMSink{client: client, token: token}, nil
}

func (s *FCMSink) Notify(ctx context.Context, n Notification) error {
	n = normalize(n)
	if err := Wait(ctx, n); err != nil {
		return err
	}
	id, err := s.client.Send(ctx, &messaging.Message{
		Notification: &messaging.Notification{
			Title: n.Title,
			Body:  n.Body,
		},
		Data:  map[string]string{"topic": n.Topic, "ref": n.Ref},
		Token: s.token,
	})
	if err != nil {
		return fmt.Errorf("fcm send: %w", err)
	}
	log.Info().Str("topic", n.Topic).Str("message_id", id).Msg("sent push notification")
	return nil
}
