package notify

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"
	fcm "google.golang.org/api/fcm/v1"
	"google.golang.org/api/option"
	"golang.org/x/oauth2/google"
)

// PushGateway delivers one notification to a set of device tokens. Send is
// best effort: an error means at least one token was not reached.
type PushGateway interface {
	Send(ctx context.Context, tokens []string, n Notification) error
}

// NopGateway is used when no push provider is configured.
type NopGateway struct {
	logger *zap.Logger
}

func NewNopGateway(logger *zap.Logger) *NopGateway {
	return &NopGateway{logger: logger}
}

func (g *NopGateway) Send(ctx context.Context, tokens []string, n Notification) error {
	g.logger.Debug("push skipped, no gateway configured",
		zap.Int("tokens", len(tokens)),
		zap.String("type", n.Data["type"]),
	)
	return nil
}

const fcmScope = "https://www.googleapis.com/auth/firebase.messaging"

// FCMGateway sends through the Firebase Cloud Messaging HTTP v1 API. The v1
// API has no multicast call, so each token is one request.
type FCMGateway struct {
	messages *fcm.ProjectsMessagesService
	parent   string
}

// NewFCMGateway authenticates with a service account JSON file.
func NewFCMGateway(ctx context.Context, projectID, credentialsFile string) (*FCMGateway, error) {
	data, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read fcm credentials: %w", err)
	}
	creds, err := google.CredentialsFromJSON(ctx, data, fcmScope)
	if err != nil {
		return nil, fmt.Errorf("parse fcm credentials: %w", err)
	}
	svc, err := fcm.NewService(ctx, option.WithTokenSource(creds.TokenSource))
	if err != nil {
		return nil, fmt.Errorf("create fcm service: %w", err)
	}
	return &FCMGateway{
		messages: fcm.NewProjectsMessagesService(svc),
		parent:   "projects/" + projectID,
	}, nil
}

func (g *FCMGateway) Send(ctx context.Context, tokens []string, n Notification) error {
	var errs []error
	for _, token := range tokens {
		req := &fcm.SendMessageRequest{
			Message: &fcm.Message{
				Token: token,
				Notification: &fcm.Notification{
					Title: n.Title,
					Body:  n.Body,
				},
				Data: n.Data,
			},
		}
		if _, err := g.messages.Send(g.parent, req).Context(ctx).Do(); err != nil {
			errs = append(errs, fmt.Errorf("send to token %.8s: %w", token, err))
		}
	}
	return errors.Join(errs...)
}
