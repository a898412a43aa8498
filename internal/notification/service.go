package notification

import (
	"context"
	"fmt"
	"time"

	"mailsync-backend/pkg/logger"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
)

// Service receives Gmail push notifications from a Pub/Sub subscription
// and hands them to a Dispatcher.
type Service struct {
	pubsubClient *pubsub.Client
	dispatcher   *Dispatcher
	topicName    string
	subName      string
}

func NewService(ctx context.Context, projectID, topicName, credentialsFile string, dispatcher *Dispatcher) (*Service, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}

	return &Service{
		pubsubClient: client,
		dispatcher:   dispatcher,
		topicName:    topicName,
		subName:      topicName + "-sub",
	}, nil
}

// Start blocks receiving messages until ctx is cancelled. The subscription
// is created on first use if the topic exists.
func (s *Service) Start(ctx context.Context) error {
	log := logger.With("pubsub")

	sub, err := s.ensureSubscription(ctx)
	if err != nil {
		return err
	}

	log.Info().Str("subscription", s.subName).Msg("listening for mailbox notifications")
	return sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if err := s.dispatcher.Handle(ctx, msg.Data); err != nil {
			log.Warn().Err(err).Str("message_id", msg.ID).Msg("notification handling failed")
		}
		// Gmail resends on the next change; redelivering a bad payload never helps.
		msg.Ack()
	})
}

func (s *Service) Close() error {
	return s.pubsubClient.Close()
}

func (s *Service) ensureSubscription(ctx context.Context) (*pubsub.Subscription, error) {
	sub := s.pubsubClient.Subscription(s.subName)
	exists, err := sub.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check subscription %s: %w", s.subName, err)
	}
	if exists {
		return sub, nil
	}

	topic := s.pubsubClient.Topic(s.topicName)
	topicExists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check topic %s: %w", s.topicName, err)
	}
	if !topicExists {
		return nil, fmt.Errorf("topic %s does not exist", s.topicName)
	}

	sub, err = s.pubsubClient.CreateSubscription(ctx, s.subName, pubsub.SubscriptionConfig{
		Topic:       topic,
		AckDeadline: 60 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("create subscription %s: %w", s.subName, err)
	}
	logger.With("pubsub").Info().Str("subscription", s.subName).Msg("created subscription")
	return sub, nil
}
