package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/joho/godotenv"
	"google.golang.org/api/option"
)

// LedgerEvent is the Pub/Sub payload for a committed audit entry.
type LedgerEvent struct {
	ID            string          `json:"id"`
	Actor         string          `json:"actor"`
	Action        string          `json:"action"`
	EntityRef     string          `json:"entity_ref"`
	Before        json.RawMessage `json:"before,omitempty"`
	After         json.RawMessage `json:"after,omitempty"`
	Source        string          `json:"source"`
	CorrelationId string          `json:"correlation_id"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

var (
	pubsubClient   *pubsub.Client
	pubsubClientMu sync.Mutex
	topics         = map[string]*pubsub.Topic{}
)

func init() {
	// Load env from .env
	godotenv.Load()
}

// GetClient returns a Pub/Sub client, initializing with retries if needed.
// It uses Application Default Credentials unless PUBSUB_CREDENTIALS_JSON is provided.
func GetClient(ctx context.Context) (*pubsub.Client, error) {
	return getPubSubClient(ctx)
}

func getPubSubProjectID() string {
	// Prefer explicit override.
	if v := os.Getenv("PUBSUB_PROJECT_ID"); v != "" {
		return v
	}
	// Cloud Run/Cloud Functions often set this.
	if v := os.Getenv("GOOGLE_CLOUD_PROJECT"); v != "" {
		return v
	}
	// Common fallback.
	if v := os.Getenv("GCP_PROJECT"); v != "" {
		return v
	}
	return ""
}

func getPubSubClient(ctx context.Context) (*pubsub.Client, error) {
	pubsubClientMu.Lock()
	if pubsubClient != nil {
		c := pubsubClient
		pubsubClientMu.Unlock()
		return c, nil
	}
	pubsubClientMu.Unlock()

	projectID := getPubSubProjectID()
	if projectID == "" {
		return nil, errors.New("PUBSUB_PROJECT_ID/GOOGLE_CLOUD_PROJECT not set")
	}

	credJSON := os.Getenv("PUBSUB_CREDENTIALS_JSON")

	var attempt int
	for {
		attempt++

		var (
			c   *pubsub.Client
			err error
		)
		if credJSON != "" {
			c, err = pubsub.NewClient(ctx, projectID, option.WithCredentialsJSON([]byte(credJSON)))
		} else {
			// Uses Application Default Credentials (Cloud Run service account or GOOGLE_APPLICATION_CREDENTIALS).
			c, err = pubsub.NewClient(ctx, projectID)
		}
		if err == nil {
			pubsubClientMu.Lock()
			if pubsubClient == nil {
				pubsubClient = c
			} else {
				// Another goroutine won the race; close ours.
				_ = c.Close()
			}
			c2 := pubsubClient
			pubsubClientMu.Unlock()

			log.Printf("pubsub client ready (project_id=%s attempt=%d)", projectID, attempt)
			return c2, nil
		}

		sleep := retryDelay(attempt)
		log.Printf("failed to init pubsub client (project_id=%s attempt=%d): %v; retrying in %s", projectID, attempt, err, sleep)
		time.Sleep(sleep)
	}
}

func CreateTopicIfNotExists(c *pubsub.Client, topic string) (*pubsub.Topic, error) {
	if c == nil {
		return nil, errors.New("pubsub client is nil")
	}
	if topic == "" {
		return nil, errors.New("topic is required")
	}

	ctx := context.Background()
	t := c.Topic(topic)
	ok, err := t.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if ok {
		return t, nil
	}
	t, err = c.CreateTopic(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("create topic %q: %w", topic, err)
	}
	return t, nil
}

func ledgerTopic(c *pubsub.Client, name string) *pubsub.Topic {
	pubsubClientMu.Lock()
	defer pubsubClientMu.Unlock()
	if t, ok := topics[name]; ok {
		return t
	}
	t := c.Topic(name)
	// events of one entity are delivered in commit order
	t.EnableMessageOrdering = true
	topics[name] = t
	return t
}

// PublishLedgerEvent publishes evt ordered by its entity and returns the server-assigned message ID.
func PublishLedgerEvent(ctx context.Context, topicName string, evt LedgerEvent) (string, error) {
	if topicName == "" {
		return "", errors.New("topic is required")
	}
	client, err := getPubSubClient(ctx)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return "", err
	}
	t := ledgerTopic(client, topicName)
	result := t.Publish(ctx, &pubsub.Message{
		Data:        data,
		OrderingKey: evt.EntityRef,
		Attributes: map[string]string{
			"action":         evt.Action,
			"correlation_id": evt.CorrelationId,
		},
	})
	id, err := result.Get(ctx)
	if err != nil {
		// ordering keys pause after a failure until resumed
		t.ResumePublish(evt.EntityRef)
		return "", err
	}
	return id, nil
}

// StopPublishing flushes pending messages on shutdown.
func StopPublishing() {
	pubsubClientMu.Lock()
	defer pubsubClientMu.Unlock()
	for _, t := range topics {
		t.Stop()
	}
}
