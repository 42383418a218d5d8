package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/SAP-F-2025/access-control-service/internal/models"
)

const profileChannelPrefix = "profiles:changed:"

// profileChange is the pub/sub payload; Profile is nil when Deleted is set
type profileChange struct {
	ProfileID string              `json:"profile_id"`
	Deleted   bool                `json:"deleted"`
	Profile   *models.UserProfile `json:"profile,omitempty"`
}

// ProfileNotifier fans profile changes out over redis pub/sub so every
// replica can push updates to its live sessions
type ProfileNotifier struct {
	client *redis.Client
}

func NewProfileNotifier(client *redis.Client) *ProfileNotifier {
	return &ProfileNotifier{client: client}
}

func (n *ProfileNotifier) channel(profileID string) string {
	return profileChannelPrefix + profileID
}

// Publish announces the new state of a profile; nil announces deletion
func (n *ProfileNotifier) Publish(ctx context.Context, profileID string, profile *models.UserProfile) error {
	payload, err := json.Marshal(profileChange{
		ProfileID: profileID,
		Deleted:   profile == nil,
		Profile:   profile,
	})
	if err != nil {
		return fmt.Errorf("encode profile change: %w", err)
	}

	return n.client.Publish(ctx, n.channel(profileID), payload).Err()
}

// Subscribe returns a confirmed subscription to one profile's changes
func (n *ProfileNotifier) Subscribe(ctx context.Context, profileID string) (*redis.PubSub, error) {
	pubsub := n.client.Subscribe(ctx, n.channel(profileID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe to profile %s: %w", profileID, err)
	}
	return pubsub, nil
}

func decodeProfileChange(payload string) (*models.UserProfile, error) {
	var change profileChange
	if err := json.Unmarshal([]byte(payload), &change); err != nil {
		return nil, fmt.Errorf("decode profile change: %w", err)
	}
	if change.Deleted {
		return nil, nil
	}
	return change.Profile, nil
}
