package chat

import (
	"chatsync/internal/models"
	"context"
	"fmt"
)

// Channels returns the last loaded channel list
func (c *Client) Channels() []models.Channel {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]models.Channel(nil), c.channels...)
}

// DirectChannels returns the last loaded direct message channels of the user
func (c *Client) DirectChannels() []models.Channel {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]models.Channel(nil), c.dmChannels...)
}

// LoadChannels fetches the channel list ordered by creation time. When no channel is active, the last active one
// (if still listed) or the first channel is selected. On failure the previous list is kept
func (c *Client) LoadChannels(ctx context.Context) ([]models.Channel, error) {
	channels, err := c.backend.Channels(ctx)
	if err != nil {
		c.logger.Errorf("Loading channels: %v", err)
		return c.Channels(), fmt.Errorf("loading channels: %w", err)
	}

	c.mu.Lock()
	c.channels = channels
	active := c.active
	c.mu.Unlock()

	c.logger.Debugf("Loaded %d channels", len(channels))
	c.notify(Update{Kind: UpdateChannels})

	if active == "" && len(channels) > 0 {
		target := channels[0].ID
		if last, ok := c.cache.CurrentChannel(); ok && containsChannel(channels, last) {
			target = last
		}
		if err := c.SwitchChannel(ctx, target); err != nil {
			return channels, err
		}
	}

	return channels, nil
}

// LoadDMChannels fetches direct message channels the user participates in
func (c *Client) LoadDMChannels(ctx context.Context) ([]models.Channel, error) {
	if !c.session.Authenticated() {
		return nil, ErrUnauthenticated
	}

	channels, err := c.backend.DirectChannels(ctx, c.session.UserID)
	if err != nil {
		c.logger.Errorf("Loading direct channels: %v", err)
		return c.DirectChannels(), fmt.Errorf("loading direct channels: %w", err)
	}

	c.mu.Lock()
	c.dmChannels = channels
	c.mu.Unlock()

	c.notify(Update{Kind: UpdateDirectChannels})

	return channels, nil
}

// OpenDirect returns the direct message channel with other, creating it when absent, and refreshes the list
func (c *Client) OpenDirect(ctx context.Context, other string) (string, error) {
	if !c.session.Authenticated() {
		return "", ErrUnauthenticated
	}

	c.logger.Debugf("Opening direct channel between %s and %s", c.session.UserID, other)

	id, err := c.backend.GetOrCreateDirectChannel(ctx, c.session.UserID, other)
	if err != nil {
		return "", fmt.Errorf("opening direct channel: %w", err)
	}

	if _, err := c.LoadDMChannels(ctx); err != nil {
		return id, err
	}
	return id, nil
}

func containsChannel(list []models.Channel, id string) bool {
	for _, ch := range list {
		if ch.ID == id {
			return true
		}
	}
	return false
}
