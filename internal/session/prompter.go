package session

import (
	"context"
	"fmt"
	"log/slog"
)

// ChannelPrompter raises consent prompts as a message in a Discord text
// channel. Answers come back through the consent slash command.
type ChannelPrompter struct {
	sender    MessageSender
	channelID string
}

func NewChannelPrompter(sender MessageSender, channelID string) *ChannelPrompter {
	return &ChannelPrompter{sender: sender, channelID: channelID}
}

func (p *ChannelPrompter) PromptConsent(_ context.Context, subject string) error {
	if err := p.sender.SendChannelMessage(p.channelID, messageConsentPrompt); err != nil {
		return fmt.Errorf("post consent prompt: %w", err)
	}
	slog.Info("consent prompt posted", "subject", subject, "channel_id", p.channelID)
	return nil
}
