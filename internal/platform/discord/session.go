package discord

import (
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/colossusbot/modwatch/internal/conf"
)

// NewSession creates a bot session with the intents the gateway needs. The
// session is not opened.
func NewSession(settings *conf.DiscordSettings) (*discordgo.Session, error) {
	if settings.Token == "" {
		return nil, fmt.Errorf("discord token is not configured")
	}
	s, err := discordgo.New("Bot " + settings.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}
	s.Identify.Intents = Intents
	s.StateEnabled = true
	s.ShouldReconnectOnError = true
	s.ShouldRetryOnRateLimit = true
	return s, nil
}
