package discord

import "context"

type SlashCommandOption struct {
	Name        string
	Description string
	Required    bool
	Choices     []string
}

type SlashCommandDefinition struct {
	Name        string
	Description string
	Options     []SlashCommandOption
}

type SlashCommandEvent struct {
	GuildID     string
	ChannelID   string
	CommandName string
	UserID      string
	// Options holds string option values by name.
	Options          map[string]string
	RespondEphemeral func(content string) error
}

type VoiceStateEvent struct {
	GuildID         string
	UserID          string
	UserIsBot       bool
	BeforeChannelID string
	AfterChannelID  string
}

type VoiceParticipant struct {
	UserID string
	IsBot  bool
}

type Client interface {
	Connect(ctx context.Context) error
	Close() error
	JoinVoiceChannel(guildID, channelID string) (VoiceConnection, error)
	SendChannelMessage(channelID, content string) error
	RegisterVoiceStateUpdateHandler(handler func(VoiceStateEvent))
	RegisterSlashCommandHandler(handler func(SlashCommandEvent))
	UpsertGuildSlashCommands(guildID string, defs []SlashCommandDefinition) error
	GetUserVoiceChannelID(guildID, userID string) (string, error)
	ListVoiceChannelParticipants(guildID, channelID string) ([]VoiceParticipant, error)
}

type VoiceConnection interface {
	Disconnect() error
	// ReceiveAudio blocks, invoking callback for every received Opus packet,
	// until the connection's receive channel is closed.
	ReceiveAudio(callback func(userID string, opusPacket []byte))
}
