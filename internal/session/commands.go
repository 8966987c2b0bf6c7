package session

import (
	"context"
	"errors"
	"log/slog"

	"github.com/foxseedlab/kikitori/internal/config"
	"github.com/foxseedlab/kikitori/internal/discord"
	"github.com/foxseedlab/kikitori/internal/permission"
	"github.com/foxseedlab/kikitori/internal/speech"
)

const (
	slashCommandStart      = "kikitori-start"
	slashCommandStop       = "kikitori-stop"
	slashCommandPermission = "kikitori-permission"
	slashCommandConsent    = "kikitori-consent"
	slashCommandStatus     = "kikitori-status"
)

func SlashCommandDefinitions() []discord.SlashCommandDefinition {
	return []discord.SlashCommandDefinition{
		{
			Name:        slashCommandStart,
			Description: slashCommandStartDescription,
			Options: []discord.SlashCommandOption{
				{Name: slashCommandStartLocaleOption, Description: slashCommandStartLocaleDesc},
			},
		},
		{Name: slashCommandStop, Description: slashCommandStopDescription},
		{Name: slashCommandPermission, Description: slashCommandPermissionDescription},
		{
			Name:        slashCommandConsent,
			Description: slashCommandConsentDescription,
			Options: []discord.SlashCommandOption{
				{
					Name:        slashCommandConsentDecisionOption,
					Description: slashCommandConsentDecisionDesc,
					Required:    true,
					Choices:     []string{consentDecisionAllow, consentDecisionDeny},
				},
			},
		},
		{Name: slashCommandStatus, Description: slashCommandStatusDescription},
	}
}

type ConsentRecorder interface {
	Decide(ctx context.Context, authorization permission.Authorization, decidedBy string) error
}

type PermissionRefresher interface {
	Refresh(ctx context.Context) permission.Status
}

// Commands maps Discord slash commands and voice state updates onto the
// controller.
type Commands struct {
	cfg        *config.Config
	controller *Controller
	discord    discord.Client
	refresher  PermissionRefresher
	consent    ConsentRecorder

	ctx    context.Context
	cancel context.CancelFunc
}

// NewCommands accepts a nil consent recorder when consent is not managed
// through commands.
func NewCommands(cfg *config.Config, controller *Controller, dc discord.Client, refresher PermissionRefresher, consent ConsentRecorder) *Commands {
	ctx, cancel := context.WithCancel(context.Background())
	return &Commands{
		cfg:        cfg,
		controller: controller,
		discord:    dc,
		refresher:  refresher,
		consent:    consent,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Close abandons pending permission requests.
func (c *Commands) Close() {
	c.cancel()
}

func (c *Commands) HandleSlashCommand(event discord.SlashCommandEvent) {
	if event.GuildID != c.cfg.DiscordGuildID {
		c.respond(event, messageEphemeralWrongGuild)
		return
	}
	switch event.CommandName {
	case slashCommandStart:
		c.handleStart(event)
	case slashCommandStop:
		c.handleStop(event)
	case slashCommandPermission:
		c.handlePermission(event)
	case slashCommandConsent:
		c.handleConsent(event)
	case slashCommandStatus:
		c.handleStatus(event)
	default:
		c.respond(event, messageEphemeralUnknownCommand)
	}
}

func (c *Commands) handleStart(event discord.SlashCommandEvent) {
	locale := c.cfg.DefaultLocale()
	if raw := event.Options[slashCommandStartLocaleOption]; raw != "" {
		parsed, err := speech.ParseLocale(raw)
		if err != nil {
			slog.Info("rejected start command with invalid locale", "locale", raw, "error", err, "user_id", event.UserID)
			c.respond(event, invalidLocaleEphemeral(raw))
			return
		}
		locale = parsed
	}
	if c.controller.PermissionStatus() != permission.StatusGranted {
		c.respond(event, messageEphemeralPermissionRequired)
		return
	}
	if c.cfg.CaptureSource == config.CaptureSourceDiscord {
		channelID, err := c.discord.GetUserVoiceChannelID(event.GuildID, event.UserID)
		if err != nil {
			slog.Error("failed to resolve user voice channel", "error", err, "user_id", event.UserID)
			c.respond(event, messageEphemeralVoiceLookupFailed)
			return
		}
		if channelID != c.cfg.DiscordVCID {
			c.respond(event, messageEphemeralJoinVCFirst)
			return
		}
	}
	c.controller.StartRecording(locale)
	c.respond(event, startEphemeral(locale))
}

func (c *Commands) handleStop(event discord.SlashCommandEvent) {
	if _, _, ok := c.controller.Active(); !ok {
		c.respond(event, messageEphemeralNotRunning)
		return
	}
	c.controller.StopRecording()
	c.respond(event, messageEphemeralStop)
}

// handlePermission answers right away and reports the outcome in the channel
// once the prompt is answered.
func (c *Commands) handlePermission(event discord.SlashCommandEvent) {
	if c.controller.PermissionStatus() == permission.StatusGranted {
		c.respond(event, messageEphemeralAlreadyPermitted)
		_ = c.controller.RequestPermission(c.ctx)
		return
	}
	c.respond(event, messageEphemeralPermissionPending)
	go func() {
		err := c.controller.RequestPermission(c.ctx)
		if c.ctx.Err() != nil {
			return
		}
		content := messagePermissionGranted
		if err != nil {
			var serr *speech.Error
			reason := err.Error()
			if errors.As(err, &serr) && serr.Reason != "" {
				reason = serr.Reason
			}
			slog.Info("speech recognition permission not granted", "error", err, "user_id", event.UserID)
			content = permissionDeniedMessage(reason)
		}
		if err := c.discord.SendChannelMessage(event.ChannelID, content); err != nil {
			slog.Error("failed to post permission outcome", "error", err, "channel_id", event.ChannelID)
		}
	}()
}

func (c *Commands) handleConsent(event discord.SlashCommandEvent) {
	if c.consent == nil {
		c.respond(event, messageEphemeralConsentUnavailable)
		return
	}
	var (
		authorization permission.Authorization
		reply         string
	)
	switch event.Options[slashCommandConsentDecisionOption] {
	case consentDecisionAllow:
		authorization, reply = permission.AuthorizationAuthorized, messageEphemeralConsentAllowed
	case consentDecisionDeny:
		authorization, reply = permission.AuthorizationDenied, messageEphemeralConsentDenied
	default:
		c.respond(event, messageEphemeralConsentInvalid)
		return
	}
	if err := c.consent.Decide(c.ctx, authorization, event.UserID); err != nil {
		slog.Error("failed to record consent decision", "error", err, "user_id", event.UserID, "authorization", authorization.String())
		c.respond(event, messageEphemeralConsentFailed)
		return
	}
	slog.Info("consent decision recorded", "user_id", event.UserID, "authorization", authorization.String())
	if c.refresher.Refresh(c.ctx) == permission.StatusGranted {
		// granted: returns at once and leaves RequiresPermission
		_ = c.controller.RequestPermission(c.ctx)
	}
	c.respond(event, reply)
}

func (c *Commands) handleStatus(event discord.SlashCommandEvent) {
	id, locale, active := c.controller.Active()
	c.respond(event, statusEphemeral(c.controller.State(), id, locale, active))
}

// HandleVoiceStateUpdate stops recording once no human is left in the
// captured voice channel.
func (c *Commands) HandleVoiceStateUpdate(event discord.VoiceStateEvent) {
	if c.cfg.CaptureSource != config.CaptureSourceDiscord {
		return
	}
	if event.GuildID != c.cfg.DiscordGuildID || event.BeforeChannelID != c.cfg.DiscordVCID || event.UserIsBot {
		return
	}
	if _, _, ok := c.controller.Active(); !ok {
		return
	}
	participants, err := c.discord.ListVoiceChannelParticipants(event.GuildID, c.cfg.DiscordVCID)
	if err != nil {
		slog.Error("failed to list voice channel participants", "error", err, "channel_id", c.cfg.DiscordVCID)
		return
	}
	for _, p := range participants {
		if !p.IsBot {
			return
		}
	}
	slog.Info("all participants left voice channel; stopping recording", "channel_id", c.cfg.DiscordVCID)
	if c.cfg.DiscordTextChannelID != "" {
		if err := c.discord.SendChannelMessage(c.cfg.DiscordTextChannelID, messageChannelParticipants); err != nil {
			slog.Error("failed to post participants left message", "error", err)
		}
	}
	c.controller.StopRecording()
}

func (c *Commands) respond(event discord.SlashCommandEvent, content string) {
	if event.RespondEphemeral == nil {
		return
	}
	if err := event.RespondEphemeral(content + "\n" + messagePoweredByLine); err != nil {
		slog.Error("failed to respond to slash command", "error", err, "command", event.CommandName, "user_id", event.UserID)
	}
}
