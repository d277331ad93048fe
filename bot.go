package main

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/masahide/erlc-sessionbot/pkg/erlc"
	"github.com/masahide/erlc-sessionbot/pkg/session"
	"github.com/masahide/erlc-sessionbot/pkg/statusview"
	"github.com/masahide/erlc-sessionbot/pkg/tracker"
	"go.uber.org/zap"
)

const (
	msgFetchFailed     = "❌ Failed to fetch ER:LC data."
	msgDenyCommand     = "❌ You do not have permission to use this command."
	msgDenyStart       = "❌ You do not have permission to start a session."
	msgDenyEnd         = "❌ You do not have permission to end a session."
	msgEmbedPosted     = "✅ Session embed posted!"
	msgPostFailed      = "❌ Failed to post the session embed."
	msgSessionEnded    = "✅ Session ended successfully."
	msgUnknownCommand  = "❌ Unknown command."
	msgUnknownControls = "❌ This control is no longer supported."

	presenceOffline = "Server offline"
)

// chat is everything the bot does against Discord.
type chat interface {
	tracker.Chat
	Respond(i *discordgo.Interaction, resp *discordgo.InteractionResponse) error
	Followup(i *discordgo.Interaction, params *discordgo.WebhookParams) error
	Send(ctx context.Context, channelID string, msg *discordgo.MessageSend) (*discordgo.Message, error)
	Edit(ctx context.Context, edit *discordgo.MessageEdit) error
	RegisterCommands(appID, guildID string, cmds []*discordgo.ApplicationCommand) error
	SetPlaying(text string) error
	SetCustomStatus(text string) error
}

type discordbot struct {
	env
	chat     chat
	fetcher  tracker.Fetcher
	sessions *session.Controller
	tracked  *tracker.Set
	theme    statusview.Theme
	logger   *zap.Logger
	now      func() time.Time
}

func newBot(e env, c chat, f tracker.Fetcher, logger *zap.Logger) *discordbot {
	return &discordbot{
		env:      e,
		chat:     c,
		fetcher:  f,
		sessions: session.New(e.AllowedRoleID, session.WithLogger(logger.Named("session"))),
		tracked:  tracker.NewSet(),
		theme:    e.Theme,
		logger:   logger,
		now:      time.Now,
	}
}

func (d *discordbot) ready(s *discordgo.Session, event *discordgo.Ready) {
	if err := d.chat.RegisterCommands(event.User.ID, d.DiscordGuildID, commands); err != nil {
		d.logger.Error("register commands", zap.Error(err))
	}
	d.logger.Info("logged in", zap.String("user", event.User.String()), zap.Int("guilds", len(event.Guilds)))
}

func (d *discordbot) interactionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	d.handle(context.Background(), i.Interaction)
}

func (d *discordbot) handle(ctx context.Context, i *discordgo.Interaction) {
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		name := i.ApplicationCommandData().Name
		h, ok := d.commandHandlers()[name]
		if !ok {
			d.logger.Warn("unknown command", zap.String("command", name))
			d.replyEphemeral(i, msgUnknownCommand)
			return
		}
		h(ctx, i)
	case discordgo.InteractionMessageComponent:
		switch id := i.MessageComponentData().CustomID; id {
		case statusview.StartButtonID:
			d.startSession(ctx, i)
		case statusview.EndButtonID:
			d.endSession(ctx, i)
		default:
			d.logger.Warn("unknown component", zap.String("custom_id", id))
			d.replyEphemeral(i, msgUnknownControls)
		}
	}
}

func (d *discordbot) respond(i *discordgo.Interaction, resp *discordgo.InteractionResponse) {
	if err := d.chat.Respond(i, resp); err != nil {
		d.logger.Warn("interaction respond", zap.Error(err), zap.String("interaction", i.ID))
	}
}

func (d *discordbot) replyEphemeral(i *discordgo.Interaction, content string) {
	d.respond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: content, Flags: discordgo.MessageFlagsEphemeral},
	})
}

func (d *discordbot) followup(i *discordgo.Interaction, params *discordgo.WebhookParams) {
	if err := d.chat.Followup(i, params); err != nil {
		d.logger.Warn("interaction followup", zap.Error(err), zap.String("interaction", i.ID))
	}
}

// updatePresence mirrors the latest snapshot in the bot's activity line.
func (d *discordbot) updatePresence(snap erlc.Snapshot, err error) {
	if err != nil {
		if err := d.chat.SetCustomStatus(presenceOffline); err != nil {
			d.logger.Warn("update custom status", zap.Error(err))
		}
		return
	}
	text := fmt.Sprintf("%d/%d players", snap.Server.CurrentPlayers, snap.Server.MaxPlayers)
	if err := d.chat.SetPlaying(text); err != nil {
		d.logger.Warn("update game status", zap.Error(err))
	}
}

func memberRoles(i *discordgo.Interaction) []string {
	if i.Member == nil {
		return nil
	}
	return i.Member.Roles
}

// invoker returns the display name and avatar of whoever triggered i.
func invoker(i *discordgo.Interaction) (name, avatarURL string) {
	u := i.User
	if i.Member != nil && i.Member.User != nil {
		u = i.Member.User
		avatarURL = i.Member.AvatarURL("")
		if i.Member.Nick != "" {
			name = i.Member.Nick
		}
	}
	if u == nil {
		return name, avatarURL
	}
	if avatarURL == "" {
		avatarURL = u.AvatarURL("")
	}
	if name == "" {
		name = u.GlobalName
	}
	if name == "" {
		name = u.Username
	}
	return name, avatarURL
}
