package main

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/masahide/erlc-sessionbot/pkg/statusview"
	"go.uber.org/zap"
)

var commands = []*discordgo.ApplicationCommand{
	{
		Name:        "session",
		Description: "Post ER:LC session status embed",
	},
	{
		Name:        "command",
		Description: "Execute a command with input",
		Options: []*discordgo.ApplicationCommandOption{
			{Type: discordgo.ApplicationCommandOptionString, Name: "command", Description: "The command name", Required: true},
			{Type: discordgo.ApplicationCommandOptionString, Name: "input", Description: "The input for the command", Required: true},
		},
	},
	{
		Name:        "erlcheck",
		Description: "Show detailed server and staff status",
	},
}

type commandHandler func(ctx context.Context, i *discordgo.Interaction)

func (d *discordbot) commandHandlers() map[string]commandHandler {
	return map[string]commandHandler{
		"session":  d.cmdSession,
		"command":  d.cmdCommand,
		"erlcheck": d.cmdERLCheck,
	}
}

// cmdSession posts a tracked status embed carrying the Start control.
func (d *discordbot) cmdSession(ctx context.Context, i *discordgo.Interaction) {
	if !d.sessions.Authorized(memberRoles(i)) {
		d.replyEphemeral(i, msgDenyCommand)
		return
	}
	d.respond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	})

	snap, err := d.fetcher.FetchSnapshot(ctx)
	if err != nil {
		d.followup(i, &discordgo.WebhookParams{Content: msgFetchFailed, Flags: discordgo.MessageFlagsEphemeral})
		return
	}
	msg, err := d.chat.Send(ctx, i.ChannelID, &discordgo.MessageSend{
		Embeds:     []*discordgo.MessageEmbed{d.theme.StatusEmbed(snap, d.now())},
		Components: statusview.StartControls(),
	})
	if err != nil {
		d.logger.Warn("post status embed", zap.Error(err), zap.String("channel_id", i.ChannelID))
		d.followup(i, &discordgo.WebhookParams{Content: msgPostFailed, Flags: discordgo.MessageFlagsEphemeral})
		return
	}
	d.tracked.Track(msg.ID, i.ChannelID)
	d.logger.Info("tracking status message", zap.String("message_id", msg.ID), zap.String("channel_id", i.ChannelID))
	d.followup(i, &discordgo.WebhookParams{Content: msgEmbedPosted, Flags: discordgo.MessageFlagsEphemeral})
}

func (d *discordbot) cmdCommand(ctx context.Context, i *discordgo.Interaction) {
	var name, input string
	for _, o := range i.ApplicationCommandData().Options {
		switch o.Name {
		case "command":
			name = o.StringValue()
		case "input":
			input = o.StringValue()
		}
	}
	d.replyEphemeral(i, fmt.Sprintf("✅ Command `%s` executed with input: `%s`", name, input))
}

func (d *discordbot) cmdERLCheck(ctx context.Context, i *discordgo.Interaction) {
	d.respond(i, &discordgo.InteractionResponse{Type: discordgo.InteractionResponseDeferredChannelMessageWithSource})

	snap, err := d.fetcher.FetchSnapshot(ctx)
	if err != nil {
		d.followup(i, &discordgo.WebhookParams{Content: msgFetchFailed})
		return
	}
	d.followup(i, &discordgo.WebhookParams{Embeds: []*discordgo.MessageEmbed{d.theme.CheckEmbed(snap, d.now())}})
}
