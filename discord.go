package main

import (
	"context"

	"github.com/bwmarrin/discordgo"
)

// discordChat adapts *discordgo.Session to chat.
type discordChat struct {
	s *discordgo.Session
}

// ChannelExists only consults the gateway state cache.
func (c discordChat) ChannelExists(channelID string) bool {
	_, err := c.s.State.Channel(channelID)
	return err == nil
}

func (c discordChat) FetchMessage(ctx context.Context, channelID, messageID string) error {
	_, err := c.s.ChannelMessage(channelID, messageID, discordgo.WithContext(ctx))
	return err
}

func (c discordChat) EditEmbed(ctx context.Context, channelID, messageID string, embed *discordgo.MessageEmbed) error {
	edit := discordgo.NewMessageEdit(channelID, messageID).SetEmbeds([]*discordgo.MessageEmbed{embed})
	return c.Edit(ctx, edit)
}

func (c discordChat) Edit(ctx context.Context, edit *discordgo.MessageEdit) error {
	_, err := c.s.ChannelMessageEditComplex(edit, discordgo.WithContext(ctx))
	return err
}

func (c discordChat) Send(ctx context.Context, channelID string, msg *discordgo.MessageSend) (*discordgo.Message, error) {
	return c.s.ChannelMessageSendComplex(channelID, msg, discordgo.WithContext(ctx))
}

func (c discordChat) Respond(i *discordgo.Interaction, resp *discordgo.InteractionResponse) error {
	return c.s.InteractionRespond(i, resp)
}

func (c discordChat) Followup(i *discordgo.Interaction, params *discordgo.WebhookParams) error {
	_, err := c.s.FollowupMessageCreate(i, true, params)
	return err
}

func (c discordChat) RegisterCommands(appID, guildID string, cmds []*discordgo.ApplicationCommand) error {
	_, err := c.s.ApplicationCommandBulkOverwrite(appID, guildID, cmds)
	return err
}

func (c discordChat) SetPlaying(text string) error {
	return c.s.UpdateGameStatus(0, text)
}

func (c discordChat) SetCustomStatus(text string) error {
	return c.s.UpdateCustomStatus(text)
}
