package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/masahide/erlc-sessionbot/pkg/session"
	"github.com/masahide/erlc-sessionbot/pkg/statusview"
	"go.uber.org/zap"
)

// startSession handles the Start button: it announces the session with an
// End control and strips the Start control from the clicked message.
func (d *discordbot) startSession(ctx context.Context, i *discordgo.Interaction) {
	name, avatar := invoker(i)
	st, err := d.sessions.Start(memberRoles(i), name)
	if errors.Is(err, session.ErrPermissionDenied) {
		d.replyEphemeral(i, msgDenyStart)
		return
	}

	msg, err := d.chat.Send(ctx, i.ChannelID, &discordgo.MessageSend{
		Embeds:     []*discordgo.MessageEmbed{d.theme.StartedEmbed(name, avatar)},
		Components: statusview.EndControls(),
	})
	if err != nil {
		d.logger.Warn("post session announcement", zap.Error(err), zap.String("session_id", st.ID))
	} else if !d.sessions.Attach(st.ID, i.ChannelID, msg.ID) {
		d.logger.Info("session superseded before announcement attached", zap.String("session_id", st.ID))
	}

	d.respond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseUpdateMessage,
		Data: &discordgo.InteractionResponseData{Components: []discordgo.MessageComponent{}},
	})
}

// endSession handles the End button. The announcement is edited in place when
// it can still be reached, otherwise the clicked message is.
func (d *discordbot) endSession(ctx context.Context, i *discordgo.Interaction) {
	sum, err := d.sessions.End(memberRoles(i))
	if errors.Is(err, session.ErrPermissionDenied) {
		d.replyEphemeral(i, msgDenyEnd)
		return
	}
	duration := statusview.UnknownDuration
	if sum.Known {
		duration = statusview.FormatDuration(sum.Duration)
	}
	name, avatar := invoker(i)
	embed := d.theme.ShutdownEmbed(name, avatar, duration)

	if sum.State.AnnouncementID != "" {
		err := d.editAnnouncement(ctx, sum.State, embed)
		if err == nil {
			d.replyEphemeral(i, msgSessionEnded)
			return
		}
		d.logger.Info("announcement unreachable, editing clicked message", zap.Error(err), zap.String("session_id", sum.State.ID))
	}
	d.respond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseUpdateMessage,
		Data: &discordgo.InteractionResponseData{
			Embeds:     []*discordgo.MessageEmbed{embed},
			Components: []discordgo.MessageComponent{},
		},
	})
}

func (d *discordbot) editAnnouncement(ctx context.Context, st session.State, embed *discordgo.MessageEmbed) error {
	if err := d.chat.FetchMessage(ctx, st.AnnouncementChannelID, st.AnnouncementID); err != nil {
		return fmt.Errorf("fetch announcement: %w", err)
	}
	edit := discordgo.NewMessageEdit(st.AnnouncementChannelID, st.AnnouncementID).
		SetEmbeds([]*discordgo.MessageEmbed{embed})
	edit.Components = &[]discordgo.MessageComponent{}
	if err := d.chat.Edit(ctx, edit); err != nil {
		return fmt.Errorf("edit announcement: %w", err)
	}
	return nil
}
