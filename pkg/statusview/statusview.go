// Package statusview renders ER:LC snapshots and session announcements as
// Discord embeds. Everything here is pure: the same input gives the same embed.
package statusview

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/masahide/erlc-sessionbot/pkg/erlc"
)

const (
	Civilian        = "Civilian"
	NoStaff         = "No staff online."
	UnknownName     = "Unknown"
	UnknownDuration = "Unknown"

	StartButtonID = "session_start"
	EndButtonID   = "session_end"

	defaultServerName = "Tennessee State Roleplay | Realistic | Strict"
	defaultJoinKey    = "TNMETRO"
)

// Theme holds the cosmetic parts of every embed.
type Theme struct {
	BannerURL   string `envconfig:"SESSION_BANNER_URL" default:"https://cdn.discordapp.com/attachments/1461066463438831830/1461466290605789459/SESSION.png"`
	ServerOwner string `envconfig:"SERVER_OWNER" default:"Vyncemanden"`
	StatusEmoji string `envconfig:"STATUS_EMOJI" default:"<:image_20260115_172643193:1461471690092449905>"`
	CheckEmoji  string `envconfig:"CHECK_EMOJI" default:"<:image_20260115_172829941:1461472139109470461>"`
	Color       int    `envconfig:"EMBED_COLOR" default:"2829617"` // 0x2b2d31
}

// DefaultTheme matches the envconfig defaults.
func DefaultTheme() Theme {
	return Theme{
		BannerURL:   "https://cdn.discordapp.com/attachments/1461066463438831830/1461466290605789459/SESSION.png",
		ServerOwner: "Vyncemanden",
		StatusEmoji: "<:image_20260115_172643193:1461471690092449905>",
		CheckEmoji:  "<:image_20260115_172829941:1461472139109470461>",
		Color:       0x2b2d31,
	}
}

func IsStaff(p erlc.Player) bool {
	return p.PermissionLevel != Civilian
}

func ActiveStaff(players []erlc.Player) int {
	n := 0
	for _, p := range players {
		if IsStaff(p) {
			n++
		}
	}
	return n
}

// RoleLabel maps a permission level to the label shown in staff listings.
func RoleLabel(level string) string {
	switch level {
	case "Moderator", "Admin", "Co-Owner":
		return level
	}
	return "Staff"
}

func playerName(p erlc.Player) string {
	if p.Player == "" {
		return UnknownName
	}
	return p.Player
}

// StaffList returns one bullet per staff member, in the order given.
func StaffList(players []erlc.Player) string {
	var lines []string
	for _, p := range players {
		if !IsStaff(p) {
			continue
		}
		lines = append(lines, fmt.Sprintf("• **%s** (%s)", playerName(p), RoleLabel(p.PermissionLevel)))
	}
	if len(lines) == 0 {
		return NoStaff
	}
	return strings.Join(lines, "\n")
}

func FormatDuration(d time.Duration) string {
	secs := int64(d / time.Second)
	if secs < 0 {
		secs = 0
	}
	h, rem := secs/3600, secs%3600
	return fmt.Sprintf("%dh %dm %ds", h, rem/60, rem%60)
}

func codeBlock(v any) string {
	return fmt.Sprintf("```\n%v\n```", v)
}

func relative(t time.Time) string {
	return fmt.Sprintf("<t:%d:R>", t.Unix())
}

func (t Theme) image() *discordgo.MessageEmbedImage {
	if t.BannerURL == "" {
		return nil
	}
	return &discordgo.MessageEmbedImage{URL: t.BannerURL}
}

func (t Theme) StatusEmbed(snap erlc.Snapshot, now time.Time) *discordgo.MessageEmbed {
	name := snap.Server.Name
	if name == "" {
		name = defaultServerName
	}
	code := snap.Server.JoinKey
	if code == "" {
		code = defaultJoinKey
	}
	return &discordgo.MessageEmbed{
		Title: strings.TrimSpace(t.StatusEmoji + " Session Status"),
		Description: "> Welcome to our Sessions Channel! Here will show the status of\n" +
			"> the In-game Playercount, Active Staff and Queue.\n\n" +
			fmt.Sprintf("• Server Name: %s\n", name) +
			fmt.Sprintf("• Server Code: %s\n", code) +
			fmt.Sprintf("• Server Owner: %s", t.ServerOwner),
		Color: t.Color,
		Image: t.image(),
		Fields: []*discordgo.MessageEmbedField{
			{Name: strings.TrimSpace(t.CheckEmoji + " In-Game Status"), Value: "**Last Updated:** " + relative(now)},
			{Name: "Player Count", Value: codeBlock(fmt.Sprintf("%d/%d", snap.Server.CurrentPlayers, snap.Server.MaxPlayers)), Inline: true},
			{Name: "Active Staff", Value: codeBlock(ActiveStaff(snap.Players)), Inline: true},
			{Name: "In Queue", Value: codeBlock(snap.Server.QueuePlayers), Inline: true},
		},
	}
}

func (t Theme) CheckEmbed(snap erlc.Snapshot, now time.Time) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title: strings.TrimSpace(t.CheckEmoji + " Server Status Check"),
		Description: "> Current live look at the server status and active staff members.\n" +
			"> High quality roleplay is our top priority!",
		Color: t.Color,
		Image: t.image(),
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Players", Value: codeBlock(fmt.Sprintf("%d/%d", snap.Server.CurrentPlayers, snap.Server.MaxPlayers)), Inline: true},
			{Name: "In Queue", Value: codeBlock(snap.Server.QueuePlayers), Inline: true},
			{Name: "Staff Online", Value: StaffList(snap.Players)},
			{Name: "Last Updated", Value: relative(now)},
		},
	}
}

func author(name, iconURL string) *discordgo.MessageEmbedAuthor {
	if name == "" {
		return nil
	}
	return &discordgo.MessageEmbedAuthor{Name: name, IconURL: iconURL}
}

func (t Theme) StartedEmbed(startedBy, iconURL string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title: strings.TrimSpace(t.StatusEmoji + " Session has started!"),
		Description: "> Session has started you are free you join.\n" +
			"> Please ensure you follow all rules and have fun roleplaying!",
		Color:  t.Color,
		Author: author(startedBy, iconURL),
		Image:  t.image(),
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Status", Value: codeBlock("STARTED"), Inline: true},
			{Name: "Staff on Site", Value: codeBlock(startedBy), Inline: true},
		},
	}
}

// ShutdownEmbed renders the end-of-session notice. duration is shown verbatim,
// callers pass UnknownDuration when no start time was recorded.
func (t Theme) ShutdownEmbed(endedBy, iconURL, duration string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title: "Session Shutdown!",
		Description: "> The Server Has now been shutdown, Please wait for for we\n" +
			"> host another session very soon aswell please don't be In-game\n" +
			"> while the session is down.",
		Color:  t.Color,
		Author: author(endedBy, iconURL),
		Image:  t.image(),
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Session Duration", Value: codeBlock(duration)},
		},
	}
}

func StartControls() []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			discordgo.Button{Label: "Start", Style: discordgo.SuccessButton, CustomID: StartButtonID},
		}},
	}
}

func EndControls() []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			discordgo.Button{Label: "End", Style: discordgo.DangerButton, CustomID: EndButtonID},
		}},
	}
}
