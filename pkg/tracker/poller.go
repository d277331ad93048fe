package tracker

import (
	"context"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/masahide/erlc-sessionbot/pkg/erlc"
	"go.uber.org/zap"
)

// Chat is the part of Discord the poller needs.
type Chat interface {
	ChannelExists(channelID string) bool
	FetchMessage(ctx context.Context, channelID, messageID string) error
	EditEmbed(ctx context.Context, channelID, messageID string, embed *discordgo.MessageEmbed) error
}

type Fetcher interface {
	FetchSnapshot(ctx context.Context) (erlc.Snapshot, error)
}

type Renderer func(snap erlc.Snapshot, now time.Time) *discordgo.MessageEmbed

// TickResult counts what happened to each entry during one tick.
type TickResult struct {
	Refreshed int
	Skipped   int // channel not resolvable
	Stale     int // snapshot fetch failed
	Untracked int
}

type Poller struct {
	Set      *Set
	Chat     Chat
	Fetcher  Fetcher
	Render   Renderer
	Interval time.Duration
	Logger   *zap.Logger
	Now      func() time.Time
	// OnTick, when set, is called after every tick.
	OnTick func(ctx context.Context, r TickResult)
}

func (p *Poller) logger() *zap.Logger {
	if p.Logger == nil {
		return zap.NewNop()
	}
	return p.Logger
}

func (p *Poller) now() time.Time {
	if p.Now == nil {
		return time.Now()
	}
	return p.Now()
}

// Tick refreshes every tracked message once.
func (p *Poller) Tick(ctx context.Context) TickResult {
	var r TickResult
	log := p.logger()
	for _, e := range p.Set.Entries() {
		if ctx.Err() != nil {
			break
		}
		l := log.With(zap.String("message_id", e.MessageID), zap.String("channel_id", e.ChannelID))
		if !p.Chat.ChannelExists(e.ChannelID) {
			r.Skipped++
			continue
		}
		if err := p.Chat.FetchMessage(ctx, e.ChannelID, e.MessageID); err != nil {
			l.Warn("fetch tracked message, untracking", zap.Error(err))
			p.Set.Untrack(e.MessageID)
			r.Untracked++
			continue
		}
		snap, err := p.Fetcher.FetchSnapshot(ctx)
		if err != nil {
			l.Info("snapshot unavailable, keeping message as is", zap.Error(err))
			r.Stale++
			continue
		}
		if err := p.Chat.EditEmbed(ctx, e.ChannelID, e.MessageID, p.Render(snap, p.now())); err != nil {
			l.Warn("edit tracked message, untracking", zap.Error(err))
			p.Set.Untrack(e.MessageID)
			r.Untracked++
			continue
		}
		r.Refreshed++
	}
	if p.OnTick != nil {
		p.OnTick(ctx, r)
	}
	return r
}

// Run ticks every Interval until ctx is done.
func (p *Poller) Run(ctx context.Context) {
	interval := p.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	p.logger().Info("poller started", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			p.logger().Info("poller stopped")
			return
		case <-ticker.C:
			r := p.Tick(ctx)
			p.logger().Debug("tick", zap.Int("refreshed", r.Refreshed), zap.Int("skipped", r.Skipped),
				zap.Int("stale", r.Stale), zap.Int("untracked", r.Untracked))
		}
	}
}
