package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"golang.org/x/time/rate"

	"acgn_relay/internal/bot"
	"acgn_relay/internal/fetcher"
	"acgn_relay/internal/filter"
	"acgn_relay/internal/metrics"
	"acgn_relay/internal/rules"
)

// Sender is the interface for sending Telegram messages.
type Sender interface {
	SendMessage(chatID, text string) error
}

// Report summarizes one dispatch pass.
type Report struct {
	NoRules   bool
	Posts     int
	Sent      int
	Failed    int
	Watermark int64
	Err       error
}

// String renders the report for the manual trigger endpoint.
func (r Report) String() string {
	if r.NoRules {
		return "no rules"
	}
	s := fmt.Sprintf("posts: %d, sent: %d, failed: %d", r.Posts, r.Sent, r.Failed)
	if r.Err != nil {
		s += fmt.Sprintf(", error: %v", r.Err)
	}
	return s
}

// Job matches new feed posts against every subscriber's rules and sends the
// links of matching posts.
type Job struct {
	rules       *rules.Store
	watermark   *rules.Watermark
	fetcher     *fetcher.Fetcher
	matcher     *filter.Matcher
	sender      Sender
	limiter     *rate.Limiter
	metrics     *metrics.Metrics
	adminChatID string
	log         *slog.Logger
	now         func() time.Time
}

// NewJob creates a dispatch Job. Sends are limited to bot.DefaultSendRate
// per second.
func NewJob(
	store *rules.Store,
	watermark *rules.Watermark,
	f *fetcher.Fetcher,
	m *filter.Matcher,
	sender Sender,
	met *metrics.Metrics,
	log *slog.Logger,
) *Job {
	return &Job{
		rules:     store,
		watermark: watermark,
		fetcher:   f,
		matcher:   m,
		sender:    sender,
		limiter:   bot.NewSendLimiter(bot.DefaultSendRate),
		metrics:   met,
		log:       log,
		now:       time.Now,
	}
}

// SetSendRate overrides the notification rate in messages per second.
// A non-positive rate disables throttling.
func (j *Job) SetSendRate(perSecond float64) {
	j.limiter = bot.NewSendLimiter(perSecond)
}

// SetLimiter replaces the send limiter, typically with one shared with the bot.
func (j *Job) SetLimiter(l *rate.Limiter) {
	j.limiter = l
}

// SetAdminChat sets a chat that is told about failed feed fetches.
func (j *Job) SetAdminChat(chatID string) {
	j.adminChatID = chatID
}

// Run performs one dispatch pass. When the pass ends, whatever its outcome,
// the watermark is moved to the time the pass started, so posts published
// while it ran are picked up by the next one. The stored value always
// increases.
func (j *Job) Run(ctx context.Context) (rep Report) {
	started := j.now().Unix()
	defer func() {
		rep.Watermark = j.advanceWatermark(context.WithoutCancel(ctx), started)
	}()

	subs, err := j.rules.ListAll(ctx)
	if err != nil {
		j.log.Error("list rules", "error", err)
		j.metrics.DispatchRuns.WithLabelValues(metrics.ResultStoreError).Inc()
		rep.Err = err
		return rep
	}
	if len(subs) == 0 {
		j.log.Info("dispatch skipped: no rules")
		j.metrics.DispatchRuns.WithLabelValues(metrics.ResultNoRules).Inc()
		rep.NoRules = true
		return rep
	}

	cutoff, _, err := j.watermark.Load(ctx)
	if err != nil {
		j.log.Warn("load watermark, using default cutoff", "error", err)
	}

	posts, err := j.fetcher.FetchRecentPosts(ctx, 0, cutoff)
	if err != nil {
		j.log.Error("fetch posts", "cutoff", cutoff, "fetched", len(posts), "error", err)
		j.metrics.FetchErrors.Inc()
		rep.Err = err
		j.notifyAdmin(fmt.Sprintf("dispatch: feed fetch failed after %d posts: %v", len(posts), err))
	}
	rep.Posts = len(posts)
	j.metrics.PostsFetched.Add(float64(len(posts)))

	ids := slices.Sorted(maps.Keys(subs))
	for _, post := range posts {
		for _, id := range ids {
			if ctx.Err() != nil {
				rep.Err = ctx.Err()
				return rep
			}
			if !j.matcher.MatchAny(subs[id], post.Text) {
				continue
			}
			if err := j.limiter.Wait(ctx); err != nil {
				rep.Err = err
				return rep
			}
			if err := j.sender.SendMessage(id, bot.FormatNotification(post)); err != nil {
				j.log.Error("send notification", "chat_id", id, "post_id", post.ID, "error", err)
				j.metrics.NotificationFailures.Inc()
				rep.Failed++
				continue
			}
			j.metrics.NotificationsSent.Inc()
			rep.Sent++
		}
	}

	if rep.Err != nil {
		j.metrics.DispatchRuns.WithLabelValues(metrics.ResultFetchError).Inc()
	} else {
		j.metrics.DispatchRuns.WithLabelValues(metrics.ResultOK).Inc()
	}
	if rep.Sent > 0 || rep.Failed > 0 {
		j.log.Info("sent notifications", "posts", rep.Posts, "sent", rep.Sent, "failed", rep.Failed)
	}
	return rep
}

func (j *Job) advanceWatermark(ctx context.Context, ts int64) int64 {
	prev, ok, err := j.watermark.Load(ctx)
	if err != nil {
		j.log.Warn("load watermark before advance", "error", err)
	}
	if ok && prev >= ts {
		ts = prev + 1
	}
	if err := j.watermark.Save(ctx, ts); err != nil {
		j.log.Error("advance watermark", "error", err)
	}
	return ts
}

func (j *Job) notifyAdmin(text string) {
	if j.adminChatID == "" {
		return
	}
	if err := j.sender.SendMessage(j.adminChatID, text); err != nil {
		j.log.Error("notify admin", "chat_id", j.adminChatID, "error", err)
	}
}
