package bot

import (
	"context"
	"fmt"

	"acgn_relay/internal/filter"
	"acgn_relay/internal/model"
)

const (
	cmdStart          = "/start"
	cmdHelp           = "/help"
	cmdAddRegexRule   = "/add_regex_rule"
	cmdAddKeywordRule = "/add_keyword_rule"
	cmdListRules      = "/list_rules"
	cmdRemoveRule     = "/remove_rule"
	cmdFetchNow       = "/fetch_now"
)

const (
	replyInvalidCommand = "invalid command. Use /help for a list of commands."
	replyNoRules        = "no rules found"
)

// zeroArgCommands may be sent without arguments; every other command needs
// at least one.
var zeroArgCommands = map[string]bool{
	cmdStart:     true,
	cmdHelp:      true,
	cmdListRules: true,
	cmdFetchNow:  true,
}

type commandHandler func(ctx context.Context, chatID string, cmd Command)

func (b *Bot) commandTable() map[string]commandHandler {
	return map[string]commandHandler{
		cmdStart:          func(_ context.Context, chatID string, _ Command) { b.handleStart(chatID) },
		cmdHelp:           func(_ context.Context, chatID string, _ Command) { b.handleHelp(chatID) },
		cmdAddRegexRule:   b.handleAddRegexRule,
		cmdAddKeywordRule: b.handleAddKeywordRule,
		cmdListRules:      func(ctx context.Context, chatID string, _ Command) { b.handleListRules(ctx, chatID) },
		cmdRemoveRule:     b.handleRemoveRule,
		cmdFetchNow:       b.handleFetchNow,
	}
}

// HandleText processes one subscriber message and sends exactly one reply.
// Matching posts found by /fetch_now are sent before that reply.
func (b *Bot) HandleText(ctx context.Context, chatID, text string) {
	cmd, err := ParseCommand(text)
	if err != nil {
		b.reply(chatID, replyInvalidCommand)
		return
	}
	if len(cmd.Args) == 0 && !zeroArgCommands[cmd.Name] {
		b.reply(chatID, replyInvalidCommand)
		return
	}
	handler, ok := b.commands[cmd.Name]
	if !ok {
		b.reply(chatID, replyInvalidCommand)
		return
	}

	b.log.Debug("command", "cmd", cmd.Name, "args", cmd.Raw, "chat_id", chatID)
	b.metrics.Commands.WithLabelValues(cmd.Name).Inc()

	handler(ctx, chatID, cmd)
}

func (b *Bot) handleStart(chatID string) {
	b.reply(chatID, `Welcome! This bot forwards new posts that match your rules.

Quick start:
1. /add_keyword_rule <word...> - notify when a post contains all words
2. /add_regex_rule <pattern> - notify when a post matches the whole pattern
3. /list_rules - show your rules

Use /help for the full command reference.`)
}

func (b *Bot) handleHelp(chatID string) {
	b.reply(chatID, `Rules:
/add_keyword_rule <word...> - match posts containing every word (case-sensitive)
/add_regex_rule <pattern> - match posts whose whole text matches the pattern
/list_rules - show your rules
/remove_rule <id> - delete a rule

Posts:
/fetch_now [days] - check posts from the last days now (default 7)

A post is forwarded if any of your rules matches it.`)
}

func (b *Bot) handleAddRegexRule(ctx context.Context, chatID string, cmd Command) {
	rule, err := model.NewRegexRule(cmd.Raw)
	if err != nil {
		b.reply(chatID, "invalid regex rule: pattern is empty")
		return
	}
	if err := filter.ValidateRegex(rule.Kind.(model.Regex).Pattern); err != nil {
		b.reply(chatID, err.Error())
		return
	}
	b.addRule(ctx, chatID, rule)
}

func (b *Bot) handleAddKeywordRule(ctx context.Context, chatID string, cmd Command) {
	rule, err := model.NewKeywordRule(cmd.Args)
	if err != nil {
		b.reply(chatID, "invalid keyword rule: no keywords given")
		return
	}
	b.addRule(ctx, chatID, rule)
}

func (b *Bot) addRule(ctx context.Context, chatID string, rule model.Rule) {
	stored, err := b.store.Append(ctx, chatID, rule)
	if err != nil {
		b.log.Error("append rule", "chat_id", chatID, "error", err)
		b.reply(chatID, "failed to save rule, please try again")
		return
	}
	b.reply(chatID, "rule added: "+FormatRule(stored))
}

func (b *Bot) handleListRules(ctx context.Context, chatID string) {
	rs, err := b.store.Load(ctx, chatID)
	if err != nil {
		b.log.Error("load rules", "chat_id", chatID, "error", err)
		b.reply(chatID, "failed to load rules, please try again")
		return
	}
	if len(rs) == 0 {
		b.reply(chatID, replyNoRules)
		return
	}

	msg := newMessage(chatID, FormatRuleList(rs))
	msg.ReplyMarkup = removeKeyboard(rs)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send rule list", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) handleRemoveRule(ctx context.Context, chatID string, cmd Command) {
	id, err := ParseRuleID(cmd.Args[0])
	if err != nil {
		b.reply(chatID, "invalid rule id, usage: /remove_rule <id>")
		return
	}
	b.removeRule(ctx, chatID, id)
}

func (b *Bot) removeRule(ctx context.Context, chatID string, id int64) {
	removed, err := b.store.Remove(ctx, chatID, id)
	if err != nil {
		b.log.Error("remove rule", "chat_id", chatID, "rule_id", id, "error", err)
		b.reply(chatID, "failed to remove rule, please try again")
		return
	}
	if !removed {
		b.reply(chatID, fmt.Sprintf("rule #%d not found", id))
		return
	}
	b.reply(chatID, fmt.Sprintf("rule #%d removed", id))
}

func (b *Bot) handleFetchNow(ctx context.Context, chatID string, cmd Command) {
	days := ParseDays(cmd.Args)

	rs, err := b.store.Load(ctx, chatID)
	if err != nil {
		b.log.Error("load rules", "chat_id", chatID, "error", err)
		b.reply(chatID, "failed to load rules, please try again")
		return
	}
	if len(rs) == 0 {
		b.reply(chatID, replyNoRules)
		return
	}

	cutoff := b.now().Unix() - int64(days)*86400
	posts, fetchErr := b.fetcher.FetchRecentPosts(ctx, 0, cutoff)
	if fetchErr != nil {
		b.log.Error("fetch posts", "chat_id", chatID, "days", days, "fetched", len(posts), "error", fetchErr)
	}

	sent := 0
	for _, post := range posts {
		if !b.matcher.MatchAny(rs, post.Text) {
			continue
		}
		if err := b.limiter.Wait(ctx); err != nil {
			b.log.Warn("fetch_now sends stopped", "chat_id", chatID, "sent", sent, "error", err)
			break
		}
		if err := b.SendMessage(chatID, FormatNotification(post)); err != nil {
			b.log.Error("send notification", "chat_id", chatID, "post_id", post.ID, "error", err)
			continue
		}
		sent++
	}

	summary := fmt.Sprintf("found %d matching post(s) in the last %d day(s)", sent, days)
	if fetchErr != nil {
		summary += " (feed partially unavailable)"
	}
	b.reply(chatID, summary)
}
