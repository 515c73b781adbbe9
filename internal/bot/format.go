package bot

import (
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"acgn_relay/internal/model"
)

// FormatNotification formats a matched post as a Telegram notification.
// Telegram renders the link preview, so the link alone is sent when present.
func FormatNotification(post model.Post) string {
	if post.Link != "" {
		return post.Link
	}
	var b strings.Builder
	if post.ChannelName != "" {
		fmt.Fprintf(&b, "[%s]\n\n", post.ChannelName)
	}
	b.WriteString(post.Text)
	return b.String()
}

// FormatRule formats a single rule as "#id kind: value".
func FormatRule(r model.Rule) string {
	switch k := r.Kind.(type) {
	case model.Regex:
		return fmt.Sprintf("#%d regex: %s", r.ID, k.Pattern)
	case model.Keywords:
		return fmt.Sprintf("#%d keywords: %s", r.ID, strings.Join(k.Terms, " "))
	}
	return fmt.Sprintf("#%d (unreadable rule)", r.ID)
}

// FormatRuleList formats a subscriber's rules for display, in insertion order.
func FormatRuleList(rs []model.Rule) string {
	if len(rs) == 0 {
		return replyNoRules
	}
	var b strings.Builder
	b.WriteString("Your rules:\n")
	for _, r := range rs {
		b.WriteString("\n")
		b.WriteString(FormatRule(r))
	}
	b.WriteString("\n\nA post is forwarded if any rule matches. Use /remove_rule <id> or the buttons below to delete one.")
	return b.String()
}

// removeKeyboard has one remove button per rule, two per row.
func removeKeyboard(rs []model.Rule) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	var row []tgbotapi.InlineKeyboardButton
	for _, r := range rs {
		id := strconv.FormatInt(r.ID, 10)
		row = append(row, tgbotapi.NewInlineKeyboardButtonData("Remove #"+id, cbRemove+":"+id))
		if len(row) == 2 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}
