package dispatch

import (
	"html"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"remindbot/internal/reminder"
	"remindbot/internal/timeparse"
)

// MaxMessageRunes bounds a rendered message so it goes out as one Telegram
// message.
const MaxMessageRunes = 4000

const maxTitleRunes = 256

// Render builds the HTML body for one firing of r at the trigger instant at.
// An over-long description is cut to fit MaxMessageRunes.
func Render(r reminder.Reminder, kind reminder.TriggerKind, at time.Time) string {
	title := html.EscapeString(clip(r.Title, maxTitleRunes))

	var head string
	switch kind {
	case reminder.Lead:
		remaining := timeparse.FormatRemaining(r.MainTime.Sub(at))
		head = "⏰ <b>Reminder in " + remaining + ":</b> " + title
	default:
		head = "🔔 <b>" + title + "</b> starts now"
	}

	tail := "\n\n🕒 " + r.MainTime.UTC().Format("2006-01-02 15:04 MST")
	if line := mentionLine(r); line != "" {
		tail += "\n" + line
	}

	var b strings.Builder
	b.WriteString(head)
	if d := strings.TrimSpace(r.Description); d != "" {
		budget := MaxMessageRunes - utf8.RuneCountInString(head) - utf8.RuneCountInString(tail) - 2
		if esc := escapeWithin(d, budget); esc != "" {
			b.WriteString("\n\n")
			b.WriteString(esc)
		}
	}
	b.WriteString(tail)
	return b.String()
}

// clip cuts s to n runes, the last one an ellipsis.
func clip(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	rs := []rune(s)
	return string(rs[:n-1]) + "…"
}

// escapeWithin HTML-escapes s and cuts the result to budget runes without
// splitting an entity.
func escapeWithin(s string, budget int) string {
	esc := html.EscapeString(s)
	if utf8.RuneCountInString(esc) <= budget {
		return esc
	}
	if budget < 2 {
		return ""
	}
	var b strings.Builder
	n := 0
	for _, c := range s {
		e := html.EscapeString(string(c))
		w := utf8.RuneCountInString(e)
		if n+w > budget-1 {
			break
		}
		b.WriteString(e)
		n += w
	}
	b.WriteString("…")
	return b.String()
}

// mentionLine is empty for direct messages: the recipient is the destination.
func mentionLine(r reminder.Reminder) string {
	if r.Destination.Kind == reminder.DirectMessage {
		return ""
	}
	if r.Mentions.Everyone {
		return "@everyone"
	}
	if len(r.Mentions.UserIDs) == 0 {
		return ""
	}
	parts := make([]string, 0, len(r.Mentions.UserIDs))
	for _, id := range r.Mentions.UserIDs {
		s := strconv.FormatInt(id, 10)
		parts = append(parts, `<a href="tg://user?id=`+s+`">`+s+`</a>`)
	}
	return "👥 " + strings.Join(parts, " ")
}
