// Package bot routes incoming chat messages: an in-flight wizard dialog
// consumes its follow-ups, commands enter the wizard or act directly, and
// everything else is offered to the conversion engine, which stays silent
// unless the text carries a time anchored to a watched city.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/codeGROOVE-dev/tzChat/pkg/cities"
	"github.com/codeGROOVE-dev/tzChat/pkg/convert"
	"github.com/codeGROOVE-dev/tzChat/pkg/wizard"
)

// CityStore persists watched-city lists per conversation. List returns nil
// when the conversation has no stored list yet.
type CityStore interface {
	List(conversationID int64) (*cities.List, error)
}

// CalendarStore reads calendar-link settings per conversation.
type CalendarStore interface {
	Calendar(conversationID int64) (convert.Calendar, bool, error)
}

// SendOptions control how a reply is rendered by the transport.
type SendOptions struct {
	AllowMarkup     bool
	SuppressPreview bool
}

// Sink delivers replies to a conversation.
type Sink interface {
	Send(ctx context.Context, conversationID int64, text string, opts SendOptions) error
}

// Bot glues the wizard and the conversion engine to a transport. It holds
// no per-conversation state; everything is re-read from the stores for each
// message.
type Bot struct {
	cities    CityStore
	calendars CalendarStore
	wizard    *wizard.Wizard
	engine    *convert.Engine
	sink      Sink
	logger    *slog.Logger
}

// New creates a Bot. A nil logger falls back to slog.Default.
func New(cs CityStore, cal CalendarStore, wiz *wizard.Wizard, engine *convert.Engine, sink Sink, logger *slog.Logger) *Bot {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bot{cities: cs, calendars: cal, wizard: wiz, engine: engine, sink: sink, logger: logger}
}

const helpText = `I convert times between the watched cities. Type a time plus a city code, like "18:30 p", and I reply with the equivalent in every city.

/cities — show the watched cities and their codes
/add [name] — add a city
/remove [name or code] — remove a city
/calendar — calendar-link settings
/cancel — abandon the current dialog`

// HandleMessage processes one incoming text message. Errors never escape;
// anything that goes wrong is logged and at worst the message is ignored,
// the same as non-matching chatter.
func (b *Bot) HandleMessage(ctx context.Context, conversationID, userID int64, text string) {
	if reply, handled := b.wizard.Resume(ctx, conversationID, userID, text); handled {
		b.reply(ctx, conversationID, reply, SendOptions{})
		return
	}

	cmd, arg := splitCommand(text)
	switch cmd {
	case "/start", "/help":
		b.reply(ctx, conversationID, helpText, SendOptions{})
	case "/add":
		b.reply(ctx, conversationID, b.wizard.StartAdd(ctx, conversationID, userID, arg), SendOptions{})
	case "/remove", "/rm":
		b.reply(ctx, conversationID, b.wizard.StartRemove(conversationID, userID, arg), SendOptions{})
	case "/cities", "/list":
		b.reply(ctx, conversationID, b.describeCities(conversationID), SendOptions{})
	case "/calendar":
		b.reply(ctx, conversationID, b.wizard.StartCalendar(conversationID, userID), SendOptions{})
	case "/cancel", "/done", "/disable":
		// Dialog-control commands with no dialog in flight: nothing to do.
	default:
		b.convert(ctx, conversationID, text)
	}
}

// convert runs the best-effort conversion path: store trouble degrades to
// the defaults rather than surfacing to the chat.
func (b *Bot) convert(ctx context.Context, conversationID int64, text string) {
	list, err := b.cities.List(conversationID)
	if err != nil {
		b.logger.Warn("city list read failed, using defaults", "conversation", conversationID, "error", err)
	}
	if list == nil {
		list = cities.DefaultList()
	}

	cal, found, err := b.calendars.Calendar(conversationID)
	if err != nil {
		b.logger.Warn("calendar settings read failed, using defaults", "conversation", conversationID, "error", err)
		found = false
	}
	if !found {
		cal = convert.DefaultCalendar()
	}

	report, ok := b.engine.Report(text, list, cal)
	if !ok {
		return
	}
	b.reply(ctx, conversationID, report, SendOptions{AllowMarkup: true, SuppressPreview: true})
}

func (b *Bot) describeCities(conversationID int64) string {
	list, err := b.cities.List(conversationID)
	if err != nil {
		b.logger.Error("city list read failed", "conversation", conversationID, "error", err)
		return "Something went wrong, please try again."
	}
	if list == nil {
		list = cities.DefaultList()
	}
	var sb strings.Builder
	sb.WriteString("Watched cities:\n")
	for _, c := range list.Cities {
		fmt.Fprintf(&sb, "%s — %s (%s)\n", strings.Join(c.Aliases, ", "), c.Name, c.TimezoneID)
	}
	sb.WriteString("Type a time plus a code, like \"18:30 " + list.Cities[0].Aliases[0] + "\".")
	return sb.String()
}

func (b *Bot) reply(ctx context.Context, conversationID int64, text string, opts SendOptions) {
	if text == "" {
		return
	}
	if err := b.sink.Send(ctx, conversationID, text, opts); err != nil {
		b.logger.Error("reply send failed", "conversation", conversationID, "error", err)
	}
}

// splitCommand splits "/cmd@BotName the rest" into "/cmd" and "the rest".
// Non-command text returns an empty command.
func splitCommand(text string) (cmd, arg string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", text
	}
	cmd = text
	if i := strings.IndexAny(text, " \t\n"); i >= 0 {
		cmd, arg = text[:i], strings.TrimSpace(text[i+1:])
	}
	if i := strings.Index(cmd, "@"); i >= 0 {
		cmd = cmd[:i]
	}
	return strings.ToLower(cmd), arg
}
