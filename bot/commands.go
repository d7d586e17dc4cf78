package bot

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/hazyhaar/pageshot/capture"
)

const helpText = `Commands:
/screen URL - full-page screenshot
/screen URL --mobile - mobile version
/screen URL --pdf - page as PDF
/mobile URL - mobile screenshot
/serp query - yandex results page
/layout URL - breakpoint audit (375/768/1440)`

// command is a parsed chat command.
type command struct {
	name   string
	arg    string
	mobile bool
	pdf    bool
}

// parseCommand splits "/screen example.com --mobile" into its parts. The
// @botname suffix added in group chats is stripped.
func parseCommand(text string) command {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 {
		return command{}
	}

	name := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}

	cmd := command{name: name}
	var args []string
	for _, f := range fields[1:] {
		switch f {
		case "--mobile", "-m":
			cmd.mobile = true
		case "--pdf":
			cmd.pdf = true
		default:
			args = append(args, f)
		}
	}
	cmd.arg = strings.Join(args, " ")
	return cmd
}

// normalizeURL prepends https:// when the scheme is missing and rejects
// anything that still has no host.
func normalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("empty URL")
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return "", fmt.Errorf("invalid URL: %s", raw)
	}
	return raw, nil
}

func (b *Bot) handle(ctx context.Context, msg *message) {
	cmd := parseCommand(msg.Text)
	chatID := msg.Chat.ID

	switch cmd.name {
	case "start", "help":
		b.reply(ctx, chatID, helpText)
	case "screenshot", "screen", "s":
		b.handleScreenshot(ctx, chatID, cmd)
	case "mobile", "mob":
		cmd.mobile = true
		b.handleScreenshot(ctx, chatID, cmd)
	case "serp":
		b.handleSERP(ctx, chatID, cmd)
	case "layout", "breakpoints":
		b.handleLayout(ctx, chatID, cmd)
	default:
		b.reply(ctx, chatID, "Unknown command.\n\n"+helpText)
	}
}

func (b *Bot) handleScreenshot(ctx context.Context, chatID int64, cmd command) {
	u, err := normalizeURL(cmd.arg)
	if err != nil {
		b.reply(ctx, chatID, "⚠️ "+err.Error())
		return
	}

	b.reply(ctx, chatID, "📸 Capturing "+u+" ...")

	req := capture.NewRequest(u)
	if cmd.mobile {
		req.Viewport = capture.MobileViewport
	} else {
		req.Viewport = capture.DesktopViewport
	}
	if cmd.pdf {
		req.Format = capture.FormatPDF
	}

	res, err := b.svc.CaptureURL(ctx, req)
	if err != nil {
		b.reply(ctx, chatID, "❌ "+err.Error())
		return
	}
	if !res.Succeeded() {
		b.reply(ctx, chatID, "❌ "+res.Err.Error())
		return
	}

	caption := fmt.Sprintf("%s\n%dx%dpx", u, res.PageWidth, res.PageHeight)
	if cmd.pdf {
		if err := b.sendDocument(ctx, chatID, res.Request.OutputKey+".pdf", res.Payload, caption); err != nil {
			b.log.Warn("send document failed", "chat_id", chatID, "error", err)
		}
		return
	}
	// Full-page shots of long pages exceed Telegram's photo dimension
	// limits; those go out as documents.
	if res.PageHeight > 4096 {
		err = b.sendDocument(ctx, chatID, res.Request.OutputKey+".png", res.Payload, caption)
	} else {
		err = b.sendPhoto(ctx, chatID, res.Payload, caption)
	}
	if err != nil {
		b.log.Warn("send failed", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) handleSERP(ctx context.Context, chatID int64, cmd command) {
	if cmd.arg == "" {
		b.reply(ctx, chatID, "⚠️ Usage: /serp query")
		return
	}

	b.reply(ctx, chatID, "🔍 Capturing results for «"+cmd.arg+"» ...")

	sr, err := b.svc.SERPScreenshot(ctx, cmd.arg, capture.EngineYandex, "")
	if err != nil {
		b.reply(ctx, chatID, "❌ "+err.Error())
		return
	}
	if !sr.Result.Succeeded() {
		b.reply(ctx, chatID, "❌ "+sr.Result.Err.Error())
		return
	}
	if err := b.sendPhoto(ctx, chatID, sr.Result.Payload, "yandex: "+cmd.arg); err != nil {
		b.log.Warn("send failed", "chat_id", chatID, "error", err)
	}
}

// telegramBreakpoints keeps layout audits chat-sized: one phone, one
// tablet, one desktop.
var telegramBreakpoints = []int{375, 768, 1440}

func (b *Bot) handleLayout(ctx context.Context, chatID int64, cmd command) {
	u, err := normalizeURL(cmd.arg)
	if err != nil {
		b.reply(ctx, chatID, "⚠️ "+err.Error())
		return
	}

	b.reply(ctx, chatID, "📐 Auditing "+u+" ...")

	rep, err := b.svc.LayoutAudit(ctx, u, telegramBreakpoints)
	if err != nil {
		b.reply(ctx, chatID, "❌ "+err.Error())
		return
	}
	for _, shot := range rep.Shots {
		if !shot.Result.Succeeded() {
			b.reply(ctx, chatID, fmt.Sprintf("❌ %dpx: %v", shot.Width, shot.Result.Err))
			continue
		}
		caption := fmt.Sprintf("%dpx - %dx%dpx", shot.Width, shot.Result.PageWidth, shot.Result.PageHeight)
		if err := b.sendPhoto(ctx, chatID, shot.Result.Payload, caption); err != nil {
			b.log.Warn("send failed", "chat_id", chatID, "error", err)
		}
	}
}
