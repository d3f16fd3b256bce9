// Package telegram provides a client for sending notifications via Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/Agustinjoel/aftr-mvp/internal/logger"
	"github.com/Agustinjoel/aftr-mvp/internal/models"
	"github.com/Agustinjoel/aftr-mvp/internal/pipeline"
	"github.com/Agustinjoel/aftr-mvp/internal/storage"
)

// StatsProvider answers the /stats command.
type StatsProvider interface {
	StatsSummary(ctx context.Context, league string) (storage.StatsSummary, error)
}

// Client handles Telegram notifications.
type Client struct {
	bot            *tgbotapi.BotAPI
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
}

// NewClient creates a new Telegram client.
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}

	return &Client{
		bot:            bot,
		chatID:         chatIDInt,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}, nil
}

// ListenForCommands starts a goroutine that polls for Telegram updates and handles bot commands.
// It returns immediately; the goroutine stops when ctx is cancelled.
func (c *Client) ListenForCommands(ctx context.Context, stats StatsProvider) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := c.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.bot.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil && update.Message.IsCommand() {
					c.handleCommand(ctx, update.Message, stats)
				}
			}
		}
	}()
}

func (c *Client) handleCommand(ctx context.Context, msg *tgbotapi.Message, stats StatsProvider) {
	var text string
	switch msg.Command() {
	case "ping":
		text = "Pong"
	case "stats":
		if stats == nil {
			return
		}
		league := strings.ToUpper(strings.TrimSpace(msg.CommandArguments()))
		sum, err := stats.StatsSummary(ctx, league)
		if err != nil {
			logger.Warn("Failed to build stats for /stats %s: %v", league, err)
			text = escapeMarkdownV2("Stats unavailable")
		} else {
			text = formatStats(sum)
		}
	default:
		return
	}
	reply := tgbotapi.NewMessage(msg.Chat.ID, text)
	reply.ParseMode = "MarkdownV2"
	c.bot.Send(reply) //nolint:errcheck
}

// sendMarkdownV2 sends a MarkdownV2 message with linear-backoff retry.
func (c *Client) sendMarkdownV2(text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = "MarkdownV2"

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		if _, err := c.bot.Send(msg); err == nil {
			return nil
		} else {
			lastErr = err
		}
		time.Sleep(c.retryDelayBase * time.Duration(i+1))
	}
	return fmt.Errorf("failed after %d retries: %w", c.maxRetries, lastErr)
}

// SendError sends a cycle failure notification.
// Call this only on the first occurrence of a consecutive error sequence.
func (c *Client) SendError(cycleErr error) error {
	text := fmt.Sprintf("⚠️ *Refresh failed*\n`%s`", escapeMarkdownV2(cycleErr.Error()))
	return c.sendMarkdownV2(text)
}

// SendRecovery sends a recovery notification after consecutive failures.
func (c *Client) SendRecovery(failureCount int) error {
	text := fmt.Sprintf("✅ *Refresh recovered* after %d consecutive failure\\(s\\)", failureCount)
	return c.sendMarkdownV2(text)
}

// Send sends the refresh summary with the best candidates of the cycle.
func (c *Client) Send(summary pipeline.Summary, top []models.PickCandidate) error {
	return c.sendMarkdownV2(formatSummary(summary, top))
}

// formatSummary formats a refresh summary into a Telegram MarkdownV2 message.
func formatSummary(summary pipeline.Summary, top []models.PickCandidate) string {
	var b strings.Builder
	icon := "⚽"
	switch summary.Status {
	case pipeline.StatusPartial:
		icon = "🟡"
	case pipeline.StatusNone:
		icon = "🔴"
	}
	fmt.Fprintf(&b, "%s *AFTR picks %s* \\(%s\\)\n\n", icon, escapeMarkdownV2(summary.Date), escapeMarkdownV2(string(summary.Status)))

	for _, lr := range summary.Leagues {
		if lr.OK {
			fmt.Fprintf(&b, "• *%s*: %d picks from %d fixtures", escapeMarkdownV2(lr.League), lr.Candidates, lr.Fixtures)
			if lr.SkippedFixtures > 0 {
				fmt.Fprintf(&b, ", %d skipped", lr.SkippedFixtures)
			}
			b.WriteString("\n")
			continue
		}
		errText := "failed"
		if lr.Err != nil {
			errText = lr.Err.Error()
		}
		fmt.Fprintf(&b, "• *%s*: ❌ %s\n", escapeMarkdownV2(lr.League), escapeMarkdownV2(errText))
	}

	if len(top) > 0 {
		b.WriteString("\n🎯 *Top picks*\n")
		for i, p := range top {
			line := fmt.Sprintf("%s vs %s: %s %s %.1f%% @ %.2f",
				p.HomeTeam, p.AwayTeam, p.Market, p.Selection, p.Probability*100, p.FairOdds)
			if p.Edge != nil {
				line += fmt.Sprintf(" edge %+.1f%%", *p.Edge*100)
			}
			if p.LowConfidence {
				line += " (low confidence)"
			}
			fmt.Fprintf(&b, "%d\\. %s\n", i+1, escapeMarkdownV2(line))
		}
	}
	return b.String()
}

// formatStats formats a settled-picks summary.
func formatStats(s storage.StatsSummary) string {
	league := s.League
	if league == "" {
		league = "all leagues"
	}
	body := fmt.Sprintf("%d picks: %d won, %d lost, %d void, %d pending\nwinrate %s%% | net %s u | ROI %s%%",
		s.Total, s.Wins, s.Losses, s.Voids, s.Pending, s.WinRate.StringFixed(1), s.NetUnits.StringFixed(2), s.ROI.StringFixed(1))
	return fmt.Sprintf("📊 *Stats %s*\n%s", escapeMarkdownV2(league), escapeMarkdownV2(body))
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4) // pre-allocate with room for escapes
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
