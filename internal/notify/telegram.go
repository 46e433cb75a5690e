package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ErlanBelekov/keepwarm/internal/domain"
	tele "gopkg.in/telebot.v4"
)

// Telegram sends status changes and start reports to one chat. The bot is
// send-only: it never polls for updates.
type Telegram struct {
	bot    *tele.Bot
	chatID tele.ChatID
}

// NewTelegram builds an offline bot. apiURL may be empty for the public API.
func NewTelegram(token string, chatID int64, apiURL string) (*Telegram, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   token,
		URL:     apiURL,
		Offline: true,
		Client:  &http.Client{Timeout: 15 * time.Second},
	})
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Telegram{bot: b, chatID: tele.ChatID(chatID)}, nil
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) Accepts(evt domain.Event) bool {
	switch evt.Kind {
	case domain.EventStatusChanged, domain.EventStartProbe:
		return true
	}
	return false
}

func (t *Telegram) Publish(ctx context.Context, evt domain.Event) error {
	if !t.Accepts(evt) {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	lines := []string{Title(evt)}
	for _, line := range strings.Split(Body(evt), "\n") {
		lines = append(lines, plain(line))
	}

	_, err := t.bot.Send(t.chatID, strings.Join(lines, "\n"), &tele.SendOptions{DisableWebPagePreview: true})
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}
