package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ErlanBelekov/keepwarm/internal/domain"
)

const slackAPIBase = "https://slack.com/api"

type SlackConfig struct {
	WebhookURL  string
	BotToken    string
	Channel     string
	MentionUser string
	Username    string
	IconEmoji   string

	// APIBaseURL overrides the Web API root, for tests.
	APIBaseURL string
}

// Slack posts Block Kit messages. Alerts go through chat.postMessage when a
// bot token is configured so the mention can be threaded under the alert;
// everything else uses the incoming webhook.
type Slack struct {
	cfg    SlackConfig
	client *http.Client
	logger *slog.Logger
}

func NewSlack(cfg SlackConfig, logger *slog.Logger) *Slack {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = slackAPIBase
	}
	return &Slack{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger.With("component", "slack"),
	}
}

func (s *Slack) Name() string { return "slack" }

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type slackBlock struct {
	Type     string      `json:"type"`
	Text     *slackText  `json:"text,omitempty"`
	Elements []slackText `json:"elements,omitempty"`
}

type slackMessage struct {
	Channel   string       `json:"channel,omitempty"`
	Text      string       `json:"text"`
	Blocks    []slackBlock `json:"blocks,omitempty"`
	Username  string       `json:"username,omitempty"`
	IconEmoji string       `json:"icon_emoji,omitempty"`
	ThreadTS  string       `json:"thread_ts,omitempty"`
}

type slackResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
	TS    string `json:"ts"`
}

// Accepts drops tick summaries; they would flood the channel.
func (s *Slack) Accepts(evt domain.Event) bool {
	return evt.Kind != domain.EventTickSummary
}

func (s *Slack) Publish(ctx context.Context, evt domain.Event) error {
	if !s.Accepts(evt) {
		return nil
	}
	msg := s.message(evt)

	if s.cfg.BotToken != "" && (evt.Alert || s.cfg.WebhookURL == "") {
		ts, err := s.postMessage(ctx, msg)
		if err != nil {
			return err
		}
		if !evt.Alert || s.cfg.MentionUser == "" {
			return nil
		}
		return s.sendMention(ctx, evt, ts)
	}

	if s.cfg.WebhookURL == "" {
		return nil
	}
	if evt.Alert && s.cfg.MentionUser != "" {
		msg.Blocks = append(msg.Blocks, slackBlock{Type: "section", Text: &slackText{Type: "mrkdwn", Text: mentionText(s.cfg.MentionUser, evt)}})
	}
	return s.postWebhook(ctx, msg)
}

func (s *Slack) message(evt domain.Event) slackMessage {
	title := Title(evt)
	return slackMessage{
		Channel:   s.cfg.Channel,
		Text:      title,
		Username:  s.cfg.Username,
		IconEmoji: s.cfg.IconEmoji,
		Blocks: []slackBlock{
			{Type: "divider"},
			{Type: "header", Text: &slackText{Type: "plain_text", Text: title}},
			{Type: "section", Text: &slackText{Type: "mrkdwn", Text: Body(evt)}},
			{Type: "divider"},
		},
	}
}

func (s *Slack) sendMention(ctx context.Context, evt domain.Event, threadTS string) error {
	_, err := s.postMessage(ctx, slackMessage{
		Channel:  s.cfg.Channel,
		Text:     mentionText(s.cfg.MentionUser, evt),
		ThreadTS: threadTS,
	})
	if err != nil {
		return fmt.Errorf("mention: %w", err)
	}
	return nil
}

func mentionText(user string, evt domain.Event) string {
	return fmt.Sprintf("🚨 %s - *[URGENT]*: %s is failing. Please take action so customers are not affected.",
		formatMention(user), evt.ModelID)
}

// formatMention renders a Slack mention: S… ids are user groups, U… ids are
// users, anything else is a special mention such as "here" or "channel".
func formatMention(user string) string {
	switch {
	case strings.HasPrefix(user, "S"):
		return "<!subteam^" + user + ">"
	case strings.HasPrefix(user, "U"):
		return "<@" + user + ">"
	default:
		return "<!" + user + ">"
	}
}

func (s *Slack) postMessage(ctx context.Context, msg slackMessage) (string, error) {
	body, err := s.post(ctx, s.cfg.APIBaseURL+"/chat.postMessage", msg, s.cfg.BotToken)
	if err != nil {
		return "", err
	}
	var res slackResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return "", fmt.Errorf("decode slack response: %w", err)
	}
	if !res.OK {
		return "", fmt.Errorf("slack chat.postMessage: %s", res.Error)
	}
	return res.TS, nil
}

func (s *Slack) postWebhook(ctx context.Context, msg slackMessage) error {
	_, err := s.post(ctx, s.cfg.WebhookURL, msg, "")
	return err
}

func (s *Slack) post(ctx context.Context, url string, msg slackMessage, token string) ([]byte, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode slack message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("slack request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode != http.StatusOK {
		return nil, errors.New("slack returned " + resp.Status + ": " + strings.TrimSpace(string(body)))
	}
	return body, nil
}
