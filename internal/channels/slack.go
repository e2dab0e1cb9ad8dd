package channels

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	slackgo "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/opaldolphin/opaldolphin/internal/bus"
	"github.com/opaldolphin/opaldolphin/internal/config"
)

// SlackChannel implements Slack via Socket Mode.
type SlackChannel struct {
	Base
	cfg       *config.SlackConfig
	webClient *slackgo.Client
	smClient  *socketmode.Client
	botUserID string
}

// NewSlackChannel creates a SlackChannel.
func NewSlackChannel(cfg *config.SlackConfig, b bus.Bus) *SlackChannel {
	return &SlackChannel{
		Base: NewBase("slack", b, cfg.AllowFrom),
		cfg:  cfg,
	}
}

func (s *SlackChannel) Name() string { return "slack" }

func (s *SlackChannel) Start(ctx context.Context) error {
	if s.cfg.BotToken == "" || s.cfg.AppToken == "" {
		slog.Warn("slack: bot/app token not configured")
		<-ctx.Done()
		return ctx.Err()
	}

	s.webClient = slackgo.New(s.cfg.BotToken,
		slackgo.OptionAppLevelToken(s.cfg.AppToken))

	// Resolve bot user ID so we can ignore our own messages.
	if resp, err := s.webClient.AuthTestContext(ctx); err == nil {
		s.botUserID = resp.UserID
		slog.Info("slack: connected", "bot_user_id", s.botUserID)
	}

	s.smClient = socketmode.New(s.webClient)

	go s.smClient.RunContext(ctx) //nolint:errcheck

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-s.smClient.Events:
			if !ok {
				return nil
			}
			s.handleEvent(evt)
		}
	}
}

func (s *SlackChannel) handleEvent(evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeEventsAPI:
		s.smClient.Ack(*evt.Request)
		cb, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		if cb.InnerEvent.Type != "message" && cb.InnerEvent.Type != "app_mention" {
			return
		}
		// Inner event data is map[string]interface{} — parse manually.
		s.handleInnerEvent(cb.InnerEvent)
	}
}

func (s *SlackChannel) handleInnerEvent(ev slackevents.EventsAPIInnerEvent) {
	data, ok := ev.Data.(map[string]interface{})
	if !ok {
		return
	}
	userID, _ := data["user"].(string)
	channelID, _ := data["channel"].(string)
	text, _ := data["text"].(string)
	subtype, _ := data["subtype"].(string)
	channelType, _ := data["channel_type"].(string)
	ts, _ := data["ts"].(string)
	threadTS, _ := data["thread_ts"].(string)

	if subtype != "" || userID == "" || channelID == "" {
		return
	}
	if userID == s.botUserID {
		return
	}
	// Avoid double-processing mention + message events.
	if ev.Type == "message" && s.botUserID != "" && strings.Contains(text, "<@"+s.botUserID+">") {
		return
	}
	// In channels, only respond when addressed.
	if channelType != "im" && ev.Type != "app_mention" {
		return
	}

	text = s.stripMention(text)

	metadata := map[string]any{
		"slack": map[string]any{
			"thread_ts":    threadTS,
			"channel_type": channelType,
		},
	}
	if threadTS == "" {
		threadTS = ts
	}

	s.HandleMessage(userID, channelID, text, channelID, threadTS, metadata)
}

func (s *SlackChannel) stripMention(text string) string {
	if s.botUserID == "" {
		return text
	}
	re := regexp.MustCompile(`<@` + regexp.QuoteMeta(s.botUserID) + `>\s*`)
	return strings.TrimSpace(re.ReplaceAllString(text, ""))
}

func (s *SlackChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if s.webClient == nil {
		return nil
	}
	var channelType string
	if m, ok := msg.Metadata["slack"].(map[string]any); ok {
		channelType, _ = m["channel_type"].(string)
	}

	options := []slackgo.MsgOption{slackgo.MsgOptionText(msg.Content, false)}
	if msg.ThreadID != "" && channelType != "im" {
		options = append(options, slackgo.MsgOptionTS(msg.ThreadID))
	}

	_, _, err := s.webClient.PostMessageContext(ctx, msg.ChatID, options...)
	return err
}
