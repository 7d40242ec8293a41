// Package notify provides the builtin Notifier plugins (§4.5):
// slack, webhook, and desktop. Each implements capability.Notifier —
// Notify(ctx, event) error — and owns its own transient-error retry.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/codeready-toolchain/tarsy/pkg/capability"
	"github.com/codeready-toolchain/tarsy/pkg/config"
	"github.com/codeready-toolchain/tarsy/pkg/events"
	goslack "github.com/slack-go/slack"
)

// SlackNotifier posts one message per event to a fixed channel, adapted
// from the teacher's chat-ops Slack client/message builder.
type SlackNotifier struct {
	api       *goslack.Client
	channelID string
	timeout   time.Duration
}

const (
	slackSettingToken   = "token"
	slackSettingChannel = "channel"
	slackSettingAPIURL  = "api_url" // test/staging override
	defaultSlackTimeout = 10 * time.Second
)

// SlackFactory constructs a SlackNotifier from its settings block.
func SlackFactory(settings map[string]interface{}) (interface{}, error) {
	token, _ := settings[slackSettingToken].(string)
	channel, _ := settings[slackSettingChannel].(string)
	if token == "" || channel == "" {
		return nil, fmt.Errorf("slack notifier: %q and %q settings are required", slackSettingToken, slackSettingChannel)
	}

	var opts []goslack.Option
	if apiURL, _ := settings[slackSettingAPIURL].(string); apiURL != "" {
		opts = append(opts, goslack.OptionAPIURL(apiURL))
	}

	return capability.Notifier(&SlackNotifier{
		api:       goslack.New(token, opts...),
		channelID: channel,
		timeout:   defaultSlackTimeout,
	}), nil
}

// Notify implements capability.Notifier.
func (n *SlackNotifier) Notify(ctx context.Context, e events.Event) error {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	blocks := buildEventBlocks(e)
	_, _, err := n.api.PostMessageContext(ctx, n.channelID, goslack.MsgOptionBlocks(blocks...))
	if err != nil {
		return fmt.Errorf("slack chat.postMessage: %w", err)
	}
	return nil
}

var priorityEmoji = map[config.Priority]string{
	config.PriorityInfo:    ":information_source:",
	config.PriorityWarning: ":warning:",
	config.PriorityAction:  ":bell:",
	config.PriorityUrgent:  ":rotating_light:",
}

func buildEventBlocks(e events.Event) []goslack.Block {
	emoji := priorityEmoji[e.Priority]
	if emoji == "" {
		emoji = ":question:"
	}
	text := fmt.Sprintf("%s *%s*\n%s", emoji, e.Type, e.Message)
	if e.SessionID != "" {
		text += fmt.Sprintf("\n_session: %s_", e.SessionID)
	}
	return []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, text, false, false),
			nil, nil,
		),
	}
}
