// ABOUTME: Stub Slack connector: messaging, channel listing, user lookup, and status.
// ABOUTME: Returns canned payloads shaped like the Slack Web API; no network calls.

package integrations

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ndtriplebolt/coreassist-electron/internal/connector"
)

// NewSlack builds the Slack connector from its manifest.
func NewSlack(m *connector.Manifest) (connector.Connector, error) {
	s := &service{Base: connector.NewBase(m), display: "Slack"}
	s.handlers = map[string]handlerFunc{
		"send_message":  slackSendMessage,
		"list_channels": slackListChannels,
		"get_user_info": slackGetUserInfo,
		"set_status":    slackSetStatus,
	}
	return s, nil
}

type slackSendMessageInput struct {
	Channel  string `json:"channel"`
	Text     string `json:"text"`
	ThreadTS string `json:"thread_ts"`
}

func slackSendMessage(_ context.Context, params map[string]any, _ connector.AuthData) (map[string]any, error) {
	var in slackSendMessageInput
	if err := decodeParams(params, &in); err != nil {
		return nil, err
	}
	if err := requireParams([2]string{"channel", in.Channel}, [2]string{"text", in.Text}); err != nil {
		return nil, err
	}

	ts := strconv.FormatFloat(float64(now().UnixMicro())/1e6, 'f', 6, 64)
	msg := map[string]any{
		"ts":       ts,
		"channel":  in.Channel,
		"text":     in.Text,
		"user":     "U1234567890",
		"username": "Voice Agent",
	}
	if in.ThreadTS != "" {
		msg["thread_ts"] = in.ThreadTS
	}

	return map[string]any{
		"ok":      true,
		"channel": in.Channel,
		"ts":      ts,
		"sent":    msg,
		"message": fmt.Sprintf("Sent message to %s (stub)", in.Channel),
	}, nil
}

type slackListChannelsInput struct {
	ExcludeArchived bool `json:"exclude_archived"`
}

var sampleChannels = []map[string]any{
	{"id": "C1234567890", "name": "general", "is_channel": true, "is_archived": false, "is_private": false, "num_members": 42},
	{"id": "C2345678901", "name": "random", "is_channel": true, "is_archived": false, "is_private": false, "num_members": 35},
	{"id": "C3456789012", "name": "dev-team", "is_channel": true, "is_archived": false, "is_private": true, "num_members": 8},
	{"id": "C4567890123", "name": "old-launch", "is_channel": true, "is_archived": true, "is_private": false, "num_members": 12},
}

func slackListChannels(_ context.Context, params map[string]any, _ connector.AuthData) (map[string]any, error) {
	in := slackListChannelsInput{ExcludeArchived: true}
	if err := decodeParams(params, &in); err != nil {
		return nil, err
	}

	channels := make([]map[string]any, 0, len(sampleChannels))
	for _, ch := range sampleChannels {
		if in.ExcludeArchived && ch["is_archived"] == true {
			continue
		}
		c := make(map[string]any, len(ch))
		for k, v := range ch {
			c[k] = v
		}
		channels = append(channels, c)
	}

	return map[string]any{
		"ok":       true,
		"channels": channels,
		"message":  fmt.Sprintf("Listed %d channels (stub)", len(channels)),
	}, nil
}

type slackGetUserInfoInput struct {
	UserID string `json:"user_id"`
}

func slackGetUserInfo(_ context.Context, params map[string]any, _ connector.AuthData) (map[string]any, error) {
	var in slackGetUserInfoInput
	if err := decodeParams(params, &in); err != nil {
		return nil, err
	}
	if err := requireParams([2]string{"user_id", in.UserID}); err != nil {
		return nil, err
	}

	return map[string]any{
		"ok": true,
		"user": map[string]any{
			"id":           in.UserID,
			"name":         "sample.user",
			"real_name":    "Sample User",
			"display_name": "Sample",
			"email":        "sample.user@example.com",
			"is_bot":       false,
			"is_admin":     false,
			"status": map[string]any{
				"status_text":       "Working remotely",
				"status_emoji":      ":house:",
				"status_expiration": 0,
			},
		},
		"message": fmt.Sprintf("Retrieved user info for %s (stub)", in.UserID),
	}, nil
}

type slackSetStatusInput struct {
	StatusText       string `json:"status_text"`
	StatusEmoji      string `json:"status_emoji"`
	StatusExpiration int64  `json:"status_expiration"`
}

func slackSetStatus(_ context.Context, params map[string]any, _ connector.AuthData) (map[string]any, error) {
	var in slackSetStatusInput
	if err := decodeParams(params, &in); err != nil {
		return nil, err
	}
	if err := requireParams([2]string{"status_text", in.StatusText}); err != nil {
		return nil, err
	}

	return map[string]any{
		"ok": true,
		"status": map[string]any{
			"status_text":       in.StatusText,
			"status_emoji":      in.StatusEmoji,
			"status_expiration": in.StatusExpiration,
		},
		"message": fmt.Sprintf("Set status to %q (stub)", in.StatusText),
	}, nil
}
