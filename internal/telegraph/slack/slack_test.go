package slack

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/zulandar/junction/internal/telegraph"
)

// --- Mock Slack client ---

type mockSlackClient struct {
	mu        sync.Mutex
	authResp  *slackapi.AuthTestResponse
	authErr   error
	authCalls int
	posted    []postedMessage
	postErr   error
	rateLimit int // number of leading PostMessage calls that are rate limited
}

type postedMessage struct {
	channelID string
	options   []slackapi.MsgOption
}

func newMockSlackClient() *mockSlackClient {
	return &mockSlackClient{
		authResp: &slackapi.AuthTestResponse{UserID: "U_BOT_123", User: "junction"},
	}
}

func (m *mockSlackClient) AuthTest() (*slackapi.AuthTestResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authCalls++
	return m.authResp, m.authErr
}

func (m *mockSlackClient) PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rateLimit > 0 {
		m.rateLimit--
		return "", "", &slackapi.RateLimitedError{RetryAfter: time.Millisecond}
	}
	if m.postErr != nil {
		return "", "", m.postErr
	}
	m.posted = append(m.posted, postedMessage{channelID: channelID, options: options})
	return channelID, "1234567890.123456", nil
}

func (m *mockSlackClient) postedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.posted)
}

func (m *mockSlackClient) lastPosted() postedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.posted[len(m.posted)-1]
}

// --- Helper to create a connected adapter ---

func newTestAdapter(t *testing.T) (*Adapter, *mockSlackClient) {
	t.Helper()
	client := newMockSlackClient()
	a, err := New(AdapterOpts{Client: client, ChannelID: "C_DEFAULT"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return a, client
}

func TestNew_RequiresBotToken(t *testing.T) {
	_, err := New(AdapterOpts{})
	if err == nil {
		t.Fatal("expected error for missing bot token")
	}
}

func TestNew_WithBotToken(t *testing.T) {
	a, err := New(AdapterOpts{BotToken: "xoxb-test", ChannelID: "C1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.channelID != "C1" {
		t.Errorf("channelID = %q", a.channelID)
	}
}

func TestConnect_Success(t *testing.T) {
	a, client := newTestAdapter(t)
	if err := a.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if client.authCalls != 1 {
		t.Errorf("auth calls = %d, want 1", client.authCalls)
	}
}

func TestConnect_AuthError(t *testing.T) {
	client := newMockSlackClient()
	client.authErr = fmt.Errorf("invalid_auth")
	a, _ := New(AdapterOpts{Client: client})

	if err := a.Connect(context.Background()); err == nil {
		t.Fatal("expected auth error")
	}
}

func TestConnect_AlreadyClosed(t *testing.T) {
	a, _ := New(AdapterOpts{Client: newMockSlackClient()})
	a.Close()
	if err := a.Connect(context.Background()); err == nil {
		t.Fatal("expected error connecting a closed adapter")
	}
}

func TestSend(t *testing.T) {
	tests := []struct {
		name        string
		msg         telegraph.OutboundMessage
		wantChannel string
	}{
		{"explicit channel", telegraph.OutboundMessage{ChannelID: "C1", Text: "hello"}, "C1"},
		{"default channel", telegraph.OutboundMessage{Text: "hello default"}, "C_DEFAULT"},
		{"with events", telegraph.OutboundMessage{
			ChannelID: "C2",
			Text:      "queued",
			Events: []telegraph.FormattedEvent{{
				Title:  "Support request queued",
				Body:   "No agent available",
				Color:  telegraph.ColorWarning,
				Fields: []telegraph.Field{{Name: "Business", Value: "acme", Short: true}},
			}},
		}, "C2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, client := newTestAdapter(t)
			if err := a.Send(context.Background(), tt.msg); err != nil {
				t.Fatalf("Send: %v", err)
			}
			if client.postedCount() != 1 {
				t.Fatalf("posted = %d, want 1", client.postedCount())
			}
			if got := client.lastPosted().channelID; got != tt.wantChannel {
				t.Errorf("channel = %q, want %q", got, tt.wantChannel)
			}
		})
	}
}

func TestSend_Errors(t *testing.T) {
	t.Run("no channel", func(t *testing.T) {
		a, _ := New(AdapterOpts{Client: newMockSlackClient()})
		a.Connect(context.Background())
		if err := a.Send(context.Background(), telegraph.OutboundMessage{Text: "x"}); err == nil {
			t.Fatal("expected error for no channel")
		}
	})
	t.Run("not connected", func(t *testing.T) {
		a, _ := New(AdapterOpts{Client: newMockSlackClient()})
		if err := a.Send(context.Background(), telegraph.OutboundMessage{ChannelID: "C1"}); err == nil {
			t.Fatal("expected error for not connected")
		}
	})
	t.Run("post error", func(t *testing.T) {
		a, client := newTestAdapter(t)
		client.postErr = fmt.Errorf("channel_not_found")
		if err := a.Send(context.Background(), telegraph.OutboundMessage{ChannelID: "C1"}); err == nil {
			t.Fatal("expected post error")
		}
	})
}

func TestSend_RetriesOnRateLimit(t *testing.T) {
	a, client := newTestAdapter(t)
	client.rateLimit = 2

	if err := a.Send(context.Background(), telegraph.OutboundMessage{ChannelID: "C1", Text: "hi"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if client.postedCount() != 1 {
		t.Errorf("posted = %d, want 1", client.postedCount())
	}
}

func TestClose_Idempotent(t *testing.T) {
	a, _ := newTestAdapter(t)
	if err := a.Close(); err != nil {
		t.Fatal(err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second close should not error: %v", err)
	}
}

func TestBuildMessageOptions(t *testing.T) {
	tests := []struct {
		name string
		msg  telegraph.OutboundMessage
		want int
	}{
		{"text only", telegraph.OutboundMessage{Text: "hello"}, 1},
		{"events with fallback text", telegraph.OutboundMessage{
			Text:   "events",
			Events: []telegraph.FormattedEvent{{Title: "T", Body: "b", Color: "#fff"}},
		}, 2},
		{"events without text", telegraph.OutboundMessage{
			Events: []telegraph.FormattedEvent{{Title: "T"}},
		}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := len(buildMessageOptions(tt.msg)); got != tt.want {
				t.Errorf("options = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestEventToAttachment(t *testing.T) {
	evt := telegraph.FormattedEvent{
		Title:    "Support request queued",
		Body:     "No agent available for business acme",
		Color:    telegraph.ColorWarning,
		Severity: "warning",
		Fields: []telegraph.Field{
			{Name: "Business", Value: "acme", Short: true},
			{Name: "Request", Value: "#4", Short: true},
		},
	}

	att := eventToAttachment(evt)
	if att.Title != evt.Title || att.Text != evt.Body || att.Color != evt.Color {
		t.Errorf("attachment = %+v", att)
	}
	if att.Fallback != evt.Title {
		t.Errorf("fallback = %q", att.Fallback)
	}
	if len(att.Fields) != 2 || att.Fields[0].Title != "Business" || !att.Fields[0].Short {
		t.Errorf("fields = %+v", att.Fields)
	}
}

func TestRetryOnRateLimit(t *testing.T) {
	t.Run("non rate limit error is not retried", func(t *testing.T) {
		calls := 0
		err := retryOnRateLimit(context.Background(), func() error {
			calls++
			return fmt.Errorf("some other error")
		})
		if err == nil || calls != 1 {
			t.Errorf("err = %v, calls = %d", err, calls)
		}
	})
	t.Run("exhausts retries", func(t *testing.T) {
		calls := 0
		err := retryOnRateLimit(context.Background(), func() error {
			calls++
			return &slackapi.RateLimitedError{RetryAfter: time.Millisecond}
		})
		if err == nil {
			t.Fatal("expected error after exhausting retries")
		}
		if calls != maxRetries+1 {
			t.Errorf("calls = %d, want %d", calls, maxRetries+1)
		}
	})
	t.Run("respects context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		calls := 0
		err := retryOnRateLimit(ctx, func() error {
			calls++
			return &slackapi.RateLimitedError{RetryAfter: time.Second}
		})
		if err != context.Canceled || calls != 1 {
			t.Errorf("err = %v, calls = %d", err, calls)
		}
	})
}
