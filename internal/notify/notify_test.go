package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"barid/backend/internal/config"
)

func TestTelegramSend(t *testing.T) {
	t.Run("发送 Markdown 消息", func(t *testing.T) {
		var (
			gotPath string
			gotBody map[string]any
		)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			raw, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(raw, &gotBody)
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		tg := NewTelegram("123:abc", "-100200", nil)
		tg.baseURL = srv.URL

		require.NoError(t, tg.Send(context.Background(), "*Top 1 Senders*"))
		assert.Equal(t, "/bot123:abc/sendMessage", gotPath)
		assert.Equal(t, "*Top 1 Senders*", gotBody["text"])
		assert.Equal(t, "Markdown", gotBody["parse_mode"])
		assert.Equal(t, float64(-100200), gotBody["chat_id"])
	})

	t.Run("非 2xx 返回错误", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "bad token", http.StatusUnauthorized)
		}))
		defer srv.Close()

		tg := NewTelegram("t", "@channel", nil)
		tg.baseURL = srv.URL
		err := tg.Send(context.Background(), "x")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "401")
	})

	t.Run("未配置时静默", func(t *testing.T) {
		core, logs := observer.New(zap.InfoLevel)
		tg := NewTelegram("", "", zap.New(core))
		assert.False(t, tg.Enabled())
		assert.NoError(t, tg.Send(context.Background(), "x"))
		assert.Equal(t, 1, logs.FilterMessage("telegram notifier disabled").Len())
	})
}

type fakeSES struct {
	in  *sesv2.SendEmailInput
	err error
}

func (f *fakeSES) SendEmail(_ context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.in = in
	return &sesv2.SendEmailOutput{}, f.err
}

func TestSESSend(t *testing.T) {
	_, err := NewSESWithClient(&fakeSES{}, "", []string{"a@b.c"})
	assert.Error(t, err)

	client := &fakeSES{}
	ses, err := NewSESWithClient(client, "noreply@barid.site", []string{"ops@barid.site"})
	require.NoError(t, err)

	require.NoError(t, ses.Send(context.Background(), "*Top 2 Senders*\n\n*a@x.com*: 3"))
	assert.Equal(t, "noreply@barid.site", aws.ToString(client.in.FromEmailAddress))
	assert.Equal(t, []string{"ops@barid.site"}, client.in.Destination.ToAddresses)
	assert.Equal(t, "Top 2 Senders", aws.ToString(client.in.Content.Simple.Subject.Data))
	assert.Contains(t, aws.ToString(client.in.Content.Simple.Body.Text.Data), "a@x.com")

	client.err = errors.New("throttled")
	assert.ErrorContains(t, ses.Send(context.Background(), "x"), "throttled")
}

type recordingNotifier struct {
	texts []string
	err   error
}

func (r *recordingNotifier) Send(_ context.Context, text string) error {
	r.texts = append(r.texts, text)
	return r.err
}

func TestMulti(t *testing.T) {
	ok := &recordingNotifier{}
	bad := &recordingNotifier{err: errors.New("down")}
	m := Multi{ok, nil, bad}

	err := m.Send(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "down")
	assert.Equal(t, []string{"hello"}, ok.texts)
	assert.Equal(t, []string{"hello"}, bad.texts)

	assert.NoError(t, Multi{ok}.Send(context.Background(), "again"))
}

func TestLogNotifier(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	n := NewLogNotifier(zap.New(core))
	require.NoError(t, n.Send(context.Background(), "Email cleanup completed successfully."))
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "Email cleanup completed successfully.", logs.All()[0].ContextMap()["text"])
}

func TestBuildTelegramOnly(t *testing.T) {
	n, err := Build(context.Background(), config.NotifyConfig{TelegramToken: "t", TelegramChatID: "1"}, nil, nil)
	require.NoError(t, err)
	tg, ok := n.(*Telegram)
	require.True(t, ok)
	assert.True(t, tg.Enabled())

	_, err = Build(context.Background(), config.NotifyConfig{TelegramTokenParam: "/x"}, nil, nil)
	assert.Error(t, err)
}
