package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"barid/backend/internal/config"
	"barid/backend/internal/domain"
	"barid/backend/internal/ingest"
)

const sampleMbox = "From alice@example.com Mon Jan  1 00:00:00 2024\n" +
	"From: alice@example.com\nTo: bob@barid.site\nSubject: one\n\nfirst\n\n" +
	"From carol@example.com Mon Jan  1 00:00:01 2024\n" +
	"From: carol@example.com\nTo: bob@barid.site\nSubject: two\n\nsecond\n\n" +
	"From dave@example.com Mon Jan  1 00:00:02 2024\n" +
	"From: dave@example.com\nTo: bob@barid.site\nSubject: three\n\nthird\n"

type fakeIngester struct {
	seen []string
	fail int
}

func (f *fakeIngester) Ingest(_ context.Context, raw []byte, _, recipient string) (*ingest.Result, error) {
	f.seen = append(f.seen, recipient)
	if len(f.seen) == f.fail {
		return nil, ingest.ErrSchema
	}
	return &ingest.Result{Message: &domain.Message{ID: "m", ToAddress: recipient}}, nil
}

func TestImportMbox(t *testing.T) {
	t.Run("单封失败继续导入", func(t *testing.T) {
		ing := &fakeIngester{fail: 2}
		stats, err := importMbox(context.Background(), strings.NewReader(sampleMbox), ing, "x@barid.site", zap.NewNop())
		require.NoError(t, err)
		assert.Equal(t, importStats{Total: 3, Stored: 2, Failed: 1}, stats)
		assert.Equal(t, []string{"x@barid.site", "x@barid.site", "x@barid.site"}, ing.seen)
	})

	t.Run("上下文取消", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := importMbox(ctx, strings.NewReader(sampleMbox), &fakeIngester{}, "", zap.NewNop())
		assert.True(t, errors.Is(err, context.Canceled))
	})
}

func testEnv() *env {
	return &env{loadConfig: func() (*config.Config, error) {
		return &config.Config{
			Blob:        config.BlobConfig{Backend: "memory"},
			Counter:     config.CounterConfig{Backend: "memory", Prefix: "sender_count:"},
			Domains:     config.DomainsConfig{List: []string{"barid.site", "vwh.sh"}},
			Attachments: config.AttachmentConfig{MaxSize: 1024, MaxCount: 5},
			Retention:   config.RetentionConfig{Window: time.Hour},
		}, nil
	}}
}

func execute(t *testing.T, e *env, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(e)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestDomainsCommand(t *testing.T) {
	out, err := execute(t, testEnv(), "domains")
	require.NoError(t, err)
	assert.Contains(t, out, "DOMAIN")
	assert.Contains(t, out, "barid.site")
	assert.Contains(t, out, "vwh.sh")
}

func TestIngestCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hello.eml")
	raw := "From: alice@example.com\r\nTo: bob@barid.site\r\nSubject: hi\r\n\r\nhello\r\n"
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))

	out, err := execute(t, testEnv(), "ingest", path)
	require.NoError(t, err)
	assert.Contains(t, out, "for bob@barid.site (0 attachments, 0 rejected)")

	_, err = execute(t, testEnv(), "ingest", filepath.Join(t.TempDir(), "missing.eml"))
	assert.Error(t, err)
}

func TestImportCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.mbox")
	require.NoError(t, os.WriteFile(path, []byte(sampleMbox), 0o600))

	out, err := execute(t, testEnv(), "import", path)
	require.NoError(t, err)
	assert.Contains(t, out, "imported 3 of 3 messages (0 failed)")
}

func TestJobCommands(t *testing.T) {
	out, err := execute(t, testEnv(), "sweep", "--window", "2h")
	require.NoError(t, err)
	assert.Contains(t, out, "deleted 0 messages and 0 attachments")

	out, err = execute(t, testEnv(), "report", "--no-notify")
	require.NoError(t, err)
	assert.Contains(t, out, "no sender data")
}

func TestMigrateRequiresDatabase(t *testing.T) {
	_, err := execute(t, testEnv(), "migrate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.type")
}

func TestConfigErrorPropagates(t *testing.T) {
	e := &env{loadConfig: func() (*config.Config, error) { return nil, errors.New("bad env") }}
	_, err := execute(t, e, "domains")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad env")
}
