package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"barid/backend/internal/config"
	"barid/backend/internal/directory"
	"barid/backend/internal/domain"
	"barid/backend/internal/health"
	"barid/backend/internal/ingest"
	"barid/backend/internal/monitoring"
	"barid/backend/internal/service"
	"barid/backend/internal/storage/memory"
)

const rawWithAttachment = "From: Alice <alice@example.com>\r\n" +
	"To: bob@barid.site\r\n" +
	"Subject: Hello\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/mixed; boundary=\"b\"\r\n\r\n" +
	"--b\r\nContent-Type: text/plain; charset=utf-8\r\n\r\nhi bob\r\n" +
	"--b\r\nContent-Type: text/plain\r\nContent-Disposition: attachment; filename=\"notes.txt\"\r\n" +
	"Content-Transfer-Encoding: base64\r\n\r\naGVsbG8=\r\n" +
	"--b--\r\n"

type testServer struct {
	router  *gin.Engine
	records *memory.Store
	objects *memory.ObjectStore
	metrics *monitoring.Metrics
}

func newTestServer(t *testing.T, mutate func(*config.Config)) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	records := memory.NewStore()
	objects := memory.NewObjectStore()
	counters := memory.NewCounterStore()
	metrics := monitoring.NewMetrics(prometheus.NewRegistry())
	dir := directory.NewStatic()

	pipeline, err := ingest.New(ingest.Deps{
		Records:  records,
		Objects:  objects,
		Counters: counters,
		Metrics:  metrics,
	}, ingest.Options{})
	require.NoError(t, err)

	cfg := &config.Config{}
	if mutate != nil {
		mutate(cfg)
	}

	router := NewRouter(RouterDependencies{
		Config:   cfg,
		Inbox:    service.NewInboxService(records, objects, dir, metrics, nil),
		Ingester: pipeline,
		Health:   health.NewHealthChecker(records, counters, nil),
		Metrics:  metrics,
	})
	return &testServer{router: router, records: records, objects: objects, metrics: metrics}
}

func (s *testServer) do(t *testing.T, method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func (s *testServer) ingest(t *testing.T) string {
	t.Helper()
	w := s.do(t, http.MethodPost, "/webhook/inbound?from=alice@example.com&to=bob@barid.site", []byte(rawWithAttachment), nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	data := decode(t, w)["data"].(map[string]interface{})
	assert.Equal(t, float64(1), data["attachments"])
	return data["id"].(string)
}

func TestInboxLifecycle(t *testing.T) {
	s := newTestServer(t, nil)
	id := s.ingest(t)

	t.Run("列出邮件摘要", func(t *testing.T) {
		w := s.do(t, http.MethodGet, "/emails/Bob@Barid.Site", nil, nil)
		require.Equal(t, http.StatusOK, w.Code)
		items := decode(t, w)["data"].([]interface{})
		require.Len(t, items, 1)
		item := items[0].(map[string]interface{})
		assert.Equal(t, id, item["id"])
		assert.Equal(t, "Hello", item["subject"])
		_, hasBody := item["text_content"]
		assert.False(t, hasBody)
	})

	t.Run("统计数量", func(t *testing.T) {
		w := s.do(t, http.MethodGet, "/emails/count/bob@barid.site", nil, nil)
		require.Equal(t, http.StatusOK, w.Code)
		data := decode(t, w)["data"].(map[string]interface{})
		assert.Equal(t, float64(1), data["count"])
	})

	t.Run("获取完整邮件", func(t *testing.T) {
		w := s.do(t, http.MethodGet, "/inbox/"+id, nil, nil)
		require.Equal(t, http.StatusOK, w.Code)
		data := decode(t, w)["data"].(map[string]interface{})
		assert.Equal(t, "bob@barid.site", data["to_address"])
		assert.Contains(t, data["text_content"], "hi bob")
	})

	var attID string
	t.Run("列出并下载附件", func(t *testing.T) {
		w := s.do(t, http.MethodGet, "/inbox/"+id+"/attachments", nil, nil)
		require.Equal(t, http.StatusOK, w.Code)
		items := decode(t, w)["data"].([]interface{})
		require.Len(t, items, 1)
		attID = items[0].(map[string]interface{})["id"].(string)

		w = s.do(t, http.MethodGet, "/emails/bob@barid.site/attachments", nil, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Len(t, decode(t, w)["data"].([]interface{}), 1)

		w = s.do(t, http.MethodGet, "/attachments/"+attID, nil, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "hello", w.Body.String())
		assert.Equal(t, "5", w.Header().Get("Content-Length"))
		assert.Contains(t, w.Header().Get("Content-Type"), "text/plain")
		assert.Equal(t, `attachment; filename=notes.txt`, w.Header().Get("Content-Disposition"))
	})

	t.Run("删除附件后更新计数", func(t *testing.T) {
		w := s.do(t, http.MethodDelete, "/attachments/"+attID, nil, nil)
		require.Equal(t, http.StatusOK, w.Code)

		msg, err := s.records.GetMessage(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, 0, msg.AttachmentCount)
		assert.False(t, msg.HasAttachments)

		w = s.do(t, http.MethodGet, "/attachments/"+attID, nil, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("删除单封邮件", func(t *testing.T) {
		w := s.do(t, http.MethodDelete, "/inbox/"+id, nil, nil)
		require.Equal(t, http.StatusOK, w.Code)

		w = s.do(t, http.MethodGet, "/inbox/"+id, nil, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, MsgMessageNotFound, decode(t, w)["msg"])

		w = s.do(t, http.MethodDelete, "/inbox/"+id, nil, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestDeleteMailbox(t *testing.T) {
	s := newTestServer(t, nil)
	s.ingest(t)
	s.ingest(t)

	w := s.do(t, http.MethodDelete, "/emails/bob@barid.site", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w)["data"].(map[string]interface{})
	assert.Equal(t, float64(2), data["deleted_count"])
	assert.Equal(t, 0, s.objects.Len())

	t.Run("空邮箱返回404", func(t *testing.T) {
		w := s.do(t, http.MethodDelete, "/emails/bob@barid.site", nil, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestAddressValidation(t *testing.T) {
	s := newTestServer(t, nil)

	for _, path := range []string{
		"/emails/bob@example.com",
		"/emails/count/bob@example.com",
		"/emails/bob@example.com/attachments",
	} {
		w := s.do(t, http.MethodGet, path, nil, nil)
		assert.Equal(t, http.StatusNotFound, w.Code, path)
	}

	t.Run("分页参数", func(t *testing.T) {
		for _, q := range []string{"limit=0", "limit=101", "limit=abc", "offset=-1"} {
			w := s.do(t, http.MethodGet, "/emails/bob@barid.site?"+q, nil, nil)
			assert.Equal(t, http.StatusBadRequest, w.Code, q)
		}
		w := s.do(t, http.MethodGet, "/emails/bob@barid.site?limit=100&offset=5", nil, nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestListDomains(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(t, http.MethodGet, "/domains", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "public, max-age=3600", w.Header().Get("Cache-Control"))

	domains := decode(t, w)["data"].([]interface{})
	assert.Contains(t, domains, "barid.site")
	assert.Equal(t, `"domains-`+strconv.Itoa(len(domains))+`"`, w.Header().Get("ETag"))
}

func TestWebhook(t *testing.T) {
	t.Run("签名校验", func(t *testing.T) {
		s := newTestServer(t, func(c *config.Config) { c.Webhook.Secret = "s3cret" })
		body := []byte(rawWithAttachment)
		path := "/webhook/inbound?to=bob@barid.site"

		w := s.do(t, http.MethodPost, path, body, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)

		w = s.do(t, http.MethodPost, path, body, map[string]string{SignatureHeader: Sign("wrong", body)})
		assert.Equal(t, http.StatusUnauthorized, w.Code)

		w = s.do(t, http.MethodPost, path, body, map[string]string{SignatureHeader: "sha256=" + Sign("s3cret", body)})
		assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	})

	t.Run("请求错误", func(t *testing.T) {
		s := newTestServer(t, nil)

		w := s.do(t, http.MethodPost, "/webhook/inbound?to=bob@barid.site", nil, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)

		w = s.do(t, http.MethodPost, "/webhook/inbound?to=bob@example.com", []byte(rawWithAttachment), nil)
		assert.Equal(t, http.StatusNotFound, w.Code)

		noRecipient := []byte("From: a@x.com\r\nSubject: x\r\n\r\nbody\r\n")
		w = s.do(t, http.MethodPost, "/webhook/inbound", noRecipient, nil)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("超过大小限制", func(t *testing.T) {
		s := newTestServer(t, func(c *config.Config) { c.SMTP.MaxMessageBytes = 64 })
		w := s.do(t, http.MethodPost, "/webhook/inbound?to=bob@barid.site", []byte(rawWithAttachment), nil)
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	})

	t.Run("限流", func(t *testing.T) {
		s := newTestServer(t, func(c *config.Config) {
			c.Webhook.RatePerSecond = 0.001
			c.Webhook.Burst = 1
		})
		path := "/webhook/inbound?to=bob@barid.site"
		w := s.do(t, http.MethodPost, path, []byte(rawWithAttachment), nil)
		assert.Equal(t, http.StatusCreated, w.Code)
		w = s.do(t, http.MethodPost, path, []byte(rawWithAttachment), nil)
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
	})
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(t, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	checks := decode(t, w)["data"].(map[string]interface{})["checks"].(map[string]interface{})
	assert.Equal(t, "OK", checks["database"])
	assert.Equal(t, "OK", checks["counter"])

	w = s.do(t, http.MethodGet, "/health/live", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	s.do(t, http.MethodGet, "/domains", nil, nil)
	w = s.do(t, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "/domains")
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, MsgMessageNotFound, GetErrorMessage(fmt.Errorf("lookup: %w", domain.ErrMessageNotFound)))
	assert.Equal(t, "邮件解析失败", GetErrorMessage(ingest.ErrParse))
	assert.Equal(t, "boom", GetErrorMessage(errors.New("boom")))
}
