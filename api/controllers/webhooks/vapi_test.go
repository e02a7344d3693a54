package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	pkgerrors "github.com/shipvox/shipvox-backend/pkg/errors"
	"github.com/shipvox/shipvox-backend/pkg/logger"
	"github.com/shipvox/shipvox-backend/pkg/vapi"
)

func webhookLogger() *logger.Logger {
	return logger.New(logger.Options{Level: zerolog.ErrorLevel, Output: io.Discard})
}

type stubWebhookService struct {
	handled []*vapi.WebhookEvent
	err     error
}

func (s *stubWebhookService) HandleEvent(_ context.Context, event *vapi.WebhookEvent) error {
	s.handled = append(s.handled, event)
	return s.err
}

type stubGuard struct {
	seen    bool
	marked  []string
	deleted []string
}

func (g *stubGuard) CheckAndMark(_ context.Context, eventKey string) (bool, error) {
	g.marked = append(g.marked, eventKey)
	return g.seen, nil
}

func (g *stubGuard) Delete(_ context.Context, eventKey string) error {
	g.deleted = append(g.deleted, eventKey)
	return nil
}

const endOfCallBody = `{"message":{"type":"end-of-call-report","call":{"id":"call-1","status":"ended"}}}`

func decodeStatus(t *testing.T, resp *httptest.ResponseRecorder) string {
	t.Helper()
	var envelope struct {
		Data map[string]string `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return envelope.Data["status"]
}

func TestVapiWebhook_ProcessesEvent(t *testing.T) {
	svc := &stubWebhookService{}
	guard := &stubGuard{}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/vapi", strings.NewReader(endOfCallBody))
	resp := httptest.NewRecorder()
	VapiWebhook(svc, guard, webhookLogger())(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", resp.Code, resp.Body.String())
	}
	if got := decodeStatus(t, resp); got != "processed" {
		t.Errorf("status = %q", got)
	}
	if len(svc.handled) != 1 || svc.handled[0].CallID() != "call-1" {
		t.Errorf("handled = %v", svc.handled)
	}
	if len(guard.marked) != 1 {
		t.Errorf("marked = %v", guard.marked)
	}
}

func TestVapiWebhook_AcksDuplicateDelivery(t *testing.T) {
	svc := &stubWebhookService{}
	guard := &stubGuard{seen: true}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/vapi", strings.NewReader(endOfCallBody))
	resp := httptest.NewRecorder()
	VapiWebhook(svc, guard, webhookLogger())(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d", resp.Code)
	}
	if got := decodeStatus(t, resp); got != "duplicate" {
		t.Errorf("status = %q", got)
	}
	if len(svc.handled) != 0 {
		t.Error("duplicate delivery must not be reprocessed")
	}
}

func TestVapiWebhook_UnmarksOnFailure(t *testing.T) {
	svc := &stubWebhookService{err: pkgerrors.New(pkgerrors.CodeDependency, "database unavailable")}
	guard := &stubGuard{}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/vapi", strings.NewReader(endOfCallBody))
	resp := httptest.NewRecorder()
	VapiWebhook(svc, guard, webhookLogger())(resp, req)

	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.Code)
	}
	if len(guard.deleted) != 1 {
		t.Error("failed event must be unmarked for provider retry")
	}
}

func TestVapiWebhook_RejectsMalformedPayload(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/vapi", strings.NewReader(`not json`))
	resp := httptest.NewRecorder()
	VapiWebhook(&stubWebhookService{}, &stubGuard{}, webhookLogger())(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.Code)
	}
}
