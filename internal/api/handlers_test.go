package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ChiMaMe-bean/msj/internal/domain"
	"github.com/ChiMaMe-bean/msj/internal/persistence/memory"
)

func day125() time.Time {
	return time.Date(2025, time.May, 5, 12, 0, 0, 0, time.UTC)
}

type stubClient struct {
	result domain.BoostResult
	calls  int
}

func (s *stubClient) Submit(ctx context.Context, code, credential string) domain.BoostResult {
	s.calls++
	return s.result
}

func newTestHandler(store *memory.Store, client domain.BoostClient) *Handler {
	service := domain.NewService(store, client, domain.Window{Start: 119, End: 130}, domain.WithNow(day125))
	return NewHandler(service)
}

func postHelp(t *testing.T, handler *Handler, code string) (int, HelpResponse) {
	t.Helper()
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodPost, "/api/help?code="+code, nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	var resp HelpResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return rr.Code, resp
}

func TestHelpFullExchange(t *testing.T) {
	store := memory.NewStore(
		domain.Account{ID: 1, Cookies: "cookieA", Code: "AAAA11111111"},
		domain.Account{ID: 2, Cookies: "cookieB", Code: "BBBB22222222"},
	)
	client := &stubClient{result: domain.BoostResult{Status: domain.BoostAccepted}}
	handler := newTestHandler(store, client)

	status, resp := postHelp(t, handler, "ABCDEF123456")
	if status != http.StatusOK {
		t.Fatalf("expected 200 got %d", status)
	}
	if !resp.Success {
		t.Fatalf("expected success, got message %q", resp.Message)
	}
	if !strings.Contains(resp.Message, "BBBB22222222") {
		t.Fatalf("message should carry a return code from another account: %q", resp.Message)
	}
	if len(store.Records()) != 2 {
		t.Fatalf("expected two records, got %d", len(store.Records()))
	}
}

func TestHelpInvalidCodeHasNoSideEffects(t *testing.T) {
	store := memory.NewStore(domain.Account{ID: 1, Cookies: "cookieA", Code: "AAAA11111111"})
	client := &stubClient{result: domain.BoostResult{Status: domain.BoostAccepted}}
	handler := newTestHandler(store, client)

	status, resp := postHelp(t, handler, "zzzz00000000")
	if status != http.StatusOK {
		t.Fatalf("expected 200 got %d", status)
	}
	if resp.Success {
		t.Fatal("invalid code must not succeed")
	}
	if resp.Message != "请输入正确的12位助力码" {
		t.Fatalf("unexpected message %q", resp.Message)
	}
	if client.calls != 0 {
		t.Fatal("invalid code must not reach the upstream service")
	}
	if len(store.Records()) != 0 {
		t.Fatal("invalid code must not write records")
	}
}

func TestHelpExternalFailureMessage(t *testing.T) {
	store := memory.NewStore(domain.Account{ID: 1, Cookies: "cookieA", Code: "AAAA11111111"})
	client := &stubClient{result: domain.BoostResult{Status: domain.BoostRejected, Message: "该码无效"}}
	handler := newTestHandler(store, client)

	_, resp := postHelp(t, handler, "ABCDEF123456")
	if resp.Success {
		t.Fatal("rejected boost must not succeed")
	}
	if resp.Message != "助力失败：该码无效" {
		t.Fatalf("unexpected message %q", resp.Message)
	}
}

func TestHelpMethodNotAllowed(t *testing.T) {
	store := memory.NewStore()
	handler := newTestHandler(store, &stubClient{})

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	req := httptest.NewRequest(http.MethodGet, "/api/help?code=ABCDEF123456", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 got %d", rr.Code)
	}
}

// brokenAllocator fails every operation, standing in for a lost database.
type brokenAllocator struct{}

func (brokenAllocator) CodeConflict(ctx context.Context, code string, day int) (bool, error) {
	return false, errors.New("connection refused")
}

func (brokenAllocator) Begin(ctx context.Context) (domain.AllocationTx, error) {
	return nil, errors.New("connection refused")
}

func TestHelpInternalErrorsAreMasked(t *testing.T) {
	service := domain.NewService(brokenAllocator{}, &stubClient{}, domain.Window{Start: 119, End: 130}, domain.WithNow(day125))
	handler := NewHandler(service)

	status, resp := postHelp(t, handler, "ABCDEF123456")
	if status != http.StatusOK {
		t.Fatalf("expected 200 got %d", status)
	}
	if resp.Success {
		t.Fatal("internal failure must not succeed")
	}
	if resp.Message != "系统繁忙，请稍后重试" {
		t.Fatalf("internal detail leaked to the caller: %q", resp.Message)
	}
}

func TestHealthz(t *testing.T) {
	handler := newTestHandler(memory.NewStore(), &stubClient{})
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rr.Code)
	}
}
