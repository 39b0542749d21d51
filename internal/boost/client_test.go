package boost

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ChiMaMe-bean/msj/internal/domain"
)

func TestSubmitAccepted(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, r.ParseForm())
		require.Equal(t, "ABCDEF123456", r.PostFormValue("code"))
		require.Equal(t, "1", r.PostFormValue("_AJAX_"))
		require.Equal(t, "session=cookieA", r.Header.Get("Cookie"))
		io.WriteString(w, `{"status":1}`)
	}))
	defer server.Close()

	client := NewClient(server.URL)
	result := client.Submit(context.Background(), "ABCDEF123456", "session=cookieA")
	require.True(t, result.OK())
	require.Equal(t, 1, calls)
}

func TestSubmitRejectedCarriesMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"status":0,"msg":"助力次数已达上限"}`)
	}))
	defer server.Close()

	client := NewClient(server.URL)
	result := client.Submit(context.Background(), "ABCDEF123456", "c")
	require.Equal(t, domain.BoostRejected, result.Status)
	require.Equal(t, "助力次数已达上限", result.Message)
}

func TestSubmitRepairsDoubleEncodedMessage(t *testing.T) {
	original := "助力失败，请稍后再试"

	// Simulate the upstream bug: every UTF-8 byte of the message shipped as
	// its own Latin-1 code point.
	mangled := make([]rune, 0, len(original))
	for _, b := range []byte(original) {
		mangled = append(mangled, rune(b))
	}
	body, err := json.Marshal(map[string]any{"status": 0, "msg": string(mangled)})
	require.NoError(t, err)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer server.Close()

	client := NewClient(server.URL)
	result := client.Submit(context.Background(), "ABCDEF123456", "c")
	require.Equal(t, domain.BoostRejected, result.Status)
	require.Equal(t, original, result.Message)
}

func TestSubmitInvalidJSONDoesNotRetry(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		io.WriteString(w, "<html>502 Bad Gateway</html>")
	}))
	defer server.Close()

	client := NewClient(server.URL, WithRetryDelay(time.Millisecond))
	result := client.Submit(context.Background(), "ABCDEF123456", "c")
	require.Equal(t, domain.BoostInvalidReply, result.Status)
	require.Equal(t, 1, calls, "malformed replies are final, never retried")
}

// flakyTransport errors a fixed number of times before answering.
type flakyTransport struct {
	failures int
	calls    int
	body     string
}

func (f *flakyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("connection reset by peer")
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader(f.body)),
		Header:     make(http.Header),
		Request:    req,
	}, nil
}

func TestSubmitRetriesTransportFailures(t *testing.T) {
	rt := &flakyTransport{failures: 2, body: `{"status":1}`}
	client := NewClient("http://upstream.invalid/bind",
		WithHTTPClient(&http.Client{Transport: rt}),
		WithRetryDelay(time.Millisecond),
	)

	result := client.Submit(context.Background(), "ABCDEF123456", "c")
	require.True(t, result.OK())
	require.Equal(t, 3, rt.calls)
}

func TestSubmitTimesOutAfterRetryBudget(t *testing.T) {
	rt := &flakyTransport{failures: 10}
	client := NewClient("http://upstream.invalid/bind",
		WithHTTPClient(&http.Client{Transport: rt}),
		WithRetryDelay(time.Millisecond),
	)

	result := client.Submit(context.Background(), "ABCDEF123456", "c")
	require.Equal(t, domain.BoostTimeout, result.Status)
	require.Equal(t, "接口请求超时", result.Message)
	require.Equal(t, 3, rt.calls, "exactly three attempts before giving up")
}

func TestRepairEncoding(t *testing.T) {
	utf8Bytes := func(s string) string {
		runes := make([]rune, 0, len(s))
		for _, b := range []byte(s) {
			runes = append(runes, rune(b))
		}
		return string(runes)
	}

	cases := []struct {
		name string
		in   string
		want string
	}{
		{"ascii untouched", "quota exceeded", "quota exceeded"},
		{"genuine chinese untouched", "助力成功", "助力成功"},
		{"double encoded repaired", utf8Bytes("助力次数已达上限"), "助力次数已达上限"},
		{"genuine latin-1 untouched", "café", "café"},
		{"empty", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, repairEncoding(tc.in))
		})
	}
}
