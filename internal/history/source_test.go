package history

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/userops/internal/account"
	"github.com/roach88/userops/internal/record"
)

const explorerOK = `{
  "status": "1",
  "message": "OK",
  "result": [
    {"hash":"0xaaa","timeStamp":"1730808000","from":"0xOWNER","to":"0xbob","value":"1500000000000000000","isError":"0"},
    {"hash":"0xbbb","timeStamp":"1730807000","from":"0xcarol","to":"0xowner","value":"0","isError":"1"}
  ]
}`

func newExplorer(t *testing.T, status int, body string) (*httptest.Server, *url.Values) {
	t.Helper()
	var last url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		last = r.URL.Query()
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &last
}

func TestFetchHistory(t *testing.T) {
	srv, query := newExplorer(t, http.StatusOK, explorerOK)
	src := NewSource(srv.URL, "KEY", WithRate(0))

	got, err := src.FetchHistory(context.Background(), "0xowner")
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, record.Historical{
		ID:        "0xaaa",
		Target:    "0xbob",
		Payload:   "1.5",
		Timestamp: time.Unix(1730808000, 0).UTC(),
		Status:    record.StatusCompleted,
	}, got[0])
	assert.Equal(t, "0xcarol", got[1].Target)
	assert.Equal(t, "0.0", got[1].Payload)
	assert.Equal(t, record.StatusFailed, got[1].Status)

	q := *query
	assert.Equal(t, "txlistinternal", q.Get("action"))
	assert.Equal(t, "0xowner", q.Get("address"))
	assert.Equal(t, "KEY", q.Get("apikey"))
	assert.Equal(t, "desc", q.Get("sort"))
}

func TestFetchHistory_NoTransactions(t *testing.T) {
	srv, _ := newExplorer(t, http.StatusOK, `{"status":"0","message":"No transactions found","result":[]}`)

	got, err := NewSource(srv.URL, "", WithRate(0)).FetchHistory(context.Background(), "0xowner")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFetchHistory_ExplorerError(t *testing.T) {
	srv, _ := newExplorer(t, http.StatusOK, `{"status":"0","message":"NOTOK","result":"Invalid API Key"}`)

	_, err := NewSource(srv.URL, "", WithRate(0)).FetchHistory(context.Background(), "0xowner")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid API Key")
}

func TestFetchHistory_RateLimited(t *testing.T) {
	srv, _ := newExplorer(t, http.StatusTooManyRequests, ``)

	_, err := NewSource(srv.URL, "", WithRate(0)).FetchHistory(context.Background(), "0xowner")
	assert.True(t, account.IsRateLimited(err))
}

func TestFetchHistory_ServerError(t *testing.T) {
	srv, _ := newExplorer(t, http.StatusBadGateway, ``)

	_, err := NewSource(srv.URL, "", WithRate(0)).FetchHistory(context.Background(), "0xowner")
	assert.Equal(t, account.KindTransient, account.KindOf(err))
}

func TestFetchHistory_CancelledWhileThrottled(t *testing.T) {
	srv, _ := newExplorer(t, http.StatusOK, explorerOK)
	src := NewSource(srv.URL, "", WithRate(0.001))
	ctx, cancel := context.WithCancel(context.Background())

	_, err := src.FetchHistory(ctx, "0xowner")
	require.NoError(t, err, "first request uses the burst")

	cancel()
	_, err = src.FetchHistory(ctx, "0xowner")
	assert.Error(t, err)
}

func TestFormatEther(t *testing.T) {
	tests := []struct {
		wei  string
		want string
	}{
		{"0", "0.0"},
		{"1", "0.000000000000000001"},
		{"1000000000000000000", "1.0"},
		{"1500000000000000000", "1.5"},
		{"123456789000000000000", "123.456789"},
		{"-500000000000000000", "-0.5"},
	}
	for _, tt := range tests {
		t.Run(tt.wei, func(t *testing.T) {
			got, err := FormatEther(tt.wei)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := FormatEther("12abc")
	assert.Error(t, err)
}
