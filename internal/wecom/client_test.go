package wecom

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/open-wecom/kfsync/internal/platform/config"
	"github.com/open-wecom/kfsync/internal/platform/http/client"
)

func testHTTPClient() *client.Client {
	return client.New(&config.OutboundHTTPConfig{
		TimeoutMS:        5000,
		ConnectTimeoutMS: 1000,
		MaxResponseBytes: 1 << 20,
	})
}

// fakeTokens is a TokenSource returning canned tokens in sequence.
type fakeTokens struct {
	tokens      []string
	idx         int32
	invalidated int32
}

func (f *fakeTokens) Token(ctx context.Context) (string, error) {
	i := atomic.AddInt32(&f.idx, 1) - 1
	if int(i) >= len(f.tokens) {
		i = int32(len(f.tokens) - 1)
	}
	return f.tokens[i], nil
}

func (f *fakeTokens) Invalidate() { atomic.AddInt32(&f.invalidated, 1) }

func TestGetAccessToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/cgi-bin/gettoken" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.URL.Query().Get("corpid") != "wx_corp" || r.URL.Query().Get("corpsecret") != "s3cret" {
			t.Errorf("query = %q", r.URL.RawQuery)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"errcode": 0, "errmsg": "ok", "access_token": "tok1", "expires_in": 7200,
		})
	}))
	defer srv.Close()

	tok, ttl, err := GetAccessToken(context.Background(), testHTTPClient(), srv.URL, "wx_corp", "s3cret")
	if err != nil {
		t.Fatalf("GetAccessToken: %v", err)
	}
	if tok != "tok1" {
		t.Errorf("token = %q", tok)
	}
	if ttl.Seconds() != 7200 {
		t.Errorf("ttl = %v", ttl)
	}
}

func TestGetAccessTokenPlatformError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"errcode": 40013, "errmsg": "invalid corpid"})
	}))
	defer srv.Close()

	_, _, err := GetAccessToken(context.Background(), testHTTPClient(), srv.URL, "bad", "bad")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != 40013 {
		t.Fatalf("err = %v, want APIError 40013", err)
	}
}

func TestSyncMessages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/cgi-bin/kf/sync_msg" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.URL.Query().Get("access_token") != "tok1" {
			t.Errorf("access_token = %q", r.URL.Query().Get("access_token"))
		}
		var req SyncRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Cursor != "c1" || req.OpenKFID != "kf001" || req.Limit != 100 {
			t.Errorf("request = %+v", req)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"errcode": 0, "errmsg": "ok", "next_cursor": "c2", "has_more": 1,
			"msg_list": []map[string]any{
				{"msgid": "m1", "origin": 3, "msgtype": "text", "text": map[string]string{"content": "hi"}},
			},
		})
	}))
	defer srv.Close()

	tokens := &fakeTokens{tokens: []string{"tok1"}}
	c := NewClient(testHTTPClient(), srv.URL, tokens, nil)
	resp, err := c.SyncMessages(context.Background(), SyncRequest{Cursor: "c1", OpenKFID: "kf001", Limit: 100})
	if err != nil {
		t.Fatalf("SyncMessages: %v", err)
	}
	if resp.NextCursor != "c2" || !resp.HasMore {
		t.Errorf("resp = %+v", resp)
	}
	if len(resp.Messages) != 1 || resp.Messages[0].MsgID != "m1" {
		t.Errorf("messages = %+v", resp.Messages)
	}
	if resp.Messages[0].DisplayText() != "hi" {
		t.Errorf("display text = %q", resp.Messages[0].DisplayText())
	}
}

func TestSyncMessagesTokenExpiredRetriesOnce(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			json.NewEncoder(w).Encode(map[string]any{"errcode": 42001, "errmsg": "access_token expired"})
			return
		}
		if r.URL.Query().Get("access_token") != "tok2" {
			t.Errorf("retry used token %q, want tok2", r.URL.Query().Get("access_token"))
		}
		json.NewEncoder(w).Encode(map[string]any{"errcode": 0, "next_cursor": "c2", "has_more": 0})
	}))
	defer srv.Close()

	tokens := &fakeTokens{tokens: []string{"tok1", "tok2"}}
	c := NewClient(testHTTPClient(), srv.URL, tokens, nil)
	resp, err := c.SyncMessages(context.Background(), SyncRequest{OpenKFID: "kf001"})
	if err != nil {
		t.Fatalf("SyncMessages: %v", err)
	}
	if resp.NextCursor != "c2" {
		t.Errorf("next_cursor = %q", resp.NextCursor)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
	if atomic.LoadInt32(&tokens.invalidated) != 1 {
		t.Errorf("invalidations = %d, want 1", tokens.invalidated)
	}
}

func TestSyncMessagesTokenExpiredRetriesOnlyOnce(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		json.NewEncoder(w).Encode(map[string]any{"errcode": 40014, "errmsg": "invalid access_token"})
	}))
	defer srv.Close()

	tokens := &fakeTokens{tokens: []string{"tok1", "tok2", "tok3"}}
	c := NewClient(testHTTPClient(), srv.URL, tokens, nil)
	_, err := c.SyncMessages(context.Background(), SyncRequest{OpenKFID: "kf001"})
	if !IsTokenExpired(err) {
		t.Fatalf("err = %v, want token-expired platform error", err)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Errorf("calls = %d, want exactly 2", calls)
	}
}

func TestSyncMessagesOtherPlatformErrorNoRetry(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		json.NewEncoder(w).Encode(map[string]any{"errcode": 95000, "errmsg": "invalid kfid"})
	}))
	defer srv.Close()

	tokens := &fakeTokens{tokens: []string{"tok1"}}
	c := NewClient(testHTTPClient(), srv.URL, tokens, nil)
	_, err := c.SyncMessages(context.Background(), SyncRequest{OpenKFID: "bad"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != 95000 {
		t.Fatalf("err = %v, want APIError 95000", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if atomic.LoadInt32(&tokens.invalidated) != 0 {
		t.Errorf("invalidations = %d, want 0", tokens.invalidated)
	}
}

func TestIsTokenExpired(t *testing.T) {
	for _, code := range []int{40014, 42001, 42009, 40082} {
		if !IsTokenExpired(&APIError{Code: code}) {
			t.Errorf("code %d not recognized as token expiry", code)
		}
	}
	if IsTokenExpired(&APIError{Code: 95000}) {
		t.Error("code 95000 wrongly treated as token expiry")
	}
	if IsTokenExpired(errors.New("plain")) {
		t.Error("plain error wrongly treated as token expiry")
	}
}
