// Package wecom implements the WeCom customer-service platform API surface
// the gateway consumes: access-token retrieval and message synchronization.
package wecom

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/open-wecom/kfsync/internal/platform/http/client"
	"github.com/open-wecom/kfsync/internal/platform/logutil"
)

// TokenSource supplies access tokens and accepts invalidation when the
// platform rejects one.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Invalidate()
}

// GetAccessToken performs the raw gettoken call and returns the token with
// its advertised lifetime.
func GetAccessToken(ctx context.Context, httpc *client.Client, apiBase, corpID, secret string) (string, time.Duration, error) {
	q := url.Values{}
	q.Set("corpid", corpID)
	q.Set("corpsecret", secret)

	body, resp, err := httpc.GetJSON(ctx, apiBase+"/cgi-bin/gettoken?"+q.Encode())
	if err != nil {
		return "", 0, fmt.Errorf("gettoken request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("gettoken returned status %d", resp.StatusCode)
	}

	var out struct {
		ErrCode     int    `json:"errcode"`
		ErrMsg      string `json:"errmsg"`
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", 0, fmt.Errorf("gettoken response unparsable: %w", err)
	}
	if out.ErrCode != 0 {
		return "", 0, &APIError{Code: out.ErrCode, Msg: out.ErrMsg}
	}
	if out.AccessToken == "" {
		return "", 0, fmt.Errorf("gettoken returned empty token")
	}
	return out.AccessToken, time.Duration(out.ExpiresIn) * time.Second, nil
}

// SyncRequest is one sync_msg pull request.
type SyncRequest struct {
	// Cursor resumes from a previous page; empty starts from the beginning.
	Cursor string `json:"cursor,omitempty"`

	// Token is the one-shot voucher carried by a callback event, used only
	// to seed the first pull of a cold start.
	Token string `json:"token,omitempty"`

	// Limit is the page size (platform max 1000).
	Limit int `json:"limit,omitempty"`

	// OpenKFID scopes the pull to one customer-service account.
	OpenKFID string `json:"open_kfid,omitempty"`
}

// SyncResponse is one sync_msg page.
type SyncResponse struct {
	NextCursor string
	HasMore    bool
	Messages   []Message
}

// Client calls the message synchronization API on behalf of one credential
// set, transparently retrying exactly once on a token-expired error.
type Client struct {
	httpc   *client.Client
	apiBase string
	tokens  TokenSource
	logger  *slog.Logger
}

// NewClient creates a platform API client.
func NewClient(httpc *client.Client, apiBase string, tokens TokenSource, logger *slog.Logger) *Client {
	return &Client{
		httpc:   httpc,
		apiBase: apiBase,
		tokens:  tokens,
		logger:  logutil.NoopIfNil(logger),
	}
}

// SyncMessages pulls one page of messages. On a token-expired platform error
// it invalidates the cached token, fetches a fresh one, and retries the call
// exactly once; any other error is returned as-is.
func (c *Client) SyncMessages(ctx context.Context, req SyncRequest) (*SyncResponse, error) {
	resp, err := c.syncOnce(ctx, req)
	if err == nil || !IsTokenExpired(err) {
		return resp, err
	}

	c.logger.Debug("access token rejected, refreshing once", "error", err)
	c.tokens.Invalidate()
	return c.syncOnce(ctx, req)
}

func (c *Client) syncOnce(ctx context.Context, req SyncRequest) (*SyncResponse, error) {
	tok, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire access token: %w", err)
	}

	q := url.Values{}
	q.Set("access_token", tok)

	body, httpResp, err := c.httpc.PostJSON(ctx, c.apiBase+"/cgi-bin/kf/sync_msg?"+q.Encode(), req)
	if err != nil {
		return nil, fmt.Errorf("sync_msg request failed: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sync_msg returned status %d", httpResp.StatusCode)
	}

	var out struct {
		ErrCode    int       `json:"errcode"`
		ErrMsg     string    `json:"errmsg"`
		NextCursor string    `json:"next_cursor"`
		HasMore    int       `json:"has_more"`
		MsgList    []Message `json:"msg_list"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("sync_msg response unparsable: %w", err)
	}
	if out.ErrCode != 0 {
		return nil, &APIError{Code: out.ErrCode, Msg: out.ErrMsg}
	}

	return &SyncResponse{
		NextCursor: out.NextCursor,
		HasMore:    out.HasMore == 1,
		Messages:   out.MsgList,
	}, nil
}
