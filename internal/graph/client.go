// Package graph is a small client for the page endpoints of the Graph API.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultBaseURL is the versioned Graph API root.
const DefaultBaseURL = "https://graph.facebook.com/v18.0"

const defaultTimeout = 60 * time.Second

// Config controls the client.
type Config struct {
	BaseURL     string
	PageID      string
	AccessToken string
	Timeout     time.Duration
	// UploadInterval is the minimum spacing between API calls.
	UploadInterval time.Duration
}

// APIError is a non-200 Graph response.
type APIError struct {
	StatusCode int
	Message    string
	Type       string
	Code       int
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("graph api: status %d", e.StatusCode)
	}
	return fmt.Sprintf("graph api: status %d: %s (type=%s code=%d)", e.StatusCode, e.Message, e.Type, e.Code)
}

// PageInfo identifies the page the token acts on.
type PageInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type errorEnvelope struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

type idResponse struct {
	ID     string `json:"id"`
	PostID string `json:"post_id"`
}

// Client calls the Graph API on behalf of one page.
type Client struct {
	http    *resty.Client
	pageID  string
	token   string
	limiter *rate.Limiter
	logger  *zap.Logger
}

// New constructs a Client.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.PageID == "" || cfg.AccessToken == "" {
		return nil, errors.New("graph client requires page id and access token")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Inf
	if cfg.UploadInterval > 0 {
		limit = rate.Every(cfg.UploadInterval)
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout)
	return &Client{
		http:    client,
		pageID:  cfg.PageID,
		token:   cfg.AccessToken,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
	}, nil
}

// UploadPhoto uploads image unpublished and returns its media id.
func (c *Client) UploadPhoto(ctx context.Context, image []byte, filename, caption string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("upload photo: %w", err)
	}
	form := map[string]string{
		"access_token": c.token,
		"published":    "false",
	}
	if caption != "" {
		form["caption"] = caption
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetMultipartField("source", filename, "image/jpeg", bytes.NewReader(image)).
		SetMultipartFormData(form).
		Post("/" + c.pageID + "/photos")
	if err != nil {
		return "", fmt.Errorf("upload photo: %w", err)
	}
	out, err := decode(resp)
	if err != nil {
		return "", err
	}
	c.logger.Debug("Photo uploaded", zap.String("media_id", out.ID), zap.Int("bytes", len(image)))
	return out.ID, nil
}

// CreatePost publishes a feed post with the given media attached. link may be empty.
func (c *Client) CreatePost(ctx context.Context, message string, mediaIDs []string, link string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("create post: %w", err)
	}
	form := map[string]string{
		"access_token": c.token,
		"message":      message,
		"published":    "true",
	}
	for i, id := range mediaIDs {
		attached, err := json.Marshal(map[string]string{"media_fbid": id})
		if err != nil {
			return "", fmt.Errorf("encode attached media: %w", err)
		}
		form["attached_media["+strconv.Itoa(i)+"]"] = string(attached)
	}
	if link != "" {
		form["link"] = link
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(form).
		Post("/" + c.pageID + "/feed")
	if err != nil {
		return "", fmt.Errorf("create post: %w", err)
	}
	out, err := decode(resp)
	if err != nil {
		return "", err
	}
	id := out.ID
	if id == "" {
		id = out.PostID
	}
	c.logger.Debug("Post created", zap.String("post_id", id), zap.Int("media", len(mediaIDs)))
	return id, nil
}

// PageInfo fetches the page name and id, which doubles as a credential check.
func (c *Client) PageInfo(ctx context.Context) (PageInfo, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return PageInfo{}, fmt.Errorf("page info: %w", err)
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"fields":       "name,id",
			"access_token": c.token,
		}).
		Get("/" + c.pageID)
	if err != nil {
		return PageInfo{}, fmt.Errorf("page info: %w", err)
	}
	if err := checkStatus(resp); err != nil {
		return PageInfo{}, err
	}
	var info PageInfo
	if err := json.Unmarshal(resp.Body(), &info); err != nil {
		return PageInfo{}, fmt.Errorf("decode page info: %w", err)
	}
	return info, nil
}

func decode(resp *resty.Response) (idResponse, error) {
	if err := checkStatus(resp); err != nil {
		return idResponse{}, err
	}
	var out idResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return idResponse{}, fmt.Errorf("decode graph response: %w", err)
	}
	if out.ID == "" && out.PostID == "" {
		return idResponse{}, errors.New("graph response carried no id")
	}
	return out, nil
}

func checkStatus(resp *resty.Response) error {
	if resp.StatusCode() == http.StatusOK {
		return nil
	}
	apiErr := &APIError{StatusCode: resp.StatusCode()}
	var env errorEnvelope
	if err := json.Unmarshal(resp.Body(), &env); err == nil {
		apiErr.Message = env.Error.Message
		apiErr.Type = env.Error.Type
		apiErr.Code = env.Error.Code
	}
	return apiErr
}
