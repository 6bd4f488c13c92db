// Package publish posts memorial media through a small state machine:
//
//	Start --upload ok--> Uploaded --attach ok--> Attached
//	  |                     |
//	  +--upload failed------+--attach failed--> TextFallback --failed--> Failed
//
// Attached and TextFallback are successes; TextFallback is reported as degraded.
package publish

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/y3shua/honor-the-fallen/internal/fallen"
	"github.com/y3shua/honor-the-fallen/internal/metrics"
)

// ErrNoUploads is returned when no album photo could be uploaded.
var ErrNoUploads = errors.New("no photos uploaded")

// State is a publishing state.
type State string

// States of the publishing machine.
const (
	StateStart        State = "start"
	StateUploaded     State = "uploaded"
	StateAttached     State = "attached"
	StateTextFallback State = "text_fallback"
	StateFailed       State = "failed"
)

// API is the subset of the Graph client the publisher drives.
type API interface {
	UploadPhoto(ctx context.Context, image []byte, filename, caption string) (string, error)
	CreatePost(ctx context.Context, message string, mediaIDs []string, link string) (string, error)
}

// Config controls fallback behavior.
type Config struct {
	// FallbackLink attaches the image URL to text-only posts.
	FallbackLink bool
}

// Result describes one publish attempt.
type Result struct {
	State    State
	PostID   string
	MediaIDs []string
	Degraded bool
	Trail    []State
	Err      error
}

// Succeeded reports whether a post was created.
func (r Result) Succeeded() bool {
	return r.State == StateAttached || r.State == StateTextFallback
}

// Publisher posts single records and albums.
type Publisher struct {
	api    API
	cfg    Config
	logger *zap.Logger
}

// New constructs a Publisher.
func New(api API, cfg Config, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{api: api, cfg: cfg, logger: logger}
}

type stateFn func(ctx context.Context, m *machine) stateFn

type machine struct {
	p        *Publisher
	message  string
	link     string
	uploads  func(ctx context.Context) ([]string, error)
	// abort skips the text fallback when uploading fails.
	abort    bool
	res      Result
	logField zap.Field
}

func (m *machine) enter(s State) {
	m.res.State = s
	m.res.Trail = append(m.res.Trail, s)
}

func (m *machine) run(ctx context.Context) Result {
	m.enter(StateStart)
	for state := upload; state != nil; {
		state = state(ctx, m)
	}
	m.res.Degraded = m.res.State == StateTextFallback
	metrics.ObservePublish(string(m.res.State))
	m.p.logger.Info("Publish finished",
		m.logField,
		zap.String("state", string(m.res.State)),
		zap.String("post_id", m.res.PostID),
		zap.Bool("degraded", m.res.Degraded),
		zap.Error(m.res.Err),
	)
	return m.res
}

func upload(ctx context.Context, m *machine) stateFn {
	ids, err := m.uploads(ctx)
	if err != nil {
		return m.onUploadFailed(err)
	}
	return m.onUploaded(ids)
}

func (m *machine) onUploaded(ids []string) stateFn {
	m.res.MediaIDs = ids
	m.enter(StateUploaded)
	return attach
}

func (m *machine) onUploadFailed(err error) stateFn {
	if m.abort {
		m.res.Err = err
		m.enter(StateFailed)
		return nil
	}
	m.p.logger.Warn("Upload failed, falling back to text post", m.logField, zap.Error(err))
	m.res.Err = err
	return textFallback
}

func attach(ctx context.Context, m *machine) stateFn {
	postID, err := m.p.api.CreatePost(ctx, m.message, m.res.MediaIDs, "")
	if err != nil {
		return m.onAttachFailed(err)
	}
	m.res.PostID = postID
	m.res.Err = nil
	m.enter(StateAttached)
	return nil
}

func (m *machine) onAttachFailed(err error) stateFn {
	m.p.logger.Warn("Post with media failed, falling back to text post", m.logField, zap.Error(err))
	m.res.Err = err
	return textFallback
}

func textFallback(ctx context.Context, m *machine) stateFn {
	m.enter(StateTextFallback)
	postID, err := m.p.api.CreatePost(ctx, m.message, nil, m.link)
	if err != nil {
		return m.onFallbackFailed(err)
	}
	m.res.PostID = postID
	m.res.Err = nil
	return nil
}

func (m *machine) onFallbackFailed(err error) stateFn {
	m.res.Err = fmt.Errorf("text fallback: %w", err)
	m.enter(StateFailed)
	return nil
}

// PublishOne uploads media and posts it with its caption, degrading to a text
// post when the media path fails.
func (p *Publisher) PublishOne(ctx context.Context, media fallen.PublishableMedia) Result {
	m := &machine{
		p:        p,
		message:  media.Caption,
		logField: zap.String("name", media.Record.Name),
	}
	if p.cfg.FallbackLink {
		m.link = media.Record.BestImageURL()
	}
	m.uploads = func(ctx context.Context) ([]string, error) {
		id, err := p.api.UploadPhoto(ctx, media.Image, Filename(media.Record), "")
		if err != nil {
			return nil, err
		}
		return []string{id}, nil
	}
	return m.run(ctx)
}

// AlbumResult describes an album attempt. Included holds the indexes of the
// items the post represents.
type AlbumResult struct {
	Result
	Included []int
}

// PublishAlbum uploads every item, skipping failures, and creates one post
// with all uploaded photos. With nothing uploaded it fails without posting.
func (p *Publisher) PublishAlbum(ctx context.Context, caption string, items []fallen.PublishableMedia) AlbumResult {
	var uploaded []int
	m := &machine{
		p:        p,
		message:  caption,
		logField: zap.Int("items", len(items)),
		abort:    true,
	}
	m.uploads = func(ctx context.Context) ([]string, error) {
		ids := make([]string, 0, len(items))
		for i, item := range items {
			id, err := p.api.UploadPhoto(ctx, item.Image, Filename(item.Record), item.Caption)
			if err != nil {
				p.logger.Warn("Album upload failed, skipping", zap.String("name", item.Record.Name), zap.Error(err))
				continue
			}
			ids = append(ids, id)
			uploaded = append(uploaded, i)
		}
		if len(ids) == 0 {
			return nil, ErrNoUploads
		}
		return ids, nil
	}

	res := m.run(ctx)

	out := AlbumResult{Result: res}
	switch res.State {
	case StateAttached:
		out.Included = uploaded
	case StateTextFallback:
		out.Included = make([]int, len(items))
		for i := range items {
			out.Included[i] = i
		}
	}
	return out
}

// Filename derives an upload filename from the record name.
func Filename(r fallen.DetailRecord) string {
	var b strings.Builder
	dash := false
	for _, c := range strings.ToLower(r.Name) {
		if unicode.IsLetter(c) || unicode.IsDigit(c) {
			b.WriteRune(c)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	name := strings.TrimSuffix(b.String(), "-")
	if name == "" {
		name = "portrait"
	}
	return name + ".jpg"
}
