package publish

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/y3shua/honor-the-fallen/internal/fallen"
	"github.com/y3shua/honor-the-fallen/internal/graph"
)

type postCall struct {
	message  string
	mediaIDs []string
	link     string
}

type fakeAPI struct {
	uploadErrs map[string]error
	postErrs   []error
	uploads    []string
	posts      []postCall
}

func (f *fakeAPI) UploadPhoto(_ context.Context, _ []byte, filename, _ string) (string, error) {
	if err := f.uploadErrs[filename]; err != nil {
		return "", err
	}
	f.uploads = append(f.uploads, filename)
	return "media-" + filename, nil
}

func (f *fakeAPI) CreatePost(_ context.Context, message string, mediaIDs []string, link string) (string, error) {
	f.posts = append(f.posts, postCall{message: message, mediaIDs: mediaIDs, link: link})
	if len(f.postErrs) > 0 {
		err := f.postErrs[0]
		f.postErrs = f.postErrs[1:]
		if err != nil {
			return "", err
		}
	}
	return "post-1", nil
}

func media(name string) fallen.PublishableMedia {
	return fallen.PublishableMedia{
		Record: fallen.DetailRecord{BriefRecord: fallen.BriefRecord{
			Name:     name,
			ImageURL: "https://s3.amazonaws.com/thefallen/" + name + ".jpg",
		}},
		Image:       []byte("jpeg"),
		ContentType: "image/jpeg",
		Caption:     "Remembering " + name,
	}
}

func TestPublishOneAttached(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{}
	res := New(api, Config{FallbackLink: true}, nil).PublishOne(context.Background(), media("John Doe"))

	assert.Equal(t, StateAttached, res.State)
	assert.True(t, res.Succeeded())
	assert.False(t, res.Degraded)
	assert.NoError(t, res.Err)
	assert.Equal(t, "post-1", res.PostID)
	assert.Equal(t, []string{"media-john-doe.jpg"}, res.MediaIDs)
	assert.Equal(t, []State{StateStart, StateUploaded, StateAttached}, res.Trail)
	require.Len(t, api.posts, 1)
	assert.Equal(t, "Remembering John Doe", api.posts[0].message)
	assert.Empty(t, api.posts[0].link)
}

func TestPublishOneUploadFailureFallsBackToText(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{uploadErrs: map[string]error{
		"john-doe.jpg": &graph.APIError{StatusCode: http.StatusBadRequest, Message: "Invalid image"},
	}}
	res := New(api, Config{FallbackLink: true}, nil).PublishOne(context.Background(), media("John Doe"))

	assert.Equal(t, StateTextFallback, res.State)
	assert.True(t, res.Succeeded())
	assert.True(t, res.Degraded)
	assert.NoError(t, res.Err)
	assert.Empty(t, res.MediaIDs)
	assert.Equal(t, []State{StateStart, StateTextFallback}, res.Trail)
	require.Len(t, api.posts, 1)
	assert.Empty(t, api.posts[0].mediaIDs)
	assert.Equal(t, "https://s3.amazonaws.com/thefallen/John Doe.jpg", api.posts[0].link)
}

func TestPublishOneAttachFailureFallsBackToText(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{postErrs: []error{errors.New("attach rejected"), nil}}
	res := New(api, Config{}, nil).PublishOne(context.Background(), media("John Doe"))

	assert.Equal(t, StateTextFallback, res.State)
	assert.True(t, res.Degraded)
	assert.Equal(t, []State{StateStart, StateUploaded, StateTextFallback}, res.Trail)
	require.Len(t, api.posts, 2)
	assert.Empty(t, api.posts[1].link, "link disabled")
}

func TestPublishOneFailed(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{
		uploadErrs: map[string]error{"john-doe.jpg": errors.New("timeout")},
		postErrs:   []error{errors.New("token expired")},
	}
	res := New(api, Config{}, nil).PublishOne(context.Background(), media("John Doe"))

	assert.Equal(t, StateFailed, res.State)
	assert.False(t, res.Succeeded())
	assert.False(t, res.Degraded)
	assert.ErrorContains(t, res.Err, "token expired")
	assert.Equal(t, []State{StateStart, StateTextFallback, StateFailed}, res.Trail)
}

func TestPublishAlbumSkipsFailedUploads(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{uploadErrs: map[string]error{"bob-brown.jpg": errors.New("too large")}}
	items := []fallen.PublishableMedia{media("Alice Avery"), media("Bob Brown"), media("Carl Cruz")}
	res := New(api, Config{}, nil).PublishAlbum(context.Background(), "album caption", items)

	assert.Equal(t, StateAttached, res.State)
	assert.Equal(t, []int{0, 2}, res.Included)
	assert.Equal(t, []string{"media-alice-avery.jpg", "media-carl-cruz.jpg"}, res.MediaIDs)
	require.Len(t, api.posts, 1)
	assert.Equal(t, "album caption", api.posts[0].message)
}

func TestPublishAlbumNoUploadsAborts(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{uploadErrs: map[string]error{"alice-avery.jpg": errors.New("boom")}}
	res := New(api, Config{}, nil).PublishAlbum(context.Background(), "album caption", []fallen.PublishableMedia{media("Alice Avery")})

	assert.Equal(t, StateFailed, res.State)
	assert.ErrorIs(t, res.Err, ErrNoUploads)
	assert.Empty(t, api.posts)
	assert.Empty(t, res.Included)

	res = New(api, Config{}, nil).PublishAlbum(context.Background(), "album caption", nil)
	assert.ErrorIs(t, res.Err, ErrNoUploads)
}

func TestPublishAlbumFallsBackToText(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{postErrs: []error{errors.New("album rejected"), nil}}
	items := []fallen.PublishableMedia{media("Alice Avery"), media("Bob Brown")}
	res := New(api, Config{FallbackLink: true}, nil).PublishAlbum(context.Background(), "album caption", items)

	assert.Equal(t, StateTextFallback, res.State)
	assert.True(t, res.Degraded)
	assert.Equal(t, []int{0, 1}, res.Included)
	require.Len(t, api.posts, 2)
	assert.Equal(t, "album caption", api.posts[1].message)
	assert.Empty(t, api.posts[1].link)
}

func TestFilename(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "john-a-doe.jpg", Filename(fallen.DetailRecord{BriefRecord: fallen.BriefRecord{Name: "John A. Doe"}}))
	assert.Equal(t, "josé-ruiz-jr.jpg", Filename(fallen.DetailRecord{BriefRecord: fallen.BriefRecord{Name: "José Ruiz, Jr."}}))
	assert.Equal(t, "portrait.jpg", Filename(fallen.DetailRecord{}))
}
