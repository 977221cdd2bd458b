package tiktok

import (
	"errors"
	"fmt"

	"tiktok-extractor/pkg/models"
)

var (
	// ErrItemNotInFeed means the feed endpoint answered but did not contain the requested item
	ErrItemNotInFeed = errors.New("unable to find video in feed")

	// ErrVideoPrivate is reported when the page state marks the video as private
	ErrVideoPrivate = errors.New("this video is private")

	// ErrVideoUnavailable is reported for removed or otherwise unavailable videos
	ErrVideoUnavailable = errors.New("video not available")

	// ErrNeedsCookies is reported when the page withholds its data without a fresh cookie
	ErrNeedsCookies = errors.New("fresh cookies are needed")

	// ErrNoPageState means none of the known embedded state blocks were found
	ErrNoPageState = errors.New("unable to find embedded page state")

	// ErrBrowserDisabled means a browser-driven listing was needed but is switched off
	ErrBrowserDisabled = errors.New("browser listing is disabled")
)

// MalformedResponseError is returned when an API response is not valid JSON.
// Offset is the byte position where decoding failed.
type MalformedResponseError struct {
	Endpoint string
	Offset   int
	Err      error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("%s: failed to parse JSON at position %d: %v", e.Endpoint, e.Offset, e.Err)
}

func (e *MalformedResponseError) Unwrap() error {
	return e.Err
}

// IsVersionRejected reports whether err is the signature the mobile API gives
// when it does not accept the app version: a body that is not JSON from its
// very first byte
func IsVersionRejected(err error) bool {
	var malformed *MalformedResponseError
	return errors.As(err, &malformed) && malformed.Offset == 0
}

// UnsupportedError is returned for URLs that resolve to something this
// package cannot extract
type UnsupportedError struct {
	URL string
}

func (e *UnsupportedError) Error() string {
	return "unsupported URL: " + e.URL
}

func expected(msg string, err error) error {
	return &models.ExpectedError{Msg: msg, Err: err}
}
