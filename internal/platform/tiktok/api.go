package tiktok

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"tiktok-extractor/internal/cookie"
	"tiktok-extractor/internal/utils"
)

// Recorder receives extraction metrics. A nil Recorder is allowed.
type Recorder interface {
	RecordAPICall(platform, endpoint, version string, duration time.Duration, err error)
	RecordVersionPinned(platform, version string)
	RecordPage(platform, kind string, items int)
	RecordExtraction(platform, extractor string, err error)
}

// Negotiator calls the private mobile API, settling on an app version the
// API accepts and reusing it for the life of its Session
type Negotiator struct {
	site    Site
	session *Session
	client  *utils.HTTPClient
	cookies *cookie.Manager
	metrics Recorder
	logger  zerolog.Logger
	now     func() time.Time
}

// NewNegotiator creates a negotiator bound to a site and session
func NewNegotiator(site Site, session *Session, client *utils.HTTPClient, cookies *cookie.Manager, metrics Recorder, logger zerolog.Logger) *Negotiator {
	return &Negotiator{
		site:    site,
		session: session,
		client:  client,
		cookies: cookies,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// Session returns the negotiator's session
func (n *Negotiator) Session() *Session {
	return n.session
}

// Call performs a mobile API call against endpoint.
//
// With a pinned version only that version is used and every failure is
// returned. Otherwise the candidates are tried in order; a response that is
// not JSON from its first byte moves on to the next candidate, anything else
// is returned at once. When every candidate is rejected, Call returns the last
// error if fatal is set, or an empty result and a nil error if not.
func (n *Negotiator) Call(ctx context.Context, endpoint string, query url.Values, itemID string, fatal bool) (gjson.Result, error) {
	if err := ctx.Err(); err != nil {
		return gjson.Result{}, err
	}
	if v, ok := n.session.Pinned(); ok {
		return n.call(ctx, endpoint, query, itemID, v)
	}

	candidates := n.session.Candidates()
	for i, v := range candidates {
		res, err := n.call(ctx, endpoint, query, itemID, v)
		if err == nil {
			if n.session.Pin(v) {
				n.logger.Debug().Str("version", v.String()).Msg("Pinned working app version")
				if n.metrics != nil {
					n.metrics.RecordVersionPinned(string(n.site.Platform), v.String())
				}
			}
			return res, nil
		}

		if !IsVersionRejected(err) {
			return gjson.Result{}, err
		}

		if i == len(candidates)-1 {
			if fatal {
				return gjson.Result{}, err
			}
			n.logger.Warn().Msg(err.Error())
			return gjson.Result{}, nil
		}

		n.logger.Warn().Msgf("%v. Retrying... (attempt %d of %d)", err, i+1, len(candidates))
	}

	return gjson.Result{}, fmt.Errorf("%s: no app versions configured", endpoint)
}

func (n *Negotiator) call(ctx context.Context, endpoint string, query url.Values, itemID string, v AppVersion) (gjson.Result, error) {
	n.cookies.Set(n.site.APIHostname, "odin_tt", randomString(hexDigits, 160))
	n.cookies.Mirror("sid_tt", n.site.WebpageHost, n.site.APIHostname)

	apiURL := fmt.Sprintf("https://%s/aweme/v1/%s/", n.site.APIHostname, endpoint)
	fullURL := utils.BuildURL(apiURL, BuildAPIQuery(n.site, v, query, n.now()))

	n.logger.Debug().
		Str("endpoint", endpoint).
		Str("item", itemID).
		Str("version", v.String()).
		Msg("Downloading API JSON")

	start := time.Now()
	body, err := n.client.GetBody(ctx, fullURL, map[string]string{
		"User-Agent": appUserAgent(v.ManifestCode),
		"Accept":     "application/json",
	})
	if err == nil {
		err = checkJSON(endpoint, body)
	}
	if n.metrics != nil {
		n.metrics.RecordAPICall(string(n.site.Platform), endpoint, v.String(), time.Since(start), err)
	}
	if err != nil {
		var malformed *MalformedResponseError
		if errors.As(err, &malformed) {
			return gjson.Result{}, err
		}
		return gjson.Result{}, fmt.Errorf("unable to download API page %s for %s: %w", endpoint, itemID, err)
	}

	return gjson.ParseBytes(body), nil
}

// checkJSON validates body and reports where decoding fails
func checkJSON(endpoint string, body []byte) error {
	if gjson.ValidBytes(body) {
		return nil
	}

	var raw json.RawMessage
	err := json.Unmarshal(body, &raw)
	if err == nil {
		return nil
	}

	return &MalformedResponseError{
		Endpoint: endpoint,
		Offset:   decodeOffset(body, err),
		Err:      err,
	}
}

// decodeOffset converts a decoder error into the index of the offending byte
func decodeOffset(body []byte, err error) int {
	var syntaxErr *json.SyntaxError
	if !errors.As(err, &syntaxErr) {
		return len(bytes.TrimSpace(body))
	}
	if strings.HasPrefix(syntaxErr.Error(), "unexpected end") {
		return int(syntaxErr.Offset)
	}
	if syntaxErr.Offset > 0 {
		return int(syntaxErr.Offset) - 1
	}
	return 0
}
