package tiktok

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

const (
	itemListURL = "https://us.tiktok.com/api/post/item_list/?aid=1988"
	xttKey      = "webapp1.0+202106"
)

// ListedItem is a video reference returned by a profile listing
type ListedItem struct {
	ID          string
	Description string
}

// BrowserLister lists the videos of a user profile through a real browser
type BrowserLister interface {
	ListUserItems(ctx context.Context, secUID string) ([]ListedItem, error)
}

// ChromeLister drives headless Chrome through the item_list web endpoint,
// one page at a time within a single browser tab
type ChromeLister struct {
	execPath    string
	pageTimeout time.Duration
	logger      zerolog.Logger
}

// NewChromeLister creates a lister. An empty execPath lets chromedp find Chrome.
func NewChromeLister(execPath string, pageTimeout time.Duration, logger zerolog.Logger) *ChromeLister {
	return &ChromeLister{
		execPath:    execPath,
		pageTimeout: timeoutOrDefault(pageTimeout, 12*time.Second),
		logger:      logger,
	}
}

// ListUserItems pages through a profile until the listing reports no more items
func (l *ChromeLister) ListUserItems(ctx context.Context, secUID string) ([]ListedItem, error) {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	if l.execPath != "" {
		opts = append(opts, chromedp.ExecPath(l.execPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	l.logger.Debug().Msg("Launching headless browser")
	if err := chromedp.Run(browserCtx, network.Enable()); err != nil {
		return nil, fmt.Errorf("error starting browser: %w", err)
	}

	var items []ListedItem
	cursor := "0"
	for page := 1; ; page++ {
		params, err := generateXTTParams(secUID, cursor)
		if err != nil {
			return nil, err
		}
		l.logger.Info().Int("page", page).Msg("Downloading page")
		l.logger.Debug().Str("x-tt-params", params).Msg("Listing request")

		body, err := l.fetchPage(browserCtx, params)
		if err != nil {
			return nil, fmt.Errorf("error downloading listing page %d: %w", page, err)
		}

		pageItems, hasMore, next := parseItemList(body)
		items = append(items, pageItems...)
		if !hasMore || next == "" || next == cursor {
			break
		}
		cursor = next
	}

	return items, nil
}

func (l *ChromeLister) fetchPage(browserCtx context.Context, params string) (string, error) {
	pageCtx, cancel := context.WithTimeout(browserCtx, l.pageTimeout)
	defer cancel()

	var body string
	err := chromedp.Run(pageCtx,
		network.SetExtraHTTPHeaders(network.Headers{"x-tt-params": params}),
		chromedp.Navigate(itemListURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Text("body", &body, chromedp.ByQuery),
	)
	return body, err
}

// parseItemList reads one page of the item_list endpoint
func parseItemList(body string) (items []ListedItem, hasMore bool, cursor string) {
	data := gjson.Parse(strings.TrimSpace(body))
	for _, item := range data.Get("itemList").Array() {
		items = append(items, ListedItem{
			ID:          item.Get("id").String(),
			Description: item.Get("desc").String(),
		})
	}
	return items, data.Get("hasMore").Bool(), data.Get("cursor").String()
}

// xttField is one ordered field of the x-tt-params payload
type xttField struct {
	key, value string
}

// generateXTTParams builds the encrypted x-tt-params header for an item_list
// request: the form-encoded payload without escaping, AES-128-CBC with the
// web app key as both key and IV, PKCS#7 padding, base64.
func generateXTTParams(secUID, cursor string) (string, error) {
	payload := []xttField{
		{"aid", "1988"},
		{"app_name", "tiktok_web"},
		{"channel", "tiktok_web"},
		{"device_platform", "web_pc"},
		{"device_id", randomString(decimalDigits, 16)},
		{"region", "US"},
		{"priority_region", ""},
		{"os", "windows"},
		{"referer", ""},
		{"root_referer", "undefined"},
		{"cookie_enabled", "true"},
		{"screen_width", "1920"},
		{"screen_height", "1080"},
		{"browser_language", "en-US"},
		{"browser_platform", "Win32"},
		{"browser_name", "Mozilla"},
		{"browser_version", "5.0 (Windows)"},
		{"browser_online", "true"},
		{"verifyFp", "undefined"},
		{"app_language", "en"},
		{"webcast_language", "en"},
		{"tz_name", "America/Chicago"},
		{"is_page_visible", "true"},
		{"focus_state", "false"},
		{"is_fullscreen", "false"},
		{"history_len", "1"},
		{"from_page", "user"},
		{"secUid", secUID},
		{"count", "30"},
		{"cursor", cursor},
		{"language", "en"},
		{"userId", "undefined"},
		{"is_encryption", "1"},
	}

	pairs := make([]string, len(payload))
	for i, f := range payload {
		pairs[i] = f.key + "=" + f.value
	}

	return encryptXTT([]byte(strings.Join(pairs, "&")))
}

func encryptXTT(plain []byte) (string, error) {
	key := []byte(xttKey)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("error creating cipher: %w", err)
	}

	padded := pkcs7Pad(plain, aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, key).CryptBlocks(out, padded)

	return base64.StdEncoding.EncodeToString(out), nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(n)}, n)...)
}
