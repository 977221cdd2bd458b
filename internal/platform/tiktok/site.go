package tiktok

import (
	"fmt"

	"tiktok-extractor/pkg/models"
)

// AppVersion is one (app version, manifest code) combination the mobile API may accept
type AppVersion struct {
	Version      string
	ManifestCode string
}

func (v AppVersion) String() string {
	return v.Version + "/" + v.ManifestCode
}

// Site describes one member of the platform family. TikTok and Douyin share
// the same API and page formats and differ only in these constants.
type Site struct {
	Platform          models.Platform
	AppName           string
	AID               int
	APIHostname       string
	WebpageHost       string
	UploaderURLFormat string
	VideoURLFormat    string
	AppVersions       []AppVersion
}

// TikTok is the international site
var TikTok = Site{
	Platform:          models.PlatformTikTok,
	AppName:           "trill",
	AID:               1180,
	APIHostname:       "api-h2.tiktokv.com",
	WebpageHost:       "www.tiktok.com",
	UploaderURLFormat: "https://www.tiktok.com/@%s",
	VideoURLFormat:    "https://www.tiktok.com/@%s/video/%s",
	AppVersions: []AppVersion{
		{"26.1.3", "260103"},
		{"26.1.2", "260102"},
		{"26.1.1", "260101"},
		{"25.6.2", "250602"},
	},
}

// Douyin is the mainland China mirror
var Douyin = Site{
	Platform:          models.PlatformDouyin,
	AppName:           "aweme",
	AID:               1128,
	APIHostname:       "aweme.snssdk.com",
	WebpageHost:       "www.douyin.com",
	UploaderURLFormat: "https://www.douyin.com/user/%s",
	VideoURLFormat:    "https://www.douyin.com/video/%[2]s",
	AppVersions: []AppVersion{
		{"9.6.0", "960"},
	},
}

// qualities is the ordered quality tier set, lowest first
var qualities = []string{"360p", "540p", "720p", "1080p"}

// qualityIndex returns the tier index of a resolution tag such as "720p"
func qualityIndex(res string) int {
	for i, q := range qualities {
		if q == res {
			return i
		}
	}
	return models.QualityUnknown
}

// VideoURL builds the canonical page URL of a video
func (s Site) VideoURL(userID, videoID string) string {
	if userID == "" {
		userID = "_"
	}
	return fmt.Sprintf(s.VideoURLFormat, userID, videoID)
}

// WebpageURL returns the site's root page
func (s Site) WebpageURL() string {
	return "https://" + s.WebpageHost + "/"
}

func (s Site) uploaderURL(id string) string {
	if id == "" {
		return ""
	}
	return fmt.Sprintf(s.UploaderURLFormat, id)
}
