package tiktok

import (
	"math/rand"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	hexDigits     = "0123456789abcdef"
	decimalDigits = "0123456789"
)

// BuildAPIQuery merges the caller's fields with the device fingerprint the
// mobile API expects. Fingerprint fields overwrite caller fields of the
// same name.
func BuildAPIQuery(site Site, v AppVersion, query url.Values, now time.Time) url.Values {
	q := make(url.Values, len(query)+40)
	for key, values := range query {
		q[key] = append([]string(nil), values...)
	}

	q.Set("version_name", v.Version)
	q.Set("version_code", v.ManifestCode)
	q.Set("build_number", v.Version)
	q.Set("manifest_version_code", v.ManifestCode)
	q.Set("update_version_code", v.ManifestCode)
	q.Set("openudid", randomString(hexDigits, 16))
	q.Set("uuid", randomString(decimalDigits, 16))
	q.Set("_rticket", strconv.FormatInt(now.UnixMilli(), 10))
	q.Set("ts", strconv.FormatInt(now.Unix(), 10))
	q.Set("device_brand", "Google")
	q.Set("device_type", "Pixel 4")
	q.Set("device_platform", "android")
	q.Set("resolution", "1080*1920")
	q.Set("dpi", "420")
	q.Set("os_version", "10")
	q.Set("os_api", "29")
	q.Set("carrier_region", "US")
	q.Set("sys_region", "US")
	q.Set("region", "US")
	q.Set("app_name", site.AppName)
	q.Set("app_language", "en")
	q.Set("language", "en")
	q.Set("timezone_name", "America/New_York")
	q.Set("timezone_offset", "-14400")
	q.Set("channel", "googleplay")
	q.Set("ac", "wifi")
	q.Set("mcc_mnc", "310260")
	q.Set("is_my_cn", "0")
	q.Set("aid", strconv.Itoa(site.AID))
	q.Set("ssmix", "a")
	q.Set("as", "a1qwert123")
	q.Set("cp", "cbfhckdckkde1")

	return q
}

// appUserAgent is the User-Agent of the Android app for a manifest code
func appUserAgent(manifestCode string) string {
	return "com.ss.android.ugc.trill/" + manifestCode +
		" (Linux; U; Android 10; en_US; Pixel 4; Build/QQ3A.200805.001; Cronet/58.0.2991.0)"
}

func randomString(alphabet string, n int) string {
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		b.WriteByte(alphabet[rand.Intn(len(alphabet))])
	}
	return b.String()
}
