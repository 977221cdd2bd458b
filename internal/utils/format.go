package utils

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// BuildURL builds a URL with query parameters
func BuildURL(baseURL string, params url.Values) string {
	u, err := url.Parse(baseURL)
	if err != nil {
		return baseURL
	}

	q := u.Query()
	for key, values := range params {
		for _, value := range values {
			q.Add(key, value)
		}
	}
	u.RawQuery = q.Encode()

	return u.String()
}

// Hostname returns the host part of a URL, or an empty string
func Hostname(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// SanitizeFilename sanitizes a filename by removing invalid characters
func SanitizeFilename(filename string) string {
	invalid := []string{"<", ">", ":", "\"", "/", "\\", "|", "?", "*", "\n", "\r", "\t"}
	result := filename

	for _, char := range invalid {
		result = strings.ReplaceAll(result, char, "_")
	}

	result = strings.TrimSpace(result)
	result = strings.Trim(result, ".")

	// Limit length without splitting a multi-byte character
	if len(result) > 200 {
		cut := 200
		for cut > 0 && !isRuneStart(result[cut]) {
			cut--
		}
		result = result[:cut]
	}

	return result
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

// FormatBytes formats bytes to human readable string
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// FormatDuration formats duration to human readable string
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	} else if d < time.Minute {
		return d.Round(time.Second).String()
	} else if d < time.Hour {
		return fmt.Sprintf("%vm %vs", int(d.Minutes()), int(d.Seconds())%60)
	} else {
		return fmt.Sprintf("%vh %vm %vs", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
	}
}
