package tiktok

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"tiktok-extractor/pkg/models"
)

var urlKeyRe = regexp.MustCompile(`v[^_]+_(?P<id>(?P<codec>[^_]+)_(?P<res>\d+p)_(?P<bitrate>\d+))`)

// urlKeyMeta is what an address's url_key token says about the stream
type urlKeyMeta struct {
	FormatID string
	VCodec   string
	Res      string
	TBR      float64
	Quality  int
}

// parseURLKey reads a token such as "v09044g40000_h264_720p_1207091".
// It reports false when the token does not match.
func parseURLKey(key string) (urlKeyMeta, bool) {
	m := urlKeyRe.FindStringSubmatch(key)
	if m == nil {
		return urlKeyMeta{}, false
	}

	meta := urlKeyMeta{
		FormatID: m[urlKeyRe.SubexpIndex("id")],
		VCodec:   m[urlKeyRe.SubexpIndex("codec")],
		Res:      m[urlKeyRe.SubexpIndex("res")],
	}
	if meta.VCodec == "bytevc1" {
		meta.VCodec = "h265"
	}
	if bitrate, err := strconv.ParseInt(m[urlKeyRe.SubexpIndex("bitrate")], 10, 64); err == nil {
		meta.TBR = float64(bitrate / 1000)
	}
	meta.Quality = qualityIndex(meta.Res)

	return meta, true
}

// slotMeta is the metadata a caller attaches to every URL of one address
type slotMeta struct {
	FormatID   string
	FormatNote string
	VCodec     string
	Width      int
	Height     int
	TBR        float64
	FPS        float64
	Preference int
}

type dimensions struct {
	width, height int
}

// nativeFormatBuilder turns the address slots of a native video object into
// format descriptors. Resolutions learned from earlier addresses are reused
// for later addresses that carry the same resolution tag.
type nativeFormatBuilder struct {
	known   map[string]dimensions
	formats []models.Format
}

func newNativeFormatBuilder() *nativeFormatBuilder {
	return &nativeFormatBuilder{known: make(map[string]dimensions)}
}

func (b *nativeFormatBuilder) addAddr(addr gjson.Result, meta slotMeta) {
	quality := models.QualityUnknown
	parsed, ok := parseURLKey(addr.Get("url_key").String())
	if ok {
		if _, seen := b.known[parsed.Res]; !seen && (meta.Width > 0 || meta.Height > 0) {
			b.known[parsed.Res] = dimensions{width: meta.Width, height: meta.Height}
		}
		if dims, seen := b.known[parsed.Res]; seen {
			meta.Width, meta.Height = dims.width, dims.height
		}
		if meta.Height == 0 {
			meta.Height, _ = strconv.Atoi(strings.TrimSuffix(parsed.Res, "p"))
		}
		meta.FormatID = parsed.FormatID
		meta.VCodec = parsed.VCodec
		if parsed.TBR > 0 {
			meta.TBR = parsed.TBR
		}
		quality = parsed.Quality
	}
	if quality == models.QualityUnknown {
		quality = qualityFromDimensions(meta.Width, meta.Height)
	}

	filesize := addr.Get("data_size").Int()
	for _, u := range addr.Get("url_list").Array() {
		rawURL := u.String()
		if rawURL == "" {
			continue
		}

		sourcePreference := -1
		note := meta.FormatNote
		if strings.Contains(rawURL, "aweme/v1") {
			sourcePreference = -2
			note = joinNonEmpty(" ", note, "(API)")
		}

		b.formats = append(b.formats, models.Format{
			FormatID:         meta.FormatID,
			URL:              rawURL,
			Ext:              "mp4",
			VCodec:           meta.VCodec,
			ACodec:           "aac",
			Width:            meta.Width,
			Height:           meta.Height,
			FPS:              meta.FPS,
			TBR:              meta.TBR,
			Filesize:         filesize,
			Quality:          quality,
			Preference:       meta.Preference,
			SourcePreference: sourcePreference,
			FormatNote:       note,
		})
	}
}

// nativeFormats extracts, deduplicates and ranks the formats of a native video object
func nativeFormats(video gjson.Result) []models.Format {
	b := newNativeFormatBuilder()
	width := int(video.Get("width").Int())
	height := int(video.Get("height").Int())

	// Direct links go first so they survive deduplication
	if addr := video.Get("play_addr"); addr.Exists() {
		vcodec := "h264"
		if isH265(video) {
			vcodec = "h265"
		}
		b.addAddr(addr, slotMeta{
			FormatID:   "play_addr",
			FormatNote: "Direct video",
			VCodec:     vcodec,
			Width:      width,
			Height:     height,
		})
	}

	if addr := video.Get("download_addr"); addr.Exists() {
		note := "Download video"
		preference := -1
		if video.Get("has_watermark").Bool() {
			note += ", watermarked"
			preference = -2
		}
		b.addAddr(addr, slotMeta{
			FormatID:   "download_addr",
			FormatNote: note,
			VCodec:     "h264",
			Width:      width,
			Height:     height,
			Preference: preference,
		})
	}

	if addr := video.Get("play_addr_h264"); addr.Exists() {
		b.addAddr(addr, slotMeta{FormatID: "play_addr_h264", FormatNote: "Direct video", VCodec: "h264"})
	}

	if addr := video.Get("play_addr_bytevc1"); addr.Exists() {
		b.addAddr(addr, slotMeta{FormatID: "play_addr_bytevc1", FormatNote: "Direct video", VCodec: "h265"})
	}

	for _, rung := range video.Get("bit_rate").Array() {
		addr := rung.Get("play_addr")
		if !addr.Exists() {
			continue
		}
		vcodec := "h264"
		if isH265(rung) {
			vcodec = "h265"
		}
		b.addAddr(addr, slotMeta{
			FormatID:   rung.Get("gear_name").String(),
			FormatNote: "Playback video",
			VCodec:     vcodec,
			TBR:        rung.Get("bit_rate").Float() / 1000,
			FPS:        rung.Get("FPS").Float(),
		})
	}

	return rankFormats(b.formats)
}

// isH265 reads the first of is_bytevc1 / is_h265 that is present
func isH265(obj gjson.Result) bool {
	for _, key := range []string{"is_bytevc1", "is_h265"} {
		if v := obj.Get(key); v.Exists() && v.Type != gjson.Null {
			return v.Bool()
		}
	}
	return false
}

// qualityFromDimensions maps the short side of a frame onto the tier set
func qualityFromDimensions(width, height int) int {
	short := width
	if short == 0 || (height > 0 && height < short) {
		short = height
	}
	if short <= 0 {
		return models.QualityUnknown
	}

	tier := 0
	for i, q := range qualities {
		n, _ := strconv.Atoi(strings.TrimSuffix(q, "p"))
		if short >= n {
			tier = i
		}
	}
	return tier
}

// rankFormats removes duplicates, makes format IDs unique and sorts worst to best
func rankFormats(formats []models.Format) []models.Format {
	formats = dedupFormats(formats)
	uniqueFormatIDs(formats)
	sortFormats(formats)
	return formats
}

type formatKey struct {
	quality  int
	vcodec   string
	filesize int64
	tbr      float64
}

// dedupFormats keeps the first descriptor per URL and per
// (quality, codec, size, bitrate) combination
func dedupFormats(formats []models.Format) []models.Format {
	seenKey := make(map[formatKey]bool, len(formats))

	out := formats[:0]
	for _, f := range dedupURLs(formats) {
		key := formatKey{quality: f.Quality, vcodec: f.VCodec, filesize: f.Filesize, tbr: f.TBR}
		if seenKey[key] {
			continue
		}
		seenKey[key] = true

		out = append(out, f)
	}
	return out
}

// dedupURLs keeps the first descriptor per URL
func dedupURLs(formats []models.Format) []models.Format {
	seen := make(map[string]bool, len(formats))

	out := formats[:0]
	for _, f := range formats {
		if seen[f.URL] {
			continue
		}
		seen[f.URL] = true
		out = append(out, f)
	}
	return out
}

func uniqueFormatIDs(formats []models.Format) {
	used := make(map[string]bool, len(formats))
	for i := range formats {
		base := formats[i].FormatID
		if base == "" {
			base = strconv.Itoa(i)
		}
		id := base
		for n := 1; used[id]; n++ {
			id = base + "-" + strconv.Itoa(n)
		}
		used[id] = true
		formats[i].FormatID = id
	}
}

var codecRank = map[string]int{
	"h264": 1,
	"avc1": 1,
	"h265": 2,
	"hevc": 2,
	"av1":  3,
	"av01": 3,
}

// sortFormats orders formats ascending by quality tier, codec preference,
// size and bitrate, then by the preference penalties
func sortFormats(formats []models.Format) {
	sort.SliceStable(formats, func(i, j int) bool {
		a, b := formats[i], formats[j]
		if a.Quality != b.Quality {
			return a.Quality < b.Quality
		}
		if ca, cb := codecRank[a.VCodec], codecRank[b.VCodec]; ca != cb {
			return ca < cb
		}
		if a.Filesize != b.Filesize {
			return a.Filesize < b.Filesize
		}
		if a.TBR != b.TBR {
			return a.TBR < b.TBR
		}
		if a.Preference != b.Preference {
			return a.Preference < b.Preference
		}
		return a.SourcePreference < b.SourcePreference
	})
}

func joinNonEmpty(sep string, parts ...string) string {
	var out []string
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, sep)
}
