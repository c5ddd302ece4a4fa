package player

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/bogem/id3v2/v2"
	"github.com/dhowden/tag"

	"github.com/llehouerou/wavestream/internal/engine"
)

// maxTagSize bounds how much of a leading ID3v2 tag is kept in memory for
// parsing. Larger tags are skipped.
const maxTagSize = 1 << 20

const id3HeaderSize = 10

// id3TagSize returns the full length of the ID3v2 tag starting header,
// header and footer included, or 0 if header does not start one.
func id3TagSize(header []byte) int64 {
	if len(header) < id3HeaderSize || string(header[0:3]) != "ID3" {
		return 0
	}
	// Syncsafe integer: 7 bits per byte.
	size := int64(header[6]&0x7f)<<21 | int64(header[7]&0x7f)<<14 | int64(header[8]&0x7f)<<7 | int64(header[9]&0x7f)
	total := id3HeaderSize + size
	if header[5]&0x10 != 0 {
		total += id3HeaderSize
	}
	return total
}

// assetTags is what the leading tags of an asset describe.
type assetTags struct {
	formats  []string
	metadata map[string][]engine.MetadataItem
	chapters []engine.MetadataGroup
	locale   string
}

func (t *assetTags) add(format string, items []engine.MetadataItem) {
	if len(items) == 0 {
		return
	}
	if t.metadata == nil {
		t.metadata = make(map[string][]engine.MetadataItem)
	}
	if _, ok := t.metadata[format]; !ok {
		t.formats = append(t.formats, format)
	}
	t.metadata[format] = items
}

// readID3 parses a complete ID3v2 tag held in memory.
func readID3(raw []byte) assetTags {
	var out assetTags

	m, err := tag.ReadFrom(bytes.NewReader(raw))
	if err == nil {
		out.add(string(m.Format()), metadataItems(m))
	}

	parsed, perr := id3v2.ParseReader(bytes.NewReader(raw), id3v2.Options{Parse: true})
	if perr != nil {
		return out
	}
	defer parsed.Close()

	// dhowden/tag rejects some UTF-16 frames that id3v2 reads fine.
	if err != nil {
		out.add(fmt.Sprintf("ID3v2.%d", parsed.Version()), id3Items(parsed))
	}
	out.locale = parsed.GetTextFrame("TLAN").Text
	out.chapters = id3Chapters(parsed, out.locale)
	return out
}

// readStreamTags reads the tags of a non-ID3 stream (FLAC vorbis comments).
func readStreamTags(r io.ReadSeeker) assetTags {
	var out assetTags
	m, err := tag.ReadFrom(r)
	if err != nil {
		return out
	}
	out.add(string(m.Format()), metadataItems(m))
	return out
}

func metadataItems(m tag.Metadata) []engine.MetadataItem {
	var items []engine.MetadataItem
	add := func(key, value string) {
		if value = strings.TrimSpace(value); value != "" {
			items = append(items, engine.MetadataItem{Key: key, Value: value})
		}
	}
	add("title", m.Title())
	add("artist", m.Artist())
	add("album", m.Album())
	add("album_artist", m.AlbumArtist())
	add("composer", m.Composer())
	add("genre", m.Genre())
	if y := m.Year(); y > 0 {
		add("year", strconv.Itoa(y))
	}
	if n, _ := m.Track(); n > 0 {
		add("track", strconv.Itoa(n))
	}
	if n, _ := m.Disc(); n > 0 {
		add("disc", strconv.Itoa(n))
	}
	add("comment", m.Comment())
	return items
}

func id3Items(t *id3v2.Tag) []engine.MetadataItem {
	var items []engine.MetadataItem
	for _, kv := range [][2]string{
		{"title", t.Title()},
		{"artist", t.Artist()},
		{"album", t.Album()},
		{"genre", t.Genre()},
		{"year", t.Year()},
	} {
		if value := strings.TrimSpace(kv[1]); value != "" {
			items = append(items, engine.MetadataItem{Key: kv[0], Value: value})
		}
	}
	return items
}

func id3Chapters(t *id3v2.Tag, locale string) []engine.MetadataGroup {
	var groups []engine.MetadataGroup
	for _, f := range t.GetFrames("CHAP") {
		var ch id3v2.ChapterFrame
		switch v := f.(type) {
		case id3v2.ChapterFrame:
			ch = v
		case *id3v2.ChapterFrame:
			ch = *v
		default:
			continue
		}
		g := engine.MetadataGroup{
			Locale:   locale,
			Title:    ch.ElementID,
			Start:    ch.StartTime,
			Duration: max(0, ch.EndTime-ch.StartTime),
		}
		if ch.Title != nil && ch.Title.Text != "" {
			g.Title = ch.Title.Text
			g.Items = append(g.Items, engine.MetadataItem{Key: "title", Value: ch.Title.Text})
		}
		if ch.Description != nil && ch.Description.Text != "" {
			g.Items = append(g.Items, engine.MetadataItem{Key: "description", Value: ch.Description.Text})
		}
		groups = append(groups, g)
	}
	return groups
}

// chaptersFor returns chapters when their locale suits the preferences.
// No preferences, or no declared locale, accepts any chapters.
func chaptersFor(chapters []engine.MetadataGroup, locale string, preferred []string) []engine.MetadataGroup {
	if len(chapters) == 0 {
		return nil
	}
	if len(preferred) == 0 || locale == "" {
		return chapters
	}
	for _, p := range preferred {
		if localeMatches(locale, p) {
			return chapters
		}
	}
	return nil
}

// ISO 639-1 to the ISO 639-2 codes found in TLAN frames.
var iso6392 = map[string][]string{
	"en": {"eng"},
	"fr": {"fra", "fre"},
	"de": {"deu", "ger"},
	"es": {"spa"},
	"it": {"ita"},
	"pt": {"por"},
	"nl": {"nld", "dut"},
	"ja": {"jpn"},
	"zh": {"zho", "chi"},
	"ru": {"rus"},
}

// localeMatches compares a TLAN language with a BCP 47 preference.
func localeMatches(tagLang, preferred string) bool {
	lang := strings.ToLower(strings.TrimSpace(tagLang))
	base, _, _ := strings.Cut(strings.ToLower(preferred), "-")
	if lang == base || lang == strings.ToLower(preferred) {
		return true
	}
	for _, code := range iso6392[base] {
		if lang == code {
			return true
		}
	}
	return false
}
