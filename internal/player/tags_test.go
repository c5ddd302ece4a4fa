package player

import (
	"bytes"
	"testing"
	"time"

	"github.com/bogem/id3v2/v2"

	"github.com/llehouerou/wavestream/internal/engine"
)

func buildID3(t *testing.T, build func(tag *id3v2.Tag)) []byte {
	t.Helper()
	tag := id3v2.NewEmptyTag()
	tag.SetDefaultEncoding(id3v2.EncodingUTF8)
	build(tag)
	var buf bytes.Buffer
	if _, err := tag.WriteTo(&buf); err != nil {
		t.Fatalf("write tag: %v", err)
	}
	return buf.Bytes()
}

func TestID3TagSize(t *testing.T) {
	tests := []struct {
		name   string
		header []byte
		want   int64
	}{
		{"no tag", []byte("fLaC\x00\x00\x00\x22\x10\x00"), 0},
		{"short", []byte("ID3"), 0},
		{"syncsafe size", []byte{'I', 'D', '3', 4, 0, 0, 0, 0, 0x02, 0x01}, 10 + 257},
		{"large", []byte{'I', 'D', '3', 3, 0, 0, 0, 0x40, 0, 0}, 10 + 1<<20},
		{"footer", []byte{'I', 'D', '3', 4, 0, 0x10, 0, 0, 0, 0x0a}, 30},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := id3TagSize(tt.header); got != tt.want {
				t.Errorf("id3TagSize() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestID3TagSize_MatchesWrittenTag(t *testing.T) {
	raw := buildID3(t, func(tag *id3v2.Tag) {
		tag.SetTitle("Episode 12")
	})
	if got := id3TagSize(raw); got != int64(len(raw)) {
		t.Errorf("id3TagSize() = %d, want %d", got, len(raw))
	}
}

func TestReadID3(t *testing.T) {
	raw := buildID3(t, func(tag *id3v2.Tag) {
		tag.SetTitle("Episode 12")
		tag.SetArtist("The Hosts")
		tag.SetAlbum("A Podcast")
		tag.AddTextFrame("TLAN", id3v2.EncodingUTF8, "eng")
		tag.AddChapterFrame(id3v2.ChapterFrame{
			ElementID: "ch0",
			StartTime: 0,
			EndTime:   90 * time.Second,
			Title:     &id3v2.TextFrame{Encoding: id3v2.EncodingUTF8, Text: "Intro"},
		})
		tag.AddChapterFrame(id3v2.ChapterFrame{
			ElementID: "ch1",
			StartTime: 90 * time.Second,
			EndTime:   10 * time.Minute,
		})
	})

	got := readID3(raw)

	if len(got.formats) != 1 {
		t.Fatalf("formats = %v, want one", got.formats)
	}
	items := got.metadata[got.formats[0]]
	want := map[string]string{"title": "Episode 12", "artist": "The Hosts", "album": "A Podcast"}
	for _, item := range items {
		if v, ok := want[item.Key]; ok {
			if item.Value != v {
				t.Errorf("%s = %q, want %q", item.Key, item.Value, v)
			}
			delete(want, item.Key)
		}
	}
	if len(want) > 0 {
		t.Errorf("missing items: %v", want)
	}

	if got.locale != "eng" {
		t.Errorf("locale = %q, want eng", got.locale)
	}
	if len(got.chapters) != 2 {
		t.Fatalf("chapters = %d, want 2", len(got.chapters))
	}
	intro := got.chapters[0]
	if intro.Title != "Intro" || intro.Duration != 90*time.Second || intro.Locale != "eng" {
		t.Errorf("first chapter = %+v", intro)
	}
	if got.chapters[1].Title != "ch1" || got.chapters[1].Start != 90*time.Second {
		t.Errorf("second chapter = %+v", got.chapters[1])
	}
}

func TestReadID3_Garbage(t *testing.T) {
	got := readID3([]byte("ID3 definitely not a tag"))
	if len(got.formats) != 0 || len(got.chapters) != 0 {
		t.Errorf("readID3(garbage) = %+v, want empty", got)
	}
}

func TestChaptersFor(t *testing.T) {
	chapters := []engine.MetadataGroup{{Title: "one"}}

	tests := []struct {
		name      string
		chapters  []engine.MetadataGroup
		locale    string
		preferred []string
		want      bool
	}{
		{"no chapters", nil, "eng", nil, false},
		{"no preference", chapters, "eng", nil, true},
		{"no locale", chapters, "", []string{"fr"}, true},
		{"match", chapters, "eng", []string{"fr", "en-US"}, true},
		{"mismatch", chapters, "eng", []string{"fr"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := chaptersFor(tt.chapters, tt.locale, tt.preferred)
			if (got != nil) != tt.want {
				t.Errorf("chaptersFor() = %v, want chapters: %v", got, tt.want)
			}
		})
	}
}

func TestLocaleMatches(t *testing.T) {
	tests := []struct {
		tag, preferred string
		want           bool
	}{
		{"eng", "en", true},
		{"eng", "en-GB", true},
		{"fre", "fr-CA", true},
		{"fra", "fr", true},
		{"en", "en", true},
		{"deu", "fr", false},
		{"xyz", "en", false},
	}

	for _, tt := range tests {
		t.Run(tt.tag+"/"+tt.preferred, func(t *testing.T) {
			if got := localeMatches(tt.tag, tt.preferred); got != tt.want {
				t.Errorf("localeMatches(%q, %q) = %v, want %v", tt.tag, tt.preferred, got, tt.want)
			}
		})
	}
}
