package naming

import (
	"testing"

	"kemonod/pkg/config"
	"kemonod/pkg/kemono"
)

func testNaming() *config.NamingConfig {
	cfg := config.DefaultConfig()
	return &cfg.Naming
}

func TestSanitizeComponent(t *testing.T) {
	replacements := testNaming().CharReplacement

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain text untouched", "hello world", "hello world"},
		{"slash replaced", "a/b", "a／b"},
		{"several illegal chars", `what? "yes": <no>`, "what？ ＂yes＂： ＜no＞"},
		{"empty falls back", "", "unknown"},
		{"whitespace only falls back", "   ", "unknown"},
		{"url escapes decoded", "caf%C3%A9", "café"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := SanitizeComponent(test.input, replacements); got != test.want {
				t.Errorf("SanitizeComponent(%q) = %q, want %q", test.input, got, test.want)
			}
		})
	}
}

func TestFormatDate(t *testing.T) {
	tests := []struct {
		name   string
		iso    string
		layout string
		want   string
	}{
		{"platform timestamp", "2026-05-01T12:34:56", "2006.01.02", "2026.05.01"},
		{"rfc3339", "2026-05-01T12:34:56Z", "2006.01.02", "2026.05.01"},
		{"unparseable keeps date prefix", "2026-05-01Txx", "2006.01.02", "2026-05-01"},
		{"empty stays empty", "", "2006.01.02", ""},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := FormatDate(test.iso, test.layout); got != test.want {
				t.Errorf("FormatDate(%q) = %q, want %q", test.iso, got, test.want)
			}
		})
	}
}

func TestArtistFolder(t *testing.T) {
	cfg := testNaming()

	if got := ArtistFolder("Some Artist", "patreon", "123", cfg); got != "Some Artist" {
		t.Errorf("ArtistFolder = %q, want %q", got, "Some Artist")
	}

	cfg.ArtistFolderFormat = "{service}-{id}-{name}"
	if got := ArtistFolder("Some Artist", "patreon", "123", cfg); got != "patreon-123-Some Artist" {
		t.Errorf("ArtistFolder with custom format = %q", got)
	}

	// Illegal characters in the name must not leak into the path.
	cfg.ArtistFolderFormat = "{name}"
	if got := ArtistFolder("a/b:c", "patreon", "123", cfg); got != "a／b：c" {
		t.Errorf("ArtistFolder sanitized = %q", got)
	}
}

func TestPostFolder(t *testing.T) {
	cfg := testNaming()

	p := &kemono.Post{ID: "987", Title: "A Title", Published: "2026-05-01T12:00:00"}
	if got := PostFolder(p, cfg); got != "[2026.05.01] A Title" {
		t.Errorf("PostFolder = %q", got)
	}

	untitled := &kemono.Post{ID: "987", Published: "2026-05-01T12:00:00"}
	if got := PostFolder(untitled, cfg); got != "[2026.05.01] untitled" {
		t.Errorf("PostFolder untitled = %q", got)
	}
}

func TestFileName(t *testing.T) {
	cfg := testNaming()

	tests := []struct {
		name     string
		fileName string
		idx      int
		want     string
	}{
		{"image renamed to index", "original.png", 0, "0.png"},
		{"second image", "another.jpg", 1, "1.jpg"},
		{"non-image keeps its name", "archive.zip", 0, "archive.zip"},
		{"video keeps its name", "clip.mp4", 2, "clip.mp4"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := FileName(test.fileName, test.idx, cfg); got != test.want {
				t.Errorf("FileName(%q, %d) = %q, want %q", test.fileName, test.idx, got, test.want)
			}
		})
	}
}

func TestFileNameRenameAll(t *testing.T) {
	cfg := testNaming()
	cfg.RenameImagesOnly = false

	if got := FileName("archive.zip", 3, cfg); got != "3.zip" {
		t.Errorf("FileName = %q, want %q", got, "3.zip")
	}
}

func TestFileNameCustomTemplate(t *testing.T) {
	cfg := testNaming()
	cfg.FileNameFormat = "{idx}_{name}"

	if got := FileName("sketch.png", 4, cfg); got != "4_sketch.png" {
		t.Errorf("FileName = %q, want %q", got, "4_sketch.png")
	}
}
