// Package naming resolves on-disk folder and file names from the
// configured templates, replacing characters the filesystem rejects.
package naming

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"kemonod/pkg/config"
	"kemonod/pkg/kemono"
)

// SanitizeComponent makes a string safe as a single path component by
// applying the replacement map. Falls back to "unknown" for empty input.
func SanitizeComponent(text string, replacements map[string]string) string {
	if text == "" {
		return "unknown"
	}

	if unescaped, err := url.QueryUnescape(text); err == nil {
		text = unescaped
	}

	for char, replacement := range replacements {
		if replacement != "" {
			text = strings.ReplaceAll(text, char, replacement)
		}
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "unknown"
	}

	return text
}

// FormatDate renders an ISO-8601 timestamp using the configured Go
// layout, falling back to the YYYY-MM-DD prefix when it cannot be parsed.
func FormatDate(iso, layout string) string {
	if iso == "" {
		return ""
	}

	for _, parse := range []string{time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(parse, iso); err == nil {
			return t.Format(layout)
		}
	}

	if len(iso) >= 10 {
		return iso[:10]
	}
	return iso
}

// ArtistFolder builds the folder name for a tracked creator from the
// configured template ({name}, {service}, {id}).
func ArtistFolder(displayName, service, userID string, cfg *config.NamingConfig) string {
	safeName := SanitizeComponent(displayName, cfg.CharReplacement)
	safeService := SanitizeComponent(service, cfg.CharReplacement)
	safeID := SanitizeComponent(userID, cfg.CharReplacement)

	folder := cfg.ArtistFolderFormat
	folder = strings.ReplaceAll(folder, "{name}", safeName)
	folder = strings.ReplaceAll(folder, "{service}", safeService)
	folder = strings.ReplaceAll(folder, "{id}", safeID)

	folder = strings.TrimSpace(SanitizeComponent(folder, cfg.CharReplacement))
	if folder == "" || folder == "unknown" {
		folder = fmt.Sprintf("%s-%s-%s", safeName, safeService, safeID)
	}

	return folder
}

// PostFolder builds the folder name for a post from the configured
// template ({id}, {title}, {published}).
func PostFolder(post *kemono.Post, cfg *config.NamingConfig) string {
	title := post.Title
	if title == "" {
		title = "untitled"
	}
	safeTitle := SanitizeComponent(title, cfg.CharReplacement)
	published := FormatDate(post.Published, cfg.DateFormat)

	folder := cfg.PostFolderFormat
	folder = strings.ReplaceAll(folder, "{id}", post.ID)
	folder = strings.ReplaceAll(folder, "{title}", safeTitle)
	folder = strings.ReplaceAll(folder, "{published}", published)

	folder = strings.TrimSpace(SanitizeComponent(folder, cfg.CharReplacement))
	if folder == "" || folder == "unknown" {
		folder = post.ID
	}

	return folder
}

// FileName builds the on-disk name for the idx-th file of a post from
// the configured template ({idx}, {name}). When RenameImagesOnly is set,
// files whose extension is not a known image extension keep their
// original name.
func FileName(name string, idx int, cfg *config.NamingConfig) string {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)

	if cfg.RenameImagesOnly && !isImageExt(ext, cfg.ImageExtensions) {
		if name != "" {
			return SanitizeComponent(name, cfg.CharReplacement)
		}
		return fmt.Sprintf("%d%s", idx, ext)
	}

	safeBase := fmt.Sprintf("%d", idx)
	if base != "" {
		safeBase = SanitizeComponent(base, cfg.CharReplacement)
	}

	formatted := cfg.FileNameFormat
	formatted = strings.ReplaceAll(formatted, "{idx}", fmt.Sprintf("%d", idx))
	formatted = strings.ReplaceAll(formatted, "{name}", safeBase)

	final := strings.TrimSpace(formatted + ext)
	if final == "" || final == ext {
		final = fmt.Sprintf("%d%s", idx, ext)
	}

	return final
}

func isImageExt(ext string, imageExts []string) bool {
	ext = strings.ToLower(ext)
	for _, e := range imageExts {
		if ext == strings.ToLower(e) {
			return true
		}
	}
	return false
}
