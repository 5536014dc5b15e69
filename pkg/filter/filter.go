package filter

import (
	"fmt"
	"strings"
	"time"

	"kemonod/pkg/kemono"
)

// Spec describes which posts of a tracked creator are worth
// downloading. All fields are optional; an unset field means no
// constraint. Date bounds compare against the YYYY-MM-DD part of the
// post's publish timestamp and are exclusive.
type Spec struct {
	Keywords           []string `yaml:"keywords,omitempty" json:"keywords,omitempty"`
	ExcludeKeywords    []string `yaml:"exclude_keywords,omitempty" json:"exclude_keywords,omitempty"`
	DateAfter          string   `yaml:"date_after,omitempty" json:"date_after,omitempty"`
	DateBefore         string   `yaml:"date_before,omitempty" json:"date_before,omitempty"`
	RequireFiles       bool     `yaml:"require_files,omitempty" json:"require_files,omitempty"`
	RequireImages      bool     `yaml:"require_images,omitempty" json:"require_images,omitempty"`
	RequireVideos      bool     `yaml:"require_videos,omitempty" json:"require_videos,omitempty"`
	RequireAttachments bool     `yaml:"require_attachments,omitempty" json:"require_attachments,omitempty"`
}

// Validate checks the date bounds are well-formed YYYY-MM-DD strings
func (s *Spec) Validate() error {
	for _, bound := range []string{s.DateAfter, s.DateBefore} {
		if bound == "" {
			continue
		}
		if _, err := time.Parse("2006-01-02", bound); err != nil {
			return fmt.Errorf("invalid filter date %q, expected YYYY-MM-DD", bound)
		}
	}
	return nil
}

// IsZero reports whether the spec constrains nothing
func (s *Spec) IsZero() bool {
	return s == nil || (len(s.Keywords) == 0 && len(s.ExcludeKeywords) == 0 &&
		s.DateAfter == "" && s.DateBefore == "" &&
		!s.RequireFiles && !s.RequireImages && !s.RequireVideos && !s.RequireAttachments)
}

// Matches decides whether a post passes the spec. Evaluation
// short-circuits in a fixed order: exclude keywords, include keywords,
// date bounds, file requirements.
func (s *Spec) Matches(d *kemono.PostDetail) bool {
	if s == nil {
		return true
	}

	title := strings.ToLower(d.Post.Title)

	for _, keyword := range s.ExcludeKeywords {
		if keyword != "" && strings.Contains(title, strings.ToLower(keyword)) {
			return false
		}
	}

	if len(s.Keywords) > 0 {
		matched := false
		for _, keyword := range s.Keywords {
			if keyword != "" && strings.Contains(title, strings.ToLower(keyword)) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	if !s.inDateRange(d.Post.PublishedDay()) {
		return false
	}

	if s.RequireFiles && !d.HasFiles() {
		return false
	}
	if s.RequireImages && !d.HasImages() {
		return false
	}
	if s.RequireVideos && !d.HasVideos() {
		return false
	}
	if s.RequireAttachments && !d.HasAttachments() {
		return false
	}

	return true
}

// inDateRange checks the exclusive date bounds. A post without a
// publish date always passes.
func (s *Spec) inDateRange(day string) bool {
	if day == "" {
		return true
	}
	if s.DateAfter != "" && day <= s.DateAfter {
		return false
	}
	if s.DateBefore != "" && day >= s.DateBefore {
		return false
	}
	return true
}

// ShouldDownload applies the merge policy between the global spec and
// an entity's own spec: when useGlobal is set both must pass; when it
// is not, the entity spec is used exclusively and unset fields mean no
// constraint.
func ShouldDownload(d *kemono.PostDetail, entity *Spec, global *Spec, useGlobal bool) bool {
	if useGlobal && !global.IsZero() && !global.Matches(d) {
		return false
	}
	if !entity.IsZero() && !entity.Matches(d) {
		return false
	}
	return true
}
