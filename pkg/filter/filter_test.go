package filter

import (
	"testing"

	"kemonod/pkg/kemono"
)

func post(title, published string) *kemono.PostDetail {
	return &kemono.PostDetail{
		Post: kemono.Post{ID: "1", Title: title, Published: published},
	}
}

func postWithFiles(title string, images, attachments, videos int) *kemono.PostDetail {
	d := post(title, "2026-05-01T12:00:00")
	for i := 0; i < images; i++ {
		d.Previews = append(d.Previews, kemono.FileRef{Server: "https://n1.kemono.cr", Name: "a.png", Path: "/aa/a.png"})
	}
	for i := 0; i < attachments; i++ {
		d.Attachments = append(d.Attachments, kemono.FileRef{Server: "https://n1.kemono.cr", Name: "b.zip", Path: "/bb/b.zip"})
	}
	for i := 0; i < videos; i++ {
		d.Videos = append(d.Videos, kemono.FileRef{Server: "https://n1.kemono.cr", Name: "c.mp4", Path: "/cc/c.mp4"})
	}
	return d
}

func TestMatchesKeywords(t *testing.T) {
	tests := []struct {
		name string
		spec Spec
		post *kemono.PostDetail
		want bool
	}{
		{"no constraints", Spec{}, post("Anything", ""), true},
		{"include hit", Spec{Keywords: []string{"sketch"}}, post("WIP Sketch batch", ""), true},
		{"include miss", Spec{Keywords: []string{"sketch"}}, post("Finished piece", ""), false},
		{"include is case insensitive", Spec{Keywords: []string{"SKETCH"}}, post("sketch dump", ""), true},
		{"exclude hit", Spec{ExcludeKeywords: []string{"poll"}}, post("Monthly Poll results", ""), false},
		{"exclude beats include", Spec{Keywords: []string{"monthly"}, ExcludeKeywords: []string{"poll"}}, post("Monthly Poll", ""), false},
		{"any of several includes", Spec{Keywords: []string{"comic", "sketch"}}, post("New comic page", ""), true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := test.spec.Matches(test.post); got != test.want {
				t.Errorf("Matches() = %v, want %v", got, test.want)
			}
		})
	}
}

func TestMatchesDateBounds(t *testing.T) {
	spec := Spec{DateAfter: "2026-01-01", DateBefore: "2026-06-01"}

	tests := []struct {
		name      string
		published string
		want      bool
	}{
		{"inside window", "2026-03-15T00:00:00", true},
		{"on lower bound is excluded", "2026-01-01T23:59:59", false},
		{"on upper bound is excluded", "2026-06-01T00:00:00", false},
		{"before window", "2025-12-31T00:00:00", false},
		{"after window", "2026-07-01T00:00:00", false},
		{"missing date passes", "", true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := spec.Matches(post("t", test.published)); got != test.want {
				t.Errorf("Matches(published=%q) = %v, want %v", test.published, got, test.want)
			}
		})
	}
}

func TestMatchesFileRequirements(t *testing.T) {
	tests := []struct {
		name string
		spec Spec
		post *kemono.PostDetail
		want bool
	}{
		{"require files, has none", Spec{RequireFiles: true}, postWithFiles("t", 0, 0, 0), false},
		{"require files, has attachment", Spec{RequireFiles: true}, postWithFiles("t", 0, 1, 0), true},
		{"require images, only video", Spec{RequireImages: true}, postWithFiles("t", 0, 0, 1), false},
		{"require videos, has video", Spec{RequireVideos: true}, postWithFiles("t", 0, 0, 1), true},
		{"require attachments, has image", Spec{RequireAttachments: true}, postWithFiles("t", 1, 0, 0), false},
		{"no requirements, zero files", Spec{}, postWithFiles("t", 0, 0, 0), true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := test.spec.Matches(test.post); got != test.want {
				t.Errorf("Matches() = %v, want %v", got, test.want)
			}
		})
	}
}

func TestValidateDates(t *testing.T) {
	good := Spec{DateAfter: "2026-01-01", DateBefore: "2026-12-31"}
	if err := good.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	bad := Spec{DateAfter: "01/01/2026"}
	if err := bad.Validate(); err == nil {
		t.Error("expected error for malformed date")
	}
}

func TestShouldDownloadMergePolicy(t *testing.T) {
	global := &Spec{ExcludeKeywords: []string{"poll"}}
	entity := &Spec{Keywords: []string{"comic"}}

	tests := []struct {
		name      string
		title     string
		entity    *Spec
		useGlobal bool
		want      bool
	}{
		{"both pass", "comic page 1", entity, true, true},
		{"global rejects", "comic poll", entity, true, false},
		{"entity rejects", "random update", entity, true, false},
		{"opt out ignores global", "comic poll", entity, false, true},
		{"opt out, entity still applies", "random poll", entity, false, false},
		{"nil entity with global", "new poll", nil, true, false},
		{"nil entity opted out", "new poll", nil, false, true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got := ShouldDownload(post(test.title, ""), test.entity, global, test.useGlobal)
			if got != test.want {
				t.Errorf("ShouldDownload() = %v, want %v", got, test.want)
			}
		})
	}
}
