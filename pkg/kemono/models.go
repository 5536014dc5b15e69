package kemono

// Post is one entry of a creator's paginated post listing, newest first.
// Content is only populated on the detail endpoint.
type Post struct {
	ID        string `json:"id"`
	UserID    string `json:"user"`
	Service   string `json:"service"`
	Title     string `json:"title"`
	Content   string `json:"content,omitempty"`
	Published string `json:"published"` // ISO-8601, e.g. 2024-05-01T12:00:00
}

// PublishedDay returns the YYYY-MM-DD part of the publish timestamp
func (p *Post) PublishedDay() string {
	if len(p.Published) < 10 {
		return p.Published
	}
	return p.Published[:10]
}

// PostDetail is the full post record including its file references
type PostDetail struct {
	Post        Post      `json:"post"`
	Previews    []FileRef `json:"previews"`
	Attachments []FileRef `json:"attachments"`
	Videos      []FileRef `json:"videos"`
}

// FileRef points at a file on one of the platform's data servers
type FileRef struct {
	Server string `json:"server"`
	Name   string `json:"name"`
	Path   string `json:"path"`
}

// URL builds the direct download URL for the reference
func (f *FileRef) URL() string {
	if f.Server == "" || f.Path == "" {
		return ""
	}
	return f.Server + "/data" + f.Path
}

// FileCategory distinguishes the listing a file reference came from
type FileCategory string

const (
	CategoryImage      FileCategory = "image"
	CategoryAttachment FileCategory = "attachment"
	CategoryVideo      FileCategory = "video"
)

// File is a downloadable file extracted from a post detail
type File struct {
	Name     string
	URL      string
	Category FileCategory
}

// Files flattens the detail's previews, attachments and videos into an
// ordered download list, skipping references without a usable URL
func (d *PostDetail) Files() []File {
	var files []File

	add := func(refs []FileRef, category FileCategory) {
		for _, ref := range refs {
			url := ref.URL()
			if url == "" {
				continue
			}
			files = append(files, File{Name: ref.Name, URL: url, Category: category})
		}
	}

	add(d.Previews, CategoryImage)
	add(d.Attachments, CategoryAttachment)
	add(d.Videos, CategoryVideo)

	return files
}

// HasImages reports whether the post carries preview images
func (d *PostDetail) HasImages() bool { return len(d.Previews) > 0 }

// HasAttachments reports whether the post carries attachments
func (d *PostDetail) HasAttachments() bool { return len(d.Attachments) > 0 }

// HasVideos reports whether the post carries videos
func (d *PostDetail) HasVideos() bool { return len(d.Videos) > 0 }

// HasFiles reports whether the post carries any file at all
func (d *PostDetail) HasFiles() bool {
	return d.HasImages() || d.HasAttachments() || d.HasVideos()
}

// Profile is a creator's profile record
type Profile struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Service  string `json:"service"`
	Indexed  string `json:"indexed"`
	Updated  string `json:"updated"`
	PublicID string `json:"public_id"`
}
