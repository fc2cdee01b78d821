// Package session models the server-pushed playback session and its
// projection into a presentation-ready view model.
package session

// Track is one entry in the remote queue. Every field is optional on the
// wire; identity between two tracks is resolved by URL when both sides have
// one, falling back to title otherwise.
type Track struct {
	Title    string  `json:"title,omitempty"`
	URL      string  `json:"url,omitempty"`
	Duration float64 `json:"duration,omitempty"` // seconds
}

// SameTrack reports whether a and b refer to the same queue item under the
// weak-identity rule: URL equality when both URLs are present, title
// equality otherwise. Two distinct tracks sharing only a title compare
// equal; that is the contract, not an accident.
func SameTrack(a, b Track) bool {
	if a.URL != "" && b.URL != "" {
		return a.URL == b.URL
	}
	return a.Title != "" && a.Title == b.Title
}

// Progress is the playback position within the current track, in seconds.
type Progress struct {
	Elapsed  float64 `json:"elapsed"`
	Duration float64 `json:"duration"`
}

// Snapshot is the full-replace session state broadcast by the server on
// every playlist_update event. Each snapshot entirely supersedes the
// previous one; no field carries delta semantics.
type Snapshot struct {
	Queue     []Track   `json:"queue"`
	Current   *Track    `json:"current,omitempty"`
	Progress  *Progress `json:"progress,omitempty"`
	IsPaused  bool      `json:"is_paused"`
	RepeatAll bool      `json:"repeat_all"`
	Thumbnail string    `json:"thumbnail,omitempty"`
}

// Suggestion is one ranked autocomplete result. Suggestions are ephemeral
// and always derived fresh from the latest query.
type Suggestion struct {
	Title string `json:"title,omitempty"`
	URL   string `json:"url,omitempty"`
}

// SubmitText returns the text submitting this suggestion is equivalent to
// typing: the URL when present, the title otherwise.
func (s Suggestion) SubmitText() string {
	if s.URL != "" {
		return s.URL
	}
	return s.Title
}

// Group is one chat community the authenticated user may control.
type Group struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
