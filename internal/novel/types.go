// Package novel defines core types shared across subsystems.
package novel

// Status represents the lifecycle state of a single novel job while its
// content is being fetched and packaged.
type Status string

// Job status values tracked by the pipeline state machine.
const (
	StatusPending   Status = "pending"
	StatusFetching  Status = "fetching"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusHalted    Status = "halted"
)

// Chapter is one content item. Body is populated in memory only while the
// item is being fetched or packaged; between those points it lives in the
// job's spool directory.
type Chapter struct {
	ID      int    `json:"id"`
	Volume  int    `json:"volume"`
	Title   string `json:"title"`
	URL     string `json:"url"`
	Body    string `json:"body,omitempty"`
	Success bool   `json:"success"`
}

// Volume groups chapters for packaging.
type Volume struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
}

// Novel is the metadata resolved for one identifier.
type Novel struct {
	URL      string     `json:"url"`
	Title    string     `json:"title"`
	Author   string     `json:"author,omitempty"`
	Synopsis string     `json:"synopsis,omitempty"`
	CoverURL string     `json:"cover_url,omitempty"`
	Volumes  []Volume   `json:"volumes"`
	Chapters []*Chapter `json:"chapters"`
}

// Failed returns the chapters whose fetch did not report success.
func (n *Novel) Failed() []*Chapter {
	var out []*Chapter
	for _, ch := range n.Chapters {
		if !ch.Success {
			out = append(out, ch)
		}
	}
	return out
}
