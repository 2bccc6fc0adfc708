package debrid

import (
	"fmt"
	"sort"
)

// Remote job statuses reported by /torrents/info.
const (
	StatusMagnetError           = "magnet_error"
	StatusMagnetConversion      = "magnet_conversion"
	StatusWaitingFilesSelection = "waiting_files_selection"
	StatusQueued                = "queued"
	StatusDownloading           = "downloading"
	StatusDownloaded            = "downloaded"
	StatusError                 = "error"
	StatusVirus                 = "virus"
	StatusCompressing           = "compressing"
	StatusUploading             = "uploading"
	StatusDead                  = "dead"
)

// IsErrorStatus reports whether the remote service has given up on the job.
func IsErrorStatus(status string) bool {
	switch status {
	case StatusMagnetError, StatusError, StatusVirus, StatusDead:
		return true
	}
	return false
}

// Job is a snapshot of one remote torrent job.
type Job struct {
	ID       string   `json:"id"`
	Filename string   `json:"filename"`
	Hash     string   `json:"hash,omitempty"`
	Bytes    int64    `json:"bytes"`
	Progress float64  `json:"progress"`
	Status   string   `json:"status"`
	Links    []string `json:"links"`
	Added    string   `json:"added,omitempty"`
}

// Unrestricted is a resolved direct link.
type Unrestricted struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	MimeType string `json:"mimeType,omitempty"`
	Filesize int64  `json:"filesize"`
	Link     string `json:"link"`
	Host     string `json:"host,omitempty"`
	Download string `json:"download"`
}

// Download is an entry of the unrestricted-links history.
type Download struct {
	ID        string `json:"id"`
	Filename  string `json:"filename"`
	MimeType  string `json:"mimeType,omitempty"`
	Filesize  int64  `json:"filesize"`
	Link      string `json:"link"`
	Host      string `json:"host,omitempty"`
	Download  string `json:"download"`
	Generated string `json:"generated,omitempty"`
}

// VideoStream is one video track of a media-info response.
type VideoStream struct {
	Codec  string `json:"codec"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// MediaInfo is the subset of /streaming/mediaInfos the bot renders.
type MediaInfo struct {
	Filename string  `json:"filename"`
	Type     string  `json:"type"`
	Duration float64 `json:"duration"`
	Details  struct {
		Video map[string]VideoStream `json:"video"`
	} `json:"details"`
}

// Resolution returns "WxH" of the first video stream, or "N/A".
func (m *MediaInfo) Resolution() string {
	if m == nil || len(m.Details.Video) == 0 {
		return "N/A"
	}
	keys := make([]string, 0, len(m.Details.Video))
	for k := range m.Details.Video {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	v := m.Details.Video[keys[0]]
	return fmt.Sprintf("%dx%d", v.Width, v.Height)
}

type addMagnetResponse struct {
	ID  string `json:"id"`
	URI string `json:"uri"`
}

type apiErrorBody struct {
	Error     string `json:"error"`
	ErrorCode int    `json:"error_code"`
}
