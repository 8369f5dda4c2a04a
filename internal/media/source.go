package media

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/kalambet/clipsage/internal/project"
)

// Source is a submitted payload before it becomes a project.
type Source struct {
	Name     string
	MimeType string
	Kind     project.MediaKind
	Data     []byte
}

// Size is the payload length in bytes.
func (s Source) Size() int64 {
	return int64(len(s.Data))
}

// LoadFile reads a media file from disk, rejecting it before reading when it
// exceeds maxBytes.
func LoadFile(filePath string, maxBytes int64) (Source, error) {
	info, err := os.Stat(filePath)
	if err != nil {
		return Source{}, project.WrapError(project.ErrInvalidInput, "load file", err)
	}
	if info.IsDir() {
		return Source{}, project.WrapError(project.ErrInvalidInput, "load file", fmt.Errorf("%s is a directory", filePath))
	}
	if err := CheckSize(info.Size(), maxBytes); err != nil {
		return Source{}, err
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return Source{}, project.WrapError(project.ErrInvalidInput, "load file", err)
	}
	return NewSource(filepath.Base(filePath), "", data)
}

const fetchTimeout = 5 * time.Minute

// FetchURL downloads media from a URL. The response is rejected as soon as
// its declared or actual length passes maxBytes.
func FetchURL(ctx context.Context, client *http.Client, rawURL string, maxBytes int64) (Source, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return Source{}, project.WrapError(project.ErrInvalidInput, "fetch url", fmt.Errorf("unsupported url %q", rawURL))
	}
	if client == nil {
		client = &http.Client{Timeout: fetchTimeout}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Source{}, project.WrapError(project.ErrInvalidInput, "fetch url", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return Source{}, project.WrapError(project.ErrInvalidInput, "fetch url", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Source{}, project.WrapError(project.ErrInvalidInput, "fetch url", fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
	if resp.ContentLength > 0 {
		if err := CheckSize(resp.ContentLength, maxBytes); err != nil {
			return Source{}, err
		}
	}

	var body io.Reader = resp.Body
	if maxBytes > 0 {
		body = io.LimitReader(resp.Body, maxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return Source{}, project.WrapError(project.ErrInvalidInput, "fetch url", fmt.Errorf("reading body: %w", err))
	}
	if err := CheckSize(int64(len(data)), maxBytes); err != nil {
		return Source{}, err
	}

	name := path.Base(u.Path)
	if name == "" || name == "/" || name == "." {
		name = u.Host
	}
	mimeType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	return NewSource(name, mimeType, data)
}

// CheckSize returns an InputTooLarge error when size exceeds maxBytes.
// A non-positive maxBytes disables the check.
func CheckSize(size, maxBytes int64) error {
	if maxBytes > 0 && size > maxBytes {
		return project.WrapError(project.ErrInputTooLarge, "check size",
			fmt.Errorf("%d bytes exceeds limit of %d bytes", size, maxBytes))
	}
	return nil
}

// NewSource classifies data as audio or video. The hinted MIME type is used
// when it is specific; otherwise the extension and then the content decide.
func NewSource(name, mimeHint string, data []byte) (Source, error) {
	mimeType := DetectMimeType(name, mimeHint, data)
	kind, ok := KindOf(mimeType)
	if !ok {
		return Source{}, project.WrapError(project.ErrInvalidInput, "detect media",
			fmt.Errorf("%s has unsupported type %q", name, mimeType))
	}
	return Source{Name: name, MimeType: mimeType, Kind: kind, Data: data}, nil
}

// mediaExtensions covers formats the system MIME table often lacks.
var mediaExtensions = map[string]string{
	".mp4":  "video/mp4",
	".m4v":  "video/mp4",
	".mov":  "video/quicktime",
	".webm": "video/webm",
	".mkv":  "video/x-matroska",
	".avi":  "video/x-msvideo",
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".wav":  "audio/wav",
	".ogg":  "audio/ogg",
	".flac": "audio/flac",
	".aac":  "audio/aac",
}

// DetectMimeType picks the most specific MIME type available.
func DetectMimeType(name, hint string, data []byte) string {
	if _, ok := KindOf(hint); ok {
		return hint
	}
	ext := strings.ToLower(filepath.Ext(name))
	if mt, ok := mediaExtensions[ext]; ok {
		return mt
	}
	if byExt := mime.TypeByExtension(ext); byExt != "" {
		if mt, _, err := mime.ParseMediaType(byExt); err == nil {
			if _, ok := KindOf(mt); ok {
				return mt
			}
		}
	}
	sniffed := http.DetectContentType(data)
	if mt, _, err := mime.ParseMediaType(sniffed); err == nil {
		return mt
	}
	return sniffed
}

// KindOf maps a MIME type to a media kind.
func KindOf(mimeType string) (project.MediaKind, bool) {
	switch {
	case strings.HasPrefix(mimeType, "video/"):
		return project.MediaVideo, true
	case strings.HasPrefix(mimeType, "audio/"):
		return project.MediaAudio, true
	default:
		return "", false
	}
}
