package service

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/curatorhq/curator/internal/domain"
)

// DefaultFileFetchTimeout bounds a single attachment download.
const DefaultFileFetchTimeout = 30 * time.Second

// maxAttachmentBytes caps how much of an attachment body is read.
const maxAttachmentBytes = 10 << 20

// FetchedFile is a downloaded attachment. Text is empty when the content type
// is not a supported text format.
type FetchedFile struct {
	Name        string
	ContentType string
	Raw         []byte
	Text        string
}

// AttachmentFetcher downloads message attachments over HTTP. An auth token,
// when set, is sent as a bearer credential; source platforms serve an HTML
// login page instead of the file when it is missing or stale.
type AttachmentFetcher struct {
	client *http.Client
	token  string
}

func NewAttachmentFetcher(token string, timeout time.Duration) *AttachmentFetcher {
	if timeout <= 0 {
		timeout = DefaultFileFetchTimeout
	}
	return &AttachmentFetcher{
		client: &http.Client{Timeout: timeout},
		token:  token,
	}
}

// Fetch downloads one attachment and decodes its text when the format allows.
// An HTML body where a file was expected means the download was bounced to a
// login page and is treated as an error, not content.
func (f *AttachmentFetcher) Fetch(ctx context.Context, att domain.Attachment) (*FetchedFile, error) {
	if att.URL == "" {
		return nil, fmt.Errorf("attachment %q has no download URL", att.Name)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, att.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %q: %w", att.Name, err)
	}
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %q: %w", att.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download %q: unexpected status %d", att.Name, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxAttachmentBytes))
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", att.Name, err)
	}

	contentType := resp.Header.Get("Content-Type")
	if isHTML(contentType, raw) && !strings.Contains(strings.ToLower(att.MimeType), "html") {
		return nil, fmt.Errorf("download %q: got HTML login page instead of file content", att.Name)
	}

	fetched := &FetchedFile{
		Name:        att.Name,
		ContentType: contentType,
		Raw:         raw,
	}
	if isTextAttachment(att.MimeType, contentType, att.Name) {
		fetched.Text = strings.TrimSpace(string(raw))
	} else {
		log.Printf("files: %q is %s, skipping text extraction", att.Name, contentType)
	}
	return fetched, nil
}

func isHTML(contentType string, body []byte) bool {
	if strings.Contains(strings.ToLower(contentType), "text/html") {
		return true
	}
	head := strings.ToLower(string(body[:min(len(body), 256)]))
	return strings.Contains(head, "<!doctype html") || strings.Contains(head, "<html")
}

// isTextAttachment reports whether the attachment can be indexed as text.
// Plain text and markdown are supported; binary formats are archived but not
// chunked.
func isTextAttachment(mimeType, contentType, name string) bool {
	for _, t := range []string{mimeType, contentType} {
		lower := strings.ToLower(t)
		if strings.HasPrefix(lower, "text/") || strings.Contains(lower, "markdown") {
			return true
		}
	}
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, ".txt") || strings.HasSuffix(lower, ".md") || strings.HasSuffix(lower, ".markdown")
}

// Acknowledger reports ingestion outcomes back to the source channel, e.g. as
// an emoji reaction on the original message. Acknowledgement is best effort:
// failures are logged and never affect the pipeline result.
type Acknowledger interface {
	Acknowledge(ctx context.Context, key domain.IngestionKey, reaction string) error
}

// Reaction names used for ingestion acknowledgements.
const (
	ReactionStored   = "floppy_disk"
	ReactionDocument = "page_facing_up"
)

// NopAcknowledger is used when no source platform connection is configured.
type NopAcknowledger struct{}

func (NopAcknowledger) Acknowledge(context.Context, domain.IngestionKey, string) error {
	return nil
}

// acknowledge wraps an Acknowledger call with the best-effort policy.
func acknowledge(ctx context.Context, ack Acknowledger, key domain.IngestionKey, reaction string) {
	if ack == nil {
		return
	}
	if err := ack.Acknowledge(ctx, key, reaction); err != nil {
		log.Printf("ack: %s on %s failed: %v", reaction, key.String(), err)
	}
}
