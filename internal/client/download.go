package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/huddle-chat/huddle/internal/models"
	"go.uber.org/zap"
)

// FallbackFilename names a download whose response carries no filename
const FallbackFilename = "download"

// quoted with ", quoted with ', or bare up to the next ';'
var dispositionFilename = regexp.MustCompile(`(?i)filename([^;=\n]*)=(?:"([^"]*)"|'([^']*)'|([^;\n]*))`)

// Download is a fetched attachment held in memory
type Download struct {
	Filename  string
	MediaType string
	Data      []byte
}

// Downloader fetches attachments with the session credential. Each call is
// a single authenticated GET with no retry.
type Downloader struct {
	baseURL string
	creds   *Credentials
	http    *http.Client
	logger  *zap.Logger
}

// NewDownloader creates a downloader for serverAddr
func NewDownloader(serverAddr string, creds *Credentials, timeout time.Duration, logger *zap.Logger) (*Downloader, error) {
	base, err := baseURL(serverAddr)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &Downloader{
		baseURL: base,
		creds:   creds,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}, nil
}

// Download fetches attachment index of a message
func (d *Downloader) Download(ctx context.Context, teamID, messageID uuid.UUID, index int) (*Download, error) {
	token := d.creds.Token()
	if token == "" {
		return nil, ErrSessionExpired
	}

	u := d.baseURL + models.AttachmentPath(teamID, messageID, index) + "?" + url.Values{"token": {token}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := d.http.Do(req)
	if err != nil {
		return nil, classifyTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		d.logger.Debug("download rejected",
			zap.String("message_id", messageID.String()),
			zap.Int("index", index),
			zap.Int("status", resp.StatusCode))
		if err := statusError(resp.StatusCode); err != nil {
			return nil, err
		}
		return nil, &DownloadFailedError{Status: resp.StatusCode}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransport(err)
	}

	name := FilenameFromContentDisposition(resp.Header.Get("Content-Disposition"))
	if name == "" {
		name = FallbackFilename
	}
	return &Download{
		Filename:  name,
		MediaType: resp.Header.Get("Content-Type"),
		Data:      data,
	}, nil
}

// FilenameFromContentDisposition extracts the filename parameter, or ""
func FilenameFromContentDisposition(header string) string {
	m := dispositionFilename.FindStringSubmatch(header)
	if m == nil {
		return ""
	}

	value := m[2]
	if value == "" {
		value = m[3]
	}
	if value == "" {
		value = m[4]
	}
	value = strings.TrimSpace(value)

	// filename*=charset''percent-encoded
	if strings.Contains(m[1], "*") {
		if i := strings.Index(value, "''"); i >= 0 {
			if decoded, err := url.PathUnescape(value[i+2:]); err == nil {
				value = decoded
			}
		}
	}
	return value
}

// SaveTo writes the download into dir without overwriting an existing
// file and returns the path written.
func (d *Download) SaveTo(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create download directory: %w", err)
	}

	name := filepath.Base(strings.ReplaceAll(d.Filename, "\\", "/"))
	if name == "." || name == "/" || name == ".." || name == "" {
		name = FallbackFilename
	}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	for i := 0; i < 1000; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s (%d)%s", stem, i, ext)
		}
		path := filepath.Join(dir, candidate)

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to save download: %w", err)
		}
		if _, err := f.Write(d.Data); err != nil {
			f.Close()
			os.Remove(path)
			return "", fmt.Errorf("failed to save download: %w", err)
		}
		if err := f.Close(); err != nil {
			return "", fmt.Errorf("failed to save download: %w", err)
		}
		return path, nil
	}
	return "", fmt.Errorf("failed to save download: too many files named %q", name)
}
