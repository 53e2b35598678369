package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"sync"

	"github.com/ftu-admissions/admission-api/internal/admission/domain"
	"github.com/ftu-admissions/admission-api/internal/apperror"
	"github.com/ftu-admissions/admission-api/internal/media"
)

// File is one attachment to upload.
type File struct {
	Filename    string
	ContentType string
	Data        []byte
}

// UploadRequest carries one multipart upload. AppID empty lets the server create the draft.
type UploadRequest struct {
	AppID     string
	UserID    string
	Photo     *File
	Documents []File
}

// UploadResult is the updated draft plus the references created by this call.
type UploadResult struct {
	Application *domain.Application
	Photo       *domain.Reference
	Documents   []domain.Reference
}

// ProgressFunc receives the sent share of the request body in percent. Values never decrease.
type ProgressFunc func(percent int)

// Upload checks the photo type locally, then sends everything in one multipart request.
// Cancelling ctx aborts the transfer.
func (c *Client) Upload(ctx context.Context, req UploadRequest, onProgress ProgressFunc) (*UploadResult, error) {
	if err := precheck(req); err != nil {
		return nil, err
	}

	body, contentType, err := encodeUpload(req)
	if err != nil {
		return nil, err
	}

	tracker := newProgressTracker(onProgress)
	reader := &countingReader{r: bytes.NewReader(body), total: int64(len(body)), report: tracker.report}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload", reader)
	if err != nil {
		return nil, apperror.Internal("build upload request", err)
	}
	httpReq.ContentLength = int64(len(body))
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.logger.WithError(err).Warn("upload request failed", map[string]interface{}{"appId": req.AppID})
		return nil, transportError(err, "upload")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}

	var out struct {
		Success     bool                `json:"success"`
		Application *domain.Application `json:"application"`
		Uploaded    struct {
			Photo     *domain.Reference  `json:"photo"`
			Documents []domain.Reference `json:"documents"`
		} `json:"uploaded"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, transportError(err, "decode upload response")
	}
	if !out.Success || out.Application == nil {
		return nil, apperror.UploadFailed("upload was not accepted", nil)
	}
	tracker.report(100)
	c.hints.Remember(out.Application.ID)

	return &UploadResult{
		Application: out.Application,
		Photo:       out.Uploaded.Photo,
		Documents:   out.Uploaded.Documents,
	}, nil
}

// precheck refuses a non-image photo before any network traffic. Documents are left to the server.
func precheck(req UploadRequest) error {
	if req.Photo == nil {
		return nil
	}
	contentType := media.ContentType(req.Photo.ContentType, req.Photo.Filename)
	if !media.IsImage(contentType) {
		return apperror.InvalidFileType(fmt.Sprintf("photo %s must be an image, got %s", req.Photo.Filename, contentType))
	}
	return nil
}

func encodeUpload(req UploadRequest) ([]byte, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	if id := strings.TrimSpace(req.AppID); id != "" {
		if err := writer.WriteField("appId", id); err != nil {
			return nil, "", apperror.Internal("encode upload", err)
		}
	}
	if userID := strings.TrimSpace(req.UserID); userID != "" {
		if err := writer.WriteField("userId", userID); err != nil {
			return nil, "", apperror.Internal("encode upload", err)
		}
	}
	if req.Photo != nil {
		if err := writeFile(writer, "photo", *req.Photo); err != nil {
			return nil, "", err
		}
	}
	for _, doc := range req.Documents {
		if err := writeFile(writer, "documents", doc); err != nil {
			return nil, "", err
		}
	}
	if err := writer.Close(); err != nil {
		return nil, "", apperror.Internal("encode upload", err)
	}
	return buf.Bytes(), writer.FormDataContentType(), nil
}

func writeFile(writer *multipart.Writer, field string, file File) error {
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, file.Filename))
	header.Set("Content-Type", media.ContentType(file.ContentType, file.Filename))
	part, err := writer.CreatePart(header)
	if err != nil {
		return apperror.Internal("encode upload", err)
	}
	if _, err := part.Write(file.Data); err != nil {
		return apperror.Internal("encode upload", err)
	}
	return nil
}

type progressTracker struct {
	mu   sync.Mutex
	last int
	fn   ProgressFunc
}

func newProgressTracker(fn ProgressFunc) *progressTracker {
	return &progressTracker{last: -1, fn: fn}
}

// report forwards percent only when it grows.
func (p *progressTracker) report(percent int) {
	if p.fn == nil {
		return
	}
	if percent > 100 {
		percent = 100
	}
	p.mu.Lock()
	if percent <= p.last {
		p.mu.Unlock()
		return
	}
	p.last = percent
	p.mu.Unlock()
	p.fn(percent)
}

type countingReader struct {
	r      io.Reader
	total  int64
	read   int64
	report func(int)
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 && c.total > 0 {
		c.read += int64(n)
		// 100 is reserved for the accepted response.
		percent := int(c.read * 99 / c.total)
		c.report(percent)
	}
	return n, err
}
