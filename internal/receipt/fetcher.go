package receipt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/ftu-admissions/admission-api/internal/apperror"
)

// ImageFetcher loads attachment bytes for embedding.
type ImageFetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

// HTTPFetcher downloads attachments over HTTP(S). Only URLs under one of the allowed base
// URLs are requested; redirects must stay under them too.
type HTTPFetcher struct {
	client   *http.Client
	maxBytes int64
	allowed  []*url.URL
}

// NewHTTPFetcher builds a fetcher with a per-request timeout and size cap. allowedBases are
// the media store roots attachments may live under; without any, every fetch is refused.
func NewHTTPFetcher(timeout time.Duration, maxBytes int64, allowedBases ...string) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	f := &HTTPFetcher{maxBytes: maxBytes}
	for _, raw := range allowedBases {
		base, err := url.Parse(strings.TrimRight(strings.TrimSpace(raw), "/"))
		if err != nil || base.Host == "" || (base.Scheme != "http" && base.Scheme != "https") {
			continue
		}
		f.allowed = append(f.allowed, base)
	}
	f.client = &http.Client{
		Timeout: timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 3 {
				return errors.New("too many redirects")
			}
			if !f.permitted(req.URL) {
				return fmt.Errorf("redirect to %s leaves the media store", req.URL.Host)
			}
			return nil
		},
	}
	return f
}

func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	target, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || !f.permitted(target) {
		return nil, apperror.Validation(fmt.Sprintf("attachment url %q is outside the media store", rawURL))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build attachment request: %w", err)
	}
	res, err := f.client.Do(req)
	if err != nil {
		code := apperror.CodeNetworkError
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			code = apperror.CodeTimeout
		}
		return nil, apperror.Wrap(code, "fetch attachment", err)
	}
	defer res.Body.Close()

	if res.StatusCode >= 400 {
		return nil, apperror.New(apperror.CodeForStatus(res.StatusCode), fmt.Sprintf("fetch attachment: status=%d", res.StatusCode))
	}
	reader := io.Reader(res.Body)
	if f.maxBytes > 0 {
		reader = io.LimitReader(res.Body, f.maxBytes+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, apperror.Wrap(apperror.CodeNetworkError, "read attachment", err)
	}
	if f.maxBytes > 0 && int64(len(data)) > f.maxBytes {
		return nil, apperror.PayloadTooLarge(fmt.Sprintf("attachment exceeds %d bytes", f.maxBytes))
	}
	return data, nil
}

func (f *HTTPFetcher) permitted(target *url.URL) bool {
	if target == nil || target.User != nil || target.Host == "" {
		return false
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return false
	}
	clean := path.Clean("/" + target.Path)
	for _, base := range f.allowed {
		if !strings.EqualFold(base.Scheme, target.Scheme) || !strings.EqualFold(base.Host, target.Host) {
			continue
		}
		root := strings.TrimRight(base.Path, "/")
		if root == "" || strings.HasPrefix(clean, root+"/") {
			return true
		}
	}
	return false
}
