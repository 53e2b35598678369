// Package client is the Go SDK the application stages use to talk to the admission API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/ftu-admissions/admission-api/internal/admission/application"
	"github.com/ftu-admissions/admission-api/internal/admission/domain"
	"github.com/ftu-admissions/admission-api/internal/apperror"
	"github.com/ftu-admissions/admission-api/internal/logger"
)

const defaultTimeout = 30 * time.Second

// Fields is a partial application payload, for example {"fullName": "Jane"}.
type Fields map[string]any

// Config configures a Client.
type Config struct {
	BaseURL string
	// HTTPClient defaults to a client with a cookie jar so the session hint follows the user.
	HTTPClient *http.Client
	Hints      *HintCache
	Logger     logger.Logger
}

// Client calls the admission API.
type Client struct {
	baseURL string
	http    *http.Client
	hints   *HintCache
	logger  logger.Logger
}

// SubmitResult is the finalize outcome.
type SubmitResult struct {
	Application      *domain.Application
	AlreadySubmitted bool
}

// MissingField is one field blocking submission and the stage that owns it.
type MissingField struct {
	Field string `json:"field"`
	Label string `json:"label"`
	Stage string `json:"stage"`
	Path  string `json:"path"`
}

// Progress is the review summary of a draft.
type Progress struct {
	Progress         domain.Progress `json:"progress"`
	CanSubmit        bool            `json:"canSubmit"`
	AlreadySubmitted bool            `json:"alreadySubmitted"`
	Missing          []MissingField  `json:"missing"`
}

// Receipt is a downloaded receipt PDF.
type Receipt struct {
	Filename    string
	ContentType string
	Data        []byte
	Degraded    []string
}

// New builds a Client.
func New(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if _, err := url.ParseRequestURI(base); err != nil || base == "" {
		return nil, fmt.Errorf("invalid base URL %q", cfg.BaseURL)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, err
		}
		httpClient = &http.Client{Timeout: defaultTimeout, Jar: jar}
	}
	hints := cfg.Hints
	if hints == nil {
		hints = NewHintCache()
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Client{baseURL: base, http: httpClient, hints: hints, logger: log}, nil
}

// Hints exposes the most-recent-id cache.
func (c *Client) Hints() *HintCache {
	return c.hints
}

// Fetch loads a draft. An unknown id yields NOT_FOUND.
func (c *Client) Fetch(ctx context.Context, id string) (*domain.Application, error) {
	if strings.TrimSpace(id) == "" {
		return nil, apperror.NotFound("application", id)
	}
	var out struct {
		Data *domain.Application `json:"data"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/applications/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	if out.Data == nil {
		return nil, apperror.NotFound("application", id)
	}
	return out.Data, nil
}

// Create stores a new draft and remembers its id.
func (c *Client) Create(ctx context.Context, fields Fields) (*domain.Application, error) {
	var out struct {
		Data *domain.Application `json:"data"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/applications", fields, &out); err != nil {
		return nil, err
	}
	if out.Data == nil {
		return nil, apperror.Internal("create returned no application", nil)
	}
	c.hints.Remember(out.Data.ID)
	return out.Data, nil
}

// Update merges fields into an existing draft.
func (c *Client) Update(ctx context.Context, id string, fields Fields) (*domain.Application, error) {
	var out struct {
		Data *domain.Application `json:"data"`
	}
	if err := c.doJSON(ctx, http.MethodPut, "/applications/"+url.PathEscape(id), fields, &out); err != nil {
		return nil, err
	}
	if out.Data == nil {
		return nil, apperror.Internal("update returned no application", nil)
	}
	c.hints.Remember(out.Data.ID)
	return out.Data, nil
}

// SaveOrUpdate creates a draft when id is empty and updates it otherwise.
func (c *Client) SaveOrUpdate(ctx context.Context, id string, fields Fields) (*domain.Application, error) {
	if strings.TrimSpace(id) == "" {
		return c.Create(ctx, fields)
	}
	return c.Update(ctx, id, fields)
}

// SelectStream saves the stream choice and clears a program the new stream does not offer.
func (c *Client) SelectStream(ctx context.Context, current *domain.Application, stream domain.Stream) (*domain.Application, error) {
	fields := Fields{"stream": string(stream)}
	id := ""
	if current != nil {
		id = current.ID
		if current.Program != "" && !domain.ProgramOffered(stream, current.Program) {
			fields["program"] = ""
		}
	}
	return c.SaveOrUpdate(ctx, id, fields)
}

// Submit finalizes a draft. Repeating it on a submitted record reports AlreadySubmitted.
func (c *Client) Submit(ctx context.Context, id string) (*SubmitResult, error) {
	var out struct {
		Data             *domain.Application `json:"data"`
		AlreadySubmitted bool                `json:"alreadySubmitted"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/applications/"+url.PathEscape(id)+"/submit", nil, &out); err != nil {
		return nil, err
	}
	return &SubmitResult{Application: out.Data, AlreadySubmitted: out.AlreadySubmitted}, nil
}

// Progress returns the stage flags and the fields still blocking submission.
func (c *Client) Progress(ctx context.Context, id string) (*Progress, error) {
	var out struct {
		Data *Progress `json:"data"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/applications/"+url.PathEscape(id)+"/progress", nil, &out); err != nil {
		return nil, err
	}
	if out.Data == nil {
		return nil, apperror.Internal("progress returned no data", nil)
	}
	return out.Data, nil
}

// Receipt downloads the PDF receipt of a submitted application.
func (c *Client) Receipt(ctx context.Context, id string) (*Receipt, error) {
	resp, err := c.send(ctx, http.MethodGet, "/applications/"+url.PathEscape(id)+"/receipt", "", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(err, "read receipt")
	}

	rec := &Receipt{ContentType: resp.Header.Get("Content-Type"), Data: data}
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil {
		rec.Filename = params["filename"]
	}
	if degraded := strings.TrimSpace(resp.Header.Get("X-Receipt-Degraded")); degraded != "" {
		rec.Degraded = strings.Split(degraded, ",")
	}
	return rec, nil
}

// Resolve asks which draft a stage should operate on. id may be empty or stale.
func (c *Client) Resolve(ctx context.Context, stage domain.Stage, id string) (application.Resolution, error) {
	query := url.Values{}
	query.Set("stage", string(stage))
	if id = strings.TrimSpace(id); id != "" {
		query.Set("id", id)
	}
	var out struct {
		Data application.Resolution `json:"data"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/session/resolve?"+query.Encode(), nil, &out); err != nil {
		return application.Resolution{}, err
	}
	if out.Data.ApplicationID != "" {
		c.hints.Remember(out.Data.ApplicationID)
		return out.Data, nil
	}
	return c.resolveFromHint(ctx, stage, out.Data), nil
}

// resolveFromHint covers a server without a session hint (new cookie jar, expired session):
// the locally cached id wins while it still names a draft, and is dropped once it does not.
func (c *Client) resolveFromHint(ctx context.Context, stage domain.Stage, answer application.Resolution) application.Resolution {
	if answer.Action != application.ActionRestart && answer.Action != application.ActionStartFresh {
		return answer
	}
	last := c.hints.Last()
	if last == "" {
		return answer
	}
	app, err := c.Fetch(ctx, last)
	switch {
	case err == nil && !app.IsSubmitted():
		return application.Resolution{
			Action:        application.ActionRedirect,
			ApplicationID: app.ID,
			Location:      stage.Path() + "?id=" + url.QueryEscape(app.ID),
		}
	case err == nil, apperror.IsCode(err, apperror.CodeNotFound):
		c.hints.Clear()
	default:
		c.logger.WithError(err).Warn("cached application lookup failed", map[string]interface{}{"applicationId": last})
	}
	return answer
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	contentType := ""
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return apperror.Validation(fmt.Sprintf("encode payload: %v", err))
		}
		body = bytes.NewReader(raw)
		contentType = "application/json"
	}

	resp, err := c.send(ctx, method, path, contentType, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return transportError(err, "decode response")
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, apperror.Internal("build request", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.WithError(err).Warn("admission API request failed", map[string]interface{}{"method": method, "path": path})
		return nil, transportError(err, method+" "+path)
	}
	return resp, nil
}

type errorBody struct {
	Error         string        `json:"error"`
	Code          apperror.Code `json:"code"`
	Details       string        `json:"details"`
	MissingFields []string      `json:"missingFields"`
}

// decodeError maps an error response onto the shared taxonomy. The server code wins over the
// status mapping when present.
func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body errorBody
	_ = json.Unmarshal(raw, &body)

	code := body.Code
	if code == "" {
		code = apperror.CodeForStatus(resp.StatusCode)
	}
	message := strings.TrimSpace(body.Error)
	if message == "" {
		message = fmt.Sprintf("request failed with status %d", resp.StatusCode)
	}

	e := apperror.New(code, message)
	e.Details = body.Details
	e.MissingFields = body.MissingFields
	return e
}

// transportError classifies failures that never produced a response.
func transportError(err error, op string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperror.Timeout(op+" timed out", err)
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apperror.Timeout(op+" timed out", err)
	}
	return apperror.NetworkError(op+" failed", err)
}
