// Package receipt renders the printable confirmation of a submitted application.
package receipt

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"net/url"
	"strings"
	"time"

	"github.com/ftu-admissions/admission-api/internal/admission/application"
	"github.com/ftu-admissions/admission-api/internal/admission/domain"
	"github.com/ftu-admissions/admission-api/internal/logger"
	"github.com/go-pdf/fpdf"
)

const (
	pageMargin     = 15.0
	lineHeight     = 7.0
	photoSize      = 40.0
	thumbnailWidth = 30.0
	fetchTimeout   = 5 * time.Second
)

// Config defines dependencies of Builder.
type Config struct {
	Fetcher ImageFetcher
	Signer  *Signer
	Logger  logger.Logger
	// VerifyBaseURL is the public API root used for the verification link.
	VerifyBaseURL string
	// Compress toggles PDF stream compression.
	Compress bool
	Location *time.Location
	Now      func() time.Time
}

// Builder renders receipts with fpdf.
type Builder struct {
	fetcher   ImageFetcher
	signer    *Signer
	logger    logger.Logger
	verifyURL string
	compress  bool
	location  *time.Location
	now       func() time.Time
}

var _ application.ReceiptRenderer = (*Builder)(nil)

// NewBuilder constructs a Builder.
func NewBuilder(cfg Config) *Builder {
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNoOpLogger()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Builder{
		fetcher:   cfg.Fetcher,
		signer:    cfg.Signer,
		logger:    cfg.Logger,
		verifyURL: strings.TrimRight(strings.TrimSpace(cfg.VerifyBaseURL), "/"),
		compress:  cfg.Compress,
		location:  cfg.Location,
		now:       cfg.Now,
	}
}

type renderState struct {
	pdf      *fpdf.Fpdf
	tr       func(string) string
	degraded []string
}

// Render produces the receipt PDF. Attachments that cannot be embedded fall back to links.
func (b *Builder) Render(ctx context.Context, app *domain.Application) (*domain.Receipt, error) {
	generated := b.now().In(b.location)

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetCompression(b.compress)
	pdf.SetMargins(pageMargin, pageMargin, pageMargin)
	pdf.SetAutoPageBreak(true, pageMargin+5)
	pdf.SetTitle("Application Receipt", false)
	pdf.SetCreator("admission-api", false)
	pdf.SetCreationDate(generated)
	pdf.SetModificationDate(generated)

	st := &renderState{pdf: pdf, tr: pdf.UnicodeTranslatorFromDescriptor("")}
	pdf.SetFooterFunc(func() {
		pdf.SetY(-15)
		pdf.SetFont("Helvetica", "I", 8)
		pdf.SetTextColor(120, 120, 120)
		pdf.CellFormat(0, 5, st.tr("Generated: "+generated.Format("2006-01-02 15:04:05 MST")), "", 0, "L", false, 0, "")
		pdf.CellFormat(0, 5, fmt.Sprintf("Page %d", pdf.PageNo()), "", 0, "R", false, 0, "")
	})
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.CellFormat(0, 12, st.tr("Application Receipt"), "", 1, "L", false, 0, "")
	pdf.Ln(2)

	pdf.SetFont("Helvetica", "", 11)
	b.field(st, "Application ID", app.ID)
	b.field(st, "Full Name", app.FullName)
	b.field(st, "Email", app.Email)
	b.field(st, "Stream", string(app.Stream))
	b.field(st, "Program", app.Program)
	b.field(st, "Status", string(app.Status))
	if app.SubmittedAt != nil {
		b.field(st, "Submitted", app.SubmittedAt.In(b.location).Format("2006-01-02 15:04 MST"))
	}
	pdf.Ln(4)

	b.heading(st, "Profile Photo")
	if app.Photo.IsZero() {
		b.note(st, "(No photo uploaded)")
	} else if !b.embed(ctx, st, "photo", *app.Photo, photoSize) {
		st.degraded = append(st.degraded, "photo")
		b.note(st, "(Photo could not be loaded)")
		b.link(st, "Open photo", app.Photo.URL)
	}
	pdf.Ln(4)

	b.heading(st, "Supporting Documents")
	if len(app.Documents) == 0 {
		b.note(st, "(No documents uploaded)")
	}
	for i, doc := range app.Documents {
		if doc.IsZero() {
			continue
		}
		if isEmbeddable(doc) {
			if b.embed(ctx, st, fmt.Sprintf("document-%d", i), doc, thumbnailWidth) {
				b.link(st, doc.DisplayName(), doc.URL)
				pdf.Ln(2)
				continue
			}
			st.degraded = append(st.degraded, "document:"+doc.DisplayName())
		}
		b.link(st, fmt.Sprintf("%d. %s", i+1, doc.DisplayName()), doc.URL)
	}
	pdf.Ln(4)

	token, err := b.verification(st, app)
	if err != nil {
		return nil, err
	}

	if err := pdf.Error(); err != nil {
		return nil, fmt.Errorf("render receipt: %w", err)
	}
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("write receipt: %w", err)
	}

	return &domain.Receipt{
		Filename:    receiptFilename(app),
		ContentType: "application/pdf",
		Data:        buf.Bytes(),
		Token:       token,
		Degraded:    st.degraded,
	}, nil
}

func (b *Builder) field(st *renderState, label, value string) {
	st.pdf.SetFont("Helvetica", "B", 11)
	st.pdf.CellFormat(40, lineHeight, st.tr(label+":"), "", 0, "L", false, 0, "")
	st.pdf.SetFont("Helvetica", "", 11)
	if strings.TrimSpace(value) == "" {
		value = "-"
	}
	st.pdf.CellFormat(0, lineHeight, st.tr(value), "", 1, "L", false, 0, "")
}

func (b *Builder) heading(st *renderState, text string) {
	st.pdf.SetFont("Helvetica", "B", 13)
	st.pdf.CellFormat(0, lineHeight+1, st.tr(text), "B", 1, "L", false, 0, "")
	st.pdf.Ln(2)
	st.pdf.SetFont("Helvetica", "", 11)
}

func (b *Builder) note(st *renderState, text string) {
	st.pdf.SetFont("Helvetica", "I", 10)
	st.pdf.SetTextColor(110, 110, 110)
	st.pdf.CellFormat(0, lineHeight, st.tr(text), "", 1, "L", false, 0, "")
	st.pdf.SetTextColor(0, 0, 0)
	st.pdf.SetFont("Helvetica", "", 11)
}

func (b *Builder) link(st *renderState, label, target string) {
	st.pdf.SetFont("Helvetica", "U", 11)
	st.pdf.SetTextColor(0, 70, 200)
	st.pdf.CellFormat(0, lineHeight, st.tr(label), "", 1, "L", false, 0, target)
	st.pdf.SetTextColor(0, 0, 0)
	st.pdf.SetFont("Helvetica", "", 11)
}

// embed fetches an image and places it at the cursor. It reports false on any failure.
func (b *Builder) embed(ctx context.Context, st *renderState, name string, ref domain.Reference, width float64) bool {
	if b.fetcher == nil {
		return false
	}
	fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	data, err := b.fetcher.Fetch(fetchCtx, ref.URL)
	if err != nil {
		b.logger.Warn("receipt attachment fetch failed", map[string]interface{}{
			"url":   ref.URL,
			"error": err.Error(),
		})
		return false
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil || cfg.Width == 0 || cfg.Height == 0 {
		b.logger.Warn("receipt attachment is not a decodable image", map[string]interface{}{"url": ref.URL})
		return false
	}
	imageType := fpdfImageType(format)
	if imageType == "" {
		b.logger.Warn("receipt attachment format cannot be embedded", map[string]interface{}{
			"url":    ref.URL,
			"format": format,
		})
		return false
	}

	opts := fpdf.ImageOptions{ImageType: imageType, ReadDpi: false}
	st.pdf.RegisterImageOptionsReader(name, opts, bytes.NewReader(data))
	if !st.pdf.Ok() {
		b.logger.Warn("receipt attachment embed failed", map[string]interface{}{
			"url":   ref.URL,
			"error": st.pdf.Error().Error(),
		})
		st.pdf.ClearError()
		return false
	}

	height := width * float64(cfg.Height) / float64(cfg.Width)
	_, pageHeight := st.pdf.GetPageSize()
	if st.pdf.GetY()+height > pageHeight-pageMargin-10 {
		st.pdf.AddPage()
	}
	st.pdf.ImageOptions(name, st.pdf.GetX(), st.pdf.GetY(), width, height, true, opts, 0, ref.URL)
	return true
}

func (b *Builder) verification(st *renderState, app *domain.Application) (string, error) {
	if b.signer == nil {
		return "", nil
	}
	token, err := b.signer.Sign(app)
	if err != nil {
		return "", err
	}
	b.heading(st, "Verification")
	st.pdf.SetFont("Courier", "", 7)
	st.pdf.MultiCell(0, 3.5, token, "", "L", false)
	st.pdf.Ln(2)
	if b.verifyURL != "" {
		b.link(st, "Verify this receipt", b.verifyURL+"/receipts/verify?token="+url.QueryEscape(token))
	}
	return token, nil
}

func isEmbeddable(ref domain.Reference) bool {
	if ref.Kind == domain.KindImage {
		return true
	}
	return strings.HasPrefix(strings.ToLower(ref.ContentType), "image/")
}

func fpdfImageType(format string) string {
	switch format {
	case "png":
		return "PNG"
	case "jpeg":
		return "JPG"
	case "gif":
		return "GIF"
	}
	return ""
}

func receiptFilename(app *domain.Application) string {
	name := strings.ToLower(strings.Join(strings.Fields(app.FullName), "-"))
	if name == "" {
		name = "application"
	}
	return fmt.Sprintf("receipt-%s-%s.pdf", name, app.ID)
}
