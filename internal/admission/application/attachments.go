package application

import (
	"fmt"
	"strings"

	"github.com/ftu-admissions/admission-api/internal/admission/domain"
	"github.com/ftu-admissions/admission-api/internal/apperror"
)

// AttachmentPolicy limits the references a client may write through the draft store to the
// ones the upload pipeline mints: a URL under one of the media base URLs, inside the photo or
// document namespace of KeyPrefix. A zero policy accepts no client-supplied reference.
type AttachmentPolicy struct {
	BaseURLs  []string
	KeyPrefix string
}

// Check validates every reference a patch would write.
func (p AttachmentPolicy) Check(patch domain.Patch) error {
	if patch.Photo != nil && !patch.Photo.IsZero() {
		if err := p.checkRef(*patch.Photo, photoNamespace); err != nil {
			return err
		}
	}
	for _, ref := range patch.Documents {
		if err := p.checkRef(ref, documentNamespace); err != nil {
			return err
		}
	}
	for _, ref := range patch.AppendDocuments {
		if err := p.checkRef(ref, documentNamespace); err != nil {
			return err
		}
	}
	return nil
}

// Trusted reports whether rawURL points into the media store, in either namespace.
func (p AttachmentPolicy) Trusted(rawURL string) bool {
	return p.underNamespace(rawURL, photoNamespace) || p.underNamespace(rawURL, documentNamespace)
}

func (p AttachmentPolicy) checkRef(ref domain.Reference, namespace string) error {
	if !p.underNamespace(ref.URL, namespace) {
		return apperror.Validation(fmt.Sprintf("attachment %q was not issued by the upload endpoint", ref.URL))
	}
	if ref.StorageID != "" && !strings.HasPrefix(ref.StorageID, p.namespacePrefix(namespace)) {
		return apperror.Validation(fmt.Sprintf("attachment storage id %q is outside the %s namespace", ref.StorageID, namespace))
	}
	return nil
}

func (p AttachmentPolicy) underNamespace(rawURL, namespace string) bool {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" || strings.Contains(rawURL, "..") {
		return false
	}
	for _, base := range p.BaseURLs {
		base = strings.TrimRight(strings.TrimSpace(base), "/")
		if base == "" {
			continue
		}
		if strings.HasPrefix(rawURL, base+"/"+p.namespacePrefix(namespace)) {
			return true
		}
	}
	return false
}

func (p AttachmentPolicy) namespacePrefix(namespace string) string {
	if prefix := strings.Trim(p.KeyPrefix, "/"); prefix != "" {
		return prefix + "/" + namespace + "/"
	}
	return namespace + "/"
}
