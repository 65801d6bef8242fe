// Package snapshot holds the query path's hot working set: one
// Document per embedded chunk, hydrated into memory from the cache at
// startup and replaced wholesale by ingestion runs. Readers see plain
// structs; the legacy parallel-array layout survives only inside the
// cache blob for wire compatibility.
package snapshot

import (
	"github.com/map-community/CHATBOT-AI-sub000/internal/store"
)

// CacheKey is the cache slot holding the encoded snapshot.
const CacheKey = "pinecone_metadata"

// Content types carried by chunk metadata.
const (
	ContentText       = "text"
	ContentImage      = "image"
	ContentAttachment = "attachment"
)

// Chunk sources. OCR and parse chunks survive keyword filtering in the
// composer even without a query noun, so the label matters downstream.
const (
	SourceOriginalPost  = "original_post"
	SourceImageOCR      = "image_ocr"
	SourceDocumentParse = "document_parse"
	SourceProfessorInfo = "professor_info"
)

// Vector payload keys. The uploader writes these; the snapshot and the
// dense retriever read them back.
const (
	KeyTitle          = "title"
	KeyText           = "text"
	KeyURL            = "url"
	KeyDate           = "date"
	KeyHTML           = "html"
	KeyContentType    = "content_type"
	KeySource         = "source"
	KeyImageURL       = "image_url"
	KeyAttachmentURL  = "attachment_url"
	KeyAttachmentType = "attachment_type"
)

// Document is the per-chunk metadata record. Text is the trimmed
// preview stored alongside the vector; HTML carries the full markdown
// or HTML rendering when the extractor produced one, and is where
// tables survive.
type Document struct {
	Title          string
	Text           string
	URL            string
	Date           string
	HTML           string
	ContentType    string
	Source         string
	ImageURL       string
	AttachmentURL  string
	AttachmentType string
}

// FromPayload reconstructs a Document from a vector payload.
func FromPayload(payload map[string]any) Document {
	return Document{
		Title:          store.PayloadString(payload, KeyTitle),
		Text:           store.PayloadString(payload, KeyText),
		URL:            store.PayloadString(payload, KeyURL),
		Date:           store.PayloadString(payload, KeyDate),
		HTML:           store.PayloadString(payload, KeyHTML),
		ContentType:    store.PayloadString(payload, KeyContentType),
		Source:         store.PayloadString(payload, KeySource),
		ImageURL:       store.PayloadString(payload, KeyImageURL),
		AttachmentURL:  store.PayloadString(payload, KeyAttachmentURL),
		AttachmentType: store.PayloadString(payload, KeyAttachmentType),
	}
}

// Payload renders the Document as a vector payload. Empty optional
// fields are omitted to keep points small.
func (d Document) Payload() map[string]any {
	p := map[string]any{
		KeyTitle:       d.Title,
		KeyText:        d.Text,
		KeyURL:         d.URL,
		KeyDate:        d.Date,
		KeyContentType: d.ContentType,
		KeySource:      d.Source,
	}
	if d.HTML != "" {
		p[KeyHTML] = d.HTML
	}
	if d.ImageURL != "" {
		p[KeyImageURL] = d.ImageURL
	}
	if d.AttachmentURL != "" {
		p[KeyAttachmentURL] = d.AttachmentURL
	}
	if d.AttachmentType != "" {
		p[KeyAttachmentType] = d.AttachmentType
	}
	return p
}
