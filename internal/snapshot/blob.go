package snapshot

import (
	"encoding/json"
	"fmt"

	qaerrors "github.com/map-community/CHATBOT-AI-sub000/internal/errors"
)

// blob is the cache wire format: parallel arrays, one slot per
// document. The layout is frozen; new fields go at the end.
type blob struct {
	Titles          []string `json:"titles"`
	Texts           []string `json:"texts"`
	URLs            []string `json:"urls"`
	Dates           []string `json:"dates"`
	HTMLs           []string `json:"htmls"`
	ContentTypes    []string `json:"content_types"`
	Sources         []string `json:"sources"`
	ImageURLs       []string `json:"image_urls"`
	AttachmentURLs  []string `json:"attachment_urls"`
	AttachmentTypes []string `json:"attachment_types"`
}

func encodeBlob(docs []Document) ([]byte, error) {
	b := blob{
		Titles:          make([]string, len(docs)),
		Texts:           make([]string, len(docs)),
		URLs:            make([]string, len(docs)),
		Dates:           make([]string, len(docs)),
		HTMLs:           make([]string, len(docs)),
		ContentTypes:    make([]string, len(docs)),
		Sources:         make([]string, len(docs)),
		ImageURLs:       make([]string, len(docs)),
		AttachmentURLs:  make([]string, len(docs)),
		AttachmentTypes: make([]string, len(docs)),
	}
	for i, d := range docs {
		b.Titles[i] = d.Title
		b.Texts[i] = d.Text
		b.URLs[i] = d.URL
		b.Dates[i] = d.Date
		b.HTMLs[i] = d.HTML
		b.ContentTypes[i] = d.ContentType
		b.Sources[i] = d.Source
		b.ImageURLs[i] = d.ImageURL
		b.AttachmentURLs[i] = d.AttachmentURL
		b.AttachmentTypes[i] = d.AttachmentType
	}
	return json.Marshal(b)
}

func decodeBlob(raw []byte) ([]Document, error) {
	var b blob
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, qaerrors.New(qaerrors.ErrCodeStateMismatch, "metadata snapshot blob did not decode", err)
	}

	n := len(b.Titles)
	for name, arr := range map[string][]string{
		"texts":            b.Texts,
		"urls":             b.URLs,
		"dates":            b.Dates,
		"htmls":            b.HTMLs,
		"content_types":    b.ContentTypes,
		"sources":          b.Sources,
		"image_urls":       b.ImageURLs,
		"attachment_urls":  b.AttachmentURLs,
		"attachment_types": b.AttachmentTypes,
	} {
		if len(arr) != n {
			return nil, qaerrors.New(qaerrors.ErrCodeStateMismatch, "metadata snapshot arrays diverge", nil).
				WithDetail("array", name).
				WithDetail("length", fmt.Sprintf("%d", len(arr))).
				WithDetail("expected", fmt.Sprintf("%d", n))
		}
	}

	docs := make([]Document, n)
	for i := range docs {
		docs[i] = Document{
			Title:          b.Titles[i],
			Text:           b.Texts[i],
			URL:            b.URLs[i],
			Date:           b.Dates[i],
			HTML:           b.HTMLs[i],
			ContentType:    b.ContentTypes[i],
			Source:         b.Sources[i],
			ImageURL:       b.ImageURLs[i],
			AttachmentURL:  b.AttachmentURLs[i],
			AttachmentType: b.AttachmentTypes[i],
		}
	}
	return docs, nil
}
