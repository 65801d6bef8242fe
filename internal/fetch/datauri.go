package fetch

import (
	"encoding/base64"
	"net/url"
	"strings"

	qaerrors "github.com/map-community/CHATBOT-AI-sub000/internal/errors"
)

// decodeDataURI handles data:[<mediatype>][;base64],<data>. Posts embed
// small images this way; the decoded bytes flow through the same
// extraction path as fetched files.
func decodeDataURI(raw string) (*Result, error) {
	rest := strings.TrimPrefix(raw, "data:")
	header, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, qaerrors.New(qaerrors.ErrCodeInvalidInput, "data URI without payload", nil)
	}

	contentType := "text/plain"
	isBase64 := false
	for i, part := range strings.Split(header, ";") {
		switch {
		case part == "base64":
			isBase64 = true
		case i == 0 && part != "":
			contentType = part
		}
	}

	var data []byte
	if isBase64 {
		decoded, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			// Some producers strip padding
			decoded, err = base64.RawStdEncoding.DecodeString(payload)
			if err != nil {
				return nil, qaerrors.New(qaerrors.ErrCodeInvalidInput, "data URI base64 decode", err)
			}
		}
		data = decoded
	} else {
		decoded, err := url.PathUnescape(payload)
		if err != nil {
			return nil, qaerrors.New(qaerrors.ErrCodeInvalidInput, "data URI percent decode", err)
		}
		data = []byte(decoded)
	}

	return &Result{
		Data:        data,
		Filename:    "document" + extFromMIME(contentType),
		ContentType: contentType,
		ResolvedURL: raw,
	}, nil
}
