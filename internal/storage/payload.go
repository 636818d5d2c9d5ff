package storage

import (
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/medilens/backend/internal/apperr"
)

// DecodeDataURI decodes "data:<type>;base64,<data>" or bare base64 into bytes
// and the declared content type. The encoded length is checked against
// maxBytes before anything is decoded.
func DecodeDataURI(s string, maxBytes int64) ([]byte, string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, "", apperr.Validation(apperr.CodeImageRequired, "No image provided")
	}

	declared := ""
	encoded := s
	if strings.HasPrefix(s, "data:") {
		header, body, ok := strings.Cut(s[len("data:"):], ",")
		if !ok {
			return nil, "", apperr.Validation(apperr.CodeImageInvalid, "Malformed data URI")
		}
		params := strings.Split(header, ";")
		declared = strings.ToLower(strings.TrimSpace(params[0]))
		base64Encoded := false
		for _, p := range params[1:] {
			if strings.EqualFold(strings.TrimSpace(p), "base64") {
				base64Encoded = true
			}
		}
		if !base64Encoded {
			return nil, "", apperr.Validation(apperr.CodeImageInvalid, "Data URI must be base64 encoded")
		}
		encoded = body
	}

	encoded = strings.TrimRight(encoded, "=")
	if int64(len(encoded)) > int64(base64.RawStdEncoding.EncodedLen(int(maxBytes))) {
		return nil, "", apperr.Validation(apperr.CodeImageTooLarge, fmt.Sprintf("Image exceeds the %d byte limit", maxBytes))
	}

	data, err := base64.RawStdEncoding.DecodeString(encoded)
	if err != nil {
		// Some clients send URL-safe base64.
		data, err = base64.RawURLEncoding.DecodeString(encoded)
		if err != nil {
			return nil, "", apperr.Wrap(apperr.KindValidation, apperr.CodeImageInvalid, "Image is not valid base64", err)
		}
	}
	if len(data) == 0 {
		return nil, "", apperr.Validation(apperr.CodeImageRequired, "No image provided")
	}
	return data, declared, nil
}

// ReadLimited buffers at most maxBytes from r and fails if there is more.
func ReadLimited(r io.Reader, maxBytes int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, apperr.CodeImageInvalid, "Failed to read image", err)
	}
	if int64(len(data)) > maxBytes {
		return nil, apperr.Validation(apperr.CodeImageTooLarge, fmt.Sprintf("Image exceeds the %d byte limit", maxBytes))
	}
	return data, nil
}
