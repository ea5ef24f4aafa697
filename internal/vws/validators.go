package vws

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"image"
	_ "image/jpeg"
	_ "image/png"
)

// Largest image payload the management API accepts, in decoded bytes.
const maxImageBytes = 2359293

const maxMetadataBytes = 1024*1024 - 1

// Body fields accepted by the create and update endpoints. Anything else in
// the request body is rejected outright.
var allowedBodyKeys = map[string]struct{}{
	"name":                 {},
	"width":                {},
	"image":                {},
	"active_flag":          {},
	"application_metadata": {},
}

// parsedBody distinguishes absent fields from explicit nulls, which the
// update endpoint treats differently.
type parsedBody struct {
	fields map[string]json.RawMessage
}

func parseBody(body []byte) (*parsedBody, *resultError) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, errBadRequestFail
	}
	for key := range fields {
		if _, ok := allowedBodyKeys[key]; !ok {
			return nil, errBadRequestFail
		}
	}
	return &parsedBody{fields: fields}, nil
}

func (b *parsedBody) has(key string) bool {
	_, ok := b.fields[key]
	return ok
}

func (b *parsedBody) isNull(key string) bool {
	raw, ok := b.fields[key]
	return ok && string(raw) == "null"
}

func (b *parsedBody) stringField(key string) (string, bool, *resultError) {
	raw, ok := b.fields[key]
	if !ok || string(raw) == "null" {
		return "", false, nil
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", false, errBadRequestFail
	}
	return value, true, nil
}

func (b *parsedBody) floatField(key string) (float64, bool, *resultError) {
	raw, ok := b.fields[key]
	if !ok || string(raw) == "null" {
		return 0, false, nil
	}
	var value float64
	if err := json.Unmarshal(raw, &value); err != nil {
		return 0, false, errBadRequestFail
	}
	return value, true, nil
}

func (b *parsedBody) boolField(key string) (bool, bool, *resultError) {
	raw, ok := b.fields[key]
	if !ok || string(raw) == "null" {
		return false, false, nil
	}
	var value bool
	if err := json.Unmarshal(raw, &value); err != nil {
		return false, false, errBadRequestFail
	}
	return value, true, nil
}

// validateName enforces length 1-64 and the basic-multilingual-plane
// character restriction of the emulated service.
func validateName(name string) *resultError {
	runes := []rune(name)
	if len(runes) == 0 || len(runes) > 64 {
		return errBadRequestFail
	}
	for _, r := range runes {
		if r > 0xFFFF {
			return errBadRequestFail
		}
	}
	return nil
}

// validateImage decodes the base64 payload and checks it is a PNG or JPEG of
// acceptable size. Returns the decoded bytes.
func validateImage(encoded string) ([]byte, *resultError) {
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, errBadRequestFail
	}
	_, format, err := image.Decode(bytes.NewReader(decoded))
	if err != nil {
		return nil, errBadImage
	}
	if format != "png" && format != "jpeg" {
		return nil, errBadImage
	}
	if len(decoded) > maxImageBytes {
		return nil, errImageTooLarge
	}
	return decoded, nil
}

// validateMetadata checks base64 encoding and the decoded size bound.
func validateMetadata(encoded string) *resultError {
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return errBadRequestFail
	}
	if len(decoded) > maxMetadataBytes {
		return errMetadataTooLarge
	}
	return nil
}

func validateWidth(width float64) *resultError {
	if width < 0 {
		return errBadRequestFail
	}
	return nil
}
