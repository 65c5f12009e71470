package http

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// maxBodyBytes bounds request bodies; every accepted payload is tiny.
const maxBodyBytes = 64 << 10

var ErrBodyTooLarge = errors.New("request body too large")

// RequestBodyParser reads a JSON object or a form-encoded body once and
// exposes its fields uniformly. Browser forms post url-encoded bodies, API
// clients post JSON.
type RequestBodyParser struct {
	body        []byte
	contentType string
	jsonData    map[string]any
	formData    url.Values
	parsed      bool
	err         error
}

func NewRequestBodyParser(w http.ResponseWriter, r *http.Request) *RequestBodyParser {
	p := &RequestBodyParser{contentType: r.Header.Get("Content-Type")}
	if r.Body == nil {
		return p
	}
	p.body, p.err = io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	var mbe *http.MaxBytesError
	if errors.As(p.err, &mbe) {
		p.err = ErrBodyTooLarge
	}
	return p
}

// Parse decodes the body. Form encoding is chosen by Content-Type; anything
// else that looks like JSON must be a JSON object.
func (p *RequestBodyParser) Parse() error {
	if p.parsed {
		return p.err
	}
	p.parsed = true
	if p.err != nil {
		return p.err
	}

	if p.IsForm() {
		p.formData, p.err = url.ParseQuery(string(p.body))
		return p.err
	}

	trimmed := strings.TrimSpace(string(p.body))
	if trimmed == "" {
		p.jsonData = map[string]any{}
		return nil
	}
	if err := json.Unmarshal([]byte(trimmed), &p.jsonData); err != nil {
		p.err = err
		return err
	}
	if p.jsonData == nil {
		p.err = errors.New("request body must be a JSON object")
	}
	return p.err
}

// Get returns a trimmed, sanitized string field.
func (p *RequestBodyParser) Get(key string) string {
	if p.jsonData != nil {
		if val, ok := p.jsonData[key]; ok {
			return sanitizeInput(stringValue(val))
		}
		return ""
	}
	if p.formData != nil {
		return sanitizeInput(p.formData.Get(key))
	}
	return ""
}

// GetRaw returns an unsanitized field, for secrets that must not be altered.
func (p *RequestBodyParser) GetRaw(key string) string {
	if p.jsonData != nil {
		s, _ := p.jsonData[key].(string)
		return s
	}
	if p.formData != nil {
		return p.formData.Get(key)
	}
	return ""
}

// GetObject returns a nested JSON object. Form bodies map "key.field" inputs
// to string values.
func (p *RequestBodyParser) GetObject(key string) map[string]any {
	if p.jsonData != nil {
		obj, _ := p.jsonData[key].(map[string]any)
		return obj
	}
	var out map[string]any
	prefix := key + "."
	for k, vs := range p.formData {
		if !strings.HasPrefix(k, prefix) || len(vs) == 0 {
			continue
		}
		if out == nil {
			out = map[string]any{}
		}
		out[strings.TrimPrefix(k, prefix)] = sanitizeInput(vs[0])
	}
	return out
}

// IsForm reports whether the body is url-encoded form data.
func (p *RequestBodyParser) IsForm() bool {
	mt, _, err := mime.ParseMediaType(p.contentType)
	return err == nil && mt == "application/x-www-form-urlencoded"
}

func stringValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return ""
	}
}

// sanitizeInput removes control characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}
