package services

import (
	"bytes"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/camerontarget14/resilio-connect-scripts/internal/core/domain"
)

// checkEnvelope validates a console response body. Error envelopes carry a
// numeric "code" outside the 2xx range; 401 is reported as ErrAuthentication.
// An empty body (204 on delete) passes.
func checkEnvelope(op string, body []byte) error {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if !gjson.ValidBytes(body) {
		return domain.NewOpError(op, domain.ErrMalformedResponse, nil)
	}

	code := gjson.GetBytes(body, "code")
	if !code.Exists() || code.Type != gjson.Number {
		return nil
	}
	c := int(code.Int())
	if c == 0 || (c >= 200 && c < 300) {
		return nil
	}

	remote := &domain.RemoteError{Op: op, Code: c, Message: envelopeMessage(body)}
	if c == http.StatusUnauthorized {
		return domain.NewOpError(op, domain.ErrAuthentication, remote)
	}
	return remote
}

func envelopeMessage(body []byte) string {
	for _, key := range []string{"message", "error", "description"} {
		if v := gjson.GetBytes(body, key); v.Exists() && v.Type == gjson.String {
			return v.String()
		}
	}
	return ""
}

// idField returns the value at path as a string, accepting numeric or string
// ids. Missing or empty ids are ErrMalformedResponse.
func idField(op string, body []byte, path string) (string, error) {
	v := gjson.GetBytes(body, path)
	if !v.Exists() || v.String() == "" || v.Type == gjson.Null {
		return "", domain.NewOpError(op, domain.ErrMalformedResponse, nil)
	}
	return v.String(), nil
}

// listItems returns the elements of a list response. The console answers
// list endpoints either with a bare array or with {"data": [...]}.
func listItems(op string, body []byte) ([]gjson.Result, error) {
	root := gjson.ParseBytes(body)
	if root.IsArray() {
		return root.Array(), nil
	}
	if data := root.Get("data"); data.IsArray() {
		return data.Array(), nil
	}
	return nil, domain.NewOpError(op, domain.ErrMalformedResponse, nil)
}
