/*
Package req provides helpers for decoding HTTP request bodies into typed inputs.
*/
package req

import (
	"encoding/json"
	"net/http"
	"strings"

	"medimart/internal/pkg/errs"
)

// MaxJSONBodySize bounds every JSON request body.
const MaxJSONBodySize int64 = 64 << 10 // 64 KB

// BindJSON decodes the JSON request body into dst. Unknown fields and trailing data are rejected.
func BindJSON(w http.ResponseWriter, r *http.Request, dst any) *errs.CustomError {
	contentType := r.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "application/json") {
		return errs.NewError(errs.ErrUnsupportedMediaType)
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxJSONBodySize)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		return errs.NewError(errs.ErrInvalidJSONFormat)
	}

	if decoder.More() {
		return errs.NewError(errs.ErrExtraContentInBody)
	}

	return nil
}
