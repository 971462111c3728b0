package handler

import (
	"io"
	"net/http"

	"github.com/go-faster/jx"
)

// maxBodyBytes bounds request bodies; every payload here is small.
const maxBodyBytes = 1 << 20

// writeJSON encodes one JSON value built by fn and writes it with the given
// status.
func writeJSON(w http.ResponseWriter, status int, fn func(e *jx.Encoder)) {
	e := &jx.Encoder{}
	fn(e)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

// writeError writes the standard {code, message} error body.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("code", func(e *jx.Encoder) { e.Int(status) })
			e.Field("message", func(e *jx.Encoder) { e.Str(message) })
		})
	})
}

// decodeBody reads the request body and decodes it with fn, which receives an
// object decoder positioned at the top-level object.
func decodeBody(r *http.Request, fn func(d *jx.Decoder, key string) error) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return err
	}

	d := jx.DecodeBytes(body)
	return d.Obj(fn)
}
