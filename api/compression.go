package api

import (
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/fulldump/box"
	"github.com/golang/snappy"
)

// Compression encodes responses with snappy (framed) or gzip, whichever the
// client accepts first in that order.
func Compression(next box.H) box.H {
	return func(ctx context.Context) {
		r := box.GetRequest(ctx)
		w := box.GetResponse(ctx)

		accept := r.Header.Get("Accept-Encoding")

		var encoder io.WriteCloser
		switch {
		case strings.Contains(accept, "x-snappy-framed"):
			w.Header().Set("Content-Encoding", "x-snappy-framed")
			encoder = snappy.NewBufferedWriter(w)
		case strings.Contains(accept, "gzip"):
			w.Header().Set("Content-Encoding", "gzip")
			encoder = gzip.NewWriter(w)
		default:
			next(ctx)
			return
		}
		w.Header().Del("Content-Length")

		defer encoder.Close()
		box.GetBoxContext(ctx).Response = compressedResponseWriter{Writer: encoder, ResponseWriter: w}
		next(ctx)
	}
}

type compressedResponseWriter struct {
	io.Writer
	http.ResponseWriter
}

func (w compressedResponseWriter) Write(b []byte) (int, error) {
	return w.Writer.Write(b)
}

// Flush pushes what the encoder buffers, then flushes the connection.
func (w compressedResponseWriter) Flush() {
	if f, ok := w.Writer.(interface{ Flush() error }); ok {
		f.Flush()
	}
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
