package api

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"io"
	"testing"

	"github.com/fulldump/apitest"
	"github.com/fulldump/biff"
	"github.com/golang/snappy"

	"github.com/fulldump/tightdb/database"
	"github.com/fulldump/tightdb/service"
)

func TestCompression(t *testing.T) {

	biff.Alternative("Compression", func(a *biff.A) {

		db := database.NewDatabase(&database.Config{
			Dir: t.TempDir(),
		})
		biff.AssertNil(db.Load())

		b := Build(service.NewService(db), "test", nil)
		b.WithInterceptors(
			Compression,
			PrettyErrorInterceptor,
		)

		api := apitest.NewWithHandler(b)

		decode := func(r io.Reader) interface{} {
			body, err := io.ReadAll(r)
			biff.AssertNil(err)
			var v interface{}
			biff.AssertNil(json.Unmarshal(body, &v))
			return v
		}

		a.Alternative("Snappy", func(a *biff.A) {
			resp := api.Request("GET", "/v1/version").
				WithHeader("Accept-Encoding", "x-snappy-framed").
				Do()
			biff.AssertEqual(resp.Header.Get("Content-Encoding"), "x-snappy-framed")
			body := decode(snappy.NewReader(bytes.NewReader(resp.BodyBytes())))
			biff.AssertEqualJson(body, map[string]any{"version": "test"})
		})

		a.Alternative("Gzip", func(a *biff.A) {
			resp := api.Request("GET", "/v1/version").
				WithHeader("Accept-Encoding", "gzip").
				Do()
			biff.AssertEqual(resp.Header.Get("Content-Encoding"), "gzip")
			gz, err := gzip.NewReader(bytes.NewReader(resp.BodyBytes()))
			biff.AssertNil(err)
			biff.AssertEqualJson(decode(gz), map[string]any{"version": "test"})
		})

		a.Alternative("Identity", func(a *biff.A) {
			resp := api.Request("GET", "/v1/version").Do()
			biff.AssertEqualJson(resp.BodyJson(), map[string]any{"version": "test"})
		})
	})
}
