package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/fulldump/box"

	"github.com/fulldump/tightdb/database"
	"github.com/fulldump/tightdb/dberr"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrUnavailable  = errors.New("temporary unavailable")
)

type errorStatus struct {
	err         error
	status      int
	description string
}

// errorStatuses is checked in order with errors.Is.
var errorStatuses = []errorStatus{
	{ErrUnauthorized, http.StatusUnauthorized, "user is not authenticated"},
	{ErrUnavailable, http.StatusServiceUnavailable, "database is not operating"},
	{database.ErrorGroupNotFound, http.StatusNotFound, "group not found"},
	{dberr.ErrorTableNotFound, http.StatusNotFound, "table not found"},
	{database.ErrorGroupExists, http.StatusConflict, "group already exists"},
	{dberr.ErrorWouldBlock, http.StatusConflict, "another writer is active"},
	{dberr.ErrorSchemaVersionMismatch, http.StatusConflict, "schema version mismatch"},
	{dberr.ErrorSchema, http.StatusBadRequest, "schema error"},
	{dberr.ErrorTypeMismatch, http.StatusBadRequest, "type mismatch"},
	{dberr.ErrorNullability, http.StatusBadRequest, "null in a required column"},
	{dberr.ErrorEncoding, http.StatusBadRequest, "malformed value"},
	{dberr.ErrorInvalidatedRow, http.StatusBadRequest, "row no longer exists"},
	{dberr.ErrorFileAccess, http.StatusBadRequest, "file access error"},
	{dberr.ErrorClosed, http.StatusServiceUnavailable, "group is closed"},
}

func writeError(w http.ResponseWriter, status int, message, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{
			"message":     message,
			"description": description,
		},
	})
}

func PrettyErrorInterceptor(next box.H) box.H {
	return func(ctx context.Context) {

		next(ctx)

		err := box.GetError(ctx)
		if err == nil {
			return
		}
		w := box.GetResponse(ctx)

		if err == box.ErrResourceNotFound {
			writeError(w, http.StatusNotFound, err.Error(), fmt.Sprintf("resource '%s' not found", box.GetRequest(ctx).URL.String()))
			return
		}

		if err == box.ErrMethodNotAllowed {
			writeError(w, http.StatusMethodNotAllowed, err.Error(), fmt.Sprintf("method '%s' not allowed", box.GetRequest(ctx).Method))
			return
		}

		var syntaxError *json.SyntaxError
		var typeError *json.UnmarshalTypeError
		if errors.As(err, &syntaxError) || errors.As(err, &typeError) {
			writeError(w, http.StatusBadRequest, err.Error(), "Malformed JSON")
			return
		}

		for _, e := range errorStatuses {
			if errors.Is(err, e.err) {
				writeError(w, e.status, err.Error(), e.description)
				return
			}
		}

		writeError(w, http.StatusInternalServerError, err.Error(), "Unexpected error")
	}
}
