package apigroupv1

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/fulldump/box"
	log "github.com/sirupsen/logrus"

	"github.com/fulldump/tightdb/dberr"
	"github.com/fulldump/tightdb/query"
	"github.com/fulldump/tightdb/service"
	"github.com/fulldump/tightdb/table"
)

type insertResponse struct {
	Keys []table.Key `json:"keys"`
}

// insert accepts a JSON array of rows or a stream of JSON objects. All the
// rows are committed together.
func insert(ctx context.Context, w http.ResponseWriter, r *http.Request) (*insertResponse, error) {

	rows, err := readDocuments(r.Body)
	if err != nil {
		return nil, err
	}

	groupName := box.GetUrlParameter(ctx, "groupName")
	tableName := box.GetUrlParameter(ctx, "tableName")
	keys, err := GetServicer(ctx).Insert(ctx, groupName, tableName, rows)
	if err != nil {
		return nil, err
	}

	w.WriteHeader(http.StatusCreated)
	return &insertResponse{Keys: keys}, nil
}

func readDocuments(body io.Reader) ([]service.Document, error) {

	reader := bufio.NewReader(body)
	for {
		b, err := reader.Peek(1)
		if err == io.EOF {
			return []service.Document{}, nil
		}
		if err != nil {
			return nil, err
		}
		if b[0] == ' ' || b[0] == '\n' || b[0] == '\r' || b[0] == '\t' {
			reader.ReadByte()
			continue
		}
		if b[0] == '[' {
			rows := []service.Document{}
			if err := json.NewDecoder(reader).Decode(&rows); err != nil {
				return nil, fmt.Errorf("%w: %s", dberr.ErrorEncoding, err.Error())
			}
			return rows, nil
		}
		break
	}

	rows := []service.Document{}
	decoder := json.NewDecoder(reader)
	for {
		row := service.Document{}
		err := decoder.Decode(&row)
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: %s", dberr.ErrorEncoding, len(rows), err.Error())
		}
		rows = append(rows, row)
	}
}

func find(ctx context.Context, input *service.FindInput) ([]service.Document, error) {
	groupName := box.GetUrlParameter(ctx, "groupName")
	tableName := box.GetUrlParameter(ctx, "tableName")
	return GetServicer(ctx).Find(groupName, tableName, input)
}

type patchRequest struct {
	Filter service.Document `json:"filter"`
	Patch  service.Document `json:"patch"`
}

type patchResponse struct {
	Patched int `json:"patched"`
}

func patch(ctx context.Context, input *patchRequest) (*patchResponse, error) {
	groupName := box.GetUrlParameter(ctx, "groupName")
	tableName := box.GetUrlParameter(ctx, "tableName")
	n, err := GetServicer(ctx).Patch(ctx, groupName, tableName, input.Filter, input.Patch)
	if err != nil {
		return nil, err
	}
	return &patchResponse{Patched: n}, nil
}

type removeRequest struct {
	Filter service.Document `json:"filter"`
}

type removeResponse struct {
	Removed int `json:"removed"`
}

func remove(ctx context.Context, input *removeRequest) (*removeResponse, error) {
	groupName := box.GetUrlParameter(ctx, "groupName")
	tableName := box.GetUrlParameter(ctx, "tableName")
	n, err := GetServicer(ctx).Remove(ctx, groupName, tableName, input.Filter)
	if err != nil {
		return nil, err
	}
	return &removeResponse{Removed: n}, nil
}

type watchEvent struct {
	Version  uint64             `json:"version"`
	Inserted []int              `json:"inserted"`
	Deleted  []int              `json:"deleted"`
	Modified []int              `json:"modified"`
	Rows     []service.Document `json:"rows"`
}

// watch streams one JSON line per change of the filtered rows until the
// client goes away.
func watch(ctx context.Context, w http.ResponseWriter, input *service.FindInput) error {

	groupName := box.GetUrlParameter(ctx, "groupName")
	tableName := box.GetUrlParameter(ctx, "tableName")

	s := GetServicer(ctx)
	if _, err := s.GetTable(groupName, tableName); err != nil {
		return err
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	if flusher != nil {
		flusher.Flush()
	}

	e := json.NewEncoder(w)
	return s.Watch(ctx, groupName, tableName, input, func(c query.Change, rows []service.Document) {
		err := e.Encode(watchEvent{
			Version:  c.Version,
			Inserted: c.Inserted,
			Deleted:  c.Deleted,
			Modified: c.Modified,
			Rows:     rows,
		})
		if err != nil {
			log.WithError(err).Debug("write watch event")
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	})
}
