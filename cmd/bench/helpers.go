package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/fulldump/tightdb/bootstrap"
	"github.com/fulldump/tightdb/configuration"
)

type JSON = map[string]any

func Parallel(workers int, f func()) {
	wg := &sync.WaitGroup{}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f()
		}()
	}
	wg.Wait()
}

func TempDir() (string, func()) {
	dir, err := os.MkdirTemp("", "tightdb_bench_*")
	if err != nil {
		log.WithError(err).Fatal("create temp directory")
	}

	cleanup := func() {
		os.RemoveAll(dir)
	}

	return dir, cleanup
}

func post(url string, body any) {
	payload, _ := json.Marshal(body)
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		log.WithError(err).Fatal("post " + url)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		log.Fatalf("post %s: %s %s", url, resp.Status, b)
	}
}

// CreateTable creates a group with one Item table and returns its name.
func CreateTable(base string) string {

	name := "bench-" + strconv.FormatInt(time.Now().UnixNano(), 10)

	post(base+"/v1/groups", JSON{"name": name, "schema_version": 1})
	post(base+"/v1/groups/"+name+"/tables", JSON{
		"name": "Item",
		"columns": []JSON{
			{"name": "id", "type": "int", "indexed": true},
			{"name": "n", "type": "string"},
		},
	})

	return name
}

func CreateServer(c *Config) (start, stop func()) {
	dir, cleanup := TempDir()
	cleanups = append(cleanups, cleanup)

	conf := configuration.Default()
	conf.Dir = dir
	conf.ShowBanner = false
	conf.LogLevel = "warn"
	if err := bootstrap.ConfigureLogging(&conf); err != nil {
		log.WithError(err).Fatal("configure logging")
	}
	c.Base = "http://" + conf.HttpAddr

	start, stop, err := bootstrap.Bootstrap(&conf)
	if err != nil {
		log.WithError(err).Fatal("bootstrap")
	}
	return start, stop
}

func report(name string, n int64, took time.Duration) {
	fmt.Println(name, "rows:", n)
	fmt.Println(name, "took:", took)
	fmt.Printf("%s throughput: %.2f rows/sec\n", name, float64(n)/took.Seconds())
}
