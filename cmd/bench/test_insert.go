package main

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

// TestInsert streams rows to the insert endpoint, one request per batch.
func TestInsert(c Config) {

	if c.Base == "" {
		start, stop := CreateServer(&c)
		defer stop()
		go start()
		time.Sleep(100 * time.Millisecond) // database load
	}

	groupName := CreateTable(c.Base)

	client := &http.Client{
		Transport: &http.Transport{
			MaxConnsPerHost:     1024,
			MaxIdleConnsPerHost: 1024,
			MaxIdleConns:        1024,
		},
	}

	items := c.N

	t0 := time.Now()
	Parallel(c.Workers, func() {
		for {
			r, w := io.Pipe()

			go func() {
				wb := bufio.NewWriterSize(w, 1*1024*1024)
				for i := 0; i < c.Batch; i++ {
					n := atomic.AddInt64(&items, -1)
					if n < 0 {
						break
					}
					fmt.Fprintf(wb, "{\"id\":%d,\"n\":\"%d\"}\n", n, n)
				}
				wb.Flush()
				w.Close()
			}()

			req, err := http.NewRequest("POST", c.Base+"/v1/groups/"+groupName+"/tables/Item:insert", r)
			if err != nil {
				log.WithError(err).Fatal("new request")
			}
			resp, err := client.Do(req)
			if err != nil {
				log.WithError(err).Fatal("do request")
			}
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()

			if resp.StatusCode != http.StatusCreated {
				log.WithField("status", resp.Status).Warn("insert")
			}
			if atomic.LoadInt64(&items) <= 0 {
				return
			}
		}
	})

	report("insert", c.N, time.Since(t0))
}
