package main

import (
	"strings"

	"github.com/fulldump/goconfig"
	log "github.com/sirupsen/logrus"
)

type Config struct {
	Test    string `usage:"name of the test: ALL | COMMIT | INSERT"`
	Base    string `usage:"base URL, empty starts a local server"`
	N       int64  `usage:"number of rows"`
	Batch   int    `usage:"rows per commit"`
	Workers int    `usage:"number of workers"`
}

var cleanups []func()

func main() {

	defer func() {
		log.Info("cleaning up")
		for _, cleanup := range cleanups {
			cleanup()
		}
	}()

	c := Config{
		Test:    "all",
		Base:    "",
		N:       100_000,
		Batch:   100,
		Workers: 16,
	}
	goconfig.Read(&c)

	switch strings.ToUpper(c.Test) {
	case "ALL":
		TestCommit(c)
		TestInsert(c)
	case "COMMIT":
		TestCommit(c)
	case "INSERT":
		TestInsert(c)
	default:
		log.Fatalf("unknown test %s", c.Test)
	}

}
