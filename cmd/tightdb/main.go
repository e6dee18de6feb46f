package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fulldump/goconfig"
	log "github.com/sirupsen/logrus"

	"github.com/fulldump/tightdb/bootstrap"
	"github.com/fulldump/tightdb/configuration"
)

var banner = `
  _   _       _     _   ____  ____
 | |_(_) __ _| |__ | |_|  _ \| __ )
 | __| |/ _` + "`" + ` | '_ \| __| | | |  _ \
 | |_| | (_| | | | | |_| |_| | |_) |
  \__|_|\__, |_| |_|\__|____/|____/
        |___/        version ` + bootstrap.VERSION + `
`

func main() {

	c := configuration.Default()
	goconfig.Read(&c)

	if c.Version {
		fmt.Println("Version:", bootstrap.VERSION)
		return
	}

	if c.ShowBanner {
		fmt.Println(banner)
	}

	if c.ShowConfig {
		e := json.NewEncoder(os.Stdout)
		e.SetIndent("", "    ")
		e.Encode(c)
	}

	if err := bootstrap.ConfigureLogging(&c); err != nil {
		log.WithError(err).Fatal("configure logging")
	}

	start, _, err := bootstrap.Bootstrap(&c)
	if err != nil {
		log.WithError(err).Fatal("bootstrap")
	}
	start()
}
