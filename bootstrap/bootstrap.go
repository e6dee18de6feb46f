package bootstrap

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fulldump/box"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/fulldump/tightdb/api"
	"github.com/fulldump/tightdb/configuration"
	"github.com/fulldump/tightdb/credentials"
	"github.com/fulldump/tightdb/database"
	"github.com/fulldump/tightdb/metrics"
	"github.com/fulldump/tightdb/service"
)

var VERSION = "dev"

var registerOnce sync.Once

// ConfigureLogging applies the log settings of c to the standard logger.
func ConfigureLogging(c *configuration.Configuration) error {
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return err
	}
	log.SetLevel(level)
	if c.LogJson {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	return nil
}

func Bootstrap(c *configuration.Configuration) (start, stop func(), err error) {

	registerOnce.Do(func() {
		prometheus.MustRegister(metrics.Collectors()...)
	})

	db := database.NewDatabase(&database.Config{
		Dir:           c.Dir,
		NonBlocking:   c.NonBlocking,
		Compression:   c.Compression,
		WatchExternal: c.WatchExternal,
	})

	var app *credentials.App
	if c.AuthEnabled() {
		app = credentials.NewApp("tightdb", api.Authenticator(c.ApiKey, c.ApiSecret, []byte(c.JwtSecret)))
	}

	b := api.Build(service.NewService(db), VERSION, app)
	b.WithInterceptors(
		api.AccessLog(log.WithField("component", "access")),
	)
	if c.EnableCompression {
		b.WithInterceptors(api.Compression)
	}
	b.WithInterceptors(
		api.InterceptorUnavailable(db),
		api.RecoverFromPanic,
		api.PrettyErrorInterceptor,
	)

	s := &http.Server{
		Addr:    c.HttpAddr,
		Handler: box.Box2Http(b),
	}

	ln, err := net.Listen("tcp", c.HttpAddr)
	if err != nil {
		return nil, nil, err
	}
	log.WithField("addr", ln.Addr().String()).Info("listening")

	stopOnce := sync.Once{}
	stop = func() {
		stopOnce.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := s.Shutdown(ctx); err != nil {
				log.WithError(err).Warn("http shutdown")
			}
			if err := db.Stop(); err != nil {
				log.WithError(err).Error("database stop")
			}
		})
	}

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-signalChan
		log.WithField("signal", sig.String()).Info("signal received")
		stop()
	}()

	start = func() {

		wg := &sync.WaitGroup{}

		wg.Add(1)
		go func() {
			defer wg.Done()
			err := db.Start()
			if err != nil {
				log.WithError(err).Error("database")
			}
		}()

		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Serve(ln)
			if err != nil && err != http.ErrServerClosed {
				log.WithError(err).Error("http server")
			}
		}()

		wg.Wait()
	}

	return start, stop, nil
}
