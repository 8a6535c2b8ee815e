// Command pgshimctl is a diagnostic tool, not the shim itself (spec.md
// §6 "CLI / exit codes: none — the shim has no standalone binary"). The
// shim is loaded into a host process at the dynamic-linker level; this
// binary exists only to load the same configuration, exercise the
// translation pipeline and pool against a real PostgreSQL server, and
// expose the engine's Prometheus metrics for local inspection.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"regexp"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mevdschee/pgshim/config"
	"github.com/mevdschee/pgshim/statement"
	"github.com/mevdschee/pgshim/translator"
)

func main() {
	metricsAddr := flag.String("metrics-addr", ":9090", "address for the Prometheus /metrics endpoint")
	translate := flag.String("translate", "", "print the translated form of this SQL statement and exit")
	warmPath := flag.String("warm", "", "open a connection for this database path to warm the pool, then exit")
	flag.Parse()

	cfg := config.Load()

	if *translate != "" {
		res, err := translator.Translate(*translate, looksLikeWrite(*translate))
		if err != nil {
			log.Fatalf("translate: %v", err)
		}
		fmt.Println(res.SQL)
		return
	}

	engine := statement.New(cfg)
	defer engine.Close()

	if *warmPath != "" {
		if _, err := engine.OpenConnection(1, *warmPath); err != nil {
			log.Fatalf("warm: open connection: %v", err)
		}
		log.Printf("[pgshimctl] warmed connection for %s", *warmPath)
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: *metricsAddr, Handler: mux}

	go func() {
		log.Printf("[pgshimctl] metrics listening on %s", *metricsAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("metrics server: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("[pgshimctl] metrics server shutdown: %v", err)
	}
}

var writeRe = regexp.MustCompile(`(?i)^\s*(INSERT|UPDATE|DELETE|REPLACE)\b`)

func looksLikeWrite(sql string) bool { return writeRe.MatchString(sql) }
