package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/krakend/content-sync/internal/config"
	"github.com/krakend/content-sync/internal/syncer"
	"github.com/krakend/content-sync/internal/syncerr"
)

const version = "0.1.0"

func main() {
	configPath := flag.String("config", "content-sync.json", "path to the configuration file")
	jobName := flag.String("job", "", "run only this job (default: all configured jobs)")
	serialized := flag.Bool("serialize-setup", false, "wait for index settings setup before indexing")
	listJobs := flag.Bool("list", false, "list configured jobs and exit")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [-config file] [-job name] [-serialize-setup]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Syncs CMS content into the configured search index.\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVersion {
		fmt.Printf("content-sync version %s\n", version)
		return
	}

	log.SetOutput(os.Stderr)
	os.Exit(run(*configPath, *jobName, *serialized, *listJobs))
}

func run(configPath, jobName string, serialized, listJobs bool) int {
	startTime := time.Now()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Printf("⚠️  Invalid configuration %s: %v", configPath, err)
		return 2
	}
	log.Printf("✓ Configuration loaded: %s (%s backend, %d jobs)", configPath, cfg.Index.Backend, len(cfg.Jobs))

	if listJobs {
		for _, j := range cfg.Jobs {
			fmt.Printf("%s\t%s%s\tlocales=%v\n", j.Name, cfg.Index.IndexPrefix, j.Index, j.Locales)
		}
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := cfg.Build(ctx, config.BuildOptions{SerializedSetup: serialized})
	if err != nil {
		log.Printf("⚠️  Failed to initialize: %v", err)
		return 2
	}
	defer func() {
		if err := rt.Close(); err != nil {
			log.Printf("Warning: Error closing runtime: %v", err)
		}
	}()

	jobs := rt.Jobs()
	if jobName != "" {
		job, err := rt.Job(jobName)
		if err != nil {
			log.Printf("⚠️  %v", err)
			return 2
		}
		jobs = []syncer.Job{job}
	}
	if len(jobs) == 0 {
		log.Printf("Nothing to do: no jobs configured")
		return 0
	}

	failed := 0
	for _, res := range rt.Syncer.RunAll(ctx, jobs) {
		if res.Err != nil {
			failed++
			log.Printf("⚠️  Job %s failed (%s): %v", res.Job, syncerr.Code(res.Err), res.Err)
			continue
		}
		r := res.Report
		log.Printf("✓ Job %s: %s fetched=%d dropped=%d created=%d updated=%d in %v",
			res.Job, r.Index, r.Fetched, r.Dropped, r.Result.Created, r.Result.Updated, r.Duration.Round(time.Millisecond))
	}

	elapsed := time.Since(startTime).Round(time.Millisecond)
	log.Printf("Totals: %v", rt.Counters.Snapshot())
	if failed > 0 {
		log.Printf("⚠️  %d of %d jobs failed in %v", failed, len(jobs), elapsed)
		return 1
	}
	log.Printf("✓ %d jobs completed in %v", len(jobs), elapsed)
	return 0
}
