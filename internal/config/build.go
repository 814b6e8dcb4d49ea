package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/krakend/content-sync/internal/archive"
	"github.com/krakend/content-sync/internal/diag"
	"github.com/krakend/content-sync/internal/index"
	"github.com/krakend/content-sync/internal/index/algolia"
	"github.com/krakend/content-sync/internal/index/bleveindex"
	"github.com/krakend/content-sync/internal/index/memory"
	"github.com/krakend/content-sync/internal/source"
	"github.com/krakend/content-sync/internal/source/prismic"
	"github.com/krakend/content-sync/internal/syncer"
	"github.com/krakend/content-sync/internal/syncerr"
)

// BuildOptions tune Build
type BuildOptions struct {
	Logger *slog.Logger

	// SerializedSetup makes index clients finish their settings setup before use.
	SerializedSetup bool

	// Source replaces the Prismic client, mainly for tests.
	Source source.Client
}

// Runtime is everything a binary needs to run the configured jobs
type Runtime struct {
	Config   *Config
	Syncer   *syncer.Syncer
	Opener   index.Opener
	Counters *diag.Counters
	Sink     diag.Sink

	// Bleve is set for the bleve backend, Memory for the memory backend.
	Bleve  *bleveindex.Store
	Memory *memory.Registry

	archiver *archive.Archiver
}

// Build wires the configured source, index backend and archive
func (c *Config) Build(ctx context.Context, opts BuildOptions) (*Runtime, error) {
	logger := opts.Logger
	if logger == nil {
		logger = diag.NewLogger(os.Stderr, c.Log.Level, c.Log.Format)
	}

	rt := &Runtime{Config: c, Counters: &diag.Counters{}}
	rt.Sink = diag.Tee(diag.NewLogSink(logger), rt.Counters)

	src := opts.Source
	if src == nil {
		client, err := prismic.New(prismic.Config{
			Host:              c.CMS.Host,
			AccessToken:       c.CMS.AccessToken,
			RequestsPerSecond: c.CMS.RequestsPerSecond,
			Timeout:           time.Duration(c.CMS.Timeout),
		})
		if err != nil {
			return nil, &syncerr.ConfigurationError{Field: "cms.host", Err: err}
		}
		src = client
	}

	factory, err := rt.backendFactory(c.Index)
	if err != nil {
		return nil, err
	}
	indexOpts := []index.Option{index.WithSink(rt.Sink)}
	if opts.SerializedSetup {
		indexOpts = append(indexOpts, index.WithSerializedSetup())
	}
	rt.Opener = index.Opener{Prefix: c.Index.IndexPrefix, Factory: factory, Options: indexOpts}

	if c.Archive != nil {
		if rt.archiver, err = newArchiver(ctx, c.Archive); err != nil {
			return nil, err
		}
	}

	rt.Syncer = syncer.New(src, rt.Opener, syncer.WithSink(rt.Sink))
	return rt, nil
}

func (rt *Runtime) backendFactory(cfg Index) (index.BackendFactory, error) {
	switch cfg.Backend {
	case BackendAlgolia:
		return algolia.Factory(algolia.Config{
			ApplicationID: cfg.ApplicationID,
			APIKey:        cfg.APIKey,
			Host:          cfg.Host,
			Timeout:       time.Duration(cfg.Timeout),
		}), nil
	case BackendBleve:
		rt.Bleve = bleveindex.NewStore(cfg.DataDir)
		return rt.Bleve.Factory(), nil
	case BackendMemory:
		rt.Memory = memory.NewRegistry()
		return rt.Memory.Factory, nil
	default:
		return nil, syncerr.Configuration("index.backend", "unknown backend %q", cfg.Backend)
	}
}

func newArchiver(ctx context.Context, cfg *Archive) (*archive.Archiver, error) {
	var store archive.Store
	switch cfg.Kind {
	case ArchiveMinio:
		s, err := archive.NewMinio(archive.MinioConfig{
			Endpoint:  cfg.Endpoint,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			Secure:    cfg.Secure,
			Bucket:    cfg.Bucket,
		})
		if err != nil {
			return nil, &syncerr.ConfigurationError{Field: "archive", Err: err}
		}
		store = s
	case ArchiveS3:
		s, err := archive.NewS3(ctx, archive.S3Config{
			Bucket:          cfg.Bucket,
			Region:          cfg.Region,
			Endpoint:        cfg.Endpoint,
			AccessKeyID:     cfg.AccessKey,
			SecretAccessKey: cfg.SecretKey,
			UsePathStyle:    cfg.UsePathStyle,
		})
		if err != nil {
			return nil, &syncerr.ConfigurationError{Field: "archive", Err: err}
		}
		store = s
	default:
		return nil, syncerr.Configuration("archive.kind", "unknown archive kind %q", cfg.Kind)
	}

	opts := []archive.Option{archive.WithPrefix(cfg.Prefix)}
	if cfg.Compress {
		opts = append(opts, archive.WithCompression())
	}
	return archive.New(store, opts...)
}

// Jobs converts the configured jobs
func (rt *Runtime) Jobs() []syncer.Job {
	jobs := make([]syncer.Job, 0, len(rt.Config.Jobs))
	for _, j := range rt.Config.Jobs {
		jobs = append(jobs, rt.job(j))
	}
	return jobs
}

// Job returns one configured job by name
func (rt *Runtime) Job(name string) (syncer.Job, error) {
	j, ok := rt.Config.Job(name)
	if !ok {
		return syncer.Job{}, fmt.Errorf("unknown job %q", name)
	}
	return rt.job(j), nil
}

func (rt *Runtime) job(j Job) syncer.Job {
	job := syncer.Job{
		Name:  j.Name,
		Index: j.Index,
		Query: syncer.Query{
			Predicates: j.Predicates,
			Locales:    j.Locales,
			Options: source.Options{
				PageSize:  j.Options.PageSize,
				Orderings: j.Options.Orderings,
				Ref:       j.Options.Ref,
				Lang:      j.Options.Lang,
				Params:    j.Options.Params,
			},
		},
		Fields: source.FieldMap(j.Fields),
	}
	if j.Archive && rt.archiver != nil {
		job.Hook = rt.archiver.Hook()
	}
	return job
}

// Close releases local indexes and the archive encoder
func (rt *Runtime) Close() error {
	var errs []error
	if rt.Bleve != nil {
		errs = append(errs, rt.Bleve.Close())
	}
	if rt.archiver != nil {
		errs = append(errs, rt.archiver.Close())
	}
	return errors.Join(errs...)
}
