// Package config loads the content-sync configuration file.
//
// The file is JSON. It is checked against an embedded JSON Schema first, then
// decoded, overlaid with CONTENT_SYNC_* environment variables, completed with
// defaults and validated semantically.
package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/krakend/content-sync/internal/syncerr"
)

const schemaURL = "https://github.com/krakend/content-sync/config.schema.json"

//go:embed schema.json
var schemaJSON []byte

// Index backends
const (
	BackendAlgolia = "algolia"
	BackendBleve   = "bleve"
	BackendMemory  = "memory"
)

// Archive kinds
const (
	ArchiveMinio = "minio"
	ArchiveS3    = "s3"
)

// Defaults applied to missing values
const (
	DefaultBackend           = BackendAlgolia
	DefaultRequestsPerSecond = 5
	DefaultTimeout           = 30 * time.Second
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "text"
	DefaultDataDir           = "./data"
)

// Environment overrides
const (
	EnvCMSHost        = "CONTENT_SYNC_CMS_HOST"
	EnvCMSAccessToken = "CONTENT_SYNC_CMS_ACCESS_TOKEN"
	EnvApplicationID  = "CONTENT_SYNC_INDEX_APPLICATION_ID"
	EnvAPIKey         = "CONTENT_SYNC_INDEX_API_KEY"
	EnvIndexPrefix    = "CONTENT_SYNC_INDEX_PREFIX"
)

// Duration reads Go duration strings such as "30s"
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Config is the whole configuration file
type Config struct {
	CMS     CMS      `json:"cms"`
	Index   Index    `json:"index"`
	Archive *Archive `json:"archive,omitempty"`
	Log     Log      `json:"log"`
	Jobs    []Job    `json:"jobs,omitempty"`
}

// CMS configures the Prismic repository
type CMS struct {
	Host              string   `json:"host"`
	AccessToken       string   `json:"accessToken,omitempty"`
	RequestsPerSecond float64  `json:"requestsPerSecond,omitempty"`
	Timeout           Duration `json:"timeout,omitempty"`
}

// Index configures the search index backend
type Index struct {
	Backend       string   `json:"backend,omitempty"`
	ApplicationID string   `json:"applicationId,omitempty"`
	APIKey        string   `json:"apiKey,omitempty"`
	IndexPrefix   string   `json:"indexPrefix,omitempty"`
	Host          string   `json:"host,omitempty"`
	DataDir       string   `json:"dataDir,omitempty"`
	Timeout       Duration `json:"timeout,omitempty"`
}

// Archive configures batch snapshots
type Archive struct {
	Kind         string `json:"kind"`
	Bucket       string `json:"bucket"`
	Prefix       string `json:"prefix,omitempty"`
	Compress     bool   `json:"compress,omitempty"`
	Endpoint     string `json:"endpoint,omitempty"`
	AccessKey    string `json:"accessKey,omitempty"`
	SecretKey    string `json:"secretKey,omitempty"`
	Secure       bool   `json:"secure,omitempty"`
	Region       string `json:"region,omitempty"`
	UsePathStyle bool   `json:"usePathStyle,omitempty"`
}

// Log configures the structured logger
type Log struct {
	Level  string `json:"level,omitempty"`
	Format string `json:"format,omitempty"`
}

// Job is one preconfigured sync
type Job struct {
	Name       string     `json:"name"`
	Index      string     `json:"index"`
	Predicates []string   `json:"predicates,omitempty"`
	Locales    []string   `json:"locales,omitempty"`
	Options    JobOptions `json:"options,omitempty"`
	Fields     []string   `json:"fields,omitempty"`
	Archive    bool       `json:"archive,omitempty"`
}

// JobOptions are passed to the CMS query
type JobOptions struct {
	PageSize  int               `json:"pageSize,omitempty"`
	Orderings string            `json:"orderings,omitempty"`
	Ref       string            `json:"ref,omitempty"`
	Lang      string            `json:"lang,omitempty"`
	Params    map[string]string `json:"params,omitempty"`
}

// Load reads path and resolves it against the process environment
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data, os.Getenv)
}

// Parse validates and decodes a configuration document.
// getenv may be nil to ignore the environment.
func Parse(data []byte, getenv func(string) string) (*Config, error) {
	if err := validateSchema(data); err != nil {
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, &syncerr.ConfigurationError{Field: "$", Err: err}
	}

	if getenv != nil {
		cfg.applyEnv(getenv)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validateSchema(data []byte) error {
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return &syncerr.ConfigurationError{Field: "$", Err: fmt.Errorf("invalid JSON: %w", err)}
	}

	schema, err := compileSchema()
	if err != nil {
		return err
	}

	if err := schema.Validate(doc); err != nil {
		if validationErr, ok := err.(*jsonschema.ValidationError); ok {
			return &syncerr.ConfigurationError{
				Field: schemaPath(leafError(validationErr)),
				Err:   fmt.Errorf("schema validation failed: %s", strings.Join(schemaMessages(validationErr), "; ")),
			}
		}
		return &syncerr.ConfigurationError{Field: "$", Err: err}
	}
	return nil
}

func compileSchema() (*jsonschema.Schema, error) {
	var schemaDoc interface{}
	if err := json.Unmarshal(schemaJSON, &schemaDoc); err != nil {
		return nil, fmt.Errorf("embedded schema is invalid: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaURL, schemaDoc); err != nil {
		return nil, fmt.Errorf("failed to add schema: %w", err)
	}
	schema, err := compiler.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}
	return schema, nil
}

func schemaPath(e *jsonschema.ValidationError) string {
	if len(e.InstanceLocation) == 0 {
		return "$"
	}
	return strings.Join(e.InstanceLocation, ".")
}

// leafError follows the first cause down to the most specific error
func leafError(e *jsonschema.ValidationError) *jsonschema.ValidationError {
	for len(e.Causes) > 0 {
		e = e.Causes[0]
	}
	return e
}

// schemaMessages flattens the leaves of the error tree
func schemaMessages(e *jsonschema.ValidationError) []string {
	if len(e.Causes) == 0 {
		return []string{schemaPath(e) + ": " + e.Error()}
	}
	var msgs []string
	for _, cause := range e.Causes {
		msgs = append(msgs, schemaMessages(cause)...)
	}
	return msgs
}

func (c *Config) applyEnv(getenv func(string) string) {
	override := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	override(&c.CMS.Host, EnvCMSHost)
	override(&c.CMS.AccessToken, EnvCMSAccessToken)
	override(&c.Index.ApplicationID, EnvApplicationID)
	override(&c.Index.APIKey, EnvAPIKey)
	override(&c.Index.IndexPrefix, EnvIndexPrefix)
}

func (c *Config) applyDefaults() {
	if c.CMS.RequestsPerSecond <= 0 {
		c.CMS.RequestsPerSecond = DefaultRequestsPerSecond
	}
	if c.CMS.Timeout <= 0 {
		c.CMS.Timeout = Duration(DefaultTimeout)
	}
	if c.Index.Backend == "" {
		c.Index.Backend = DefaultBackend
	}
	if c.Index.Timeout <= 0 {
		c.Index.Timeout = Duration(DefaultTimeout)
	}
	if c.Index.Backend == BackendBleve && c.Index.DataDir == "" {
		c.Index.DataDir = DefaultDataDir
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}

// Validate checks what the schema cannot express
func (c *Config) Validate() error {
	if strings.TrimSpace(c.CMS.Host) == "" {
		return syncerr.Configuration("cms.host", "is required (or set %s)", EnvCMSHost)
	}

	switch c.Index.Backend {
	case BackendAlgolia:
		if c.Index.ApplicationID == "" {
			return syncerr.Configuration("index.applicationId", "is required for the algolia backend (or set %s)", EnvApplicationID)
		}
		if c.Index.APIKey == "" {
			return syncerr.Configuration("index.apiKey", "is required for the algolia backend (or set %s)", EnvAPIKey)
		}
	case BackendBleve, BackendMemory:
	default:
		return syncerr.Configuration("index.backend", "unknown backend %q", c.Index.Backend)
	}

	if a := c.Archive; a != nil {
		switch a.Kind {
		case ArchiveMinio:
			if a.Endpoint == "" {
				return syncerr.Configuration("archive.endpoint", "is required for minio")
			}
		case ArchiveS3:
		default:
			return syncerr.Configuration("archive.kind", "unknown archive kind %q", a.Kind)
		}
		if a.Bucket == "" {
			return syncerr.Configuration("archive.bucket", "is required")
		}
	}

	seen := make(map[string]bool, len(c.Jobs))
	for i, job := range c.Jobs {
		field := fmt.Sprintf("jobs.%d", i)
		if job.Name == "" {
			return syncerr.Configuration(field+".name", "is required")
		}
		if seen[job.Name] {
			return syncerr.Configuration(field+".name", "duplicate job name %q", job.Name)
		}
		seen[job.Name] = true
		if job.Index == "" {
			return syncerr.Configuration(field+".index", "job %s has no index name", job.Name)
		}
		if job.Archive && c.Archive == nil {
			return syncerr.Configuration(field+".archive", "job %s archives batches but no archive is configured", job.Name)
		}
	}
	return nil
}

// Job returns the job called name
func (c *Config) Job(name string) (Job, bool) {
	for _, job := range c.Jobs {
		if job.Name == name {
			return job, true
		}
	}
	return Job{}, false
}
