// Package config loads and validates node configuration.
//
// Files are YAML with unknown keys rejected. After defaults are applied the
// resolved values are checked against an embedded CUE schema.
package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaSource string

// Defaults applied to zero-valued fields.
const (
	DefaultListen            = ":9000"
	DefaultPeerListen        = ":5000"
	DefaultHeartbeatInterval = 2 * time.Second
	DefaultSyncInterval      = 5 * time.Second
	DefaultStartupDelay      = time.Second
	DefaultPushTimeout       = 2 * time.Second
	DefaultRequestTimeout    = 5 * time.Second
	DefaultFullSyncEvery     = 12
)

// Config is the resolved configuration of one node.
type Config struct {
	ServerID   string `yaml:"server_id" json:"server_id"`
	Listen     string `yaml:"listen" json:"listen"`
	PeerListen string `yaml:"peer_listen" json:"peer_listen"`
	PeerURL    string `yaml:"peer_url" json:"peer_url"`
	DBFile     string `yaml:"db_file" json:"db_file"`
	TLSCert    string `yaml:"tls_cert" json:"tls_cert"`
	TLSKey     string `yaml:"tls_key" json:"tls_key"`
	APIToken   string `yaml:"api_token" json:"api_token"`

	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" json:"heartbeat_interval"`
	SyncInterval      time.Duration `yaml:"sync_interval" json:"sync_interval"`
	PushTimeout       time.Duration `yaml:"push_timeout" json:"push_timeout"`
	RequestTimeout    time.Duration `yaml:"request_timeout" json:"request_timeout"`

	// StartupDelay holds the replication loops back after boot.
	// Nil means the default; 0 starts them immediately.
	StartupDelay *time.Duration `yaml:"startup_delay" json:"startup_delay"`

	// FullSyncEvery is the number of sync cycles between forced full pulls.
	// Nil means the default; 0 disables periodic full pulls.
	FullSyncEvery *int `yaml:"full_sync_every" json:"full_sync_every"`

	Debug bool `yaml:"debug" json:"debug"`
}

// Overrides are command-line values that take precedence over the file.
// Empty strings leave the file value in place.
type Overrides struct {
	DBFile     string
	Listen     string
	PeerListen string
	PeerURL    string
}

// TLSEnabled reports whether the client listener should serve TLS.
func (c *Config) TLSEnabled() bool {
	return c.TLSCert != ""
}

// FullSyncCycles returns the resolved full pull period.
func (c *Config) FullSyncCycles() int {
	if c.FullSyncEvery == nil {
		return DefaultFullSyncEvery
	}
	return *c.FullSyncEvery
}

// StartupWait returns the resolved startup delay.
func (c *Config) StartupWait() time.Duration {
	if c.StartupDelay == nil {
		return DefaultStartupDelay
	}
	return *c.StartupDelay
}

// Load reads path, applies overrides and defaults, and validates the result.
func Load(path string, o Overrides) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	cfg, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cfg.apply(o)
	cfg.resolvePaths(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Decode parses YAML from r and fills in defaults. It does not validate.
func Decode(r io.Reader) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.setDefaults()
	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.PeerListen == "" {
		c.PeerListen = DefaultPeerListen
	}
	if c.DBFile == "" && c.ServerID != "" {
		c.DBFile = "chat_" + c.ServerID + ".db"
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.SyncInterval == 0 {
		c.SyncInterval = DefaultSyncInterval
	}
	if c.PushTimeout == 0 {
		c.PushTimeout = DefaultPushTimeout
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
}

func (c *Config) apply(o Overrides) {
	if o.DBFile != "" {
		c.DBFile = o.DBFile
	}
	if o.Listen != "" {
		c.Listen = o.Listen
	}
	if o.PeerListen != "" {
		c.PeerListen = o.PeerListen
	}
	if o.PeerURL != "" {
		c.PeerURL = o.PeerURL
	}
}

// resolvePaths makes relative file paths relative to dir.
func (c *Config) resolvePaths(dir string) {
	for _, p := range []*string{&c.DBFile, &c.TLSCert, &c.TLSKey} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(dir, *p)
		}
	}
}

// Validate checks the resolved configuration against the embedded schema
// and the cross-field rules the schema does not express.
func (c *Config) Validate() error {
	if (c.TLSCert == "") != (c.TLSKey == "") {
		return errors.New("tls_cert and tls_key must be set together")
	}

	raw, err := json.Marshal(c.resolved())
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	value := ctx.CompileBytes(raw)
	if err := value.Err(); err != nil {
		return fmt.Errorf("build config value: %w", err)
	}

	unified := schema.LookupPath(cue.ParsePath("#Config")).Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// resolved is the shape checked by the schema: optional fields are concrete.
func (c *Config) resolved() any {
	type plain Config
	return struct {
		plain
		StartupDelay  time.Duration `json:"startup_delay"`
		FullSyncEvery int           `json:"full_sync_every"`
	}{plain: plain(*c), StartupDelay: c.StartupWait(), FullSyncEvery: c.FullSyncCycles()}
}

// Write encodes c as YAML, with durations in Go duration syntax.
func (c *Config) Write(w io.Writer) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c.resolvedYAML()); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	_, err := w.Write(buf.Bytes())
	return err
}

func (c *Config) resolvedYAML() map[string]any {
	return map[string]any{
		"server_id":          c.ServerID,
		"listen":             c.Listen,
		"peer_listen":        c.PeerListen,
		"peer_url":           c.PeerURL,
		"db_file":            c.DBFile,
		"tls_cert":           c.TLSCert,
		"tls_key":            c.TLSKey,
		"api_token":          redact(c.APIToken),
		"heartbeat_interval": c.HeartbeatInterval.String(),
		"sync_interval":      c.SyncInterval.String(),
		"startup_delay":      c.StartupWait().String(),
		"push_timeout":       c.PushTimeout.String(),
		"request_timeout":    c.RequestTimeout.String(),
		"full_sync_every":    c.FullSyncCycles(),
		"debug":              c.Debug,
	}
}

func redact(token string) string {
	if token == "" {
		return ""
	}
	return "********"
}
