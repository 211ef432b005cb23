package config

var TenantsConfig = new(Tenants)

// Tenants configures the tenant identification, config loading and
// connection pooling layer. All durations are in seconds so the yaml stays
// free of unit suffixes, mirroring the database pool settings.
type Tenants struct {
	Enabled bool `mapstructure:"enabled"`

	// MappingFile is the JSON document binding domains to config references.
	// It is authored by external tooling; this core only reads it.
	MappingFile string `mapstructure:"mappingFile"`
	// SnapshotFile persists the last good mapping snapshot so the core can
	// start while the mapping source is briefly unreadable.
	SnapshotFile string `mapstructure:"snapshotFile"`
	// EnvDir holds one payload file per config reference.
	EnvDir string `mapstructure:"envDir"`

	CacheTTL      int `mapstructure:"cacheTTL"`      // env config cache TTL
	LoadTimeout   int `mapstructure:"loadTimeout"`   // bound on a single env load
	DialTimeout   int `mapstructure:"dialTimeout"`   // bound on a connection dial
	IdleTimeout   int `mapstructure:"idleTimeout"`   // unused connections older than this are evicted
	SweepInterval int `mapstructure:"sweepInterval"` // interval between eviction sweeps
	MaxPerTenant  int `mapstructure:"maxPerTenant"`  // concurrent borrows allowed per tenant

	// SkipPrefixes lists path prefixes that bypass identification entirely
	// (health checks, static assets, well-known).
	SkipPrefixes []string `mapstructure:"skipPrefixes"`
	// APIPrefixes lists path prefixes answered with structured JSON errors;
	// everything else is treated as a browser request and redirected.
	APIPrefixes []string `mapstructure:"apiPrefixes"`

	// FallbackDomain, when set and the application runs in dev mode, is
	// substituted once after a failed resolution.
	FallbackDomain string `mapstructure:"fallbackDomain"`

	// Static seeds the in-memory edge registry.
	Static []StaticTenant `mapstructure:"static"`
}

// StaticTenant is a config-file form of the edge registry descriptor.
type StaticTenant struct {
	ID        string `mapstructure:"id"`
	Subdomain string `mapstructure:"subdomain"`
	Domain    string `mapstructure:"domain"`
	Status    string `mapstructure:"status"` // active, suspended, pending, archived
}

// Example configuration:
/*
tenants:
  enabled: true
  mappingFile: "./data/tenant_mappings.json"
  snapshotFile: "./cache/tenant_mappings.snapshot.json"
  envDir: "./data/envs"
  cacheTTL: 300
  loadTimeout: 5
  dialTimeout: 10
  idleTimeout: 600
  sweepInterval: 60
  maxPerTenant: 20
  skipPrefixes:
    - "/healthz"
    - "/static/"
    - "/.well-known/"
  apiPrefixes:
    - "/api/"
  fallbackDomain: "demo.app.com"
  static:
    - id: "demo"
      subdomain: "demo"
      status: "active"
    - id: "beta"
      subdomain: "beta"
      status: "suspended"
*/
