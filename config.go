package cfddns

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	EnvAPIToken = "CLOUDFLARE_API_TOKEN"
	EnvZoneID   = "CLOUDFLARE_ZONE_ID"
)

// AutoTTL asks Cloudflare to pick the TTL.
const AutoTTL = 1

// MaxTTL is the longest TTL Cloudflare accepts, one day.
const MaxTTL = 86400

// Config is the declarative description of which records to keep in sync.
type Config struct {
	Cloudflare CloudflareConfig `yaml:"cloudflare"`
	Records    []RecordConfig   `yaml:"records"`
	IPSources  IPSources        `yaml:"ip_sources,omitempty"`
}

type CloudflareConfig struct {
	APIToken string `yaml:"api_token,omitempty"`
	ZoneID   string `yaml:"zone_id,omitempty"`
	ZoneName string `yaml:"zone_name,omitempty"`
}

type RecordConfig struct {
	Name    string `yaml:"name"`
	Type    string `yaml:"type"`
	TTL     int    `yaml:"ttl,omitempty"`
	Proxied bool   `yaml:"proxied,omitempty"`
}

type IPSources struct {
	IPv4 *IPSource `yaml:"ipv4,omitempty"`
	IPv6 *IPSource `yaml:"ipv6,omitempty"`
}

// IPSource selects where the address of one family comes from.
// Interface wins over URLs when both are set.
type IPSource struct {
	URLs      []string `yaml:"urls,omitempty"`
	Interface string   `yaml:"interface,omitempty"`
}

// LoadConfig reads, parses and validates the file at path.
//
// CLOUDFLARE_API_TOKEN and CLOUDFLARE_ZONE_ID override the file.
// A file that holds an API token must not be readable by anyone but its owner.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config: %w", err)
	}
	cfg, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("error parsing %s: %w", path, err)
	}
	if cfg.Cloudflare.APIToken != "" {
		if err := verifyPermissions(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// ParseConfig parses and validates a YAML document. Environment overrides are applied.
func ParseConfig(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("error reading config: %w", err)
	}
	cfg, err := parse(data)
	if err != nil {
		return nil, err
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parse(data []byte) (*Config, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.New("config is empty")
	}
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("malformed YAML: %w", err)
	}
	for i := range cfg.Records {
		cfg.Records[i].Name = strings.TrimSpace(cfg.Records[i].Name)
		cfg.Records[i].Type = strings.ToUpper(strings.TrimSpace(cfg.Records[i].Type))
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if tok, ok := os.LookupEnv(EnvAPIToken); ok && tok != "" {
		c.Cloudflare.APIToken = tok
	}
	if zid, ok := os.LookupEnv(EnvZoneID); ok && zid != "" {
		c.Cloudflare.ZoneID = zid
	}
}

func (c *Config) applyDefaults() {
	for i := range c.Records {
		if c.Records[i].TTL == 0 {
			c.Records[i].TTL = AutoTTL
		}
	}
}

// Validate reports every problem with the configuration, not just the first.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Cloudflare.APIToken) == "" {
		errs = append(errs, fmt.Errorf("cloudflare.api_token is required (or set %s)", EnvAPIToken))
	}
	if c.Cloudflare.ZoneID == "" && c.Cloudflare.ZoneName == "" {
		errs = append(errs, errors.New("one of cloudflare.zone_id or cloudflare.zone_name is required"))
	}
	if len(c.Records) == 0 {
		errs = append(errs, errors.New("records: at least one record is required"))
	}
	seen := map[string]int{}
	for i, r := range c.Records {
		if r.Name == "" {
			errs = append(errs, fmt.Errorf("records[%d]: name is required", i))
		}
		if r.Type != TypeA && r.Type != TypeAAAA {
			errs = append(errs, fmt.Errorf("records[%d]: type must be A or AAAA; got %q", i, r.Type))
		}
		// Cloudflare accepts 1 (automatic) or 60 through 86400.
		if r.TTL < 0 || (r.TTL > 1 && r.TTL < 60) || r.TTL > MaxTTL {
			errs = append(errs, fmt.Errorf("records[%d]: ttl must be 1 (automatic) or between 60 and %d; got %d", i, MaxTTL, r.TTL))
		}
		key := r.Type + " " + strings.ToLower(r.Name)
		if j, dup := seen[key]; dup {
			errs = append(errs, fmt.Errorf("records[%d]: duplicate of records[%d] (%s %s)", i, j, r.Type, r.Name))
			continue
		}
		seen[key] = i
	}
	for fam, src := range map[string]*IPSource{"ipv4": c.IPSources.IPv4, "ipv6": c.IPSources.IPv6} {
		if src != nil && src.Interface == "" && len(src.URLs) == 0 {
			errs = append(errs, fmt.Errorf("ip_sources.%s: needs urls or interface", fam))
		}
	}
	return errors.Join(errs...)
}

func verifyPermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("error checking config permissions: %w", err)
	}

	perms := info.Mode().Perm()
	// 0400 is accepted too; secret managers often mount files read-only.
	if perms != 0600 && perms != 0400 {
		return fmt.Errorf("invalid permissions for %q: %w", path, permissionError(perms))
	}
	return nil
}

type permissionError fs.FileMode

func (pe permissionError) Error() string {
	return fmt.Sprintf("config holds an API token; expected file permissions \"-rw-------\"; found \"%s\"", fs.FileMode(pe))
}
