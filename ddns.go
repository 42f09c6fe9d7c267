package cfddns

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/netip"
	"os"

	"github.com/cloudflare/cloudflare-go"
)

var discard = log.New(io.Discard, "", log.LstdFlags)

// Outcome is what happened to one configured record.
type Outcome int

const (
	Failed Outcome = iota
	Unchanged
	Updated
	Created
	Planned // dry run: a write would have been issued
)

func (o Outcome) String() string {
	switch o {
	case Unchanged:
		return "unchanged"
	case Updated:
		return "updated"
	case Created:
		return "created"
	case Planned:
		return "planned"
	}
	return "failed"
}

// Result describes the processing of a single record.
type Result struct {
	Name     string
	Type     string
	IP       netip.Addr
	Previous string // content before the write, empty when the record was created
	RecordID string
	Outcome  Outcome
	Err      error
}

// New constructs a Client.
// A RecordClient must be registered with UsingCloudflare or UsingRecordClient.
// Without resolver options, A records use DefaultIPv4Services and AAAA records DefaultIPv6Services.
func New(options ...ClientOption) (*Client, error) {
	c := &Client{
		resolvers: map[string]Resolver{},
		logger:    discard,
		out:       os.Stdout,
	}
	for i, opt := range options {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("cfddns.New: option %d returned an error: %s", i, err)
		}
	}

	if c.cf != nil {
		if err := c.connectCloudflare(); err != nil {
			return nil, fmt.Errorf("cfddns.New: %w", err)
		}
	}
	if c.records == nil {
		return nil, errors.New("cfddns.New: no DNS provider was registered - use cfddns.UsingCloudflare or similar")
	}
	for typ, urls := range map[string][]string{TypeA: DefaultIPv4Services, TypeAAAA: DefaultIPv6Services} {
		if _, ok := c.resolvers[typ]; ok {
			continue
		}
		r, err := WebResolver(typ, urls...)
		if err != nil {
			return nil, fmt.Errorf("cfddns.New: %w", err)
		}
		c.resolvers[typ] = r
	}

	// dependencies registered before WithLogger or UsingHTTPClient still get them
	c.propagate()
	return c, nil
}

// NewFromConfig constructs a Client for cfg.
// ctx bounds the zone lookup when cfg names a zone instead of giving its ID.
// options are applied after the ones derived from cfg, so they take precedence.
func NewFromConfig(ctx context.Context, cfg *Config, options ...ClientOption) (*Client, error) {
	var opts []ClientOption
	if cfg.Cloudflare.ZoneID != "" {
		opts = append(opts, UsingCloudflare(cfg.Cloudflare.APIToken, cfg.Cloudflare.ZoneID))
	} else {
		opts = append(opts, UsingCloudflareZone(ctx, cfg.Cloudflare.APIToken, cfg.Cloudflare.ZoneName))
	}
	for typ, src := range map[string]*IPSource{TypeA: cfg.IPSources.IPv4, TypeAAAA: cfg.IPSources.IPv6} {
		switch {
		case src == nil:
		case src.Interface != "":
			opts = append(opts, UsingResolver(typ, InterfaceResolver(src.Interface)))
		default:
			opts = append(opts, UsingWebResolver(typ, src.URLs...))
		}
	}
	return New(append(opts, options...)...)
}

// ClientOption configures a Client in New.
type ClientOption func(*Client) error

// UsingCloudflare registers the Cloudflare API as the DNS provider for the zone zoneID.
func UsingCloudflare(token, zoneID string) ClientOption {
	return func(c *Client) error {
		if zoneID == "" {
			return errors.New("cfddns.UsingCloudflare: zone ID cannot be empty")
		}
		c.records = nil
		c.cf = &cloudflareSettings{token: token, zoneID: zoneID}
		return nil
	}
}

// UsingCloudflareZone is like UsingCloudflare but looks the zone ID up by name when New runs.
func UsingCloudflareZone(ctx context.Context, token, zoneName string) ClientOption {
	return func(c *Client) error {
		if zoneName == "" {
			return errors.New("cfddns.UsingCloudflareZone: zone name cannot be empty")
		}
		c.records = nil
		c.cf = &cloudflareSettings{
			token:    token,
			zoneName: zoneName,
			lookup: func(opts ...cloudflare.Option) (string, error) {
				return LookupZoneID(ctx, token, zoneName, opts...)
			},
		}
		return nil
	}
}

// UsingCloudflareOptions passes options to the cloudflare-go client, e.g. cloudflare.BaseURL.
func UsingCloudflareOptions(opts ...cloudflare.Option) ClientOption {
	return func(c *Client) error {
		c.cfOptions = append(c.cfOptions, opts...)
		return nil
	}
}

func UsingRecordClient(rc RecordClient) ClientOption {
	return func(c *Client) error {
		if rc == nil {
			return errors.New("record client cannot be nil")
		}
		c.cf = nil
		c.records = rc
		return nil
	}
}

// UsingResolver sets the resolver for recordType (A or AAAA).
func UsingResolver(recordType string, resolver Resolver) ClientOption {
	return func(c *Client) error {
		if recordType != TypeA && recordType != TypeAAAA {
			return fmt.Errorf("unsupported record type %q", recordType)
		}
		if resolver == nil {
			return errors.New("resolver cannot be nil")
		}
		c.resolvers[recordType] = resolver
		return nil
	}
}

func UsingWebResolver(recordType string, serviceURL ...string) ClientOption {
	return func(c *Client) error {
		r, err := WebResolver(recordType, serviceURL...)
		if err != nil {
			return err
		}
		c.resolvers[recordType] = r
		return nil
	}
}

func WithLogger(logger *log.Logger) ClientOption {
	return func(c *Client) error {
		if logger == nil {
			logger = discard
		}
		c.logger = logger
		return nil
	}
}

// WithOutput sets where status lines are printed. The default is os.Stdout.
func WithOutput(w io.Writer) ClientOption {
	return func(c *Client) error {
		if w == nil {
			w = io.Discard
		}
		c.out = w
		return nil
	}
}

// WithDryRun makes Sync report the writes it would issue without issuing them.
func WithDryRun(dry bool) ClientOption {
	return func(c *Client) error {
		c.dryRun = dry
		return nil
	}
}

func UsingHTTPClient(httpclient *http.Client) ClientOption {
	return func(c *Client) error {
		if httpclient == nil {
			httpclient = http.DefaultClient
		}
		c.httpClient = httpclient
		return nil
	}
}

type setLogger interface {
	SetLogger(*log.Logger)
}

type setHTTPClient interface {
	SetHTTPClient(*http.Client)
}

func (c *Client) propagate() {
	if l, ok := c.records.(setLogger); ok {
		l.SetLogger(c.logger)
	}
	for _, r := range c.resolvers {
		if l, ok := r.(setLogger); ok {
			l.SetLogger(c.logger)
		}
	}
	if c.httpClient == nil {
		return
	}
	if hc, ok := c.records.(setHTTPClient); ok {
		hc.SetHTTPClient(c.httpClient)
	}
	for _, r := range c.resolvers {
		if hc, ok := r.(setHTTPClient); ok {
			hc.SetHTTPClient(c.httpClient)
		}
	}
}

// Client reconciles configured records against the public IP of this host.
type Client struct {
	records    RecordClient
	resolvers  map[string]Resolver
	logger     *log.Logger
	out        io.Writer
	httpClient *http.Client
	cf         *cloudflareSettings
	cfOptions  []cloudflare.Option
	dryRun     bool
}

type cloudflareSettings struct {
	token    string
	zoneID   string
	zoneName string
	lookup   func(...cloudflare.Option) (string, error)
}

func (c *Client) connectCloudflare() error {
	opts := c.cfOptions
	if c.httpClient != nil {
		opts = append(opts[:len(opts):len(opts)], cloudflare.HTTPClient(c.httpClient))
	}
	zoneID := c.cf.zoneID
	if zoneID == "" {
		c.logger.Printf("looking up zone ID for %s...\n", c.cf.zoneName)
		zid, err := c.cf.lookup(opts...)
		if err != nil {
			return fmt.Errorf("unable to get zone ID for %s: %w", c.cf.zoneName, err)
		}
		c.logger.Printf("got zone ID: %s\n", zid)
		zoneID = zid
	}
	cf, err := NewCloudflare(c.cf.token, zoneID, opts...)
	if err != nil {
		return fmt.Errorf("error creating cloudflare DNS provider: %w", err)
	}
	c.records = cf
	return nil
}

// Sync processes every record in order and prints a status block for each.
//
// A failure on one record does not stop the others;
// the returned error joins the failures of every record.
func (c *Client) Sync(ctx context.Context, records []RecordConfig) ([]Result, error) {
	results := make([]Result, 0, len(records))
	resolved := map[string]netip.Addr{}
	resolveErrs := map[string]error{}
	var errs []error

	for _, rc := range records {
		fmt.Fprintf(c.out, "\nProcessing %s record for %s\n", rc.Type, rc.Name)
		res := Result{Name: rc.Name, Type: rc.Type}

		ip, err := c.publicIP(ctx, rc.Type, resolved, resolveErrs)
		if err == nil {
			res.IP = ip
			fmt.Fprintf(c.out, "Current public IP (%s): %s\n", rc.Type, ip)
			err = c.reconcile(ctx, rc, &res)
		}
		if err != nil {
			res.Outcome = Failed
			res.Err = fmt.Errorf("%s %s: %w", rc.Type, rc.Name, err)
			fmt.Fprintf(c.out, "✗ %s\n", err)
			errs = append(errs, res.Err)
		}
		results = append(results, res)

		if ctx.Err() != nil {
			break
		}
	}

	if len(errs) > 0 {
		fmt.Fprintf(c.out, "\n✗ %d of %d records failed\n", len(errs), len(records))
		return results, errors.Join(errs...)
	}
	fmt.Fprintf(c.out, "\n✓ All records processed successfully!\n")
	return results, nil
}

// publicIP resolves the address for a record type once per Sync.
func (c *Client) publicIP(ctx context.Context, typ string, resolved map[string]netip.Addr, failed map[string]error) (netip.Addr, error) {
	if ip, ok := resolved[typ]; ok {
		return ip, nil
	}
	if err, ok := failed[typ]; ok {
		return netip.Addr{}, err
	}
	ip, err := c.resolve(ctx, typ)
	if err != nil {
		failed[typ] = err
		return netip.Addr{}, err
	}
	resolved[typ] = ip
	return ip, nil
}

func (c *Client) resolve(ctx context.Context, typ string) (netip.Addr, error) {
	r, ok := c.resolvers[typ]
	if !ok {
		return netip.Addr{}, fmt.Errorf("no resolver for record type %q", typ)
	}
	addrs, err := r.Resolve(ctx)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("error getting public IP: %w", err)
	}
	c.logger.Printf("got IPs for %s: %+v\n", typ, addrs)
	var other []netip.Addr
	for _, a := range addrs {
		if !a.IsValid() {
			c.logger.Printf("ignoring invalid address from %s resolver\n", typ)
			continue
		}
		if family(typ, a) {
			return a.Unmap(), nil
		}
		other = append(other, a)
	}
	if len(other) > 0 {
		return netip.Addr{}, fmt.Errorf("resolver returned %s address %s for a %s record", recordType(other[0]), other[0], typ)
	}
	return netip.Addr{}, errors.New("resolver returned no valid addresses")
}

func (c *Client) reconcile(ctx context.Context, rc RecordConfig, res *Result) error {
	existing, err := c.records.ListRecords(ctx, rc.Name, rc.Type)
	if err != nil {
		return err
	}
	desired := Record{
		Name:    rc.Name,
		Type:    rc.Type,
		Content: res.IP.String(),
		TTL:     rc.TTL,
		Proxied: rc.Proxied,
	}
	if desired.TTL == 0 {
		desired.TTL = AutoTTL
	}

	if len(existing) == 0 {
		if c.dryRun {
			fmt.Fprintln(c.out, "Record not found. Would create a new record (dry run)")
			res.Outcome = Planned
			return nil
		}
		fmt.Fprintln(c.out, "Record not found. Creating new record...")
		if err := c.records.CreateRecord(ctx, desired); err != nil {
			return err
		}
		fmt.Fprintln(c.out, "✓ Record created successfully")
		res.Outcome = Created
		return nil
	}

	if len(existing) > 1 {
		c.logger.Printf("%d %s records exist for %s; only the first is managed\n", len(existing), rc.Type, rc.Name)
	}
	cur := existing[0]
	res.RecordID = cur.ID
	if sameAddr(cur.Content, res.IP) {
		fmt.Fprintln(c.out, "✓ Record already up to date")
		res.Outcome = Unchanged
		return nil
	}

	res.Previous = cur.Content
	if c.dryRun {
		fmt.Fprintf(c.out, "IP mismatch! Would update record from %s to %s (dry run)\n", cur.Content, desired.Content)
		res.Outcome = Planned
		return nil
	}
	fmt.Fprintf(c.out, "IP mismatch! Updating record from %s to %s\n", cur.Content, desired.Content)
	if err := c.records.UpdateRecord(ctx, cur.ID, desired); err != nil {
		return err
	}
	fmt.Fprintln(c.out, "✓ Record updated successfully")
	res.Outcome = Updated
	return nil
}

// sameAddr compares record content to ip as addresses,
// so "2001:db8::1" and "2001:0db8::0001" are equal.
func sameAddr(content string, ip netip.Addr) bool {
	a, err := netip.ParseAddr(content)
	if err != nil {
		return content == ip.String()
	}
	return a.Unmap() == ip
}
