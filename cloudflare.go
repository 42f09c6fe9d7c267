package cfddns

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/cloudflare/cloudflare-go"
)

// Comment is attached to every record the tool creates.
const Comment = "managed by cfddns"

// NewCloudflare constructs a RecordClient for the zone zoneID.
// opts are passed through to the cloudflare-go client, e.g. cloudflare.BaseURL in tests.
func NewCloudflare(token, zoneID string, opts ...cloudflare.Option) (*Cloudflare, error) {
	if zoneID == "" {
		return nil, errors.New("cfddns.NewCloudflare: zone ID cannot be empty")
	}
	api, err := cloudflare.NewWithAPIToken(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("error creating cloudflare api client: %w", err)
	}
	return &Cloudflare{api: api, zoneID: zoneID, logger: discard, comment: Comment}, nil
}

// Cloudflare implements RecordClient on the Cloudflare v4 API.
//
// It should be constructed using NewCloudflare.
type Cloudflare struct {
	api     *cloudflare.API
	zoneID  string
	logger  *log.Logger
	comment string
}

func (cf *Cloudflare) SetLogger(l *log.Logger) { cf.logger = l }

func (cf *Cloudflare) SetHTTPClient(c *http.Client) { cloudflare.HTTPClient(c)(cf.api) }

// ZoneID returns the zone the client writes to.
func (cf *Cloudflare) ZoneID() string { return cf.zoneID }

func (cf *Cloudflare) ListRecords(ctx context.Context, name, recordType string) ([]Record, error) {
	if cf.api == nil {
		return nil, errors.New("cfddns.Cloudflare should be constructed with cfddns.NewCloudflare")
	}
	cf.logger.Printf("looking up %s records for %s in zone %s...\n", recordType, name, cf.zoneID)
	records, _, err := cf.api.ListDNSRecords(ctx, cloudflare.ZoneIdentifier(cf.zoneID), cloudflare.ListDNSRecordsParams{
		Type: recordType,
		Name: name,
	})
	if err != nil {
		return nil, fmt.Errorf("error listing %s records for %s: %w", recordType, name, err)
	}
	cf.logger.Printf("found %d existing records: %+v\n", len(records), records)

	out := make([]Record, 0, len(records))
	for _, r := range records {
		rec := Record{
			ID:      r.ID,
			Name:    r.Name,
			Type:    r.Type,
			Content: r.Content,
			TTL:     r.TTL,
		}
		if r.Proxied != nil {
			rec.Proxied = *r.Proxied
		}
		out = append(out, rec)
	}
	return out, nil
}

func (cf *Cloudflare) UpdateRecord(ctx context.Context, id string, r Record) error {
	if id == "" {
		return errors.New("cannot update a record without an ID")
	}
	cf.logger.Printf("updating record %s: %s %s -> %s\n", id, r.Type, r.Name, r.Content)
	proxied := r.Proxied
	record, err := cf.api.UpdateDNSRecord(ctx, cloudflare.ZoneIdentifier(cf.zoneID), cloudflare.UpdateDNSRecordParams{
		ID:      id,
		Type:    r.Type,
		Name:    r.Name,
		Content: r.Content,
		TTL:     r.TTL,
		Proxied: &proxied,
	})
	if err != nil {
		return fmt.Errorf("unable to update DNS record %s: %w", id, err)
	}
	cf.logger.Printf("successfully updated record: %+v\n", record)
	return nil
}

func (cf *Cloudflare) CreateRecord(ctx context.Context, r Record) error {
	cf.logger.Printf("creating record %s %s -> %s...\n", r.Type, r.Name, r.Content)
	proxied := r.Proxied
	record, err := cf.api.CreateDNSRecord(ctx, cloudflare.ZoneIdentifier(cf.zoneID), cloudflare.CreateDNSRecordParams{
		Type:    r.Type,
		Name:    r.Name,
		Content: r.Content,
		ZoneID:  cf.zoneID,
		TTL:     r.TTL,
		Proxied: &proxied,
		Comment: cf.comment,
	})
	if err != nil {
		return fmt.Errorf("error creating DNS record: %w", err)
	}
	cf.logger.Printf("successfully added record: %+v\n", record)
	return nil
}

// LookupZoneID finds the ID of the zone managing domain.
// When several zones match, the longest (most specific) one wins.
func LookupZoneID(ctx context.Context, token, domain string, opts ...cloudflare.Option) (zid string, err error) {
	api, err := cloudflare.NewWithAPIToken(token, opts...)
	if err != nil {
		return "", fmt.Errorf("error creating cloudflare api client: %w", err)
	}
	zones, err := api.ListZones(ctx)
	if err != nil {
		return "", fmt.Errorf("error listing zones: %w", err)
	}

	domain = strings.TrimSuffix(strings.ToLower(domain), ".")
	max := 0
	for _, z := range zones {
		name := strings.ToLower(z.Name)
		if (domain == name || strings.HasSuffix(domain, "."+name)) && len(name) > max {
			max, zid = len(name), z.ID
		}
	}
	if max == 0 {
		return "", fmt.Errorf("unable to find a zone matching \"%s\"", domain)
	}
	return zid, nil
}

// VerifyToken reports an error unless token is an active Cloudflare API token.
func VerifyToken(ctx context.Context, token string, opts ...cloudflare.Option) error {
	api, err := cloudflare.NewWithAPIToken(token, opts...)
	if err != nil {
		return fmt.Errorf("error creating api client: %w", err)
	}
	result, err := api.VerifyAPIToken(ctx)
	if err != nil {
		return fmt.Errorf("unable to verify api token: %w", err)
	}
	if result.Status != "active" {
		return fmt.Errorf("expected api token status to be \"active\"; got \"%s\"", result.Status)
	}
	return nil
}
