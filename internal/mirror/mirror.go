// Package mirror discovers and downloads scene files from the public
// object-storage mirror of the satellite archive.
//
// The mirror is addressed as <bucket>/<product>/<year>/<day-of-year>/<hour>/
// where the bucket depends on the physical spacecraft serving the
// requested satellite role at the queried instant.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/s3blob" // S3 driver
	"gocloud.dev/gcerrors"

	"github.com/wxarchive/goes-recovery/internal/epoch"
	"github.com/wxarchive/goes-recovery/internal/goesname"
	"github.com/wxarchive/goes-recovery/internal/metrics"
	"github.com/wxarchive/goes-recovery/internal/query"
)

// ErrNotFound marks a definitive miss: the remote directory exists but
// holds no matching object. Never retried.
var ErrNotFound = errors.New("object not found on mirror")

// bandedFamilies are the product families whose members carry a spectral
// band token. Band filters apply only to these; applying them to a
// bandless family would silently drop every candidate.
var bandedFamilies = []string{"Rad", "CMIP", "DMW"}

// Config configures mirror access.
type Config struct {
	// BucketURL overrides bucket resolution entirely (tests, private
	// mirrors). When empty the bucket is derived from the spacecraft code.
	BucketURL string

	Endpoint string // custom S3 endpoint, empty for AWS
	Region   string

	ConnectTimeout time.Duration // per list/open attempt
	ReadTimeout    time.Duration // per download attempt

	RetryAttempts int           // total attempts per object, default 3
	RetryBackoff  time.Duration // base backoff, doubled per attempt

	Workers int // concurrent downloads, default 4

	Catalog []string // product catalog backing the ALL wildcard
}

func (c *Config) withDefaults() {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 2 * time.Second
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
}

// Fetcher lists and downloads mirror objects.
type Fetcher struct {
	cfg    Config
	epochs *epoch.Table
	open   func(ctx context.Context, url string) (*blob.Bucket, error)
	log    *slog.Logger
}

// New creates a mirror fetcher. The epoch table is immutable
// configuration; it decides which physical bucket serves a role.
func New(cfg Config, epochs *epoch.Table) *Fetcher {
	cfg.withDefaults()
	return &Fetcher{
		cfg:    cfg,
		epochs: epochs,
		open:   blob.OpenBucket,
		log:    slog.With("component", "mirror"),
	}
}

// NewWithOpener creates a fetcher with a custom bucket opener. Tests use
// this with fileblob buckets.
func NewWithOpener(cfg Config, epochs *epoch.Table, open func(ctx context.Context, url string) (*blob.Bucket, error)) *Fetcher {
	f := New(cfg, epochs)
	f.open = open
	return f
}

// bucketURL builds the gocloud URL for the bucket serving the query.
func (f *Fetcher) bucketURL(q *query.Query) (string, error) {
	if f.cfg.BucketURL != "" {
		return f.cfg.BucketURL, nil
	}

	code, err := f.epochs.CodeFor(q.Satellite, q.FirstDay())
	if err != nil {
		return "", err
	}

	params := url.Values{}
	if f.cfg.Region != "" {
		params.Set("region", f.cfg.Region)
	}
	if f.cfg.Endpoint != "" {
		params.Set("endpoint", f.cfg.Endpoint)
		params.Set("s3ForcePathStyle", "true")
	}

	u := "s3://" + epoch.BucketFor(code)
	if len(params) > 0 {
		u = u + "?" + params.Encode()
	}
	return u, nil
}

// domainCode maps the query domain to the mirror's product suffix.
func domainCode(domain string) string {
	switch strings.ToLower(domain) {
	case "fd", "":
		return "F"
	case "conus":
		return "C"
	case "m1":
		return "M1"
	case "m2":
		return "M2"
	default:
		return strings.ToUpper(domain)
	}
}

// productNames splits the query into banded and bandless mirror product
// names. Separate discovery passes keep band filtering away from
// bandless families.
func (f *Fetcher) productNames(q *query.Query) (banded, bandless []string) {
	sensor := strings.ToUpper(q.Sensor)
	dom := domainCode(q.Domain)

	if strings.EqualFold(q.Level, "L1b") {
		return []string{fmt.Sprintf("%s-L1b-Rad%s", sensor, dom)}, nil
	}

	products := q.ExpandedProducts(f.cfg.Catalog)
	if len(products) == 0 {
		return []string{fmt.Sprintf("%s-%s-Rad%s", sensor, q.Level, dom)}, nil
	}
	for _, p := range products {
		name := fmt.Sprintf("%s-%s-%s%s", sensor, q.Level, p, dom)
		if isBanded(p) {
			banded = append(banded, name)
		} else {
			bandless = append(bandless, name)
		}
	}
	return banded, bandless
}

func isBanded(product string) bool {
	for _, fam := range bandedFamilies {
		if strings.HasPrefix(strings.ToUpper(product), strings.ToUpper(fam)) {
			return true
		}
	}
	return false
}

// Discover lists the mirror locations matching a query, keyed by base
// filename. Band filters are applied only during the banded pass; the
// banded pass with no bands supplied expands to all 16 channels.
func (f *Fetcher) Discover(ctx context.Context, q *query.Query) (map[string]string, error) {
	bucketURL, err := f.bucketURL(q)
	if err != nil {
		return nil, err
	}
	bucket, err := f.open(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open mirror bucket: %w", err)
	}
	defer bucket.Close()

	slices, err := q.ExpandDates()
	if err != nil {
		return nil, err
	}

	banded, bandless := f.productNames(q)
	bands := q.ExpandedBands()
	if len(bands) == 0 {
		bands = query.AllBands
	}

	found := make(map[string]string)
	for _, ds := range slices {
		for _, w := range ds.Windows {
			startHH, endHH := w.Hours()
			for hour := startHH; hour <= endHH; hour++ {
				if err := f.discoverHour(ctx, bucket, ds, hour, banded, bands, found); err != nil {
					return nil, err
				}
				if err := f.discoverHour(ctx, bucket, ds, hour, bandless, nil, found); err != nil {
					return nil, err
				}
			}
		}
	}

	f.log.Info("mirror discovery complete", "objects", len(found))
	return found, nil
}

// discoverHour lists one <product>/<year>/<jjj>/<hour>/ directory per
// product and folds the matching scene files into found. A bands slice
// narrows by band token; nil means the bandless pass.
func (f *Fetcher) discoverHour(ctx context.Context, bucket *blob.Bucket, ds query.DateSlice, hour int, products []string, bands []string, found map[string]string) error {
	for _, product := range products {
		prefix := fmt.Sprintf("%s/%s/%s/%02d/", product, ds.Key[:4], ds.Key[4:], hour)

		names, err := f.listPrefix(ctx, bucket, prefix)
		if err != nil {
			return err
		}

		var keep []string
		for _, key := range names {
			if !goesname.IsSceneFile(key) {
				continue
			}
			if bands != nil {
				b, ok := goesname.Band(key)
				if !ok || !bandIn(bands, b) {
					continue
				}
			}
			keep = append(keep, key)
		}

		for _, key := range goesname.FilterByTime(keep, ds.Key, ds.Windows) {
			found[path.Base(key)] = key
		}
	}
	return nil
}

// listPrefix lists object keys under a prefix with a bounded call time.
// A missing directory is an empty result, not an error.
func (f *Fetcher) listPrefix(ctx context.Context, bucket *blob.Bucket, prefix string) ([]string, error) {
	listCtx, cancel := context.WithTimeout(ctx, f.cfg.ConnectTimeout)
	defer cancel()

	var names []string
	iter := bucket.List(&blob.ListOptions{Prefix: prefix})
	for {
		obj, err := iter.Next(listCtx)
		if err == io.EOF {
			break
		}
		if err != nil {
			if gcerrors.Code(err) == gcerrors.NotFound {
				return nil, nil
			}
			return nil, fmt.Errorf("list %s: %w", prefix, err)
		}
		if obj.IsDir {
			continue
		}
		names = append(names, obj.Key)
	}
	return names, nil
}

func bandIn(bands []string, b string) bool {
	for _, x := range bands {
		if x == b {
			return true
		}
	}
	return false
}

// FilterByPrefixes keeps the discovered objects whose embedded start
// timestamp begins with one of the targets' derived hour prefixes.
func FilterByPrefixes(discovered map[string]string, prefixes []string) map[string]string {
	out := make(map[string]string)
	for name, key := range discovered {
		ts, ok := goesname.StartTimestamp(name)
		if !ok {
			continue
		}
		for _, p := range prefixes {
			if strings.HasPrefix(ts, p) {
				out[name] = key
				break
			}
		}
	}
	return out
}

// Download fetches the given objects (base name → object key) into
// destDir using a bounded worker pool. It returns the local paths
// recovered and the base names that still failed after all attempts.
func (f *Fetcher) Download(ctx context.Context, q *query.Query, objects map[string]string, destDir string) (recovered []string, failed []string, err error) {
	if len(objects) == 0 {
		return nil, nil, nil
	}

	bucketURL, err := f.bucketURL(q)
	if err != nil {
		return nil, nil, err
	}
	bucket, err := f.open(ctx, bucketURL)
	if err != nil {
		return nil, nil, fmt.Errorf("open mirror bucket: %w", err)
	}
	defer bucket.Close()

	type job struct{ name, key string }
	type result struct {
		name string
		path string
		err  error
	}

	jobs := make(chan job)
	results := make(chan result, len(objects))

	labels := metrics.Labels{Satellite: q.Satellite, Level: q.Level, Operation: "download"}

	var wg sync.WaitGroup
	for i := 0; i < f.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				start := time.Now()
				p, err := f.downloadOne(ctx, bucket, j.key, filepath.Join(destDir, j.name), labels)
				if m := metrics.Get(); m != nil {
					m.ObserveDownloadDuration(labels, time.Since(start).Seconds())
				}
				results <- result{name: j.name, path: p, err: err}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for name, key := range objects {
			select {
			case jobs <- job{name: name, key: key}:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	for r := range results {
		if r.err != nil {
			f.log.Warn("mirror download failed", "object", r.name, "error", r.err)
			failed = append(failed, r.name)
			continue
		}
		recovered = append(recovered, r.path)
	}
	return recovered, failed, nil
}

// downloadOne fetches a single object with bounded retries. Transient
// failures back off exponentially from the base interval; a definitive
// not-found is never retried. Each attempt runs under the read timeout
// so a hung call cannot stall the worker past it.
func (f *Fetcher) downloadOne(ctx context.Context, bucket *blob.Bucket, key, dest string, labels metrics.Labels) (string, error) {
	op := func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, f.cfg.ReadTimeout)
		defer cancel()

		r, err := bucket.NewReader(attemptCtx, key, nil)
		if err != nil {
			if gcerrors.Code(err) == gcerrors.NotFound {
				return backoff.Permanent(fmt.Errorf("%w: %s", ErrNotFound, key))
			}
			return err
		}
		defer r.Close()

		tmp := dest + ".tmp"
		out, err := os.Create(tmp)
		if err != nil {
			return backoff.Permanent(err)
		}
		if _, err := io.Copy(out, r); err != nil {
			out.Close()
			os.Remove(tmp)
			return err
		}
		if err := out.Close(); err != nil {
			os.Remove(tmp)
			return err
		}
		if err := os.Rename(tmp, dest); err != nil {
			os.Remove(tmp)
			return backoff.Permanent(err)
		}
		return nil
	}

	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(f.cfg.RetryBackoff),
		backoff.WithMultiplier(2),
		backoff.WithRandomizationFactor(0),
	), uint64(f.cfg.RetryAttempts-1))

	notify := func(err error, next time.Duration) {
		f.log.Debug("retrying download", "object", key, "in", next, "error", err)
		if m := metrics.Get(); m != nil {
			m.IncRetryAttempts(labels)
		}
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(bo, ctx), notify); err != nil {
		return "", err
	}
	return dest, nil
}
