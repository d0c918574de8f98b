// Package promo builds a local prefilter of promotion codes from gzipped,
// newline-delimited code lists. A negative answer from the filter is
// definitive and spares a round trip to the promotions API; a positive answer
// still has to be confirmed there.
package promo

import (
	"bufio"
	"context"
	"math/bits"
	"os"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	pgzip "github.com/klauspost/pgzip"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const progressEvery = 10_000_000

// Config describes the code lists and the filter shape.
type Config struct {
	// Files are gzip-compressed lists, one code per line.
	Files []string
	// MinSources is the number of lists a code must appear in to be
	// considered valid. Values below 1 mean 1.
	MinSources int
	// Capacity is the expected number of codes per list.
	Capacity uint
	// FalsePositiveRate of each bloom filter.
	FalsePositiveRate float64
	// MinLength and MaxLength bound accepted code lengths; zero disables the
	// bound.
	MinLength int
	MaxLength int
}

// Normalize returns the canonical form of a user-entered code.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Filter answers whether a promotion code may be valid.
type Filter struct {
	f     *bloom.BloomFilter
	count int
	minL  int
	maxL  int
}

// MayContain reports whether code may be valid. False means it certainly is
// not listed.
func (f *Filter) MayContain(code string) bool {
	code = Normalize(code)
	if !f.acceptLen(code) {
		return false
	}
	return f.f.TestString(code)
}

// Len is the number of codes accepted into the filter. With a single source
// it counts list lines, duplicates included.
func (f *Filter) Len() int { return f.count }

func (f *Filter) acceptLen(code string) bool {
	if code == "" {
		return false
	}
	if f.minL > 0 && len(code) < f.minL {
		return false
	}
	if f.maxL > 0 && len(code) > f.maxL {
		return false
	}
	return true
}

// Load reads the configured lists and builds the filter.
func Load(ctx context.Context, cfg Config) (*Filter, error) {
	if len(cfg.Files) == 0 {
		return nil, errors.New("no promo code files configured")
	}
	if cfg.MinSources < 1 {
		cfg.MinSources = 1
	}
	if cfg.MinSources > len(cfg.Files) {
		return nil, errors.Errorf("min sources %d exceeds %d files", cfg.MinSources, len(cfg.Files))
	}
	if cfg.Capacity == 0 {
		cfg.Capacity = 1_000_000
	}
	if cfg.FalsePositiveRate <= 0 {
		cfg.FalsePositiveRate = 0.001
	}
	for _, f := range cfg.Files {
		if _, err := os.Stat(f); err != nil {
			return nil, errors.Wrapf(err, "check file %s", f)
		}
	}

	l := &loader{
		cfg:  cfg,
		lg:   zctx.From(ctx).Named("promo"),
		tmpl: &Filter{minL: cfg.MinLength, maxL: cfg.MaxLength},
	}

	// Pass 1: one bloom filter per list, built concurrently.
	l.lg.Info("Pass 1: building bloom filters", zap.Int("files", len(cfg.Files)))
	filters, counts, err := l.buildFilters(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "build bloom filters")
	}

	if cfg.MinSources == 1 {
		union := filters[0]
		total := counts[0]
		for i, f := range filters[1:] {
			if err := union.Merge(f); err != nil {
				return nil, errors.Wrap(err, "merge filters")
			}
			total += counts[i+1]
		}
		return &Filter{f: union, count: total, minL: cfg.MinLength, maxL: cfg.MaxLength}, nil
	}

	// Pass 2: keep codes present in at least MinSources lists.
	l.lg.Info("Pass 2: finding codes shared by lists", zap.Int("min_sources", cfg.MinSources))
	valid, err := l.findShared(ctx, filters)
	if err != nil {
		return nil, errors.Wrap(err, "find shared codes")
	}
	l.lg.Info("Promo codes loaded", zap.Int("count", len(valid)))

	f := bloom.NewWithEstimates(uint(max(len(valid), 1)), cfg.FalsePositiveRate)
	for _, code := range valid {
		f.AddString(code)
	}
	return &Filter{f: f, count: len(valid), minL: cfg.MinLength, maxL: cfg.MaxLength}, nil
}

type loader struct {
	cfg  Config
	lg   *zap.Logger
	tmpl *Filter
}

func (l *loader) buildFilters(ctx context.Context) ([]*bloom.BloomFilter, []int, error) {
	filters := make([]*bloom.BloomFilter, len(l.cfg.Files))
	counts := make([]int, len(l.cfg.Files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range l.cfg.Files {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(l.cfg.Capacity, l.cfg.FalsePositiveRate)
			var count int
			if err := streamGzFile(ctx, path, func(code string) {
				if !l.tmpl.acceptLen(code) {
					return
				}
				filter.AddString(code)
				count++
				if count%progressEvery == 0 {
					l.lg.Info("Pass 1 progress", zap.Int("file", i+1), zap.Int("codes", count))
				}
			}); err != nil {
				return errors.Wrapf(err, "build filter for file %d", i+1)
			}
			l.lg.Debug("Pass 1 complete", zap.Int("file", i+1), zap.Int("total_codes", count))

			filters[i] = filter
			counts[i] = count
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return filters, counts, nil
}

func (l *loader) findShared(ctx context.Context, filters []*bloom.BloomFilter) ([]string, error) {
	results := make([]map[string]uint, len(l.cfg.Files))
	need := l.cfg.MinSources - 1

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range l.cfg.Files {
		g.Go(func() error {
			candidates := make(map[string]uint)
			fileBit := uint(1) << uint(i)

			if err := streamGzFile(ctx, path, func(code string) {
				if !l.tmpl.acceptLen(code) {
					return
				}
				var others int
				for j, f := range filters {
					if j != i && f.TestString(code) {
						others++
						if others >= need {
							candidates[code] |= fileBit
							return
						}
					}
				}
			}); err != nil {
				return errors.Wrapf(err, "scan file %d for candidates", i+1)
			}
			l.lg.Debug("Pass 2 complete", zap.Int("file", i+1), zap.Int("candidates", len(candidates)))

			results[i] = candidates
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string]uint)
	for _, r := range results {
		for code, mask := range r {
			merged[code] |= mask
		}
	}

	var valid []string
	for code, mask := range merged {
		if bits.OnesCount(mask) >= l.cfg.MinSources {
			valid = append(valid, code)
		}
	}
	return valid, nil
}

// streamGzFile opens a gzip-compressed file and calls fn for each normalized,
// non-empty line.
func streamGzFile(ctx context.Context, path string, fn func(code string)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if code := Normalize(scanner.Text()); code != "" {
			fn(code)
		}
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}

	return nil
}
