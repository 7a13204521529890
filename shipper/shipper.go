package shipper

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"go.shiplog.dev/core/metrics"
	"go.shiplog.dev/core/placement"
	"go.shiplog.dev/core/task"
	"golang.org/x/time/rate"
)

const (
	// DefaultInterval is the period between scans of a served Shipper.
	DefaultInterval = 10 * time.Second
	// DefaultMemoSize bounds the shipped-file memo of each destination.
	DefaultMemoSize = 4096
)

// ShipFunc copies File |f| to destination |dest|.
type ShipFunc func(ctx context.Context, dest int, f File) error

// CleanFunc deletes File |f| from the local filesystem.
type CleanFunc func(ctx context.Context, f File) error

// Config configures a Shipper.
type Config struct {
	Fs     afero.Fs
	Placer placement.Placer
	DBPath string
	DBID   string
	// Interval between scans of Serve. Zero means DefaultInterval.
	Interval time.Duration
	// Limit is the per-destination rate of ship attempts, with burst Burst.
	// Zero means unlimited.
	Limit rate.Limit
	Burst int
	// MemoSize of per-destination memos of shipped files. Zero means DefaultMemoSize.
	MemoSize int
}

// Shipper scans for published transaction files, ships them to each of its
// destinations, and cleans them once shipped to all of them.
type Shipper struct {
	cfg     Config
	dests   []*destination
	shipFn  ShipFunc
	cleanFn CleanFunc

	scanMu  sync.Mutex // Serializes scans.
	mu      sync.Mutex // Guards |pending|.
	pending []Pending
}

// destination is the backlog state of a single write archive.
type destination struct {
	index   int
	limiter *rate.Limiter
	// Files shipped to this destination but not yet cleaned. A file evicted
	// from the memo is shipped again, which is safe but wasteful.
	shipped *lru.Cache
}

// Pending is a published file which hasn't yet been cleaned.
type Pending struct {
	File
	// Shipped indicates, per destination, whether the file was shipped.
	Shipped []bool
}

// ScanResult summarizes a single Scan.
type ScanResult struct {
	Listed   int
	Shipped  int
	Cleaned  int
	Failures []*ShipError
}

// NewEngine returns a Shipper of |destinations| write archives, which ships
// and cleans files using the provided functions.
func NewEngine(cfg Config, destinations int, ship ShipFunc, clean CleanFunc) (*Shipper, error) {
	if destinations < 1 {
		return nil, errors.New("at least one destination is required")
	} else if cfg.Fs == nil || cfg.Placer == nil {
		return nil, errors.New("Fs and Placer are required")
	}
	if cfg.Interval == 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.MemoSize == 0 {
		cfg.MemoSize = DefaultMemoSize
	}
	var limit, burst = cfg.Limit, cfg.Burst
	if limit == 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}

	var s = &Shipper{cfg: cfg, shipFn: ship, cleanFn: clean}
	for i := 0; i != destinations; i++ {
		var memo, err = lru.New(cfg.MemoSize)
		if err != nil {
			return nil, err
		}
		s.dests = append(s.dests, &destination{
			index:   i,
			limiter: rate.NewLimiter(limit, burst),
			shipped: memo,
		})
	}
	return s, nil
}

// New returns a Shipper to each of the Archivers, in order of destination index.
// Local files are cleaned through the first Archiver.
func New(cfg Config, archivers ...Archiver) (*Shipper, error) {
	if len(archivers) == 0 {
		return nil, errors.New("at least one destination is required")
	}
	var ship = func(ctx context.Context, dest int, f File) error {
		return archivers[dest].CopyToWriteArchive(ctx, f.Path, f.Name())
	}
	var clean = func(ctx context.Context, f File) error {
		return archivers[0].DeleteLocalObject(ctx, f.Path)
	}
	return NewEngine(cfg, len(archivers), ship, clean)
}

// Serve scans immediately, and then on every Interval until |ctx| is done.
func (s *Shipper) Serve(ctx context.Context) error {
	var ticker = time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	log.WithFields(log.Fields{
		"db":           s.cfg.DBPath,
		"dbID":         s.cfg.DBID,
		"destinations": len(s.dests),
		"interval":     s.cfg.Interval,
	}).Info("shipper started")

	for {
		if _, err := s.Scan(ctx); err != nil && ctx.Err() == nil {
			log.WithFields(log.Fields{
				"db":  s.cfg.DBPath,
				"err": err,
			}).Warn("failed to scan log segments (will retry)")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Scan lists published files, ships each to every destination which hasn't
// yet received it, and cleans files which every destination has received.
// Ship failures are reported in the ScanResult and retried by the next Scan.
// An error is returned only if published files could not be listed.
func (s *Shipper) Scan(ctx context.Context) (ScanResult, error) {
	s.scanMu.Lock()
	defer s.scanMu.Unlock()

	var started = time.Now()
	defer func() { scanDurationSeconds.Observe(time.Since(started).Seconds()) }()

	var files, err = List(s.cfg.Fs, s.cfg.Placer, s.cfg.DBPath, s.cfg.DBID)
	if err != nil {
		return ScanResult{}, errors.WithMessage(err, "listing published files")
	}
	var result = ScanResult{Listed: len(files)}

	// Each destination works through its backlog concurrently. A failure
	// stops only the failing destination's backlog.
	var shipped = make([]int, len(s.dests))
	var failures = make([]*ShipError, len(s.dests))
	var g = task.NewGroup(ctx)

	for _, d := range s.dests {
		var d = d
		g.Queue(fmt.Sprintf("destination %d", d.index), func() error {
			shipped[d.index], failures[d.index] = s.shipBacklog(g.Context(), d, files)
			return nil
		})
	}
	g.GoRun()
	_ = g.Wait() // Tasks don't fail.

	for i := range s.dests {
		result.Shipped += shipped[i]
		if failures[i] != nil {
			result.Failures = append(result.Failures, failures[i])
		}
	}

	var pending []Pending
	for _, f := range files {
		var flags = s.shippedFlags(f)
		if !allTrue(flags) || ctx.Err() != nil {
			pending = append(pending, Pending{File: f, Shipped: flags})
			continue
		}

		if err := s.cleanFn(ctx, f); err != nil {
			log.WithFields(log.Fields{
				"path": f.Path,
				"err":  err,
			}).Error("failed to clean shipped file")
			cleansTotal.WithLabelValues(metrics.Fail).Inc()

			pending = append(pending, Pending{File: f, Shipped: flags})
			continue
		}
		cleansTotal.WithLabelValues(metrics.Ok).Inc()
		result.Cleaned++

		for _, d := range s.dests {
			d.shipped.Remove(f.Path)
		}
	}

	s.mu.Lock()
	s.pending = pending
	s.mu.Unlock()
	pendingFiles.Set(float64(len(pending)))

	if result.Shipped != 0 || result.Cleaned != 0 || len(result.Failures) != 0 {
		log.WithFields(log.Fields{
			"db":       s.cfg.DBPath,
			"listed":   result.Listed,
			"shipped":  result.Shipped,
			"cleaned":  result.Cleaned,
			"failures": len(result.Failures),
			"pending":  len(pending),
			"dur":      time.Since(started),
		}).Info("completed shipper scan")
	}
	return result, nil
}

// Pending returns the files which remained uncleaned after the last Scan.
func (s *Shipper) Pending() []Pending {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out = make([]Pending, len(s.pending))
	copy(out, s.pending)
	return out
}

// shipBacklog ships |files| not yet shipped to |d|, in order. It returns the
// number of files shipped, and the ShipError at which it stopped, if any.
// Stopping at the first failure keeps each destination's shipped files a
// prefix of publish order.
func (s *Shipper) shipBacklog(ctx context.Context, d *destination, files []File) (int, *ShipError) {
	var n int
	for _, f := range files {
		if d.shipped.Contains(f.Path) {
			continue
		}
		if err := d.limiter.Wait(ctx); err != nil {
			return n, nil // Cancelled.
		}

		var err = s.shipFn(ctx, d.index, f)
		shipsTotal.WithLabelValues(strconv.Itoa(d.index), metrics.Status(err)).Inc()

		if err != nil {
			if ctx.Err() != nil {
				return n, nil
			}
			var shipErr = &ShipError{Index: d.index, Path: f.Path, Err: err}

			log.WithFields(log.Fields{
				"destination": d.index,
				"path":        f.Path,
				"err":         err,
			}).Warn("failed to ship (will retry)")

			return n, shipErr
		}

		log.WithFields(log.Fields{
			"destination": d.index,
			"path":        f.Path,
			"size":        humanize.Bytes(uint64(f.Size)),
		}).Debug("shipped file")

		d.shipped.Add(f.Path, struct{}{})
		shippedBytesTotal.Add(float64(f.Size))
		n++
	}
	return n, nil
}

func (s *Shipper) shippedFlags(f File) []bool {
	var out = make([]bool, len(s.dests))
	for i, d := range s.dests {
		out[i] = d.shipped.Contains(f.Path)
	}
	return out
}

func allTrue(b []bool) bool {
	for _, v := range b {
		if !v {
			return false
		}
	}
	return true
}
