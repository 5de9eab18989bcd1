// Package kstats exports the allocator's and buffer cache's counters as
// Prometheus metrics.
package kstats

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mit-pdos/xv6-kmem/bio"
	"github.com/mit-pdos/xv6-kmem/kalloc"
)

const namespace = "xv6"

func desc(subsystem, name, help string, labels ...string) *prometheus.Desc {
	return prometheus.NewDesc(
		prometheus.BuildFQName(namespace, subsystem, name), help, labels, nil)
}

var (
	kallocAllocs       = desc("kalloc", "allocs_total", "Pages handed out.")
	kallocFrees        = desc("kalloc", "frees_total", "Pages returned to a free list.")
	kallocSharedFrees  = desc("kalloc", "shared_frees_total", "Frees that only dropped a reference to a shared page.")
	kallocFailed       = desc("kalloc", "failed_total", "Allocations that found no free page.")
	kallocSteals       = desc("kalloc", "steals_total", "Batches stolen from another core.")
	kallocStolen       = desc("kalloc", "stolen_pages_total", "Pages moved by steals.")
	kallocStealRetries = desc("kalloc", "steal_retries_total", "Steal attempts retried after finding no pages.")
	kallocCowCopies    = desc("kalloc", "cow_copies_total", "Shared pages copied on write.")
	kallocFree         = desc("kalloc", "free_pages", "Free pages per core.", "cpu")
	kallocPages        = desc("kalloc", "pages", "Pages managed by the allocator.")

	bioLookups   = desc("bio", "lookups_total", "Buffer lookups.")
	bioHits      = desc("bio", "hits_total", "Lookups that found the block cached.")
	bioMisses    = desc("bio", "misses_total", "Lookups that created a buffer.")
	bioReads     = desc("bio", "disk_reads_total", "Blocks read from disk.")
	bioWrites    = desc("bio", "disk_writes_total", "Blocks written to disk.")
	bioReclaims  = desc("bio", "reclaims_total", "Buffers returned to the allocator.")
	bioNoBuffers = desc("bio", "no_buffers_total", "Lookups that failed for lack of memory.")
	bioLive      = desc("bio", "buffers", "Buffers in the cache.")
)

// Collector reads counters from an allocator, a buffer cache, or both
// (either may be nil) each time it is scraped.
type Collector struct {
	km *kalloc.Kmem
	bc *bio.Bcache
}

func NewCollector(km *kalloc.Kmem, bc *bio.Bcache) *Collector {
	return &Collector{km: km, bc: bc}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	if c.km != nil {
		for _, d := range []*prometheus.Desc{kallocAllocs, kallocFrees,
			kallocSharedFrees, kallocFailed, kallocSteals, kallocStolen,
			kallocStealRetries, kallocCowCopies, kallocFree, kallocPages} {
			ch <- d
		}
	}
	if c.bc != nil {
		for _, d := range []*prometheus.Desc{bioLookups, bioHits, bioMisses,
			bioReads, bioWrites, bioReclaims, bioNoBuffers, bioLive} {
			ch <- d
		}
	}
}

func counter(d *prometheus.Desc, v uint64) prometheus.Metric {
	return prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.km != nil {
		s := c.km.Stats()
		ch <- counter(kallocAllocs, s.Allocs)
		ch <- counter(kallocFrees, s.Frees)
		ch <- counter(kallocSharedFrees, s.SharedFrees)
		ch <- counter(kallocFailed, s.Failed)
		ch <- counter(kallocSteals, s.Steals)
		ch <- counter(kallocStolen, s.Stolen)
		ch <- counter(kallocStealRetries, s.StealRetries)
		ch <- counter(kallocCowCopies, s.CowCopies)
		for id := 0; id < c.km.NCPU(); id++ {
			ch <- prometheus.MustNewConstMetric(kallocFree, prometheus.GaugeValue,
				float64(c.km.NFreeOn(id)), strconv.Itoa(id))
		}
		ch <- prometheus.MustNewConstMetric(kallocPages, prometheus.GaugeValue,
			float64(s.Pages))
	}
	if c.bc != nil {
		s := c.bc.Stats()
		ch <- counter(bioLookups, s.Lookups)
		ch <- counter(bioHits, s.Hits)
		ch <- counter(bioMisses, s.Misses)
		ch <- counter(bioReads, s.Reads)
		ch <- counter(bioWrites, s.Writes)
		ch <- counter(bioReclaims, s.Reclaims)
		ch <- counter(bioNoBuffers, s.NoBuffers)
		ch <- prometheus.MustNewConstMetric(bioLive, prometheus.GaugeValue,
			float64(s.Live))
	}
}

// Handler registers a collector for km and bc and returns an HTTP handler
// serving it in the Prometheus exposition format.
func Handler(km *kalloc.Kmem, bc *bio.Bcache) (http.Handler, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(NewCollector(km, bc)); err != nil {
		return nil, err
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), nil
}
