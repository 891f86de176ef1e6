package metrics

import (
	"time"

	"github.com/cuemby/adcm/pkg/log"
	"github.com/cuemby/adcm/pkg/storage"
	"github.com/cuemby/adcm/pkg/types"
)

// Collector periodically samples the store into the inventory gauges
type Collector struct {
	store    *storage.Store
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a collector sampling every interval
func NewCollector(store *storage.Store, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		store:    store,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		c.Collect()

		for {
			select {
			case <-ticker.C:
				c.Collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

// Collect samples the store once
func (c *Collector) Collect() {
	err := c.store.View(func(tx *storage.Tx) error {
		c.collectObjects(tx)
		c.collectConcerns(tx)
		return nil
	})
	if err != nil {
		logger := log.WithComponent("metrics")
		logger.Warn().Err(err).Msg("failed to collect metrics")
	}
	OutboxPending.Set(float64(c.store.OutboxLen()))
}

func (c *Collector) collectObjects(tx *storage.Tx) {
	for _, kind := range types.ObjectTypes {
		objs, err := storage.ListObjects(tx, kind, nil)
		if err != nil {
			continue
		}
		ObjectsTotal.WithLabelValues(string(kind)).Set(float64(len(objs)))
	}
}

func (c *Collector) collectConcerns(tx *storage.Tx) {
	items, err := storage.Concerns.List(tx, nil)
	if err != nil {
		return
	}
	counts := map[types.ConcernType]int{
		types.ConcernLock:  0,
		types.ConcernIssue: 0,
		types.ConcernFlag:  0,
	}
	for _, c := range items {
		counts[c.Type]++
	}
	for kind, n := range counts {
		ConcernsTotal.WithLabelValues(string(kind)).Set(float64(n))
	}
}
