package metrics

import (
	"time"

	"github.com/cuemby/helmsman/pkg/instance"
	"github.com/cuemby/helmsman/pkg/launchqueue"
	"github.com/cuemby/helmsman/pkg/pathid"
)

// InstanceSource is the subset of the Tracker the collector polls for
// gauge metrics.
type InstanceSource interface {
	InstancesBySpec() map[pathid.Path][]*instance.Instance
}

// LeaderSource is the subset of the Cluster the collector polls.
type LeaderSource interface {
	IsLeader() bool
}

// Collector periodically snapshots the core's live state into gauge
// metrics, matching the teacher's ticker-driven collect() shape.
type Collector struct {
	instances InstanceSource
	queue     *launchqueue.Queue
	leader    LeaderSource
	interval  time.Duration
	stopCh    chan struct{}
}

// NewCollector creates a collector polling every interval (15s if
// zero, matching the teacher's default).
func NewCollector(instances InstanceSource, queue *launchqueue.Queue, leader LeaderSource, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{instances: instances, queue: queue, leader: leader, interval: interval, stopCh: make(chan struct{})}
}

// Start begins the collector's polling loop.
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop halts the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	if c.instances != nil {
		c.collectInstanceMetrics()
	}
	if c.queue != nil {
		c.collectQueueMetrics()
	}
	if c.leader != nil {
		c.collectLeaderMetrics()
	}
}

func (c *Collector) collectInstanceMetrics() {
	counts := make(map[instance.Condition]int)
	for _, instances := range c.instances.InstancesBySpec() {
		for _, inst := range instances {
			counts[inst.State.Condition]++
		}
	}
	for condition, count := range counts {
		InstancesTotal.WithLabelValues(string(condition)).Set(float64(count))
	}
}

func (c *Collector) collectQueueMetrics() {
	var pending int
	for _, r := range c.queue.List() {
		pending += r.Pending
		LaunchQueueBackoffSeconds.WithLabelValues(r.RunSpecID.String()).Set(r.Delay.Seconds())
	}
	LaunchQueuePending.Set(float64(pending))
}

func (c *Collector) collectLeaderMetrics() {
	if c.leader.IsLeader() {
		RaftIsLeader.Set(1)
	} else {
		RaftIsLeader.Set(0)
	}
}
