package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	backupDurationDesc = prometheus.NewDesc(
		"vya_backup_duration_seconds",
		"Duration of the most recent backup run.",
		[]string{"instance", "database"}, nil)
	backupSizeDesc = prometheus.NewDesc(
		"vya_backup_size_bytes",
		"Artifact size of the most recent backup run.",
		[]string{"instance", "database"}, nil)
	backupTotalDesc = prometheus.NewDesc(
		"vya_backup_total",
		"Total backup runs by outcome.",
		[]string{"instance", "database", "success"}, nil)

	restoreDurationDesc = prometheus.NewDesc(
		"vya_restore_duration_seconds",
		"Duration of the most recent restore run.",
		[]string{"instance", "database"}, nil)
	restoreSizeDesc = prometheus.NewDesc(
		"vya_restore_size_bytes",
		"Artifact size of the most recent restore run.",
		[]string{"instance", "database"}, nil)
	restoreTotalDesc = prometheus.NewDesc(
		"vya_restore_total",
		"Total restore runs by outcome.",
		[]string{"instance", "database", "success"}, nil)

	scheduleTotalDesc = prometheus.NewDesc(
		"vya_schedule_runs_total",
		"Total schedule executions by status.",
		[]string{"schedule", "status"}, nil)

	storageBytesDesc = prometheus.NewDesc(
		"vya_storage_bytes",
		"Bytes held by a storage backend at the last snapshot.",
		[]string{"backend"}, nil)
	storageObjectsDesc = prometheus.NewDesc(
		"vya_storage_objects",
		"Objects held by a storage backend at the last snapshot.",
		[]string{"backend"}, nil)
)

// Bridge adapts a Collector to the prometheus.Collector interface so the
// records can be served through a client_golang registry.
type Bridge struct {
	c *Collector
}

// NewBridge wraps c for registration with a prometheus registry.
func NewBridge(c *Collector) *Bridge { return &Bridge{c: c} }

func (b *Bridge) Describe(ch chan<- *prometheus.Desc) {
	ch <- backupDurationDesc
	ch <- backupSizeDesc
	ch <- backupTotalDesc
	ch <- restoreDurationDesc
	ch <- restoreSizeDesc
	ch <- restoreTotalDesc
	ch <- scheduleTotalDesc
	ch <- storageBytesDesc
	ch <- storageObjectsDesc
}

func (b *Bridge) Collect(ch chan<- prometheus.Metric) {
	bs := backupSamples(b.c.BackupMetrics())
	emitOperation(ch, bs, backupDurationDesc, backupSizeDesc, backupTotalDesc)

	rs := restoreSamples(b.c.RestoreMetrics())
	emitOperation(ch, rs, restoreDurationDesc, restoreSizeDesc, restoreTotalDesc)

	schedRuns := make(map[[2]string]int)
	for _, r := range b.c.ScheduleMetrics() {
		schedRuns[[2]string{r.ScheduleName, r.Status}]++
	}
	for k, n := range schedRuns {
		ch <- prometheus.MustNewConstMetric(scheduleTotalDesc,
			prometheus.CounterValue, float64(n), k[0], k[1])
	}

	// Latest snapshot per backend wins.
	latest := make(map[string]StorageRecord)
	for _, r := range b.c.StorageMetrics() {
		latest[r.Backend] = r
	}
	for backend, r := range latest {
		ch <- prometheus.MustNewConstMetric(storageBytesDesc,
			prometheus.GaugeValue, float64(r.TotalBytes), backend)
		ch <- prometheus.MustNewConstMetric(storageObjectsDesc,
			prometheus.GaugeValue, float64(r.ObjectCount), backend)
	}
}

func emitOperation(ch chan<- prometheus.Metric, s operationSamples, durDesc, sizeDesc, totalDesc *prometheus.Desc) {
	for k, v := range s.durations {
		ch <- prometheus.MustNewConstMetric(durDesc, prometheus.GaugeValue, v, k.instance, k.database)
	}
	for k, v := range s.sizes {
		ch <- prometheus.MustNewConstMetric(sizeDesc, prometheus.GaugeValue, v, k.instance, k.database)
	}
	for k, n := range s.counts {
		success := "false"
		if k.success {
			success = "true"
		}
		ch <- prometheus.MustNewConstMetric(totalDesc,
			prometheus.CounterValue, float64(n), k.instance, k.database, success)
	}
}
