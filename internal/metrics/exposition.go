package metrics

import (
	"fmt"
	"sort"
	"strings"
)

type labelKey struct {
	instance string
	database string
}

type outcomeKey struct {
	instance string
	database string
	success  bool
}

// Render produces the text exposition of the collected records: family
// comment lines (# HELP, # TYPE) followed by per-sample lines. Duration and
// size gauges report the most recent observation per (instance, database);
// the *_total counters aggregate run counts by outcome.
func (c *Collector) Render() string {
	c.mu.Lock()
	backups := append([]BackupRecord(nil), c.backups...)
	restores := append([]RestoreRecord(nil), c.restores...)
	c.mu.Unlock()

	var b strings.Builder
	renderOperation(&b, "backup", backupSamples(backups))
	renderOperation(&b, "restore", restoreSamples(restores))
	return b.String()
}

type operationSamples struct {
	durations map[labelKey]float64
	sizes     map[labelKey]float64
	counts    map[outcomeKey]int
}

func backupSamples(records []BackupRecord) operationSamples {
	s := newOperationSamples()
	for _, r := range records {
		k := labelKey{r.Instance, r.Database}
		s.durations[k] = r.DurationSeconds
		s.sizes[k] = float64(r.SizeBytes)
		s.counts[outcomeKey{r.Instance, r.Database, r.Success}]++
	}
	return s
}

func restoreSamples(records []RestoreRecord) operationSamples {
	s := newOperationSamples()
	for _, r := range records {
		k := labelKey{r.Instance, r.Database}
		s.durations[k] = r.DurationSeconds
		s.sizes[k] = float64(r.SizeBytes)
		s.counts[outcomeKey{r.Instance, r.Database, r.Success}]++
	}
	return s
}

func newOperationSamples() operationSamples {
	return operationSamples{
		durations: make(map[labelKey]float64),
		sizes:     make(map[labelKey]float64),
		counts:    make(map[outcomeKey]int),
	}
}

func renderOperation(b *strings.Builder, op string, s operationSamples) {
	writeGauge(b, fmt.Sprintf("vya_%s_duration_seconds", op),
		fmt.Sprintf("Duration of the most recent %s run.", op), s.durations)
	writeGauge(b, fmt.Sprintf("vya_%s_size_bytes", op),
		fmt.Sprintf("Artifact size of the most recent %s run.", op), s.sizes)
	writeCounter(b, fmt.Sprintf("vya_%s_total", op),
		fmt.Sprintf("Total %s runs by outcome.", op), s.counts)
}

func writeGauge(b *strings.Builder, name, help string, samples map[labelKey]float64) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s gauge\n", name)

	keys := make([]labelKey, 0, len(samples))
	for k := range samples {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].instance != keys[j].instance {
			return keys[i].instance < keys[j].instance
		}
		return keys[i].database < keys[j].database
	})

	for _, k := range keys {
		fmt.Fprintf(b, "%s{instance=%q,database=%q} %g\n", name, k.instance, k.database, samples[k])
	}
}

func writeCounter(b *strings.Builder, name, help string, counts map[outcomeKey]int) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s counter\n", name)

	keys := make([]outcomeKey, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].instance != keys[j].instance {
			return keys[i].instance < keys[j].instance
		}
		if keys[i].database != keys[j].database {
			return keys[i].database < keys[j].database
		}
		return !keys[i].success && keys[j].success
	})

	for _, k := range keys {
		fmt.Fprintf(b, "%s{instance=%q,database=%q,success=\"%t\"} %d\n",
			name, k.instance, k.database, k.success, counts[k])
	}
}
