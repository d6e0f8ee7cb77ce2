package main

import (
	"io"
	"log/slog"
	"net/http"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"

	"gitea.girino.org/girino/tracker-relay/tracker"
	"gitea.girino.org/girino/tracker-relay/trackerstore"
)

const metricPrefix = "tracker_relay_"

// trackerFamilies turns the counters of each named tracker into metric
// families, one label value per tracker.
func trackerFamilies(trackers map[string]tracker.Stats) []*dto.MetricFamily {
	type metric struct {
		name, help string
		typ        dto.MetricType
		value      func(tracker.Stats) float64
	}
	metrics := []metric{
		{"messages", "Messages currently tracked.", dto.MetricType_GAUGE,
			func(s tracker.Stats) float64 { return float64(s.Len) }},
		{"capacity", "Maximum number of tracked messages.", dto.MetricType_GAUGE,
			func(s tracker.Stats) float64 { return float64(s.Cap) }},
		{"added_total", "Messages stored.", dto.MetricType_COUNTER,
			func(s tracker.Stats) float64 { return float64(s.Added) }},
		{"duplicates_total", "Messages ignored because their id was already tracked.", dto.MetricType_COUNTER,
			func(s tracker.Stats) float64 { return float64(s.Duplicates) }},
		{"evicted_total", "Messages evicted for capacity.", dto.MetricType_COUNTER,
			func(s tracker.Stats) float64 { return float64(s.Evicted) }},
		{"deleted_total", "Messages deleted explicitly.", dto.MetricType_COUNTER,
			func(s tracker.Stats) float64 { return float64(s.Deleted) }},
		{"rejected_total", "Messages rejected as invalid.", dto.MetricType_COUNTER,
			func(s tracker.Stats) float64 { return float64(s.Rejected) }},
	}

	names := []string{"store", "seen"}
	out := make([]*dto.MetricFamily, 0, len(metrics))
	for _, m := range metrics {
		mf := &dto.MetricFamily{
			Name: proto.String(metricPrefix + m.name),
			Help: proto.String(m.help),
			Type: m.typ.Enum(),
		}
		for _, name := range names {
			s, ok := trackers[name]
			if !ok {
				continue
			}
			mf.Metric = append(mf.Metric, sample(m.typ, m.value(s), "tracker", name))
		}
		out = append(out, mf)
	}
	return out
}

// queryFamilies exposes the store's query timings.
func queryFamilies(s trackerstore.Stats) []*dto.MetricFamily {
	paths := []struct {
		name  string
		stats trackerstore.IndexStats
	}{{"scan", s.Scan}, {"id", s.ByID}}

	queries := &dto.MetricFamily{
		Name: proto.String(metricPrefix + "queries_total"),
		Help: proto.String("Queries answered, by lookup path."),
		Type: dto.MetricType_COUNTER.Enum(),
	}
	seconds := &dto.MetricFamily{
		Name: proto.String(metricPrefix + "query_seconds_total"),
		Help: proto.String("Time spent answering queries, by lookup path."),
		Type: dto.MetricType_COUNTER.Enum(),
	}
	for _, p := range paths {
		queries.Metric = append(queries.Metric, sample(dto.MetricType_COUNTER, float64(p.stats.Runcount), "path", p.name))
		seconds.Metric = append(seconds.Metric, sample(dto.MetricType_COUNTER, p.stats.TotalTime.Seconds(), "path", p.name))
	}
	return []*dto.MetricFamily{queries, seconds}
}

func sample(typ dto.MetricType, v float64, label, value string) *dto.Metric {
	m := &dto.Metric{
		Label: []*dto.LabelPair{{Name: proto.String(label), Value: proto.String(value)}},
	}
	if typ == dto.MetricType_COUNTER {
		m.Counter = &dto.Counter{Value: proto.Float64(v)}
	} else {
		m.Gauge = &dto.Gauge{Value: proto.Float64(v)}
	}
	return m
}

func writeMetrics(w io.Writer, families []*dto.MetricFamily) error {
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}

// metricsHandler serves the store and seen-filter counters in the
// Prometheus text format.
func metricsHandler(store *trackerstore.TrackerStore, seen *seenFilter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := store.Stats()
		families := trackerFamilies(map[string]tracker.Stats{
			"store": st.Tracker,
			"seen":  seen.Stats(),
		})
		families = append(families, queryFamilies(st)...)

		w.Header().Set("Content-Type", string(expfmt.NewFormat(expfmt.TypeTextPlain)))
		if err := writeMetrics(w, families); err != nil {
			slog.Warn("writing metrics", "err", err)
		}
	}
}
