package api

import (
	"log/slog"
	"net/http"
	"sort"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

const metricPrefix = "stuckorders_"

// exposition serves GET /metrics in the Prometheus text format: store and
// alert gauges plus the metrics of the latest analysis of every live session.
func (h *Handler) exposition(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	format := expfmt.NewFormat(expfmt.TypeTextPlain)
	w.Header().Set("Content-Type", string(format))
	enc := expfmt.NewEncoder(w, format)
	for _, mf := range h.families() {
		if err := enc.Encode(mf); err != nil {
			slog.Warn("api: metrics encode failed", "family", mf.GetName(), "err", err)
			return
		}
	}
}

func (h *Handler) families() []*dto.MetricFamily {
	datasets, sessions := h.store.Counts()
	fams := []*dto.MetricFamily{
		gaugeFamily("datasets", "Uploaded datasets held in memory.", gauge(float64(datasets))),
		gaugeFamily("sessions", "Live analysis sessions.", gauge(float64(sessions))),
		gaugeFamily("alerts_firing", "Alerts currently firing.", gauge(float64(h.alerts.Firing()))),
	}

	var records []*dto.Metric
	for _, d := range h.store.Datasets() {
		records = append(records, gauge(float64(len(d.Table.Records)), "dataset_id", d.ID, "name", d.Name))
	}
	if len(records) > 0 {
		fams = append(fams, gaugeFamily("dataset_records", "Stuck orders per dataset.", records...))
	}

	live := make(map[string]bool, sessions)
	for _, s := range h.store.Sessions() {
		live[s.ID] = true
	}

	h.mu.Lock()
	ids := make([]string, 0, len(h.metrics))
	for id := range h.metrics {
		if !live[id] {
			delete(h.metrics, id) // evicted since last analysis
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var values []*dto.Metric
	for _, id := range ids {
		m := h.metrics[id]
		names := make([]string, 0, len(m))
		for k := range m {
			names = append(names, k)
		}
		sort.Strings(names)
		for _, k := range names {
			values = append(values, gauge(m[k], "session_id", id, "metric", k))
		}
	}
	h.mu.Unlock()

	if len(values) > 0 {
		fams = append(fams, gaugeFamily("session_metric",
			"Latest analysis metrics per session. Undefined values are omitted.", values...))
	}
	return fams
}

func gaugeFamily(name, help string, metrics ...*dto.Metric) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name:   ptr(metricPrefix + name),
		Help:   ptr(help),
		Type:   dto.MetricType_GAUGE.Enum(),
		Metric: metrics,
	}
}

// gauge builds a gauge sample from v and alternating label name/value pairs.
func gauge(v float64, labels ...string) *dto.Metric {
	m := &dto.Metric{Gauge: &dto.Gauge{Value: ptr(v)}}
	for i := 0; i+1 < len(labels); i += 2 {
		m.Label = append(m.Label, &dto.LabelPair{Name: ptr(labels[i]), Value: ptr(labels[i+1])})
	}
	return m
}

func ptr[T any](v T) *T { return &v }
