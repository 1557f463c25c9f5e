package mongofiles

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts pipeline activity per bucket. A nil *Metrics records
// nothing.
type Metrics struct {
	staged      *prometheus.CounterVec
	stagedBytes *prometheus.CounterVec
	commits     *prometheus.CounterVec
	downloads   *prometheus.CounterVec
}

const (
	resultSuccess  = "success"
	resultFailure  = "failure"
	resultNotFound = "not_found"
)

// NewMetrics creates the pipeline collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		staged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mongofiles",
			Name:      "staged_uploads_total",
			Help:      "Uploads read into the staging area, by outcome.",
		}, []string{"bucket", "result"}),
		stagedBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mongofiles",
			Name:      "staged_bytes_total",
			Help:      "Bytes written to the staging area.",
		}, []string{"bucket"}),
		commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mongofiles",
			Name:      "commits_total",
			Help:      "Staged files committed to a bucket, by strategy and outcome.",
		}, []string{"bucket", "strategy", "result"}),
		downloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mongofiles",
			Name:      "downloads_total",
			Help:      "Download requests, by outcome.",
		}, []string{"bucket", "result"}),
	}
	for _, c := range []prometheus.Collector{m.staged, m.stagedBytes, m.commits, m.downloads} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observeStage(bucket, result string, size int64) {
	if m == nil {
		return
	}
	m.staged.WithLabelValues(bucket, result).Inc()
	if size > 0 {
		m.stagedBytes.WithLabelValues(bucket).Add(float64(size))
	}
}

func (m *Metrics) observeCommit(bucket string, kind StrategyKind, result string) {
	if m == nil {
		return
	}
	m.commits.WithLabelValues(bucket, string(kind), result).Inc()
}

func (m *Metrics) observeDownload(bucket, result string) {
	if m == nil {
		return
	}
	m.downloads.WithLabelValues(bucket, result).Inc()
}
