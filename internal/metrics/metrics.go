// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// sessionStates はセッション状態ゲージが追跡する状態名の一覧。
var sessionStates = []string{"uninitialized", "loading", "authenticated", "anonymous"}

// Collector はPrometheusメトリクスを収集する実装。
// session.MetricsCollectorインターフェースを満たす。
type Collector struct {
	loginSuccess    prometheus.Counter
	loginFail       prometheus.Counter
	registerSuccess prometheus.Counter
	registerFail    prometheus.Counter
	compensation    prometheus.Counter
	providerStatus  *prometheus.CounterVec
	providerLatency prometheus.Histogram
	sessionState    *prometheus.GaugeVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		loginSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "timebank_login_success_total",
			Help: "ログイン成功の合計数",
		}),
		loginFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "timebank_login_fail_total",
			Help: "ログイン失敗の合計数",
		}),
		registerSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "timebank_register_success_total",
			Help: "ユーザー登録成功の合計数",
		}),
		registerFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "timebank_register_fail_total",
			Help: "ユーザー登録失敗の合計数",
		}),
		compensation: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "timebank_register_compensation_total",
			Help: "プロフィール作成失敗による補償サインアウトの合計数",
		}),
		providerStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "timebank_provider_status_total",
			Help: "IDプロバイダーAPIのHTTPステータスコード別レスポンス数",
		}, []string{"status_code"}),
		providerLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "timebank_provider_latency_seconds",
			Help:    "IDプロバイダーAPI呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		sessionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "timebank_session_state",
			Help: "現在のセッション状態（該当する状態が1、それ以外は0）",
		}, []string{"state"}),
	}

	reg.MustRegister(
		c.loginSuccess,
		c.loginFail,
		c.registerSuccess,
		c.registerFail,
		c.compensation,
		c.providerStatus,
		c.providerLatency,
		c.sessionState,
	)

	return c
}

// RecordLoginSuccess はログイン成功を記録する。
func (c *Collector) RecordLoginSuccess() {
	c.loginSuccess.Inc()
}

// RecordLoginFailure はログイン失敗を記録する。
func (c *Collector) RecordLoginFailure() {
	c.loginFail.Inc()
}

// RecordRegisterSuccess はユーザー登録成功を記録する。
func (c *Collector) RecordRegisterSuccess() {
	c.registerSuccess.Inc()
}

// RecordRegisterFailure はユーザー登録失敗を記録する。
func (c *Collector) RecordRegisterFailure() {
	c.registerFail.Inc()
}

// RecordCompensation は補償サインアウトの実行を記録する。
func (c *Collector) RecordCompensation() {
	c.compensation.Inc()
}

// RecordProviderStatus はIDプロバイダーAPIのHTTPステータスコードを記録する。
func (c *Collector) RecordProviderStatus(statusCode int) {
	c.providerStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordProviderLatency はIDプロバイダーAPI呼び出しのレイテンシを記録する。
func (c *Collector) RecordProviderLatency(duration time.Duration) {
	c.providerLatency.Observe(duration.Seconds())
}

// RecordSessionState は現在のセッション状態を記録する。
// 該当状態のゲージを1、それ以外を0に設定する。
func (c *Collector) RecordSessionState(state string) {
	for _, s := range sessionStates {
		v := 0.0
		if s == state {
			v = 1.0
		}
		c.sessionState.WithLabelValues(s).Set(v)
	}
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// latencyTransport はIDプロバイダーへのHTTPリクエストを計測するRoundTripper。
type latencyTransport struct {
	base      http.RoundTripper
	collector *Collector
}

// NewLatencyTransport はプロバイダーAPI呼び出しのレイテンシとステータスコードを
// 記録するRoundTripperを返す。identityクライアントのTransportとして使用する。
func NewLatencyTransport(base http.RoundTripper, collector *Collector) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &latencyTransport{base: base, collector: collector}
}

// RoundTrip はリクエストを委譲し、レイテンシとステータスコードを記録する。
func (t *latencyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.base.RoundTrip(req)
	t.collector.RecordProviderLatency(time.Since(start))

	if resp != nil {
		t.collector.RecordProviderStatus(resp.StatusCode)
	}
	return resp, err
}
