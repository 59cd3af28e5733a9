/*
 * MIT License
 *
 * Copyright (c) 2020 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Package metrics exposes the Engine's per-tick counters as
// prometheus/client_golang gauges and counters, on a private registry an
// operator scrapes via Registry().
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	registry = prometheus.NewRegistry()

	activeConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "webserv",
		Name:      "active_connections",
		Help:      "Number of currently open client connections.",
	})

	activeCGI = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "webserv",
		Name:      "active_cgi_processes",
		Help:      "Number of currently running CGI child processes.",
	})

	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "webserv",
		Name:      "requests_total",
		Help:      "Requests served, by resolved status code class.",
	}, []string{"status_class"})

	bytesSentTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "webserv",
		Name:      "bytes_sent_total",
		Help:      "Total response bytes written to clients.",
	})
)

func init() {
	registry.MustRegister(activeConnections, activeCGI, requestsTotal, bytesSentTotal)
	for _, class := range []string{"2xx", "3xx", "4xx", "5xx", "other"} {
		requestsTotal.WithLabelValues(class)
	}
}

// Registry returns the private prometheus registry an operator can serve
// over an HTTP endpoint (promhttp.HandlerFor(metrics.Registry(), ...)).
func Registry() *prometheus.Registry {
	return registry
}

// SetActiveConnections records the current connection count, called by the
// Engine once per tick.
func SetActiveConnections(n int) {
	activeConnections.Set(float64(n))
}

// SetActiveCGI records the current count of in-flight CGI processes.
func SetActiveCGI(n int) {
	activeCGI.Set(float64(n))
}

// ObserveRequest increments the request counter for the status code's
// class (2xx/3xx/4xx/5xx).
func ObserveRequest(statusCode int) {
	class := "other"
	switch {
	case statusCode >= 200 && statusCode < 300:
		class = "2xx"
	case statusCode >= 300 && statusCode < 400:
		class = "3xx"
	case statusCode >= 400 && statusCode < 500:
		class = "4xx"
	case statusCode >= 500:
		class = "5xx"
	}
	requestsTotal.WithLabelValues(class).Inc()
}

// ObserveBytesSent adds n to the running total of response bytes written.
func ObserveBytesSent(n int) {
	if n <= 0 {
		return
	}
	bytesSentTotal.Add(float64(n))
}
