package monitoring

import (
	"fmt"
	"net/http"
	"strings"
)

// PrometheusHandler serves the monitor's counters in Prometheus text
// exposition format, hand-rolled to avoid pulling in the full
// prometheus/client_golang dependency. Mount at "/metrics".
func (m *Monitor) PrometheusHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		fmt.Fprintln(w, "# HELP duet_agent_calls_total Provider calls by provider, model, and outcome status")
		fmt.Fprintln(w, "# TYPE duet_agent_calls_total counter")
		for label, count := range m.CallCounts() {
			parts := strings.SplitN(label, "|", 3)
			provider, model, status := parts[0], parts[1], parts[2]
			fmt.Fprintf(w, "duet_agent_calls_total{provider=%q,model=%q,status=%q} %d\n", provider, model, status, count)
		}
		fmt.Fprintln(w)

		input, output := m.Tokens()
		fmt.Fprintln(w, "# HELP duet_agent_input_tokens_total Cumulative input tokens reported by the provider")
		fmt.Fprintln(w, "# TYPE duet_agent_input_tokens_total counter")
		for provider, n := range input {
			fmt.Fprintf(w, "duet_agent_input_tokens_total{provider=%q} %d\n", provider, n)
		}
		fmt.Fprintln(w)

		fmt.Fprintln(w, "# HELP duet_agent_output_tokens_total Cumulative output tokens reported by the provider")
		fmt.Fprintln(w, "# TYPE duet_agent_output_tokens_total counter")
		for provider, n := range output {
			fmt.Fprintf(w, "duet_agent_output_tokens_total{provider=%q} %d\n", provider, n)
		}
		fmt.Fprintln(w)

		fmt.Fprintln(w, "# HELP duet_active_conversations Number of conversations currently running")
		fmt.Fprintln(w, "# TYPE duet_active_conversations gauge")
		fmt.Fprintf(w, "duet_active_conversations %d\n", m.ActiveConversations())
	})
}
