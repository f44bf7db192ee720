package expertrouter

import (
	"context"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// kvMetricNames are the gauge names inference servers (vLLM-family and
// OpenAI-compatible proxies in front of them) commonly expose for KV-cache
// occupancy. The first one found in the /metrics body wins.
var kvMetricNames = []string{
	"kv_cache_usage_perc",
	"gpu_cache_usage_perc",
	"kv_cache_utilization",
	"cache_utilization",
}

var metricValuePattern = regexp.MustCompile(`([0-9]*\.?[0-9]+)\s*$`)

// fetchKVUtilization probes baseURL's /metrics endpoint for a KV-cache
// utilization gauge and normalizes it to the [0,1] range regardless of
// whether the server reports it on a 0-1 or 0-100 scale (spec §4.2). The
// second return is false whenever the metric cannot be read at all, which
// the caller treats as "proceed without delay".
func fetchKVUtilization(ctx context.Context, baseURL string) (float64, bool) {
	reqCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/metrics", nil)
	if err != nil {
		return 0, false
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, false
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, false
	}

	return parseKVUtilization(string(body))
}

// parseKVUtilization scans a Prometheus text-exposition body line by line
// for the first recognized gauge name and normalizes its value.
func parseKVUtilization(body string) (float64, bool) {
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		for _, name := range kvMetricNames {
			if !strings.HasPrefix(line, name) {
				continue
			}
			match := metricValuePattern.FindStringSubmatch(line)
			if match == nil {
				continue
			}
			value, err := strconv.ParseFloat(match[1], 64)
			if err != nil {
				continue
			}
			if value > 1 {
				value /= 100
			}
			return value, true
		}
	}
	return 0, false
}
