// Package config loads and watches the analyzer configuration file.
//
// Top-level types:
//   - Config{Analyzer}: the YAML document
//   - AnalyzerConfig: input, output_dir, delimiter, churn_threshold,
//     evaluation_time, filter, publish
//   - Input: path or url, plus auth (apikey|bearer|basic|none), tls and
//     timeout for url inputs; secrets are referenced by environment variable
//     name and resolved by Key(), Token() and Password()
//   - FilterConfig: partial filter overlaid on the observed values by Apply
//   - PublishConfig: Kafka brokers, topics and buffer size
//
// Load(path) reads the file, applies defaults (exports dir, ",", threshold
// 30, 60s fetch timeout, 10000 message buffer), then validates.
//
// Watch(ctx, path, debounce, onChange) uses fsnotify on the parent directory
// and calls onChange once per settled burst of changes; the analyzer re-runs
// the whole analysis each time.
package config
