// Package publisher ships analysis results to Kafka.
//
// Publish is non-blocking: every user churn profile (keyed by account ID)
// and every monthly cohort row (keyed by year_month) becomes one JSON
// message in an in-memory buffer. When the buffer is full the oldest
// message is evicted so the latest analysis is always kept.
//
// Run drains the buffer in the background for long-running (watch) mode;
// Flush drains it synchronously for one-shot batch runs. Both retry failed
// writes with truncated exponential backoff (1s to 60s, ±25% jitter).
//
// The Writer interface is satisfied by *kafka.Writer; tests inject a fake.
package publisher
