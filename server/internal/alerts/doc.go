// Package alerts evaluates threshold rules against the flat metric map of
// each session analysis and delivers fire/resolve notifications to Slack,
// Teams or generic HTTP webhooks.
package alerts
