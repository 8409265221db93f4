// Package api implements the REST API of the analysis server.
//
// Datasets are uploaded once as delimited text and analysed by any number of
// sessions, each holding its own filter predicate and churn threshold.
// Every session analysis is recomputed from the dataset on request; the flat
// metrics of the latest analysis feed the alert engine and the Prometheus
// exposition served at /metrics.
package api
