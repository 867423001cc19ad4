// Package kafka carries telegrams over Kafka topics with segmentio/kafka-go.
// A consumer group reader feeds the worker pool; replies go to a reply topic
// under the inbound key, so replies to one peer stay on one partition.
package kafka
