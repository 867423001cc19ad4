// Package rabbitmq holds the AMQP plumbing used by the RabbitMQ transport.
//
//   - ConnectionManager keeps one connection alive and reconnects with backoff
//   - ChannelPool hands out channels and replaces closed ones
//   - Consumer delivers telegrams with manual acknowledgement
//   - Publisher publishes replies with publisher confirms
//
// Exchanges and queues are expected to exist; declaring them is left to the
// broker administration.
package rabbitmq
