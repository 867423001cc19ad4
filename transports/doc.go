// Package transports groups the adapters that carry raw telegrams between a
// peer and the worker pool. Each adapter moves bytes only: decoding, dispatch
// and reply construction stay in the messaging package.
//
//   - rabbitmq: AMQP queue in, reply to ReplyTo or a fixed route
//   - kafka: topic in, reply topic out, offsets committed in order
//   - tcp: framed stream, replies on the same connection
package transports
