// Package replycache provides messaging.ReplyCache implementations.
//
// Brokers redeliver a telegram when the consumer dies between processing and
// acknowledging it. With a reply cache the dispatcher answers the redelivery
// with the reply it already produced instead of running the handler twice.
// Memory suits a single instance; Redis shares replies between instances that
// consume the same queue.
package replycache
