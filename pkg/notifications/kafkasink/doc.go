// Package kafkasink publishes dead-lettered notifications to a Kafka topic
// (notification.dlq by default) for triage tools that consume it.
//
// Combine it with a durable sink through notifications.MultiSink:
//
//	kafka, err := kafkasink.New(cfg)
//	if err != nil {
//		return err
//	}
//	defer kafka.Close()
//	sink := notifications.MultiSink{pgSink, kafka}
package kafkasink
