package kafkasink

import "errors"

var (
	ErrNoBrokers   = errors.New("kafka brokers is empty")
	ErrEmptyTopic  = errors.New("kafka topic is empty")
	ErrProducerNil = errors.New("kafka producer cannot be nil")
)
