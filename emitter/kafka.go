package emitter

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/camden-git/facewatch/models"
)

const kafkaFlushTimeout = 10 * time.Second

// KafkaPublisher produces events keyed by identity so one person's events stay
// on one partition.
type KafkaPublisher struct {
	producer     *kafka.Producer
	topic        string
	deliveryChan chan kafka.Event

	sent   atomic.Int64
	acked  atomic.Int64
	failed atomic.Int64

	wg        sync.WaitGroup
	done      chan struct{}
	closeOnce sync.Once
}

var _ Publisher = (*KafkaPublisher)(nil)

func NewKafkaPublisher(bootstrapServers, topic string) (*KafkaPublisher, error) {
	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":   bootstrapServers,
		"acks":                "all",
		"enable.idempotence":  true,
		"linger.ms":           20,
		"compression.type":    "snappy",
		"delivery.timeout.ms": 120000,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	kp := &KafkaPublisher{
		producer:     p,
		topic:        topic,
		deliveryChan: make(chan kafka.Event, 1000),
		done:         make(chan struct{}),
	}
	kp.wg.Add(1)
	go kp.handleDeliveryReports()

	log.Printf("emitter: kafka producer ready (topic %s, servers %s)", topic, bootstrapServers)
	return kp, nil
}

func (kp *KafkaPublisher) handleDeliveryReports() {
	defer kp.wg.Done()
	for {
		select {
		case <-kp.done:
			return
		case e := <-kp.deliveryChan:
			m, ok := e.(*kafka.Message)
			if !ok {
				continue
			}
			if m.TopicPartition.Error != nil {
				kp.failed.Add(1)
				log.Printf("emitter: kafka delivery failed: %v", m.TopicPartition.Error)
			} else {
				kp.acked.Add(1)
			}
		}
	}
}

// Message builds the kafka message for a record
func (kp *KafkaPublisher) Message(rec models.RecognitionLog) (*kafka.Message, error) {
	payload, err := FromLog(rec).ToJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	return &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &kp.topic, Partition: kafka.PartitionAny},
		Key:            []byte(rec.IdentityKey),
		Value:          payload,
		Headers: []kafka.Header{
			{Key: "camera", Value: []byte(rec.CameraName)},
			{Key: "known", Value: []byte(fmt.Sprintf("%t", rec.Known))},
		},
	}, nil
}

// Publish enqueues the record; delivery is reported asynchronously
func (kp *KafkaPublisher) Publish(ctx context.Context, rec models.RecognitionLog) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := kp.Message(rec)
	if err != nil {
		return err
	}
	if err := kp.producer.Produce(msg, kp.deliveryChan); err != nil {
		kp.failed.Add(1)
		return fmt.Errorf("kafka produce: %w", err)
	}
	kp.sent.Add(1)
	return nil
}

func (kp *KafkaPublisher) Close() error {
	kp.closeOnce.Do(func() {
		if remaining := kp.producer.Flush(int(kafkaFlushTimeout.Milliseconds())); remaining > 0 {
			log.Printf("emitter: %d kafka messages still queued after flush", remaining)
		}
		close(kp.done)
		kp.wg.Wait()
		kp.producer.Close()
		log.Printf("emitter: kafka producer closed (sent %d, acked %d, failed %d)",
			kp.sent.Load(), kp.acked.Load(), kp.failed.Load())
	})
	return nil
}
