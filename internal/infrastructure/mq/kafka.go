package mq

import (
	"pointpay/internal/config"

	"github.com/IBM/sarama"
	"github.com/go-faster/errors"
)

// Producer Kafka 同步生产者
type Producer struct {
	producer sarama.SyncProducer
}

// NewKafkaProducer 根据配置创建 Kafka 生产者
func NewKafkaProducer(cfg *config.KafkaConfig) (*Producer, error) {
	kafkaConfig := sarama.NewConfig()
	kafkaConfig.Producer.RequiredAcks = sarama.WaitForAll // 等待所有副本确认
	kafkaConfig.Producer.Retry.Max = 3
	kafkaConfig.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(cfg.Brokers, kafkaConfig)
	if err != nil {
		return nil, errors.Wrap(err, "创建 Kafka 生产者失败")
	}
	return NewProducer(producer), nil
}

// NewProducer 包装已有的 SyncProducer（测试中传入 mocks.SyncProducer）
func NewProducer(p sarama.SyncProducer) *Producer {
	return &Producer{producer: p}
}

// SendMessage 发送消息到 Kafka
func (p *Producer) SendMessage(topic, key, value string) error {
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.StringEncoder(value),
	}

	_, _, err := p.producer.SendMessage(msg)
	if err != nil {
		return errors.Wrapf(err, "send to %s", topic)
	}
	return nil
}

func (p *Producer) Close() error {
	return p.producer.Close()
}
