package cli

import (
	"spendcast/internal/amqp"
	"spendcast/internal/config"
	"spendcast/internal/events"
	"spendcast/internal/log"
)

// Publishers holds the configured RunCompleted sinks. AMQP is nil when
// AMQP_URL is empty or the broker was unreachable at startup.
type Publishers struct {
	Fanout events.Fanout
	AMQP   *amqp.Client
	kafka  *events.KafkaPublisher
}

// InitPublishers connects the optional Kafka and AMQP sinks. A broker that
// cannot be reached is logged and skipped; forecasting does not depend on it.
func InitPublishers(logger *log.Logger, cfg *config.Config) *Publishers {
	p := &Publishers{}
	if len(cfg.KafkaBrokers) > 0 {
		p.kafka = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		p.Fanout = append(p.Fanout, p.kafka)
		logger.Info("Kafka publisher enabled", "topic", cfg.KafkaTopic, "brokers", len(cfg.KafkaBrokers))
	}
	if cfg.AMQPURL != "" {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
		if err != nil {
			logger.Warn("AMQP unavailable, run events will not be published there", log.FieldError, err)
		} else {
			p.AMQP = client
			p.Fanout = append(p.Fanout, client)
			logger.Info("AMQP publisher enabled", "exchange", cfg.AMQPExchange)
		}
	}
	return p
}

// Close releases both connections.
func (p *Publishers) Close() {
	if p.kafka != nil {
		_ = p.kafka.Close()
	}
	if p.AMQP != nil {
		_ = p.AMQP.Close()
	}
}
