package ensagent

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/everFinance/ensagent/schema"
	"github.com/segmentio/kafka-go"
)

const (
	RegistrationTopic = "ensagent_registration"

	eventBufferSize = 256
)

type KWriter struct {
	w *kafka.Writer
}

func NewKWriter(topic string, uri string) (*KWriter, error) {
	w := &kafka.Writer{
		Addr:     kafka.TCP(uri),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	}

	return &KWriter{
		w: w,
	}, nil
}

func (kw *KWriter) Write(body []byte) error {
	return kw.w.WriteMessages(
		context.Background(),
		kafka.Message{
			Value: body,
		},
	)
}

func (kw *KWriter) Close() {
	kw.w.Close()
}

type messageWriter interface {
	Write(body []byte) error
}

// EventPublisher is an EventSink that ships registration events to kafka off the
// registration path. Events are dropped, with a warning, when the buffer is full.
type EventPublisher struct {
	w      messageWriter
	events chan schema.KafkaRegistrationEvent
	wg     sync.WaitGroup
	once   sync.Once
}

func NewEventPublisher(w messageWriter) *EventPublisher {
	p := &EventPublisher{
		w:      w,
		events: make(chan schema.KafkaRegistrationEvent, eventBufferSize),
	}
	p.wg.Add(1)
	go p.loop()
	return p
}

func (p *EventPublisher) Publish(ev schema.KafkaRegistrationEvent) {
	select {
	case p.events <- ev:
	default:
		log.Warn("kafka event buffer full, event dropped", "runId", ev.RunId, "stage", ev.Stage)
	}
}

func (p *EventPublisher) loop() {
	defer p.wg.Done()
	for ev := range p.events {
		body, err := json.Marshal(ev)
		if err != nil {
			log.Error("marshal kafka event failed", "err", err)
			continue
		}
		if err := p.w.Write(body); err != nil {
			log.Error("kafka write failed", "err", err, "runId", ev.RunId, "stage", ev.Stage)
		}
	}
}

// Close flushes buffered events.
func (p *EventPublisher) Close() {
	p.once.Do(func() {
		close(p.events)
		p.wg.Wait()
	})
}
