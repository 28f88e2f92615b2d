package broker

import "github.com/IBM/sarama"

// headerCarrier adapts sarama's record headers to otel's TextMapCarrier
// so trace context rides along on the wire, used by both producer and
// consumer instead of duplicating the adapter per direction.
type headerCarrier struct {
	headers []sarama.RecordHeader
}

func (c *headerCarrier) Get(key string) string {
	for _, h := range c.headers {
		if string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c *headerCarrier) Set(key, value string) {
	c.headers = append(c.headers, sarama.RecordHeader{
		Key:   []byte(key),
		Value: []byte(value),
	})
}

func (c *headerCarrier) Keys() []string {
	keys := make([]string, len(c.headers))
	for i, h := range c.headers {
		keys[i] = string(h.Key)
	}
	return keys
}

func fromConsumerHeaders(headers []*sarama.RecordHeader) *headerCarrier {
	c := &headerCarrier{}
	for _, h := range headers {
		c.headers = append(c.headers, *h)
	}
	return c
}
