package publisher

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/economyengine/internal/order/domain"
)

type sent struct {
	topic, key string
	value      []byte
}

type capturePublisher struct {
	msgs []sent
}

func (c *capturePublisher) SendMessage(_ context.Context, topic, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.msgs = append(c.msgs, sent{topic: topic, key: key, value: data})
	return nil
}

func TestPublishOrderCompletedKeysBySimulation(t *testing.T) {
	c := &capturePublisher{}
	p := NewKafkaEventPublisher(c, "economy.events")

	err := p.PublishOrderCompleted(context.Background(), domain.OrderCompletedEvent{
		OrderID:      "ORD-1",
		SimulationID: "sim-1",
		Market:       "vehicle",
		Quantity:     decimal.NewFromInt(1),
		TotalPrice:   decimal.RequireFromString("9000"),
		OccurredOn:   time.Now(),
	})
	require.NoError(t, err)
	require.Len(t, c.msgs, 1)
	assert.Equal(t, "economy.events", c.msgs[0].topic)
	assert.Equal(t, "sim-1", c.msgs[0].key)

	var env struct {
		EventType string                     `json:"event_type"`
		Payload   domain.OrderCompletedEvent `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(c.msgs[0].value, &env))
	assert.Equal(t, "OrderCompletedEvent", env.EventType)
	assert.Equal(t, "ORD-1", env.Payload.OrderID)
}
