package bus_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SED-EEW/eewamps/bus"
)

func TestChannel_SendDeliversToSubscriber(t *testing.T) {
	c := bus.NewChannel(4)
	sub, err := c.Attach("envelope")
	require.NoError(t, err)

	require.NoError(t, c.Send("envelope", "hello"))

	msg := <-sub
	assert.Equal(t, "envelope", msg.Topic)
	assert.Equal(t, "hello", msg.Payload)
	assert.NotEmpty(t, msg.DeliveryID)
}

func TestChannel_EachMessageGetsAUniqueDeliveryID(t *testing.T) {
	c := bus.NewChannel(4)
	sub, err := c.Attach("t")
	require.NoError(t, err)

	require.NoError(t, c.Send("t", 1))
	require.NoError(t, c.Send("t", 2))

	first := <-sub
	second := <-sub
	assert.NotEqual(t, first.DeliveryID, second.DeliveryID)
}

// A saturated subscriber queue drops its oldest message rather than
// blocking the sender.
func TestChannel_OverflowDropsOldestWithoutBlocking(t *testing.T) {
	c := bus.NewChannel(2)
	sub, err := c.Attach("t")
	require.NoError(t, err)

	require.NoError(t, c.Send("t", 1))
	require.NoError(t, c.Send("t", 2))
	require.NoError(t, c.Send("t", 3)) // queue full: drops payload 1

	assert.Equal(t, uint64(1), c.Dropped())

	first := <-sub
	second := <-sub
	assert.Equal(t, 2, first.Payload)
	assert.Equal(t, 3, second.Payload)
}

func TestChannel_Sync(t *testing.T) {
	c := bus.NewChannel(4)
	assert.NoError(t, c.Sync(context.Background()))
}
