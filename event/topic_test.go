package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTopic_Publish(t *testing.T) {
	var topic Topic[int]
	var got []int

	cancel := topic.Subscribe(func(v int) { got = append(got, v) })
	topic.Subscribe(func(v int) { got = append(got, v*10) })

	topic.Publish(1)
	assert.Equal(t, []int{1, 10}, got)

	cancel()
	cancel()
	assert.Equal(t, 1, topic.Len())

	topic.Publish(2)
	assert.Equal(t, []int{1, 10, 20}, got)
}

func TestTopic_SubscribeChan(t *testing.T) {
	var topic Topic[string]
	ch, cancel := topic.SubscribeChan(1)

	topic.Publish("a")
	topic.Publish("b") // dropped, channel full

	assert.Equal(t, "a", <-ch)
	select {
	case v := <-ch:
		t.Fatalf("unexpected value %q", v)
	default:
	}

	cancel()
	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, topic.Len())

	topic.Publish("c")
}
