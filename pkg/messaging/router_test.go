package messaging

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestRouter_AddReportsFirst(t *testing.T) {
	r := NewRouter()

	assert.True(t, r.Add("ch", func(string) {}))
	assert.False(t, r.Add("ch", func(string) {}))
	assert.True(t, r.Add("other", func(string) {}))
	assert.Equal(t, 2, r.Len("ch"))
	assert.Equal(t, []string{"ch", "other"}, r.Channels())
}

func TestRouter_DispatchInRegistrationOrder(t *testing.T) {
	r := NewRouter()
	var got []string
	for _, tag := range []string{"first", "second", "third"} {
		tag := tag
		r.Add("ch", func(msg string) { got = append(got, tag+"="+msg) })
	}

	n := r.Dispatch(Message{Channel: "ch", Payload: "m"})

	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"first=m", "second=m", "third=m"}, got)
}

func TestRouter_DispatchUnknownChannel(t *testing.T) {
	r := NewRouter()
	r.Add("ch", func(string) { t.Fatal("unexpected delivery") })

	assert.Zero(t, r.Dispatch(Message{Channel: "elsewhere", Payload: "m"}))
}

func TestRouter_RemoveDropsAllListeners(t *testing.T) {
	r := NewRouter()
	r.Add("ch", func(string) {})
	r.Add("ch", func(string) {})

	r.Remove("ch")

	assert.Zero(t, r.Len("ch"))
	assert.Zero(t, r.Dispatch(Message{Channel: "ch"}))
	assert.True(t, r.Add("ch", func(string) {}))
}

func TestRouter_PanickingListenerStopsIteration(t *testing.T) {
	r := NewRouter()
	var got []string
	r.Add("ch", func(string) { got = append(got, "before") })
	r.Add("ch", func(string) { panic("listener failed") })
	r.Add("ch", func(string) { got = append(got, "after") })

	assert.PanicsWithValue(t, "listener failed", func() {
		r.Dispatch(Message{Channel: "ch", Payload: "m"})
	})
	assert.Equal(t, []string{"before"}, got)
}

func TestRouter_RunStopsWhenStreamCloses(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	r := NewRouter()
	var mu sync.Mutex
	var got []string
	r.Add("ch", func(msg string) {
		mu.Lock()
		got = append(got, msg)
		mu.Unlock()
	})

	messages := make(chan Message, 3)
	done := make(chan struct{})
	go func() {
		r.Run(messages)
		close(done)
	}()

	messages <- Message{Channel: "ch", Payload: "1"}
	messages <- Message{Channel: "ch", Payload: "2"}
	close(messages)
	<-done

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"1", "2"}, got)
}
