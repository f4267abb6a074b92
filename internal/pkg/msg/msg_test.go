package msg

import (
	"testing"

	"github.com/google/uuid"
	"gotest.tools/v3/assert"
)

func TestSubscribe(t *testing.T) {
	pidPub, err := uuid.NewUUID()
	assert.NilError(t, err)

	pidSub1, err := uuid.NewUUID()
	assert.NilError(t, err)

	pidSub2, err := uuid.NewUUID()
	assert.NilError(t, err)

	pubsub := NewPublisher(pidPub)
	ch1, err := pubsub.Subscribe(pidSub1, Progress)
	assert.NilError(t, err)
	ch2, err := pubsub.Subscribe(pidSub2, Progress)
	assert.NilError(t, err)

	pubsub.Publish(Progress, "assemble")

	m1 := <-ch1
	assert.Equal(t, m1.Payload(), "assemble", "first subscriber got the published value")
	assert.Equal(t, m1.PID(), pidPub)
	assert.Equal(t, m1.Topic(), Progress)

	m2 := <-ch2
	assert.Equal(t, m2.Payload(), "assemble", "second subscriber got the published value")
}

func TestSubscribeTwiceFails(t *testing.T) {
	pidPub, err := uuid.NewUUID()
	assert.NilError(t, err)
	pidSub, err := uuid.NewUUID()
	assert.NilError(t, err)

	pubsub := NewPublisher(pidPub)
	_, err = pubsub.Subscribe(pidSub, Result)
	assert.NilError(t, err)

	_, err = pubsub.Subscribe(pidSub, Result)
	assert.Assert(t, err != nil, "second subscription on same pid and topic must fail")
}

func TestTopicsAreIsolated(t *testing.T) {
	pidPub, err := uuid.NewUUID()
	assert.NilError(t, err)
	pidSub, err := uuid.NewUUID()
	assert.NilError(t, err)

	pubsub := NewPublisher(pidPub)
	chProgress, err := pubsub.Subscribe(pidSub, Progress)
	assert.NilError(t, err)

	pubsub.Publish(Result, "summary")

	select {
	case m := <-chProgress:
		t.Fatalf("progress subscriber received result event: %v", m.Payload())
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	pidPub, err := uuid.NewUUID()
	assert.NilError(t, err)
	pidSub, err := uuid.NewUUID()
	assert.NilError(t, err)

	pubsub := NewPublisher(pidPub)
	ch, err := pubsub.Subscribe(pidSub, Progress)
	assert.NilError(t, err)

	pubsub.Unsubscribe(pidSub)

	_, open := <-ch
	assert.Assert(t, !open, "channel closed after unsubscribe")
}

func TestFullSubscriberDropsInsteadOfBlocking(t *testing.T) {
	pidPub, err := uuid.NewUUID()
	assert.NilError(t, err)
	pidSub, err := uuid.NewUUID()
	assert.NilError(t, err)

	pubsub := NewPublisher(pidPub)
	_, err = pubsub.Subscribe(pidSub, Progress)
	assert.NilError(t, err)

	for i := 0; i < 200; i++ {
		pubsub.Publish(Progress, i)
	}
	// reaching here without a reader proves Publish never blocks
}
