package context

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-1")
	assert.Equal(t, "req-1", RequestIDFromContext(ctx))
	assert.Equal(t, "", RequestIDFromContext(context.Background()))
	assert.Equal(t, context.Background(), WithRequestID(context.Background(), ""))
}

func TestActorRoundTrip(t *testing.T) {
	kind, id := ActorFromContext(WithActor(context.Background(), "identity", "usr_1"))
	assert.Equal(t, "identity", kind)
	assert.Equal(t, "usr_1", id)
}
