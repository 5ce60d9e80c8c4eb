package notification

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, event Event) error {
	return m.Called(ctx, event).Error(0)
}

func TestMulti(t *testing.T) {
	ev := Event{Type: SessionStarted, SessionID: "s1"}
	ok := new(MockNotifier)
	ok.On("Notify", mock.Anything, ev).Return(nil).Once()
	bad := new(MockNotifier)
	bad.On("Notify", mock.Anything, ev).Return(errors.New("down")).Once()
	last := new(MockNotifier)
	last.On("Notify", mock.Anything, ev).Return(nil).Once()

	err := Multi{ok, bad, last}.Notify(context.Background(), ev)
	assert.EqualError(t, err, "down")
	ok.AssertExpectations(t)
	bad.AssertExpectations(t)
	last.AssertExpectations(t)

	assert.NoError(t, Multi{}.Notify(context.Background(), ev))
}

func TestConsoleNotifier(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	n := NewConsoleNotifier(logger)

	assert.NoError(t, n.Notify(context.Background(), Event{Type: SessionStopped, SessionID: "s1", Reason: "duration reached"}))
	assert.Contains(t, buf.String(), "session_stopped")
	assert.Contains(t, buf.String(), "duration reached")

	buf.Reset()
	assert.NoError(t, n.Notify(context.Background(), Event{Type: TradeSuccess, SessionID: "s1"}))
	assert.Empty(t, buf.String())
}
