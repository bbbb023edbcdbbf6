package infrastructure

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestSubject(t *testing.T) {
	assert.Equal(t, "lab.backtest.BTCUSDT", Subject(SubjectBacktest, "BTCUSDT"))
	assert.Equal(t, "lab.progress.run_1_a", Subject(SubjectProgress, "run.1 a"))
	assert.Equal(t, "lab.abtest._", Subject(SubjectABTest, ""))
	assert.Equal(t, "lab.evolution.x__", Subject(SubjectEvolution, "x*>"))
}

func TestPublisher_NilStreamIsNoop(t *testing.T) {
	var nilPub *Publisher
	assert.NotPanics(t, func() { nilPub.Publish("lab.backtest.x", 1) })
	assert.NotPanics(t, func() { NewPublisher(nil, zap.NewNop()).Publish("lab.backtest.x", map[string]int{"a": 1}) })
}

func TestNewLogger(t *testing.T) {
	l, err := NewLogger("debug", "")
	assert.NoError(t, err)
	assert.NotNil(t, l)

	_, err = NewLogger("loud", "")
	assert.Error(t, err)
}
