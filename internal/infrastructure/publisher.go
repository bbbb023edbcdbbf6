package infrastructure

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Subjects of the LAB stream.
const (
	SubjectBacktest     = "lab.backtest.%s"
	SubjectOptimization = "lab.optimization.%s"
	SubjectABTest       = "lab.abtest.%s"
	SubjectEvolution    = "lab.evolution.%s"
	SubjectProgress     = "lab.progress.%s"
)

// Subject fills a subject template with a token safe for NATS.
func Subject(template, token string) string {
	token = strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_").Replace(token)
	if token == "" {
		token = "_"
	}
	return fmt.Sprintf(template, token)
}

// Publisher sends result documents to JetStream. A nil stream makes every
// publish a no-op so the engine runs without a bus.
type Publisher struct {
	js     nats.JetStreamContext
	logger *zap.Logger
}

func NewPublisher(js nats.JetStreamContext, logger *zap.Logger) *Publisher {
	return &Publisher{js: js, logger: logger}
}

// Publish marshals v to JSON. Failures are logged, not returned.
func (p *Publisher) Publish(subject string, v interface{}) {
	if p == nil || p.js == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		p.logger.Error("failed to marshal result", zap.String("subject", subject), zap.Error(err))
		return
	}
	if _, err := p.js.Publish(subject, data); err != nil {
		p.logger.Warn("failed to publish result", zap.String("subject", subject), zap.Error(err))
	}
}
