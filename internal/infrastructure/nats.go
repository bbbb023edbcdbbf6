package infrastructure

import (
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	LabStream   = "LAB"
	LabSubjects = "lab.>"
)

// InitNATS connects and makes sure the LAB result stream exists.
func InitNATS(url string, logger *zap.Logger) (*nats.Conn, nats.JetStreamContext, error) {
	nc, err := nats.Connect(url, nats.Name("strategy-lab"))
	if err != nil {
		return nil, nil, err
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, nil, err
	}

	cfg := &nats.StreamConfig{
		Name:     LabStream,
		Subjects: []string{LabSubjects},
	}
	if _, err = js.AddStream(cfg); err != nil {
		// If stream exists, we might need to update it
		if _, err = js.UpdateStream(cfg); err != nil {
			logger.Warn("failed to create or update stream", zap.String("stream", LabStream), zap.Error(err))
		}
	}

	return nc, js, nil
}
