package processor

import (
	"context"
	"encoding/json"

	"github.com/ibrahiminano/pipflow-sub001/internal/infrastructure"
	"github.com/ibrahiminano/pipflow-sub001/internal/model"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// BarSink receives completed bars.
type BarSink interface {
	Add(bars ...model.Bar)
}

// KlineSubject is where upstream collectors publish completed bars.
const KlineSubject = "market.kline.*.*"

// KlineIngestor copies completed bars from the market bus into a sink so
// backtests can run against recent history.
type KlineIngestor struct {
	js     nats.JetStreamContext
	sink   BarSink
	logger *zap.Logger
}

func NewKlineIngestor(js nats.JetStreamContext, sink BarSink, logger *zap.Logger) *KlineIngestor {
	return &KlineIngestor{js: js, sink: sink, logger: logger}
}

func (p *KlineIngestor) Run(ctx context.Context) error {
	sub, err := p.js.Subscribe(KlineSubject, func(msg *nats.Msg) {
		p.handle(msg.Data)
		msg.Ack()
	}, nats.Durable("lab-kline-ingestor"), nats.ManualAck())
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		if err := sub.Unsubscribe(); err != nil {
			p.logger.Warn("failed to unsubscribe kline ingestor", zap.Error(err))
		}
	}()
	p.logger.Info("kline ingestor started", zap.String("subject", KlineSubject))
	return nil
}

func (p *KlineIngestor) handle(data []byte) {
	var bar model.Bar
	if err := json.Unmarshal(data, &bar); err != nil {
		p.logger.Error("failed to unmarshal kline", zap.Error(err))
		return
	}
	if bar.Symbol == "" || !bar.Timeframe.Valid() {
		p.logger.Warn("dropping kline without symbol or timeframe",
			zap.String("symbol", bar.Symbol), zap.String("timeframe", string(bar.Timeframe)))
		return
	}
	infrastructure.BarsIngested.WithLabelValues(bar.Symbol).Inc()
	p.sink.Add(bar)
}
