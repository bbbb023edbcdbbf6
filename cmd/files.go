package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ibrahiminano/pipflow-sub001/internal/model"
	"github.com/ibrahiminano/pipflow-sub001/internal/strategy"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// strategyFile is either a full strategy or a template type with its config.
type strategyFile struct {
	Strategy *model.TradingStrategy `yaml:"strategy"`
	Type     string                 `yaml:"type"`
	Config   map[string]interface{} `yaml:"config"`
	Risk     *model.RiskRules       `yaml:"risk"`
}

func readStrategy(path string) (model.TradingStrategy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.TradingStrategy{}, err
	}
	return parseStrategy(data)
}

func parseStrategy(data []byte) (model.TradingStrategy, error) {
	var f strategyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return model.TradingStrategy{}, fmt.Errorf("parse strategy: %w", err)
	}
	if f.Strategy != nil {
		if err := f.Strategy.Validate(); err != nil {
			return model.TradingStrategy{}, err
		}
		return *f.Strategy, nil
	}
	// the template factory takes JSON-style numbers
	config := make(map[string]interface{}, len(f.Config))
	for k, v := range f.Config {
		if n, ok := v.(int); ok {
			v = float64(n)
		}
		config[k] = v
	}
	return strategy.NewStrategy(f.Type, config, f.Risk)
}

func readBars(path, symbol string, tf model.Timeframe) ([]model.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseBars(f, symbol, tf)
}

// parseBars reads timestamp,open,high,low,close,volume rows. A header row is
// skipped. Timestamps are RFC 3339 or unix seconds.
func parseBars(r io.Reader, symbol string, tf model.Timeframe) ([]model.Bar, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 6
	cr.TrimLeadingSpace = true

	var bars []model.Bar
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if line == 1 && strings.EqualFold(rec[0], "timestamp") {
			continue
		}
		b, err := parseRow(rec, symbol, tf)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		bars = append(bars, b)
	}
	if err := model.ValidateBars(bars); err != nil {
		return nil, err
	}
	return bars, nil
}

func parseRow(rec []string, symbol string, tf model.Timeframe) (model.Bar, error) {
	ts, err := parseTime(rec[0])
	if err != nil {
		return model.Bar{}, err
	}
	var vals [5]decimal.Decimal
	for i := range vals {
		if vals[i], err = decimal.NewFromString(rec[i+1]); err != nil {
			return model.Bar{}, fmt.Errorf("column %d: %w", i+2, err)
		}
	}
	return model.Bar{
		Symbol:    symbol,
		Timeframe: tf,
		Timestamp: ts,
		Open:      vals[0],
		High:      vals[1],
		Low:       vals[2],
		Close:     vals[3],
		Volume:    vals[4],
	}, nil
}

func parseTime(s string) (time.Time, error) {
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("timestamp %q", s)
	}
	return ts.UTC(), nil
}
