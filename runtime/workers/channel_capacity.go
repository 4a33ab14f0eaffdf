package workers

import (
	"context"
	"log/slog"
	"reflect"
	"time"
)

// saturationThreshold is the fill ratio above which a channel is reported at WARN.
const saturationThreshold = 0.8

type NamedChannel struct {
	Name    string
	Channel any
}

// ChannelCapacityWorker periodically samples the backlog of the delivery shards.
// Reading len(channel) and cap(channel) is non-blocking, so sampling never
// competes with the delivery workers.
type ChannelCapacityWorker struct {
	log            *slog.Logger
	channels       []NamedChannel
	metricInterval time.Duration
}

func NewChannelCapacityWorker(log *slog.Logger, channels []NamedChannel, metricInterval time.Duration) *ChannelCapacityWorker {
	return &ChannelCapacityWorker{log: log, channels: channels, metricInterval: metricInterval}
}

func (w ChannelCapacityWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.metricInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping capacity sampling")
			return nil
		case <-ticker.C:
			w.Sample()
		}
	}
}

// Sample logs the length and capacity of every channel once.
func (w ChannelCapacityWorker) Sample() {
	for _, nc := range w.channels {
		v := reflect.ValueOf(nc.Channel)
		if v.Kind() != reflect.Chan {
			w.log.Error("Provided object is not a channel", "name", nc.Name)
			continue
		}
		capacity, length := v.Cap(), v.Len()
		if capacity > 0 && float64(length) >= saturationThreshold*float64(capacity) {
			w.log.Warn("Channel close to saturation", "name", nc.Name, "length", length, "capacity", capacity)
			continue
		}
		w.log.Debug("Channel capacity", "name", nc.Name, "length", length, "capacity", capacity)
	}
}
