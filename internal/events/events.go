// Package events fans cart events out of the process: OpenTelemetry counters
// and a Kafka topic.
package events

import (
	"context"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xenking/foodcart/internal/domain/cart"
)

const meterName = "github.com/xenking/foodcart/internal/events"

// Recorder counts cart events by kind.
type Recorder struct {
	events    metric.Int64Counter
	itemCount metric.Int64Histogram
}

// NewRecorder creates the cart event instruments on mp.
func NewRecorder(mp metric.MeterProvider) (*Recorder, error) {
	meter := mp.Meter(meterName)

	events, err := meter.Int64Counter("cart.events",
		metric.WithDescription("Cart events by kind"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create cart.events counter")
	}
	itemCount, err := meter.Int64Histogram("cart.item_count",
		metric.WithDescription("Number of items in the cart after a change"),
		metric.WithUnit("{item}"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create cart.item_count histogram")
	}

	return &Recorder{events: events, itemCount: itemCount}, nil
}

// Record adds ev to the instruments.
func (r *Recorder) Record(ctx context.Context, ev cart.Event) {
	kind := metric.WithAttributes(attribute.String("kind", string(ev.Kind)))
	r.events.Add(ctx, 1, kind)
	r.itemCount.Record(ctx, int64(ev.Snapshot.Totals.ItemCount), kind)
}
