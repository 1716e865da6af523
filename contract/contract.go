//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"reflect"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker initialization
// or lifecycle events, avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// Delivery is one payload received on a topic.
type Delivery struct {
	Topic   string
	Payload []byte
}

// Subscription is a live stream of deliveries for a topic pattern.
// Deliveries is closed once the subscription is closed or the transport is lost.
type Subscription interface {
	Deliveries() <-chan Delivery
	Close() error
}

// IRelayBus is an at-least-once publish/subscribe transport over string topics.
// Patterns are either an exact topic or contain a single-segment "*" wildcard.
// Nothing is replayed to subscribers that were not connected at publish time.
type IRelayBus interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, pattern string) (Subscription, error)
	Close() error
}

// BusLoad is a point-in-time sample of the local subscription buffers.
type BusLoad struct {
	Subscriptions int
	Queued        int
	Capacity      int
}

// ILoadReporter is implemented by buses able to sample their buffers without blocking.
type ILoadReporter interface {
	Load() BusLoad
}
