// Package messaging publishes forwarded events to a message queue.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
)

var ErrUnknownProducer = errors.New("unknown producer type")

// Producer publishes opaque payloads to a subject on a message queue.
type Producer interface {
	String() string
	Connect(ctx context.Context, clientName string, args map[string]any) error
	Publish(ctx context.Context, subject string, data []byte) error
	Close() error
}

var (
	producersMu sync.RWMutex
	producers   = make(map[string]func() Producer)
)

// Register makes a producer available under name.
func Register(name string, factory func() Producer) {
	producersMu.Lock()
	defer producersMu.Unlock()

	producers[strings.ToLower(name)] = factory
}

// NewProducer returns an unconnected producer of the named type.
func NewProducer(name string) (Producer, error) {
	producersMu.RLock()
	factory, ok := producers[strings.ToLower(name)]
	producersMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProducer, name)
	}

	return factory(), nil
}

// Names lists the registered producer types.
func Names() []string {
	producersMu.RLock()
	defer producersMu.RUnlock()

	names := make([]string, 0, len(producers))
	for name := range producers {
		names = append(names, name)
	}

	slices.Sort(names)

	return names
}

// GetEntry returns the value for key, matching keys case insensitively.
func GetEntry(m map[string]any, key string) any {
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v
		}
	}

	return nil
}

func stringEntry(m map[string]any, key string) (string, error) {
	value, ok := GetEntry(m, key).(string)
	if !ok {
		return "", fmt.Errorf("string type assertion failed for %s", key)
	}

	return value, nil
}
