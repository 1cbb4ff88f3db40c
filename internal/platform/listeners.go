// Package platform implements the notification capabilities for a desktop or
// kiosk installation: local presentation, shell bridge over MQTT, push
// gateway tokens and a persisted permission prompt.
package platform

import (
	"sync"

	"github.com/tphakala/notifyd/internal/logger"
)

const componentName = "platform"

// listeners is a registry of callbacks keyed by subscription id.
type listeners[T any] struct {
	mu     sync.RWMutex
	nextID uint64
	fns    map[uint64]func(T)
}

func (l *listeners[T]) add(fn func(T)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fns == nil {
		l.fns = make(map[uint64]func(T))
	}
	id := l.nextID
	l.nextID++
	l.fns[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.fns, id)
			l.mu.Unlock()
		})
	}
}

func (l *listeners[T]) emit(v T) {
	l.mu.RLock()
	fns := make([]func(T), 0, len(l.fns))
	for _, fn := range l.fns {
		fns = append(fns, fn)
	}
	l.mu.RUnlock()

	for _, fn := range fns {
		fn(v)
	}
}

func (l *listeners[T]) len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.fns)
}

func moduleLogger(log logger.Logger, sub string) logger.Logger {
	if log == nil {
		log = logger.Global().Module(componentName)
	}
	return log.Module(sub)
}
