package remote

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/mschirtzinger/caldav-tasks/internal/types"
)

// SessionConstructor opens a session for an account.
// Backends register one with Register().
type SessionConstructor func(ctx context.Context, account *types.Account) (Session, error)

var (
	registry      = make(map[types.ServerType]SessionConstructor)
	registryMutex sync.RWMutex
)

// Register registers a backend for a server type.
// It panics if constructor is nil or the type is already registered.
//
//	func init() {
//	    remote.Register(types.ServerFile, Dial)
//	}
func Register(t types.ServerType, constructor SessionConstructor) {
	registryMutex.Lock()
	defer registryMutex.Unlock()

	if constructor == nil {
		panic(fmt.Sprintf("remote: Register constructor is nil for type %s", t))
	}
	if _, exists := registry[t]; exists {
		panic(fmt.Sprintf("remote: Register called twice for type %s", t))
	}
	registry[t] = constructor
}

func getConstructor(t types.ServerType) SessionConstructor {
	registryMutex.RLock()
	defer registryMutex.RUnlock()
	return registry[t]
}

// IsRegistered returns true if a backend is registered for the type.
func IsRegistered(t types.ServerType) bool {
	registryMutex.RLock()
	defer registryMutex.RUnlock()
	_, exists := registry[t]
	return exists
}

// RegisteredTypes returns all registered server types, sorted.
func RegisteredTypes() []types.ServerType {
	registryMutex.RLock()
	defer registryMutex.RUnlock()

	out := make([]types.ServerType, 0, len(registry))
	for t := range registry {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

// Unregister removes a backend. This is primarily useful for testing.
func Unregister(t types.ServerType) {
	registryMutex.Lock()
	defer registryMutex.Unlock()
	delete(registry, t)
}
