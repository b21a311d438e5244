package portal

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/godbus/dbus/v5"
)

// Portal methods do not return their result directly: they return a Request
// object path and the result arrives later as a Response signal on that
// path. The client chooses a handle_token so it can subscribe to the request
// path before the portal answers, closing the race between the method return
// and the signal.

const (
	responseOK        = 0
	responseCancelled = 1
)

type responseWaiters struct {
	mu      sync.Mutex
	waiters map[dbus.ObjectPath]chan *dbus.Signal
	seq     atomic.Uint64
}

func newResponseWaiters() *responseWaiters {
	return &responseWaiters{waiters: make(map[dbus.ObjectPath]chan *dbus.Signal)}
}

// nextToken mints a unique handle token and the request path the portal will
// derive from it for the given sender.
func (w *responseWaiters) nextToken(sender string) (string, dbus.ObjectPath) {
	token := fmt.Sprintf("voxd_%d", w.seq.Add(1))
	return token, requestPath(sender, token)
}

// requestPath predicts the Request object path for a sender and token.
func requestPath(sender, token string) dbus.ObjectPath {
	munged := strings.ReplaceAll(strings.TrimPrefix(sender, ":"), ".", "_")
	return dbus.ObjectPath("/org/freedesktop/portal/desktop/request/" + munged + "/" + token)
}

func (w *responseWaiters) add(path dbus.ObjectPath) chan *dbus.Signal {
	ch := make(chan *dbus.Signal, 1)
	w.mu.Lock()
	w.waiters[path] = ch
	w.mu.Unlock()
	return ch
}

func (w *responseWaiters) remove(path dbus.ObjectPath) {
	w.mu.Lock()
	delete(w.waiters, path)
	w.mu.Unlock()
}

// deliver routes a Response signal to its waiter, if any.
func (w *responseWaiters) deliver(sig *dbus.Signal) {
	w.mu.Lock()
	ch, ok := w.waiters[sig.Path]
	if ok {
		delete(w.waiters, sig.Path)
	}
	w.mu.Unlock()
	if ok {
		ch <- sig
	}
}

// awaitResponse blocks until the Response signal for the request arrives.
// The predicted waiter must be registered before the method call; if the
// portal returns a different request path (older portal versions), a second
// waiter is registered for it.
func (w *responseWaiters) awaitResponse(ctx context.Context, predicted dbus.ObjectPath, call *dbus.Call) (map[string]dbus.Variant, error) {
	predictedCh := w.add(predicted)
	defer w.remove(predicted)

	if call.Err != nil {
		return nil, call.Err
	}
	var actual dbus.ObjectPath
	if err := call.Store(&actual); err != nil {
		return nil, fmt.Errorf("reading request handle: %w", err)
	}

	actualCh := predictedCh
	if actual != predicted {
		actualCh = w.add(actual)
		defer w.remove(actual)
	}

	select {
	case sig := <-predictedCh:
		return parseResponse(sig)
	case sig := <-actualCh:
		return parseResponse(sig)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// parseResponse unpacks a Response signal body: a result code and a vardict.
func parseResponse(sig *dbus.Signal) (map[string]dbus.Variant, error) {
	if len(sig.Body) < 2 {
		return nil, fmt.Errorf("malformed portal response on %s", sig.Path)
	}
	code, ok := sig.Body[0].(uint32)
	if !ok {
		return nil, fmt.Errorf("malformed portal response code on %s", sig.Path)
	}
	results, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return nil, fmt.Errorf("malformed portal response results on %s", sig.Path)
	}

	switch code {
	case responseOK:
		return results, nil
	case responseCancelled:
		return nil, fmt.Errorf("portal request cancelled by user")
	default:
		return nil, fmt.Errorf("portal request failed with code %d", code)
	}
}
