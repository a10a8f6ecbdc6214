package hub

import (
	"github.com/pseudocoder/livereload/internal/logging"
)

// BroadcastReload queues a reload message for file on every open session
// and returns how many sessions accepted it. Sessions that are closing or
// whose queue is full are dropped, each reporting once to the change
// handler. It never blocks on a slow browser.
func (h *Hub) BroadcastReload(file string) int {
	return h.Broadcast(NewReloadMessage(file))
}

// Broadcast sends msg to every open session. See BroadcastReload.
func (h *Hub) Broadcast(msg Message) int {
	h.mu.RLock()
	stopped := h.stopped
	h.mu.RUnlock()
	if stopped {
		return 0
	}

	data, err := msg.encode()
	if err != nil {
		logging.Errorf("hub: failed to encode %s message: %v", msg.Type, err)
		return 0
	}

	delivered := 0
	var failed []*Client
	for _, c := range h.snapshot() {
		if c.trySend(data) {
			delivered++
			continue
		}
		failed = append(failed, c)
	}

	for _, c := range failed {
		if h.removeClient(c) {
			logging.Warnf("hub: dropped session %s that could not accept %s", c.id, msg.Type)
		}
	}

	logging.Infof("hub: sent %s for %s to %d session(s)", msg.Type, msg.File, delivered)
	return delivered
}
