// Package realtime fans live case events out to connected editors. Each case
// has one topic owned by a single goroutine, so messages for a case are
// delivered in the order they were accepted while different cases proceed in
// parallel.
package realtime

import "sync"

const subscriberBuffer = 32

type cmdKind int

const (
	cmdJoin cmdKind = iota
	cmdLeave
	cmdPublish
	cmdStop
)

type command struct {
	kind   cmdKind
	key    string
	ch     chan any
	msg    any
	except string
}

type topic struct {
	cmds chan command
	refs int
}

type Hub struct {
	mu     sync.Mutex
	topics map[string]*topic
}

func NewHub() *Hub {
	return &Hub{topics: make(map[string]*topic)}
}

// Subscribe adds a channel to the case topic and returns the stream of
// messages for it. The channel is closed when the subscriber leaves or falls
// too far behind.
func (h *Hub) Subscribe(caseID, channelKey string) <-chan any {
	ch := make(chan any, subscriberBuffer)

	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.topics[caseID]
	if !ok {
		t = &topic{cmds: make(chan command, 128)}
		h.topics[caseID] = t
		go t.run()
	}
	t.refs++
	t.cmds <- command{kind: cmdJoin, key: channelKey, ch: ch}
	return ch
}

// Unsubscribe removes a channel from the case topic. The last subscriber to
// leave stops the topic goroutine.
func (h *Hub) Unsubscribe(caseID, channelKey string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.topics[caseID]
	if !ok {
		return
	}
	t.cmds <- command{kind: cmdLeave, key: channelKey}
	t.refs--
	if t.refs <= 0 {
		delete(h.topics, caseID)
		t.cmds <- command{kind: cmdStop}
	}
}

// Broadcast sends a message to every subscriber of the case topic. Cases with
// no subscribers drop the message.
func (h *Hub) Broadcast(caseID string, message any) {
	h.publish(caseID, message, "")
}

// PublishExcept sends a message to every subscriber of the case topic other
// than the named channel. Used for client chatter so senders do not hear
// their own echo.
func (h *Hub) PublishExcept(caseID string, message any, exceptChannel string) {
	h.publish(caseID, message, exceptChannel)
}

func (h *Hub) publish(caseID string, message any, except string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.topics[caseID]
	if !ok {
		return
	}
	t.cmds <- command{kind: cmdPublish, msg: message, except: except}
}

// run owns the subscriber set for one topic. Commands arrive in hub order and
// are applied one at a time, which gives per-topic FIFO delivery.
func (t *topic) run() {
	subs := make(map[string]chan any)
	for cmd := range t.cmds {
		switch cmd.kind {
		case cmdJoin:
			if prev, ok := subs[cmd.key]; ok {
				close(prev)
			}
			subs[cmd.key] = cmd.ch
		case cmdLeave:
			if ch, ok := subs[cmd.key]; ok {
				close(ch)
				delete(subs, cmd.key)
			}
		case cmdPublish:
			for key, ch := range subs {
				if key == cmd.except {
					continue
				}
				select {
				case ch <- cmd.msg:
				default:
					// Subscriber is not draining; drop it rather than
					// stall the whole topic.
					close(ch)
					delete(subs, key)
				}
			}
		case cmdStop:
			for _, ch := range subs {
				close(ch)
			}
			return
		}
	}
}
