package payment

// Subscribe returns a channel of state events for one order. Slow readers miss
// intermediate events rather than blocking the state machine. Call the
// returned function to unsubscribe.
func (o *Orchestrator) Subscribe(orderID string) (<-chan Event, func()) {
	ch := make(chan Event, 8)

	o.subMu.Lock()
	id := o.nextSubID
	o.nextSubID++
	if o.subscribers[orderID] == nil {
		o.subscribers[orderID] = make(map[int]chan Event)
	}
	o.subscribers[orderID][id] = ch
	o.subMu.Unlock()

	var once bool
	return ch, func() {
		o.subMu.Lock()
		defer o.subMu.Unlock()
		if once {
			return
		}
		once = true
		delete(o.subscribers[orderID], id)
		if len(o.subscribers[orderID]) == 0 {
			delete(o.subscribers, orderID)
		}
		close(ch)
	}
}

func (o *Orchestrator) publish(e Event) {
	o.subMu.Lock()
	defer o.subMu.Unlock()
	for _, ch := range o.subscribers[e.OrderID] {
		select {
		case ch <- e:
		default:
		}
	}
}
