package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/relaybus/relaybus/queue"
	"github.com/relaybus/relaybus/rule"
)

// inboundListener is the Inbound Handler Listener (C7): a queue.Listener
// bound to one queue name. For each delivered message it finds every
// HandlingRule that both matches the message name and targets this
// queue, invokes their handlers concurrently, and acknowledges the
// queue entry if any handler acknowledged the MessageContext.
type inboundListener struct {
	bus       *Bus
	queueName queue.Name
}

func (l *inboundListener) HandleQueuedMessage(ctx context.Context, qctx *queue.QueuedMessageContext) error {
	name := qctx.Headers.MessageName()

	var matches []rule.HandlingRule
	for _, r := range l.bus.rules.MatchingHandlingRules(name) {
		if r.QueueName == string(l.queueName) {
			matches = append(matches, r)
		}
	}

	if len(matches) == 0 {
		qctx.Acknowledge()
		return nil
	}

	mc := l.bus.newMessageContext(qctx.Headers, qctx.Content)

	var wg sync.WaitGroup
	errs := make([]error, len(matches))
	for i, r := range matches {
		wg.Add(1)
		go func(i int, h rule.MessageHandler) {
			defer wg.Done()
			errs[i] = invokeHandler(h, mc)
		}(i, r.Handler)
	}
	wg.Wait()

	var ackedByAny bool
	var firstErr error
	for _, err := range errs {
		if err == nil {
			ackedByAny = true
		} else if firstErr == nil {
			firstErr = err
		}
	}

	if ackedByAny {
		qctx.Acknowledge()
		return nil
	}
	return firstErr
}

// invokeHandler recovers a handler panic and reports it as an error so a
// single failing handler cannot crash the process; the queue engine
// treats it the same as any other unacked attempt.
func invokeHandler(h rule.MessageHandler, mc rule.MessageContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("bus: handler panic: %v", r)
		}
	}()
	return h.HandleMessage(mc)
}
