/*
Package events provides an in-memory event broker for cross-component
notification inside a Meridian node.

Components that would otherwise need direct references to each other —
the registry telling the balancer a node died, the consensus engine
telling the gateway it lost leadership — instead publish an Event to a
shared Broker and let interested subscribers react. Publish never blocks:
a full subscriber buffer drops the event rather than stalling the
publisher, so a stuck metrics subscriber can never wedge the consensus
loop.

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)
	go func() {
		for ev := range sub {
			if ev.Type == events.EventLeaderElected {
				log.Info("leadership changed")
			}
		}
	}()

	broker.Publish(&events.Event{Type: events.EventNodeJoined, Metadata: map[string]string{"node_id": id}})
*/
package events
