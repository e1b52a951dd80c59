package identity

import (
	"github.com/ontosys/omscore/pkg/events"
	"github.com/ontosys/omscore/pkg/log"
	"github.com/ontosys/omscore/pkg/store"
	"github.com/ontosys/omscore/pkg/types"
)

// roleInvalidationConsumer is this consumer's key into
// event_consumer_tracking, distinguishing its dedup records from any other
// consumer processing the same broker events.
const roleInvalidationConsumer = "identity.role_invalidation"

// WatchRoleChanges subscribes to broker and invalidates the affected
// subject's cached token validations on every user.role_changed event,
// until stop is closed. Run it in its own goroutine.
//
// Event.ID is the CloudEvents id the outbox envelope carried, so a single
// event redelivered after an unconfirmed publish (the dispatcher retries
// until it gets ok=true) is deduplicated against s's event_consumer_tracking
// before InvalidateSubject runs a second time for it.
func (v *Validator) WatchRoleChanges(broker *events.Broker, s store.Store, stop <-chan struct{}) {
	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	for {
		select {
		case evt, ok := <-sub:
			if !ok {
				return
			}
			if evt.Type != events.EventUserRoleChanged {
				continue
			}
			subject := evt.Metadata["subject"]
			if subject == "" {
				continue
			}
			if evt.ID != "" {
				consumed, err := s.WasEventConsumed(roleInvalidationConsumer, evt.ID)
				if err != nil {
					log.Logger.Warn().Err(err).Str("event_id", evt.ID).Msg("role invalidation: dedup check failed")
				} else if consumed {
					continue
				}
			}
			v.InvalidateSubject(subject)
			if evt.ID != "" {
				if err := s.MarkEventConsumed(&types.ConsumerTrackingRecord{
					ConsumerName: roleInvalidationConsumer,
					EventID:      evt.ID,
				}); err != nil {
					log.Logger.Warn().Err(err).Str("event_id", evt.ID).Msg("role invalidation: mark consumed failed")
				}
			}
		case <-stop:
			return
		}
	}
}
