package cart

// EventKind identifies what happened to a cart.
type EventKind string

// Event kinds emitted by Manager.
const (
	EventItemAdded        EventKind = "item_added"
	EventItemIncremented  EventKind = "item_incremented"
	EventItemRemoved      EventKind = "item_removed"
	EventQuantityUpdated  EventKind = "quantity_updated"
	EventCartCleared      EventKind = "cart_cleared"
	EventPromotionApplied EventKind = "promotion_applied"
	EventPromotionRemoved EventKind = "promotion_removed"
	EventSwitchRequested  EventKind = "switch_requested"
	EventSwitchDeclined   EventKind = "switch_declined"
)

// Event is delivered to listeners after a cart changed (or, for switch
// events, after a restaurant switch was requested or declined).
type Event struct {
	// Seq numbers the events of one manager in commit order, from 1.
	Seq  uint64
	Kind EventKind
	// Message is the user-facing confirmation text, empty when the action
	// has none.
	Message string
	// Snapshot is the cart state after the change.
	Snapshot Snapshot
}

// Listener receives cart events in commit order. Listeners run synchronously
// after the manager lock is released, one event at a time; they must not
// block and must not mutate the cart.
type Listener func(Event)
