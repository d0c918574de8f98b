package cart

import "context"

// PendingSwitch is an add request that needs the user's consent because it
// would replace the cart of another restaurant. Only the most recent request
// is pending; a newer one replaces it.
type PendingSwitch struct {
	ID        string
	Current   RestaurantRef
	Requested RestaurantRef
	Item      Item
}

// ConfirmFunc asks the user whether to discard the current cart of
// current in favour of requested. It is called without holding the manager
// lock.
type ConfirmFunc func(ctx context.Context, current, requested RestaurantRef) (bool, error)

// ResolveSwitch completes the pending restaurant switch with the given id.
// Accepting clears the cart and adds the requested item; declining leaves the
// cart unchanged. ErrUnknownSwitch is returned if id is not the pending
// switch. A switch is forgotten once the cart's restaurant changes by other
// means.
func (m *Manager) ResolveSwitch(ctx context.Context, id string, accept bool) (AddResult, error) {
	m.mu.Lock()
	p := m.pending
	if p == nil || p.ID != id {
		m.mu.Unlock()
		return AddResult{}, ErrUnknownSwitch
	}
	m.pending = nil

	if !accept {
		snap := m.snapshot()
		m.enqueue(Event{Kind: EventSwitchDeclined, Snapshot: snap})
		m.mu.Unlock()
		m.flush()
		return AddResult{Status: AddStatusDeclined, Snapshot: snap}, nil
	}

	res, err := m.add(ctx, state{}, p.Item, p.Requested)
	if err != nil {
		// Keep the request resolvable when persistence failed.
		m.pending = p
		m.mu.Unlock()
		return AddResult{}, err
	}
	m.mu.Unlock()

	m.flush()
	return res, nil
}

// AddItemConfirm is AddItem with the restaurant switch resolved inline by
// confirm.
func (m *Manager) AddItemConfirm(ctx context.Context, item Item, restaurant RestaurantRef, confirm ConfirmFunc) (AddResult, error) {
	res, err := m.AddItem(ctx, item, restaurant)
	if err != nil || res.Status != AddStatusPendingConfirmation {
		return res, err
	}

	ok, err := confirm(ctx, res.Pending.Current, res.Pending.Requested)
	if err != nil {
		return AddResult{}, err
	}
	return m.ResolveSwitch(ctx, res.Pending.ID, ok)
}

// Pending returns the pending restaurant switch, if any.
func (m *Manager) Pending() *PendingSwitch {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending == nil {
		return nil
	}
	p := *m.pending
	return &p
}
