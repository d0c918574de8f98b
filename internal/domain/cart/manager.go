package cart

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger used for load anomalies.
func WithLogger(lg *zap.Logger) Option {
	return func(m *Manager) { m.lg = lg }
}

// WithTaxRate overrides DefaultTaxRate.
func WithTaxRate(rate decimal.Decimal) Option {
	return func(m *Manager) { m.taxRate = rate }
}

// WithListener registers a listener at construction time.
func WithListener(l Listener) Option {
	return func(m *Manager) { m.addListener(l) }
}

// Manager owns the state of one cart and mirrors every mutation into its
// Store. All methods are safe for concurrent use; operations on a manager are
// serialized.
type Manager struct {
	store   Store
	lg      *zap.Logger
	taxRate decimal.Decimal
	newID   func() string

	mu      sync.Mutex
	st      state
	pending *PendingSwitch
	seq     uint64
	outbox  []Event

	// dmu serializes event delivery.
	dmu sync.Mutex

	lmu       sync.RWMutex
	listeners map[uint64]Listener
	nextID    uint64
}

// Load creates a Manager whose initial state is read from store. Missing keys
// mean an empty cart; malformed values are logged and treated as absent.
// Only store read failures are returned.
func Load(ctx context.Context, store Store, opts ...Option) (*Manager, error) {
	m := &Manager{
		store:     store,
		lg:        zap.NewNop(),
		taxRate:   DefaultTaxRate,
		newID:     func() string { return uuid.New().String() },
		listeners: make(map[uint64]Listener),
	}
	for _, o := range opts {
		o(m)
	}

	st, err := m.read(ctx)
	if err != nil {
		return nil, err
	}
	if len(st.items) > 0 && st.restaurant == nil {
		m.lg.Warn("Discarding persisted cart items without a restaurant", zap.Int("items", len(st.items)))
	}
	m.st = st.normalize()
	return m, nil
}

func (m *Manager) read(ctx context.Context) (state, error) {
	var st state

	raw, ok, err := m.get(ctx, KeyItems)
	if err != nil {
		return st, err
	}
	if ok {
		items, err := DecodeItems(raw)
		if err != nil {
			m.lg.Warn("Ignoring malformed persisted cart items", zap.Error(err))
		}
		st.items = items
	}

	raw, ok, err = m.get(ctx, KeyRestaurant)
	if err != nil {
		return st, err
	}
	if ok {
		r, err := DecodeRestaurant(raw)
		if err != nil {
			m.lg.Warn("Ignoring malformed persisted restaurant", zap.Error(err))
		}
		st.restaurant = r
	}

	raw, ok, err = m.get(ctx, KeyPromotion)
	if err != nil {
		return st, err
	}
	if ok {
		p, err := DecodePromotion(raw)
		if err != nil {
			m.lg.Warn("Ignoring malformed persisted promotion", zap.Error(err))
		}
		st.promotion = p
	}

	return st, nil
}

func (m *Manager) get(ctx context.Context, key string) (string, bool, error) {
	v, err := m.store.Get(ctx, key)
	switch {
	case errors.Is(err, ErrNotFound):
		return "", false, nil
	case err != nil:
		return "", false, errors.Wrapf(err, "read %s", key)
	default:
		return v, true, nil
	}
}

// commit persists next and, on success, makes it the current state. A
// pending restaurant switch is dropped when the cart's restaurant changes.
// The caller must hold m.mu.
func (m *Manager) commit(ctx context.Context, next state) error {
	next = next.normalize()

	var b Batch
	if len(next.items) == 0 {
		b.Remove = Keys
	} else {
		b.Set = map[string]string{
			KeyItems:      EncodeItems(next.items),
			KeyRestaurant: EncodeRestaurant(*next.restaurant),
		}
		if next.promotion != nil {
			b.Set[KeyPromotion] = EncodePromotion(*next.promotion)
		} else {
			b.Remove = []string{KeyPromotion}
		}
	}
	if err := writeBatch(ctx, m.store, b); err != nil {
		return errors.Wrap(err, "persist cart")
	}

	if !sameRestaurant(m.st.restaurant, next.restaurant) {
		m.pending = nil
	}
	m.st = next
	return nil
}

func sameRestaurant(a, b *RestaurantRef) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.ID == b.ID
}

// snapshot must be called with m.mu held.
func (m *Manager) snapshot() Snapshot {
	st := m.st.clone()
	return Snapshot{
		Items:      st.items,
		Restaurant: st.restaurant,
		Promotion:  st.promotion,
		Totals:     ComputeTotals(st.items, st.restaurant, st.promotion, m.taxRate),
	}
}

// AddStatus is the outcome of an add request.
//
// AddStatusPendingConfirmation means the cart holds items of another
// restaurant and nothing changed until the switch is resolved.
// AddStatusDeclined means the switch was declined and the cart is unchanged.
type AddStatus string

// Add outcomes.
const (
	AddStatusAdded               AddStatus = "added"
	AddStatusIncremented         AddStatus = "incremented"
	AddStatusPendingConfirmation AddStatus = "confirmation_required"
	AddStatusDeclined            AddStatus = "declined"
)

// AddResult describes what AddItem did.
type AddResult struct {
	Status  AddStatus
	Pending *PendingSwitch
	// Message is the confirmation text for added and incremented items.
	Message  string
	Snapshot Snapshot
}

// AddItem adds one unit of item to the cart.
//
// When the cart already belongs to a different restaurant the cart is left
// untouched and the result carries a PendingSwitch; call ResolveSwitch with
// its ID to discard the current cart (accept) or keep it (decline).
func (m *Manager) AddItem(ctx context.Context, item Item, restaurant RestaurantRef) (AddResult, error) {
	if err := item.validate(); err != nil {
		return AddResult{}, err
	}
	if err := restaurant.validate(); err != nil {
		return AddResult{}, err
	}

	m.mu.Lock()
	if cur := m.st.restaurant; cur != nil && cur.ID != restaurant.ID {
		p := &PendingSwitch{
			ID:        m.newID(),
			Current:   *cur,
			Requested: restaurant,
			Item:      item,
		}
		m.pending = p
		snap := m.snapshot()
		m.enqueue(Event{Kind: EventSwitchRequested, Snapshot: snap})
		m.mu.Unlock()

		m.flush()
		return AddResult{Status: AddStatusPendingConfirmation, Pending: p, Snapshot: snap}, nil
	}

	res, err := m.add(ctx, m.st.clone(), item, restaurant)
	m.mu.Unlock()
	if err != nil {
		return AddResult{}, err
	}
	m.flush()
	return res, nil
}

// add appends or increments item in st, commits and queues the event. Caller
// holds m.mu.
func (m *Manager) add(ctx context.Context, st state, item Item, restaurant RestaurantRef) (AddResult, error) {
	if st.restaurant == nil {
		r := restaurant
		st.restaurant = &r
	}

	var (
		status AddStatus
		ev     Event
	)
	if i := st.indexOf(item.ID); i >= 0 {
		st.items[i].Quantity++
		status = AddStatusIncremented
		ev = Event{Kind: EventItemIncremented, Message: fmt.Sprintf("%s quantity updated!", st.items[i].Name)}
	} else {
		st.items = append(st.items, LineItem{Item: item, Quantity: 1})
		status = AddStatusAdded
		ev = Event{Kind: EventItemAdded, Message: fmt.Sprintf("%s added to cart!", item.Name)}
	}

	if err := m.commit(ctx, st); err != nil {
		return AddResult{}, err
	}
	ev.Snapshot = m.snapshot()
	m.enqueue(ev)
	return AddResult{Status: status, Message: ev.Message, Snapshot: ev.Snapshot}, nil
}

// RemoveItem deletes the line item with the given id. Removing the last line
// item also drops the restaurant and the promotion. Unknown ids are ignored.
func (m *Manager) RemoveItem(ctx context.Context, itemID string) error {
	m.mu.Lock()
	err := m.remove(ctx, itemID)
	m.mu.Unlock()
	if err != nil {
		return err
	}
	m.flush()
	return nil
}

func (m *Manager) remove(ctx context.Context, itemID string) error {
	i := m.st.indexOf(itemID)
	if i < 0 {
		return nil
	}
	st := m.st.clone()
	st.items = append(st.items[:i], st.items[i+1:]...)
	if err := m.commit(ctx, st); err != nil {
		return err
	}
	m.enqueue(Event{Kind: EventItemRemoved, Message: "Item removed from cart", Snapshot: m.snapshot()})
	return nil
}

// UpdateQuantity sets the quantity of a line item. A quantity of zero or less
// removes the item. Unknown ids are ignored.
func (m *Manager) UpdateQuantity(ctx context.Context, itemID string, quantity int) error {
	if quantity <= 0 {
		return m.RemoveItem(ctx, itemID)
	}

	m.mu.Lock()
	i := m.st.indexOf(itemID)
	if i < 0 || m.st.items[i].Quantity == quantity {
		m.mu.Unlock()
		return nil
	}
	st := m.st.clone()
	st.items[i].Quantity = quantity
	if err := m.commit(ctx, st); err != nil {
		m.mu.Unlock()
		return err
	}
	m.enqueue(Event{Kind: EventQuantityUpdated, Snapshot: m.snapshot()})
	m.mu.Unlock()

	m.flush()
	return nil
}

// ClearCart empties the cart and removes every persisted key.
func (m *Manager) ClearCart(ctx context.Context) error {
	m.mu.Lock()
	err := m.commit(ctx, state{})
	if err == nil {
		m.enqueue(Event{Kind: EventCartCleared, Message: "Cart cleared", Snapshot: m.snapshot()})
	}
	m.mu.Unlock()
	if err != nil {
		return err
	}
	m.flush()
	return nil
}

// ApplyPromotion records a promotion code that the caller already validated
// against the promotions API. discount is in major currency units.
func (m *Manager) ApplyPromotion(ctx context.Context, code string, discount decimal.Decimal) error {
	if code == "" {
		return errors.Wrap(ErrInvalidPromotion, "code is required")
	}
	if discount.IsNegative() {
		return errors.Wrapf(ErrInvalidPromotion, "negative discount %s", discount)
	}

	m.mu.Lock()
	if len(m.st.items) == 0 {
		m.mu.Unlock()
		return ErrEmptyCart
	}
	st := m.st.clone()
	st.promotion = &Promotion{Code: code, Discount: discount}
	if err := m.commit(ctx, st); err != nil {
		m.mu.Unlock()
		return err
	}
	m.enqueue(Event{Kind: EventPromotionApplied, Message: "Promo code applied!", Snapshot: m.snapshot()})
	m.mu.Unlock()

	m.flush()
	return nil
}

// RemovePromotion drops the applied promotion, if any.
func (m *Manager) RemovePromotion(ctx context.Context) error {
	m.mu.Lock()
	if m.st.promotion == nil {
		m.mu.Unlock()
		return nil
	}
	st := m.st.clone()
	st.promotion = nil
	if err := m.commit(ctx, st); err != nil {
		m.mu.Unlock()
		return err
	}
	m.enqueue(Event{Kind: EventPromotionRemoved, Message: "Promo code removed", Snapshot: m.snapshot()})
	m.mu.Unlock()

	m.flush()
	return nil
}

// Snapshot returns a copy of the current state with freshly computed totals.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot()
}

// Totals computes the cart totals from the current state.
func (m *Manager) Totals() Totals {
	m.mu.Lock()
	defer m.mu.Unlock()
	return ComputeTotals(m.st.items, m.st.restaurant, m.st.promotion, m.taxRate)
}

// Subtotal is the sum of line prices in major units.
func (m *Manager) Subtotal() decimal.Decimal { return m.Totals().Subtotal }

// Tax is the sales tax on the subtotal.
func (m *Manager) Tax() decimal.Decimal { return m.Totals().Tax }

// DeliveryFee is the restaurant delivery fee, or zero without a restaurant.
func (m *Manager) DeliveryFee() decimal.Decimal { return m.Totals().DeliveryFee }

// Discount is the applied promotion discount, or zero.
func (m *Manager) Discount() decimal.Decimal { return m.Totals().Discount }

// Total is subtotal + tax + delivery fee - discount, floored at zero.
func (m *Manager) Total() decimal.Decimal { return m.Totals().Total }

// ItemCount is the sum of line item quantities.
func (m *Manager) ItemCount() int { return m.Totals().ItemCount }

// Subscribe registers l for all subsequent events and returns a function
// that removes it.
func (m *Manager) Subscribe(l Listener) (unsubscribe func()) {
	id := m.addListener(l)
	var once sync.Once
	return func() {
		once.Do(func() {
			m.lmu.Lock()
			delete(m.listeners, id)
			m.lmu.Unlock()
		})
	}
}

func (m *Manager) addListener(l Listener) uint64 {
	m.lmu.Lock()
	defer m.lmu.Unlock()
	m.nextID++
	m.listeners[m.nextID] = l
	return m.nextID
}

// enqueue numbers ev and queues it for delivery. Caller holds m.mu, so the
// queue is in commit order.
func (m *Manager) enqueue(ev Event) {
	m.seq++
	ev.Seq = m.seq
	m.outbox = append(m.outbox, ev)
}

// flush delivers queued events to listeners in commit order. It must be
// called without m.mu held and returns once the events queued by the caller
// are delivered, by this goroutine or by a concurrent flush.
func (m *Manager) flush() {
	m.dmu.Lock()
	defer m.dmu.Unlock()
	for {
		m.mu.Lock()
		batch := m.outbox
		m.outbox = nil
		m.mu.Unlock()
		if len(batch) == 0 {
			return
		}

		m.lmu.RLock()
		ls := make([]Listener, 0, len(m.listeners))
		for _, l := range m.listeners {
			ls = append(ls, l)
		}
		m.lmu.RUnlock()

		for _, ev := range batch {
			for _, l := range ls {
				l(ev)
			}
		}
	}
}
