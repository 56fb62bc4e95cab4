package trader

import (
	"iter"

	"github.com/huandu/skiplist"
)

// registry is the order book registry: the sole owner of every resting
// order, grouped per connected client. A client is connected iff it has an
// entry in books, even an empty one. A secondary skiplist keyed by server
// order id backs the id-ascending catch-up enumeration; everything else is
// a flat scan.
type registry struct {
	books map[string]map[int64]*Order
	byID  *skiplist.SkipList
}

func newRegistry() *registry {
	return &registry{
		books: make(map[string]map[int64]*Order),
		byID:  skiplist.New(skiplist.Int64),
	}
}

func (r *registry) connected(nickname string) bool {
	_, found := r.books[nickname]
	return found
}

// register creates an empty order set for the client.
func (r *registry) register(nickname string) error {
	if _, found := r.books[nickname]; found {
		return ErrAlreadyConnected
	}
	r.books[nickname] = make(map[int64]*Order)
	return nil
}

// deregister removes the client's entry and discards its resting orders.
// Safe to call for a nickname that was never registered.
func (r *registry) deregister(nickname string) {
	for id := range r.books[nickname] {
		r.byID.Remove(id)
	}
	delete(r.books, nickname)
}

// insert adds the order to its owner's set. The caller guarantees the owner
// is registered and the order carries a server id.
func (r *registry) insert(order *Order) {
	r.books[order.Nickname][order.ID] = order
	r.byID.Set(order.ID, order)
}

// resting reports whether an order with this server id is currently in the
// book.
func (r *registry) resting(id int64) bool {
	return r.byID.Get(id) != nil
}

// nicknames enumerates every connected client.
func (r *registry) nicknames() iter.Seq[string] {
	return func(yield func(string) bool) {
		for nickname := range r.books {
			if !yield(nickname) {
				return
			}
		}
	}
}

// activeOrders enumerates every resting order across all clients, ascending
// by server id.
func (r *registry) activeOrders() iter.Seq[*Order] {
	return func(yield func(*Order) bool) {
		for el := r.byID.Front(); el != nil; el = el.Next() {
			if !yield(el.Value.(*Order)) {
				return
			}
		}
	}
}

// scan visits every resting order across every client. The visit order is
// map iteration order; callers must not depend on it.
func (r *registry) scan(visit func(*Order)) {
	for _, book := range r.books {
		for _, order := range book {
			visit(order)
		}
	}
}

// pruneFulfilled removes every order whose remaining units reached 0.
func (r *registry) pruneFulfilled() {
	for _, book := range r.books {
		for id, order := range book {
			if order.Fulfilled() {
				delete(book, id)
				r.byID.Remove(id)
			}
		}
	}
}

func (r *registry) sessionCount() int64 {
	return int64(len(r.books))
}

func (r *registry) orderCount() int64 {
	return int64(r.byID.Len())
}
