package redisx

import "time"

const (
	// Settled payment callback: callback:txn:{external_txn_id} -> order_id
	KeyCallback = "callback:txn:%s"

	// Cached order view: order_status:{order_id} -> JSON of the order
	KeyOrderStatus = "order_status:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"

	// Reservation sweeper lease, one holder across replicas.
	KeySweepLock = "lock:reservation-sweep"
)

var (
	TTLCallback    = 24 * time.Hour
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
