package jwks

import "time"

// SnapshotOp names a snapshot operation reported to an Observer.
type SnapshotOp string

const (
	SnapshotLoad SnapshotOp = "load"
	SnapshotSave SnapshotOp = "save"
)

// Observer receives Store events, typically to export metrics. Methods are
// called synchronously from the refreshing goroutine and must not block.
type Observer interface {
	// FetchCompleted is called after every network fetch; err is nil on success.
	FetchCompleted(d time.Duration, err error)

	// KeySetReplaced is called when a new set becomes current.
	KeySetReplaced(set *KeySet)

	// StaleKeysServed is called when a refresh failed and the previous
	// keys were returned instead.
	StaleKeysServed()

	// SnapshotCompleted is called after a snapshot load or save.
	SnapshotCompleted(op SnapshotOp, err error)
}

type nopObserver struct{}

func (nopObserver) FetchCompleted(time.Duration, error) {}
func (nopObserver) KeySetReplaced(*KeySet)              {}
func (nopObserver) StaleKeysServed()                    {}
func (nopObserver) SnapshotCompleted(SnapshotOp, error) {}
