package crawler

// EventType identifies the kind of an Event.
type EventType int

const (
	// QuitSignal is emitted once when the crawler stops.
	QuitSignal EventType = iota
	// TransactionConfirmed is emitted when an observed tx reaches the
	// required confirmation depth.
	TransactionConfirmed
	// TransactionUnconfirmed is emitted for a known tx still below depth.
	TransactionUnconfirmed
)

var eventTypeNames = map[EventType]string{
	QuitSignal:             "QuitSignal",
	TransactionConfirmed:   "TransactionConfirmed",
	TransactionUnconfirmed: "TransactionUnconfirmed",
}

func (et EventType) String() string {
	if name, ok := eventTypeNames[et]; ok {
		return name
	}
	return "Unknown"
}

// QuitEvent tells listeners that no more events will follow.
type QuitEvent struct{}

func (QuitEvent) Type() EventType {
	return QuitSignal
}

// TransactionEvent reports the confirmation status of an observed tx.
// Confirmations is zero for mempool txs.
type TransactionEvent struct {
	EventType     EventType
	TxID          string
	TxHex         string
	BlockHash     string
	BlockHeight   int
	BlockTime     int
	Confirmations int
}

func (t TransactionEvent) Type() EventType {
	return t.EventType
}
