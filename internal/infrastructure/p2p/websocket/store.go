package p2pwebsocket

import (
	"github.com/thanhpk/randstr"
	"github.com/timshannon/badgerhold/v4"
)

// inboxMessage is a received mailbox message not yet removed by the handler.
type inboxMessage struct {
	UID        string
	Envelope   []byte
	ReceivedAt int64 `badgerhold:"index"`
}

// outboxMessage is a mailbox message waiting for the peer to come online.
type outboxMessage struct {
	Key       string
	Peer      string `badgerhold:"index"`
	UID       string
	Envelope  []byte
	CreatedAt int64
	Attempts  int
}

// mailboxStore persists both sides of the mailbox so that neither stored
// messages nor unprocessed received ones are lost on restart.
type mailboxStore struct {
	store *badgerhold.Store
}

func (s mailboxStore) addInbox(msg inboxMessage) (bool, error) {
	if err := s.store.Insert(msg.UID, msg); err != nil {
		if err == badgerhold.ErrKeyExists {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s mailboxStore) removeInbox(uid string) error {
	if err := s.store.Delete(uid, inboxMessage{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return ErrMailboxMessageNotFound
		}
		return err
	}
	return nil
}

func (s mailboxStore) listInbox() ([]inboxMessage, error) {
	var msgs []inboxMessage
	query := (&badgerhold.Query{}).SortBy("ReceivedAt")
	if err := s.store.Find(&msgs, query); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (s mailboxStore) addOutbox(msg outboxMessage) error {
	if msg.Key == "" {
		msg.Key = randstr.Hex(16)
	}
	return s.store.Insert(msg.Key, msg)
}

func (s mailboxStore) updateOutbox(msg outboxMessage) error {
	return s.store.Update(msg.Key, msg)
}

func (s mailboxStore) removeOutbox(key string) error {
	if err := s.store.Delete(key, outboxMessage{}); err != nil &&
		err != badgerhold.ErrNotFound {
		return err
	}
	return nil
}

// listOutbox returns the stored messages grouped by peer, oldest first.
func (s mailboxStore) listOutbox() (map[string][]outboxMessage, error) {
	var msgs []outboxMessage
	query := (&badgerhold.Query{}).SortBy("CreatedAt")
	if err := s.store.Find(&msgs, query); err != nil {
		return nil, err
	}

	byPeer := make(map[string][]outboxMessage)
	for _, m := range msgs {
		byPeer[m.Peer] = append(byPeer[m.Peer], m)
	}
	return byPeer, nil
}

func (s mailboxStore) countOutbox() (int, error) {
	n, err := s.store.Count(outboxMessage{}, nil)
	return int(n), err
}
