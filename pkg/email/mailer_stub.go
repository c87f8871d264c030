package email

import (
	"context"
	"sync"
)

// StubSender keeps sent messages in memory.
type StubSender struct {
	lock     sync.Mutex
	messages []*Message
}

var _ Sender = (*StubSender)(nil)

func (ss *StubSender) SendEmail(ctx context.Context, msg *Message) error {
	if err := msg.check(); err != nil {
		return err
	}

	ss.lock.Lock()
	defer ss.lock.Unlock()
	ss.messages = append(ss.messages, msg)

	return nil
}

func (ss *StubSender) Messages() []*Message {
	ss.lock.Lock()
	defer ss.lock.Unlock()
	return append([]*Message(nil), ss.messages...)
}
