package realtime

import (
	"errors"
	"sync"
)

// ErrNoBrokers is returned by feeds configured without any address.
var ErrNoBrokers = errors.New("no broker address configured")

// subscription is the handle every feed returns. The reader goroutine owns ch
// and closes it on exit; Close stops the reader through done and closeFn.
type subscription struct {
	ch      chan []byte
	done    chan struct{}
	once    sync.Once
	closeFn func() error
	err     error
}

func newSubscription(buffer int, closeFn func() error) *subscription {
	return &subscription{
		ch:      make(chan []byte, buffer),
		done:    make(chan struct{}),
		closeFn: closeFn,
	}
}

func (s *subscription) Messages() <-chan []byte { return s.ch }

func (s *subscription) Close() error {
	s.once.Do(func() {
		close(s.done)
		if s.closeFn != nil {
			s.err = s.closeFn()
		}
	})
	return s.err
}

// deliver hands a payload to the consumer. It returns false once the
// subscription is closed.
func (s *subscription) deliver(b []byte) bool {
	select {
	case s.ch <- b:
		return true
	case <-s.done:
		return false
	}
}

func (s *subscription) closing() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
