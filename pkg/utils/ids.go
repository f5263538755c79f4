package utils

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var idSeq uint64

// GenMessageID generates a unique server-side message ID using the current
// UTC nanosecond timestamp and an atomic sequence number. The sequence keeps
// rapid consecutive ids distinct within one nanosecond tick.
func GenMessageID() string {
	n := time.Now().UTC().UnixNano()
	s := atomic.AddUint64(&idSeq, 1)
	return fmt.Sprintf("msg-%d-%d", n, s)
}

// GenClientID generates a correlation id attached to outbound intents. A
// uuid keeps ids collision-free across reconnects and across clients, which
// a per-process counter would not.
func GenClientID() string {
	return "c-" + uuid.NewString()
}
