package ids

import (
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type generator struct {
	mu       sync.Mutex
	epochMS  int64
	nodeID   int64 // 0~1023
	seq      int64 // 0~4095
	lastTSMS int64
}

var (
	defaultGen *generator
	once       sync.Once
)

func initDefault() {
	once.Do(func() {
		defaultGen = &generator{
			epochMS: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli(),
			nodeID:  1,
		}
	})
}

// next returns the following id: 41 bits of millis since epoch, 10
// bits of node, 12 bits of sequence. Sequence exhaustion within one
// millisecond spins until the clock advances.
func (g *generator) next() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := time.Now().UnixMilli()
	if now < g.lastTSMS {
		// Clock went backwards; keep issuing against the last seen
		// millisecond rather than risk duplicates.
		now = g.lastTSMS
	}
	if now == g.lastTSMS {
		g.seq = (g.seq + 1) & 0xFFF
		if g.seq == 0 {
			for now <= g.lastTSMS {
				now = time.Now().UnixMilli()
			}
		}
	} else {
		g.seq = 0
	}
	g.lastTSMS = now
	return ((now - g.epochMS) << 22) | (g.nodeID << 12) | g.seq
}

// Generate returns a new snowflake id.
func Generate() int64 {
	initDefault()
	return defaultGen.next()
}

func GenerateString() string {
	return strconv.FormatInt(Generate(), 10)
}

// SetNodeID sets the node id (0~1023); call once from main().
func SetNodeID(nodeID int64) {
	initDefault()
	if nodeID < 0 || nodeID > 1023 {
		nodeID = 1
	}
	defaultGen.nodeID = nodeID
}

// ---- id namespaces ----
//
// Durable message ids are "m-<snowflake>" and are assigned by the
// message store. Optimistic placeholders are "temp-<counter>" and
// never leave the client. The prefixes keep the two spaces disjoint.

const (
	durablePrefix = "m-"
	tempPrefix    = "temp-"
)

var tempCounter atomic.Int64

// DurableID mints a new server-side message id.
func DurableID() string {
	return durablePrefix + GenerateString()
}

// TempID mints a client-local placeholder id from a monotonic counter.
func TempID() string {
	return tempPrefix + strconv.FormatInt(tempCounter.Add(1), 10)
}

func IsTempID(id string) bool    { return strings.HasPrefix(id, tempPrefix) }
func IsDurableID(id string) bool { return strings.HasPrefix(id, durablePrefix) }
