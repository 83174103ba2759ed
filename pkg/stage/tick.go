package stage

import (
	"encoding/binary"
	"time"
)

// encodeTick packs a game-loop tick's deltaTime/totalElapsed (both in
// nanoseconds) into a tiny payload so it can travel through the same
// OnDispatchServer path as any other server message, without widening the
// User interface with a bespoke OnTick method.
func encodeTick(delta, total time.Duration) []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(delta))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(total))
	return buf
}

// DecodeTick is the inverse of encodeTick, exported for Stage implementations
// that want typed access to a tick's timing inside OnDispatchServer.
func DecodeTick(payload []byte) (delta, total time.Duration) {
	if len(payload) < 16 {
		return 0, 0
	}
	delta = time.Duration(binary.LittleEndian.Uint64(payload[0:8]))
	total = time.Duration(binary.LittleEndian.Uint64(payload[8:16]))
	return
}

// TickMsgID is the reserved msgId used to deliver game-loop ticks.
const TickMsgID = tickMsgID
