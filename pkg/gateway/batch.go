package gateway

import (
	"encoding/binary"
	"log/slog"
	"time"

	"github.com/hitony/voicegear/pkg/media"
	"github.com/hitony/voicegear/pkg/mempool"
	"github.com/hitony/voicegear/pkg/pipe"
)

// batchPushWait bounds how long the control loop waits for playback queue
// space per sub-packet. Long enough to ride out a momentary full queue,
// short enough not to stall control message handling.
const batchPushWait = 30 * time.Millisecond

// DecodeBatch unpacks a batched binary payload into individual playback
// packets. The layout is a sequence of [2-byte big-endian length][payload]
// sub-packets. Each sub-packet is copied into its own pool block and
// enqueued; a full queue or exhausted pool drops that sub-packet alone and
// decoding continues. A truncated tail ends decoding.
//
// Returns the number of sub-packets enqueued and the number dropped.
func DecodeBatch(arena *mempool.Arena, out *pipe.Queue[media.Packet], b []byte, log *slog.Logger) (queued, dropped int) {
	for len(b) >= 2 {
		n := int(binary.BigEndian.Uint16(b[:2]))
		b = b[2:]
		if n == 0 {
			continue
		}
		if n > len(b) {
			log.Warn("batch truncated", "declared", n, "remaining", len(b))
			break
		}
		pkt, err := media.PacketFrom(arena, b[:n])
		b = b[n:]
		if err != nil {
			log.Warn("no pool block for batch sub-packet", "size", n, "err", err)
			dropped++
			continue
		}
		if out.PushWait(pkt, batchPushWait) {
			queued++
		} else {
			dropped++
		}
	}
	return queued, dropped
}
