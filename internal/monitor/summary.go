package monitor

import (
	"fmt"
	"strings"

	"github.com/danmuck/telemlink/internal/protocol"
)

// Summarize renders one assembled frame as a single line:
//
//	FRAME[n]: TAG[len] TAG[len] (source=S) CRC! ...
//
// len is the unstuffed message length including tag and crc. Pieces that
// fail to unstuff render as "?[len]".
func Summarize(f protocol.Frame) string {
	var b strings.Builder
	fmt.Fprintf(&b, "FRAME[%d]:", len(f))
	for part, err := range f.Parts() {
		if err != nil {
			fmt.Fprintf(&b, " ?[%d]", len(part.Stuffed))
			continue
		}
		msg := part.Message
		if msg.CheckLength() != nil {
			continue
		}
		fmt.Fprintf(&b, " %s[%d]", msg.Tag(), len(msg))
		switch msg.Tag() {
		case protocol.TagSourceID:
			fmt.Fprintf(&b, " (source=%s)", msg.Payload())
		case protocol.TagSequence:
			if info, err := msg.Sequence(); err == nil {
				fmt.Fprintf(&b, " (version=%s seq=%d)", versionName(info.Version), info.Sequence)
			}
		case protocol.TagTimeEpoch:
			if us, err := msg.Epoch(); err == nil {
				fmt.Fprintf(&b, " (epoch_us=%d)", us)
			}
		}
		if msg.Validate() != nil {
			b.WriteString(" CRC!")
		}
	}
	return b.String()
}

func versionName(v uint8) string {
	switch v {
	case protocol.Version02:
		return "v0.2"
	case protocol.Version03:
		return "v0.3"
	default:
		return fmt.Sprintf("0x%02x", v)
	}
}
