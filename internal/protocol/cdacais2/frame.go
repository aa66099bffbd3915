package cdacais2

import (
	"bytes"
	"strconv"
)

const (
	headerLength  = 3
	imeiLength    = 15
	recordLength  = 78
	normalLength  = 99
	fullLength    = 228
	loginLength   = headerLength + imeiLength
	healthLength  = 62
	batchPrefix   = headerLength + imeiLength + 3
	maxBatchCount = 999
)

// DecodeFrame cuts one packet. Sizes depend on the 3 letter header; a
// batch packet carries its record count at offset 18.
func DecodeFrame(buf []byte) ([]byte, int) {
	if len(buf) < 4 {
		return nil, 0
	}
	need := 0
	switch string(buf[:headerLength]) {
	case "NRM", "EPB", "CRT", "ALT":
		need = normalLength
	case "FUL":
		need = fullLength
	case "BTH":
		if len(buf) < batchPrefix {
			return nil, 0
		}
		count, err := strconv.Atoi(string(buf[loginLength:batchPrefix]))
		if err != nil || count < 0 || count > maxBatchCount {
			return nil, 0
		}
		need = count*recordLength + batchPrefix
	case "LGN", "HBT":
		need = loginLength
	case "HLM":
		need = healthLength
	case "ACK":
		i := bytes.IndexByte(buf[1:], '*')
		if i < 0 {
			return nil, 0
		}
		need = i + 2
	default:
		return nil, 0
	}
	if len(buf) < need {
		return nil, 0
	}
	return buf[:need], need
}
