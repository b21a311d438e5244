package audio

import (
	"bytes"
	"encoding/binary"
)

const wavHeaderSize = 44

// EncodeWAV wraps raw 16-bit PCM samples in a RIFF/WAVE container. Zero
// samples produce a valid, silent file.
func EncodeWAV(samples []int16, sampleRate, channels int) []byte {
	dataSize := len(samples) * 2
	fileSize := wavHeaderSize - 8 + dataSize
	blockAlign := channels * 2
	byteRate := sampleRate * blockAlign

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+dataSize))
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, int32(fileSize))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, int32(16))
	binary.Write(buf, binary.LittleEndian, int16(1)) // PCM
	binary.Write(buf, binary.LittleEndian, int16(channels))
	binary.Write(buf, binary.LittleEndian, int32(sampleRate))
	binary.Write(buf, binary.LittleEndian, int32(byteRate))
	binary.Write(buf, binary.LittleEndian, int16(blockAlign))
	binary.Write(buf, binary.LittleEndian, int16(16))

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, int32(dataSize))
	for _, sample := range samples {
		binary.Write(buf, binary.LittleEndian, sample)
	}

	return buf.Bytes()
}

// IsEmptyWAV reports whether a WAV buffer carries no PCM payload.
func IsEmptyWAV(wav []byte) bool {
	return len(wav) <= wavHeaderSize
}
