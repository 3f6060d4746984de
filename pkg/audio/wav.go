package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// MIMETypeWAV is the media type of clips produced by [EncodeWAV].
const MIMETypeWAV = "audio/wav"

const wavHeaderSize = 44

// EncodeWAV wraps 16-bit little-endian PCM in a canonical 44-byte RIFF/WAVE
// header.
func EncodeWAV(pcm []byte, f Format) []byte {
	blockAlign := f.Channels * 2
	buf := make([]byte, wavHeaderSize+len(pcm))

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+len(pcm)))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(f.SampleRate*blockAlign))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], 16)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(len(pcm)))
	copy(buf[44:], pcm)
	return buf
}

// WAVClip encodes pcm as a WAV [Clip] with its duration filled in.
func WAVClip(pcm []byte, f Format) Clip {
	return Clip{
		Data:     EncodeWAV(pcm, f),
		MIMEType: MIMETypeWAV,
		Duration: f.Duration(len(pcm)),
	}
}

// DecodeWAV extracts 16-bit PCM and its format from a RIFF/WAVE file. Chunks
// other than "fmt " and "data" are skipped. Compressed or non-16-bit files
// are rejected with an error wrapping [ErrDecode].
func DecodeWAV(data []byte) ([]byte, Format, error) {
	if len(data) < 12 || !bytes.Equal(data[0:4], []byte("RIFF")) || !bytes.Equal(data[8:12], []byte("WAVE")) {
		return nil, Format{}, fmt.Errorf("%w: not a RIFF/WAVE file", ErrDecode)
	}

	var (
		f       Format
		haveFmt bool
	)
	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		if size < 0 || body+size > len(data) {
			size = len(data) - body
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return nil, Format{}, fmt.Errorf("%w: short fmt chunk", ErrDecode)
			}
			if tag := binary.LittleEndian.Uint16(data[body:]); tag != 1 {
				return nil, Format{}, fmt.Errorf("%w: unsupported wav encoding %d", ErrDecode, tag)
			}
			if bits := binary.LittleEndian.Uint16(data[body+14:]); bits != 16 {
				return nil, Format{}, fmt.Errorf("%w: unsupported bit depth %d", ErrDecode, bits)
			}
			f.Channels = int(binary.LittleEndian.Uint16(data[body+2:]))
			f.SampleRate = int(binary.LittleEndian.Uint32(data[body+4:]))
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, Format{}, fmt.Errorf("%w: data chunk before fmt chunk", ErrDecode)
			}
			return data[body : body+size], f, nil
		}
		// Chunks are word aligned.
		off = body + size + size%2
	}
	return nil, Format{}, fmt.Errorf("%w: no data chunk", ErrDecode)
}
