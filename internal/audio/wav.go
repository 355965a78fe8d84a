package audio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

var ErrUnsupportedWAV = errors.New("unsupported wav")

type wavHeader struct {
	RIFF          [4]byte
	ChunkSize     uint32
	WAVE          [4]byte
	Fmt           [4]byte
	FmtSize       uint32
	AudioFormat   uint16
	Channels      uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Data          [4]byte
	DataSize      uint32
}

// EncodeWAVPCM16LE wraps mono PCM16LE samples in a WAV container.
func EncodeWAVPCM16LE(pcm []byte, sampleRate int) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteWAVPCM16LETo(&buf, pcm, sampleRate); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func WriteWAVPCM16LEFile(path string, pcm []byte, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteWAVPCM16LETo(f, pcm, sampleRate); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func WriteWAVPCM16LETo(out io.Writer, pcm []byte, sampleRate int) error {
	if sampleRate <= 0 {
		sampleRate = TelephonySampleRate
	}
	h := wavHeader{
		RIFF:          [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + uint32(len(pcm)),
		WAVE:          [4]byte{'W', 'A', 'V', 'E'},
		Fmt:           [4]byte{'f', 'm', 't', ' '},
		FmtSize:       16,
		AudioFormat:   1,
		Channels:      1,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * 2),
		BlockAlign:    2,
		BitsPerSample: 16,
		Data:          [4]byte{'d', 'a', 't', 'a'},
		DataSize:      uint32(len(pcm)),
	}

	w := bufio.NewWriter(out)
	if err := binary.Write(w, binary.LittleEndian, h); err != nil {
		return err
	}
	if _, err := w.Write(pcm); err != nil {
		return err
	}
	return w.Flush()
}

// DecodeWAVPCM16 returns the mono PCM16LE samples and sample rate of a
// 16-bit PCM WAV file. Multi-channel input is downmixed by averaging.
func DecodeWAVPCM16(data []byte) ([]byte, int, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, fmt.Errorf("%w: bad header", ErrUnsupportedWAV)
	}

	var (
		haveFmt     bool
		format      uint16
		channels    uint16
		sampleRate  int
		bitsPerSamp uint16
		pcm         []byte
	)
	for off := 12; off+8 <= len(data); {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		off += 8
		if size < 0 || off+size > len(data) {
			return nil, 0, fmt.Errorf("%w: chunk %q overruns file", ErrUnsupportedWAV, id)
		}
		chunk := data[off : off+size]
		switch id {
		case "fmt ":
			if len(chunk) < 16 {
				return nil, 0, fmt.Errorf("%w: short fmt chunk", ErrUnsupportedWAV)
			}
			format = binary.LittleEndian.Uint16(chunk[0:2])
			channels = binary.LittleEndian.Uint16(chunk[2:4])
			sampleRate = int(binary.LittleEndian.Uint32(chunk[4:8]))
			bitsPerSamp = binary.LittleEndian.Uint16(chunk[14:16])
			haveFmt = true
		case "data":
			pcm = chunk
		}
		off += size
		if size%2 == 1 {
			off++
		}
	}
	switch {
	case !haveFmt:
		return nil, 0, fmt.Errorf("%w: missing fmt chunk", ErrUnsupportedWAV)
	case len(pcm) == 0:
		return nil, 0, fmt.Errorf("%w: missing data chunk", ErrUnsupportedWAV)
	case format != 1:
		return nil, 0, fmt.Errorf("%w: audio format %d", ErrUnsupportedWAV, format)
	case bitsPerSamp != 16:
		return nil, 0, fmt.Errorf("%w: %d bits per sample", ErrUnsupportedWAV, bitsPerSamp)
	case channels == 0:
		return nil, 0, fmt.Errorf("%w: zero channels", ErrUnsupportedWAV)
	}
	if sampleRate <= 0 {
		sampleRate = TelephonySampleRate
	}

	frame := int(channels) * 2
	frames := len(pcm) / frame
	mono := make([]byte, frames*2)
	for i := 0; i < frames; i++ {
		sum := 0
		for ch := 0; ch < int(channels); ch++ {
			at := i*frame + ch*2
			sum += int(int16(binary.LittleEndian.Uint16(pcm[at : at+2])))
		}
		binary.LittleEndian.PutUint16(mono[i*2:], uint16(int16(sum/int(channels))))
	}
	return mono, sampleRate, nil
}
