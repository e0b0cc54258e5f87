package wavsrc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

type chunk struct {
	id   string
	data []byte
}

// buildWAV assembles a RIFF file from chunks, padding odd chunks, and
// appends trailer after the RIFF body.
func buildWAV(chunks []chunk, trailer []byte) []byte {
	var body bytes.Buffer
	body.WriteString("WAVE")
	for _, c := range chunks {
		body.WriteString(c.id)
		_ = binary.Write(&body, binary.LittleEndian, uint32(len(c.data)))
		body.Write(c.data)
		if len(c.data)%2 == 1 && c.id != "data" {
			body.WriteByte(0)
		}
	}

	var out bytes.Buffer
	out.WriteString("RIFF")
	_ = binary.Write(&out, binary.LittleEndian, uint32(body.Len()))
	out.Write(body.Bytes())
	out.Write(trailer)
	return out.Bytes()
}

func fmtChunk(tag, channels uint16, rate uint32, bits uint16) chunk {
	align := channels * bits / 8
	var b bytes.Buffer
	_ = binary.Write(&b, binary.LittleEndian, tag)
	_ = binary.Write(&b, binary.LittleEndian, channels)
	_ = binary.Write(&b, binary.LittleEndian, rate)
	_ = binary.Write(&b, binary.LittleEndian, rate*uint32(align))
	_ = binary.Write(&b, binary.LittleEndian, align)
	_ = binary.Write(&b, binary.LittleEndian, bits)
	return chunk{"fmt ", b.Bytes()}
}

func TestAnalyze_Layout(t *testing.T) {
	pcm := make([]byte, 4*10)
	for i := range pcm {
		pcm[i] = byte(i)
	}
	trailer := []byte("TRAILING")
	data := buildWAV([]chunk{
		{"JUNK", []byte{1, 2, 3}},
		fmtChunk(1, 2, 44100, 16),
		{"LIST", []byte("INFOabcd")},
		{"data", pcm},
	}, trailer)

	rs := bytes.NewReader(data)
	s, err := Analyze(rs)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	if s.Channels() != 2 || s.SampleRate() != 44100 || s.BitsPerSample() != 16 || s.BlockAlign() != 4 {
		t.Errorf("format = %d ch, %d Hz, %d bits, align %d",
			s.Channels(), s.SampleRate(), s.BitsPerSample(), s.BlockAlign())
	}
	if s.TotalBlocks() != 10 {
		t.Errorf("TotalBlocks = %d, want 10", s.TotalBlocks())
	}

	wantHeader := len(data) - len(pcm) - len(trailer)
	if s.HeaderBytes() != int64(wantHeader) {
		t.Errorf("HeaderBytes = %d, want %d", s.HeaderBytes(), wantHeader)
	}
	if !bytes.Equal(s.HeaderData(), data[:wantHeader]) {
		t.Error("HeaderData does not match the leading file bytes")
	}
	if s.TerminatingBytes() != int64(len(trailer)) {
		t.Errorf("TerminatingBytes = %d, want %d", s.TerminatingBytes(), len(trailer))
	}

	f := s.Format()
	if f.NumChannels != 2 || f.SampleRate != 44100 {
		t.Errorf("Format = %+v", f)
	}

	got := make([]byte, len(pcm)+8)
	n, err := s.ReadBlocks(got[:12])
	if n != 3 || err != nil {
		t.Fatalf("ReadBlocks = %d, %v, want 3, nil", n, err)
	}

	term, err := s.TerminatingData()
	if err != nil {
		t.Fatalf("TerminatingData: %v", err)
	}
	if !bytes.Equal(term, trailer) {
		t.Errorf("TerminatingData = %q, want %q", term, trailer)
	}

	// The read position survives TerminatingData.
	n, err = s.ReadBlocks(got[12:])
	if n != 7 {
		t.Fatalf("second ReadBlocks = %d, %v, want 7", n, err)
	}
	if !bytes.Equal(got[:40], pcm) {
		t.Error("PCM data mismatch")
	}
	if n, err := s.ReadBlocks(got); n != 0 || !errors.Is(err, io.EOF) {
		t.Errorf("ReadBlocks at end = %d, %v, want 0, EOF", n, err)
	}
}

func TestAnalyze_DataSizeCapped(t *testing.T) {
	pcm := make([]byte, 8)
	data := buildWAV([]chunk{fmtChunk(1, 1, 8000, 16), {"data", pcm}}, nil)
	// Claim more data than the file holds.
	binary.LittleEndian.PutUint32(data[len(data)-len(pcm)-4:], 0xFFFFFFF0)

	s, err := Analyze(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if s.TotalBlocks() != 4 {
		t.Errorf("TotalBlocks = %d, want 4", s.TotalBlocks())
	}
	if s.TerminatingBytes() != 0 {
		t.Errorf("TerminatingBytes = %d, want 0", s.TerminatingBytes())
	}
	if term, err := s.TerminatingData(); term != nil || err != nil {
		t.Errorf("TerminatingData = %v, %v, want nil, nil", term, err)
	}
}

func TestAnalyze_Errors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, ErrNotWAV},
		{"not riff", []byte("RIFX\x04\x00\x00\x00WAVE"), ErrNotWAV},
		{"not wave", buildWAV(nil, nil)[:8], ErrNotWAV},
		{"avi", append([]byte("RIFF\x04\x00\x00\x00"), "AVI "...), ErrNotWAV},
		{"no data", buildWAV([]chunk{fmtChunk(1, 2, 44100, 16)}, nil), ErrNoData},
		{"float format", buildWAV([]chunk{fmtChunk(3, 2, 44100, 32), {"data", make([]byte, 8)}}, nil), ErrUnsupportedFormat},
		{"data before fmt", buildWAV([]chunk{{"data", make([]byte, 4)}, fmtChunk(1, 1, 8000, 16)}, nil), ErrUnsupportedFormat},
		{"zero channels", buildWAV([]chunk{fmtChunk(1, 0, 8000, 16), {"data", nil}}, nil), ErrUnsupportedFormat},
		{"partial block", buildWAV([]chunk{fmtChunk(1, 2, 8000, 16), {"data", make([]byte, 6)}}, nil), ErrPartialBlock},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Analyze(bytes.NewReader(tc.data))
			if !errors.Is(err, tc.want) {
				t.Errorf("Analyze error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestAnalyze_EncoderOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tone.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}

	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 2, SampleRate: 48000},
		SourceBitDepth: 24,
		Data:           make([]int, 2*300),
	}
	for i := range buf.Data {
		buf.Data[i] = (i*7919)%(1<<23) - 1<<22
	}
	enc := wav.NewEncoder(f, 48000, 24, 2, 1)
	if err := enc.Write(buf); err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	s, err := Analyze(f)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if s.Channels() != 2 || s.SampleRate() != 48000 || s.BitsPerSample() != 24 {
		t.Errorf("format = %d ch, %d Hz, %d bits", s.Channels(), s.SampleRate(), s.BitsPerSample())
	}
	if s.TotalBlocks() != 300 {
		t.Errorf("TotalBlocks = %d, want 300", s.TotalBlocks())
	}

	pcm := make([]byte, 300*6)
	if n, err := s.ReadBlocks(pcm); n != 300 || err != nil {
		t.Fatalf("ReadBlocks = %d, %v", n, err)
	}
	for i, want := range buf.Data {
		got := audio.Int24LETo32(pcm[i*3 : i*3+3])
		if int(got) != want {
			t.Fatalf("sample %d = %d, want %d", i, got, want)
		}
	}
}
