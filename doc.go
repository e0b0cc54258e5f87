// Package ape provides a pure Go decompressor for frame-based lossless
// audio streams.
//
// A stream is a sequence of frames of fixed block count. Each frame carries
// a checksum of its PCM, optional special codes (silence, pseudo-stereo)
// and adaptive Rice coded prediction residuals. Decoding runs the residuals
// back through a chain of adaptive predictors and undoes the inter-channel
// transform to produce interleaved little-endian PCM.
//
// # Basic Usage
//
// To decode a file to PCM:
//
//	dec, err := ape.OpenFile("track.ape")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer dec.Close()
//
//	buf := make([]byte, 4096*dec.BlockAlign())
//	for {
//	    n, err := dec.GetData(buf, 4096)
//	    // Use buf[:n*dec.BlockAlign()]...
//	    if err != nil {
//	        break // io.EOF at the end of the stream
//	    }
//	}
//
// Decoding can be restricted to a block range with OpenFileWithConfig; all
// positions reported by the Decompressor are then relative to the range
// start. Seek jumps to a block inside the range.
//
// # Damaged Frames
//
// A frame whose checksum does not match, or whose data ends early, is
// replaced by silence. Decoding continues and HadErrors reports the loss.
// Only I/O failures of the source are returned as errors.
//
// # Output
//
// GetData writes raw PCM. PCMBuffer fills a go-audio IntBuffer and
// WriteWAV writes a WAV file, reproducing the original file exactly when
// its header was stored in the stream.
//
// # Thread Safety
//
// Decompressor instances are NOT safe for concurrent use. Each goroutine
// should have its own Decompressor over its own source.
package ape
