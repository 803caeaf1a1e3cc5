package tpm2tool

import (
	"fmt"
	"io"

	"github.com/google/go-tpm/tpm2"
	"github.com/google/go-tpm/tpmutil"
)

// Hmac computes an HMAC over input under the loaded HMAC key. size is the
// input length when known, or negative for unsized streams (pipes). Inputs
// that fit the single-call digest buffer go through one TPM2_HMAC command;
// anything larger (or unsized) runs a HMAC_Start / SequenceUpdate /
// SequenceComplete sequence. The final chunk, possibly empty, is always
// handed to SequenceComplete so the TPM finalizes the computation.
func Hmac(dev Device, key *LoadedObject, hashAlg tpm2.Algorithm, input io.Reader, size int64) ([]byte, error) {
	if size >= 0 && size <= MaxDigestBuffer {
		data := make([]byte, size)
		if _, err := io.ReadFull(input, data); err != nil {
			return nil, fmt.Errorf("read HMAC input: %w", err)
		}
		return dev.Hmac(key.Handle, key.AuthCommand(), hashAlg, data)
	}

	const seqAuth = ""
	seq, err := dev.HmacStart(key.Handle, key.AuthCommand(), seqAuth, hashAlg)
	if err != nil {
		return nil, err
	}
	digest, err := runSequence(dev, seqAuth, seq, input)
	if err != nil {
		// SequenceComplete consumes the handle on success; on any earlier
		// failure the sequence is still loaded and must be flushed here.
		dev.FlushContext(seq)
		return nil, err
	}
	return digest, nil
}

// runSequence feeds input through an open sequence one buffer-sized chunk at
// a time, reading one chunk ahead so the last chunk goes to
// SequenceComplete rather than SequenceUpdate.
func runSequence(dev Device, seqAuth string, seq tpmutil.Handle, input io.Reader) ([]byte, error) {
	cur := make([]byte, MaxDigestBuffer)
	next := make([]byte, MaxDigestBuffer)

	n, err := readChunk(input, cur)
	if err != nil {
		return nil, err
	}
	for {
		m, err := readChunk(input, next)
		if err != nil {
			return nil, err
		}
		if m == 0 {
			return dev.SequenceComplete(seqAuth, seq, cur[:n])
		}
		if err := dev.SequenceUpdate(seqAuth, seq, cur[:n]); err != nil {
			return nil, err
		}
		cur, next = next, cur
		n = m
	}
}

func readChunk(r io.Reader, buf []byte) (int, error) {
	n, err := io.ReadFull(r, buf)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return n, nil
	}
	if err != nil {
		return n, fmt.Errorf("read HMAC input: %w", err)
	}
	return n, nil
}
