package secret

import (
	"bytes"
	"io"
	"sync"
)

const filler = "*"

// Scrubber is an io.Writer that replaces plaintext secret values in the
// stream with filler characters before forwarding to the next writer.
// NOTE: This introduces buffering into the stream - the buffer will be sized
// to match the largest secret. Call Flush when the stream ends to drain it.
type Scrubber struct {
	mu               sync.Mutex
	buf              []byte
	secrets          []*Secret
	fillerBySecret   map[string][]byte
	longestSecretLen int
	next             io.Writer
}

func NewScrubber(next io.Writer, secrets []*Secret) *Scrubber {
	var (
		longestSecretLen int
		fillerBySecret   = make(map[string][]byte)
	)
	for _, secret := range secrets {
		if secret.Value == "" {
			continue
		}
		if len(secret.Value) > longestSecretLen {
			longestSecretLen = len(secret.Value)
		}
		fillerBySecret[secret.Name] = makeFiller(filler, len(secret.Value))
	}
	return &Scrubber{
		secrets:          secrets,
		fillerBySecret:   fillerBySecret,
		longestSecretLen: longestSecretLen,
		next:             next,
	}
}

// Write buffers and scrubs the given bytes, forwarding everything that can
// no longer form the prefix of a secret value.
func (l *Scrubber) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.longestSecretLen == 0 {
		_, err := l.next.Write(p)
		if err != nil {
			return 0, err
		}
		return len(p), nil
	}

	l.buf = append(l.buf, p...)
	l.scrub()
	// Retain a tail that could still be the start of a secret split across writes
	n := len(l.buf) - l.longestSecretLen
	if n < 0 {
		n = 0
	}
	err := l.flush(n)
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

// Flush scrubs and forwards all buffered bytes.
func (l *Scrubber) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.scrub()
	return l.flush(len(l.buf))
}

func (l *Scrubber) scrub() {
	for _, secret := range l.secrets {
		if secret.Value == "" {
			continue
		}
		l.buf = bytes.ReplaceAll(l.buf, []byte(secret.Value), l.fillerBySecret[secret.Name])
	}
}

func (l *Scrubber) flush(n int) error {
	if n <= 0 {
		return nil
	}
	_, err := l.next.Write(l.buf[:n])
	if err != nil {
		return err
	}
	l.buf = l.buf[n:]
	return nil
}

func makeFiller(filler string, n int) []byte {
	buf := make([]byte, n)
	for i := 0; i < len(buf); i++ {
		buf[i] = filler[i%len(filler)]
	}
	return buf
}
