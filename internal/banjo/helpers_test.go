package banjo

import "bufio"

// fakeWriter captures exactly the last Write call's bytes, which is all
// these tests need: the bridges flush one JSON line per write.
type fakeWriter struct {
	data []byte
}

func (w *fakeWriter) Write(p []byte) (int, error) {
	w.data = append([]byte(nil), p...)
	return len(p), nil
}

func newBufioWriter(w *fakeWriter) *bufio.Writer {
	return bufio.NewWriter(w)
}
