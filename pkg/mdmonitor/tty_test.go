package mdmonitor

import "testing"

func TestForegroundWriterReturnsNonNilWriter(t *testing.T) {
	if ForegroundWriter() == nil {
		t.Fatal("expected a non-nil writer")
	}
}
