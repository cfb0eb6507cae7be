package httpsource

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hepworks/histoship/internal/domain"
	"github.com/hepworks/histoship/pkg/log"
)

// fakeSink records received payloads and fails with err when set.
type fakeSink struct {
	err      error
	received []string
	contents map[string]string
}

func (f *fakeSink) Receive(subsystem, filename string, content io.Reader) (domain.Payload, error) {
	if f.err != nil {
		return domain.Payload{}, f.err
	}
	data, err := io.ReadAll(content)
	if err != nil {
		return domain.Payload{}, err
	}
	if f.contents == nil {
		f.contents = map[string]string{}
	}
	key := subsystem + "/" + filename
	f.received = append(f.received, key)
	f.contents[key] = string(data)
	return domain.Payload{Subsystem: subsystem, Filename: filename}, nil
}

func ingestRequest(subsystem, filename, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, ingestEndpoint, strings.NewReader(body))
	if subsystem != "" {
		req.Header.Set(subsystemHeader, subsystem)
	}
	if filename != "" {
		req.Header.Set(filenameHeader, filename)
	}
	return req
}

func TestHandleIngestLandsPayloadBeforeResponding(t *testing.T) {
	sink := &fakeSink{}
	s := New(":0", sink, log.Noop())

	w := httptest.NewRecorder()
	s.handleIngest(w, ingestRequest("EMC", "EMChistos_1.combined", "histogram data"))

	// handleIngest has returned, so a 202 means the sink already holds the
	// payload.
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d", w.Code)
	}
	if len(sink.received) != 1 || sink.received[0] != "EMC/EMChistos_1.combined" {
		t.Fatalf("received = %v", sink.received)
	}
	if sink.contents["EMC/EMChistos_1.combined"] != "histogram data" {
		t.Fatalf("content = %q", sink.contents["EMC/EMChistos_1.combined"])
	}
}

func TestHandleIngestRejectsBadRequests(t *testing.T) {
	tests := []struct {
		name    string
		sinkErr error
		req     *http.Request
		want    int
	}{
		{"wrong method", nil, httptest.NewRequest(http.MethodGet, ingestEndpoint, nil), http.StatusMethodNotAllowed},
		{"missing subsystem", nil, ingestRequest("", "f.combined", "x"), http.StatusBadRequest},
		{"missing filename", nil, ingestRequest("EMC", "", "x"), http.StatusBadRequest},
		{"unknown subsystem", domain.ErrUnknownSubsystem, ingestRequest("XYZ", "f.combined", "x"), http.StatusBadRequest},
		{"invalid filename", domain.ErrInvalidFilename, ingestRequest("EMC", "../f", "x"), http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(":0", &fakeSink{err: tt.sinkErr}, log.Noop())
			w := httptest.NewRecorder()
			s.handleIngest(w, tt.req)
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestHandleIngestStorageFailureIsRetryable(t *testing.T) {
	sink := &fakeSink{err: errors.New("write incoming: no space left on device")}
	s := New(":0", sink, log.Noop())

	w := httptest.NewRecorder()
	s.handleIngest(w, ingestRequest("EMC", "EMChistos_1.combined", "histogram data"))

	// The payload was not stored, so the pusher must get a status that tells
	// it to keep its copy and try again.
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
	if len(sink.received) != 0 {
		t.Fatalf("received = %v", sink.received)
	}
}
