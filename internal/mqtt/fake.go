package mqtt

import "github.com/sweeney/basic-switch/internal/credentials"

// Published is one message recorded by FakeClient.
type Published struct {
	Topic    string
	Payload  string
	Retained bool
}

// FakeClient records published reports and accepted records for test assertions.
type FakeClient struct {
	// Published contains every message passed to Publish.
	Published []Published

	// Accepted contains every record passed to Accept.
	Accepted []credentials.Record

	// PublishError, if set, will be returned by Publish.
	PublishError error

	// Closed tracks if Close was called.
	Closed bool

	// Connected controls the return value of IsConnected.
	Connected bool
}

// NewFakeClient creates a FakeClient for testing.
func NewFakeClient() *FakeClient {
	return &FakeClient{}
}

// Publish records the message.
func (f *FakeClient) Publish(topic string, payload []byte, retained bool) error {
	if f.PublishError != nil {
		return f.PublishError
	}
	f.Published = append(f.Published, Published{Topic: topic, Payload: string(payload), Retained: retained})
	return nil
}

// Accept records the credential record.
func (f *FakeClient) Accept(rec credentials.Record) {
	f.Accepted = append(f.Accepted, rec)
}

// Close marks the client as closed.
func (f *FakeClient) Close() error {
	f.Closed = true
	return nil
}

// IsConnected reports whether the fake client is "connected".
func (f *FakeClient) IsConnected() bool {
	return f.Connected
}

// Topics returns the published topics in order.
func (f *FakeClient) Topics() []string {
	var out []string
	for _, p := range f.Published {
		out = append(out, p.Topic)
	}
	return out
}

// Reset clears recorded messages.
func (f *FakeClient) Reset() {
	f.Published = nil
	f.Accepted = nil
	f.PublishError = nil
	f.Closed = false
	f.Connected = false
}
