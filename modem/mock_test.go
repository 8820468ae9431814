package modem_test

import (
	gomock "go.uber.org/mock/gomock"
	"i4.energy/across/modemdiag/modem"
)

// MockSequenceBuilder records the transport calls one command exchange
// produces, so tests can assert them with gomock.InOrder.
type MockSequenceBuilder struct {
	transport *modem.MockTransport
	calls     []any
}

func NewMockSequence(transport *modem.MockTransport) *MockSequenceBuilder {
	return &MockSequenceBuilder{
		transport: transport,
		calls:     []any{},
	}
}

// Command expects cmd to be written and answers with reply in a single read.
func (b *MockSequenceBuilder) Command(cmd, reply string) *MockSequenceBuilder {
	wire := []byte(cmd + "\r")
	b.calls = append(b.calls,
		b.transport.EXPECT().ResetInputBuffer().Return(nil),
		b.transport.EXPECT().Write(wire).Return(len(wire), nil),
		b.transport.EXPECT().Read(gomock.Any()).DoAndReturn(func(p []byte) (int, error) {
			return copy(p, reply), nil
		}),
	)
	return b
}

func (b *MockSequenceBuilder) ReadTimeout() *MockSequenceBuilder {
	b.calls = append(b.calls, b.transport.EXPECT().SetReadTimeout(gomock.Any()).Return(nil))
	return b
}

func (b *MockSequenceBuilder) AT() *MockSequenceBuilder {
	return b.Command("AT", "AT\r\r\nOK\r\n")
}

func (b *MockSequenceBuilder) EchoOff() *MockSequenceBuilder {
	return b.Command("ATE0", "ATE0\r\r\nOK\r\n")
}

func (b *MockSequenceBuilder) VerboseErrors() *MockSequenceBuilder {
	return b.Command("AT+CMEE=2", "OK\r\n")
}

func (b *MockSequenceBuilder) VerboseErrorsRejected() *MockSequenceBuilder {
	return b.Command("AT+CMEE=2", "ERROR\r\n")
}

func (b *MockSequenceBuilder) Close() *MockSequenceBuilder {
	b.calls = append(b.calls, b.transport.EXPECT().Close().Return(nil))
	return b
}

func (b *MockSequenceBuilder) Build() []any {
	return b.calls
}
