package dalibus

import (
	"bufio"
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

// pipePort is a fake Port backed by in-memory buffers: writes go to
// written, reads come from a caller-supplied reply script.
type pipePort struct {
	written bytes.Buffer
	reader  *bytes.Reader
}

func newPipePort(replies string) *pipePort {
	return &pipePort{reader: bytes.NewReader([]byte(replies))}
}

func (p *pipePort) Read(b []byte) (int, error)  { return p.reader.Read(b) }
func (p *pipePort) Write(b []byte) (int, error) { return p.written.Write(b) }
func (p *pipePort) Close() error                { return nil }

func newTestTransport(replies string) *HardwareTransport {
	port := newPipePort(replies)
	return &HardwareTransport{port: port, reader: bufio.NewReader(port)}
}

func TestReceiveReplyValue8(t *testing.T) {
	transport := newTestTransport("J5A\n")
	result, err := transport.receiveReply(0)
	assert.NoError(t, err)
	assert.Equal(t, ResultValue8, result.Kind)
	assert.Equal(t, byte(0x5a), result.Value8)
}

func TestReceiveReplyValue24(t *testing.T) {
	transport := newTestTransport("L123456\n")
	result, err := transport.receiveReply(0)
	assert.NoError(t, err)
	assert.Equal(t, ResultValue24, result.Kind)
	assert.Equal(t, uint32(0x123456), result.Value24)
}

func TestReceiveReplyNone(t *testing.T) {
	transport := newTestTransport("N\n")
	result, err := transport.receiveReply(0)
	assert.NoError(t, err)
	assert.Equal(t, ResultNone, result.Kind)
}

func TestReceiveReplyCollisions(t *testing.T) {
	transport := newTestTransport("X\n")
	result, err := transport.receiveReply(0)
	assert.NoError(t, err)
	assert.Equal(t, ResultReceiveCollision, result.Kind)

	transport = newTestTransport("Z\n")
	result, err = transport.receiveReply(0)
	assert.NoError(t, err)
	assert.Equal(t, ResultTransmitCollision, result.Kind)
}

func TestReceiveReplyWrongBusIsError(t *testing.T) {
	transport := newTestTransport("2N\n")
	_, err := transport.receiveReply(1)
	assert.Error(t, err)
	var mismatch ErrUnexpectedBus
	assert.ErrorAs(t, err, &mismatch)
	assert.Equal(t, 1, mismatch.Expected)
	assert.Equal(t, 2, mismatch.Actual)
}

func TestReceiveReplyUnknownLetterIsError(t *testing.T) {
	transport := newTestTransport("Q00\n")
	_, err := transport.receiveReply(0)
	assert.Error(t, err)
	var unexpected ErrUnexpectedReply
	assert.ErrorAs(t, err, &unexpected)
}

func TestReceiveReplyInactivityTimeoutIsSynthesizedNone(t *testing.T) {
	transport := newTestTransport("") // ReadString hits io.EOF immediately
	result, err := transport.receiveReply(0)
	assert.NoError(t, err)
	assert.Equal(t, ResultNone, result.Kind)
}

func TestSendCommandWritesExpectedLine(t *testing.T) {
	port := newPipePort("N\n")
	transport := &HardwareTransport{port: port, reader: bufio.NewReader(port)}

	_, err := transport.SendForward(0, 0x0a, 0x5a)
	assert.NoError(t, err)
	assert.Equal(t, "h0A5A\n", port.written.String())
}

func TestSendCommandIncludesBusDigitForNonZeroBus(t *testing.T) {
	port := newPipePort("2N\n")
	transport := &HardwareTransport{port: port, reader: bufio.NewReader(port), busCount: 3}

	_, err := transport.SendForward(2, 0x0a, 0x5a)
	assert.NoError(t, err)
	assert.Equal(t, "2h0A5A\n", port.written.String())
}

func TestQueryBusStatusMapsStatusNibble(t *testing.T) {
	cases := map[string]Status{
		"D00\n": StatusNoPower,
		"D10\n": StatusOverloaded,
		"D20\n": StatusActive,
	}
	for reply, want := range cases {
		port := newPipePort(reply)
		transport := &HardwareTransport{port: port, reader: bufio.NewReader(port)}
		status, err := transport.QueryBusStatus(0)
		assert.NoError(t, err)
		assert.Equal(t, want, status)
	}
}

var _ io.Closer = (*pipePort)(nil)
