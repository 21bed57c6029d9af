package codec

import (
	"encoding/binary"
	"testing"

	"github.com/golang/mock/gomock"
	assert "github.com/stretchr/testify/require"

	"github.com/wlmx/msn/msnp2p/common"
	"github.com/wlmx/msn/msnp2p/mocks"
)

// frame prepends the little endian length prefix to a payload.
func frame(payload []byte) []byte {
	out := make([]byte, common.LengthPrefixLength+len(payload))
	binary.LittleEndian.PutUint32(out, uint32(len(payload)))
	copy(out[common.LengthPrefixLength:], payload)
	return out
}

// transportPayload builds a conforming transport packet payload of the
// given total size: 8 byte header, declared payload filling the rest.
func transportPayload(size int) []byte {
	if size < 8 {
		panic("transport payload needs at least the fixed header")
	}
	payload := make([]byte, size)
	payload[0] = 0x08
	binary.BigEndian.PutUint16(payload[2:4], uint16(size-8))
	binary.BigEndian.PutUint32(payload[4:8], 0x0000002A)
	for i := 8; i < size; i++ {
		payload[i] = byte(i)
	}
	return payload
}

// droppedCounter delivers a malformed-payload handler and the counter it
// increments.
func droppedCounter() (MalformedPayloadHandler, *int) {
	count := new(int)
	return func(err error, payload []byte) { *count++ }, count
}

func TestFooAndNonceInOneRead(t *testing.T) {
	input := []byte{
		// Frame 1: length = 4, the keep-alive marker
		0x04, 0x00, 0x00, 0x00,
		0x66, 0x6F, 0x6F, 0x00,
		// Frame 2: length = 16, the peer nonce
		0x10, 0x00, 0x00, 0x00,
		0xA5, 0x7E, 0x11, 0x64, 0x75, 0xCA, 0x7C, 0x41,
		0x91, 0x70, 0x5B, 0x0B, 0x60, 0x45, 0xC4, 0xA8,
		// Trailing zeros: two empty frames and a partial length prefix
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	}

	onDropped, dropped := droppedCounter()
	d := NewDecoder(WithMalformedPayloadHandler(onDropped))

	cmds, err := d.Feed(input, true)
	assert.NoError(t, err, "Not expecting a framing error")
	assert.Len(t, cmds, 2, "Expected foo then nonce")

	assert.True(t, cmds[0].IsFoo(), "First command should be foo")
	nonce, ok := cmds[1].NonceValue()
	assert.True(t, ok, "Second command should be a nonce")
	assert.Equal(t,
		[]byte{0xA5, 0x7E, 0x11, 0x64, 0x75, 0xCA, 0x7C, 0x41, 0x91, 0x70, 0x5B, 0x0B, 0x60, 0x45, 0xC4, 0xA8},
		nonce[:], "Nonce bytes should be carried verbatim")

	assert.Equal(t, 2, *dropped, "The two empty padding frames should be dropped")
	assert.Equal(t, 2, d.Buffered(), "The partial length prefix should be retained")
}

func TestFrameSpanningThreeReads(t *testing.T) {
	// One 6140 byte payload split over three 2048 byte reads.
	payload := transportPayload(6140)
	stream := frame(payload)
	padded := make([]byte, 3*2048)
	copy(padded, stream)

	d := NewDecoder()

	cmds, err := d.Feed(padded[:2048], false)
	assert.NoError(t, err, "Not expecting a framing error")
	assert.Empty(t, cmds, "Frame is incomplete after the first read")
	assert.Equal(t, 2048, d.Buffered(), "Whole first read should be retained")

	cmds, err = d.Feed(padded[2048:4096], false)
	assert.NoError(t, err, "Not expecting a framing error")
	assert.Empty(t, cmds, "Frame is incomplete after the second read")
	assert.Equal(t, 4096, d.Buffered(), "Both reads should be retained")

	cmds, err = d.Feed(padded[4096:6144], false)
	assert.NoError(t, err, "Not expecting a framing error")
	assert.Len(t, cmds, 1, "Frame completes with the third read")

	pkt, ok := cmds[0].Packet()
	assert.True(t, ok, "Expected a data command")
	assert.Equal(t, payload, pkt.Bytes(), "Packet should carry bytes 4..6144 of the stream")
	assert.Equal(t, 0, d.Buffered(), "Nothing should remain buffered")
}

func TestSignallingFrameWithTrailingPadding(t *testing.T) {
	// An invite-sized frame at the head of a 2048 byte read, the rest
	// zeros. The zeros decode as empty frames which the transport decoder
	// rejects, so they are dropped one by one and the stream stays aligned.
	payload := transportPayload(791)
	input := make([]byte, 2048)
	copy(input, frame(payload))

	onDropped, dropped := droppedCounter()
	d := NewDecoder(WithMalformedPayloadHandler(onDropped))

	cmds, err := d.Feed(input, false)
	assert.NoError(t, err, "Not expecting a framing error")
	assert.Len(t, cmds, 1, "Expected exactly one data command")

	pkt, ok := cmds[0].Packet()
	assert.True(t, ok, "Expected a data command")
	assert.Equal(t, payload, pkt.Bytes(), "Packet should re-serialise to the payload it came from")

	// 1253 trailing zeros: 313 empty frames and a one byte tail.
	assert.Equal(t, 313, *dropped, "Empty padding frames should be dropped with a warning")
	assert.Equal(t, 1, d.Buffered(), "The final partial prefix byte should be retained")
}

func TestTruncatedLengthPrefix(t *testing.T) {
	d := NewDecoder()

	cmds, err := d.Feed([]byte{0x04, 0x00}, false)
	assert.NoError(t, err, "Not expecting a framing error")
	assert.Empty(t, cmds, "No commands from half a length prefix")
	assert.Equal(t, 2, d.Buffered(), "Partial prefix should be retained")

	cmds, err = d.Feed([]byte{0x00, 0x00, 0x66, 0x6F, 0x6F, 0x00}, false)
	assert.NoError(t, err, "Not expecting a framing error")
	assert.Len(t, cmds, 1, "Completing the frame should deliver the command")
	assert.True(t, cmds[0].IsFoo(), "Expected the keep-alive marker")
	assert.Equal(t, 0, d.Buffered(), "Nothing should remain buffered")
}

func TestOversizeFrameSurfaced(t *testing.T) {
	d := NewDecoder()

	// A valid foo frame, then a prefix declaring 65535 bytes.
	input := append(frame(common.FooPayload()), 0xFF, 0xFF, 0x00, 0x00)
	cmds, err := d.Feed(input, false)

	var oversize OversizeFrameError
	assert.ErrorAs(t, err, &oversize, "Expected an oversize framing error")
	assert.Equal(t, 65535, int(oversize), "Error should carry the declared length")
	assert.Len(t, cmds, 1, "Commands ahead of the corruption are still delivered")
	assert.True(t, cmds[0].IsFoo(), "Expected the keep-alive marker")
	assert.Equal(t, 0, d.Buffered(), "Corrupt stream state should be discarded")
}

func TestSixteenBytePayloadOutsideNonceWindow(t *testing.T) {
	// 16 bytes that form a valid transport packet. Outside the
	// nonce-expecting window they must parse as data.
	payload := transportPayload(16)

	d := NewDecoder()
	cmds, err := d.Feed(frame(payload), false)
	assert.NoError(t, err, "Not expecting a framing error")
	assert.Len(t, cmds, 1, "Expected one command")

	pkt, ok := cmds[0].Packet()
	assert.True(t, ok, "16 bytes outside the nonce window should be data")
	assert.Equal(t, payload, pkt.Bytes(), "Packet should round-trip")

	// The same bytes inside the window are a nonce.
	cmds, err = NewDecoder().Feed(frame(payload), true)
	assert.NoError(t, err, "Not expecting a framing error")
	assert.Len(t, cmds, 1, "Expected one command")
	_, ok = cmds[0].NonceValue()
	assert.True(t, ok, "16 bytes inside the nonce window should be a nonce")
}

func TestEmptyChunkIsIdempotent(t *testing.T) {
	d := NewDecoder()

	cmds, err := d.Feed(nil, false)
	assert.NoError(t, err, "Not expecting a framing error")
	assert.Empty(t, cmds, "Nothing to decode")
	assert.Equal(t, 0, d.Buffered(), "Nothing to retain")

	// With a partial frame pending, an empty chunk must not disturb it.
	_, err = d.Feed([]byte{0x10, 0x00, 0x00}, false)
	assert.NoError(t, err, "Not expecting a framing error")
	assert.Equal(t, 3, d.Buffered(), "Partial prefix should be retained")

	cmds, err = d.Feed([]byte{}, false)
	assert.NoError(t, err, "Not expecting a framing error")
	assert.Empty(t, cmds, "Nothing to decode")
	assert.Equal(t, 3, d.Buffered(), "Retained tail should be undisturbed")
}

func TestByteAtATimeDelivery(t *testing.T) {
	stream := append(frame(common.FooPayload()), frame(transportPayload(100))...)

	d := NewDecoder()
	var cmds []common.Command
	for i := range stream {
		out, err := d.Feed(stream[i:i+1], false)
		assert.NoError(t, err, "Not expecting a framing error")
		cmds = append(cmds, out...)
		assert.Less(t, d.Buffered(), DefaultMaximumBufferedLength, "Tail must stay bounded")
	}

	assert.Len(t, cmds, 2, "Byte at a time delivery should produce the same commands")
	assert.True(t, cmds[0].IsFoo(), "First command should be foo")
	_, ok := cmds[1].Packet()
	assert.True(t, ok, "Second command should be data")
	assert.Equal(t, 0, d.Buffered(), "Nothing should remain buffered")
}

func TestChunkInvariance(t *testing.T) {
	nonce := transportPayload(16)
	stream := append([]byte{}, frame(common.FooPayload())...)
	stream = append(stream, frame(nonce)...)
	stream = append(stream, frame(transportPayload(791))...)
	stream = append(stream, frame(transportPayload(1400))...)

	oneShot := NewDecoder()
	want, err := oneShot.Feed(stream, true)
	assert.NoError(t, err, "Not expecting a framing error")
	assert.Len(t, want, 4, "Reference decode should see every frame")

	for _, size := range []int{1, 2, 3, 5, 7, 16, 100, 1024} {
		d := NewDecoder()
		var got []common.Command
		for start := 0; start < len(stream); start += size {
			end := start + size
			if end > len(stream) {
				end = len(stream)
			}
			out, ferr := d.Feed(stream[start:end], true)
			assert.NoError(t, ferr, "Not expecting a framing error")
			got = append(got, out...)
		}

		assert.Len(t, got, len(want), "Chunk size %d should not change the command count", size)
		for i := range want {
			assert.Equal(t, want[i].WireFormat(), got[i].WireFormat(),
				"Command %d should not depend on chunking (size %d)", i, size)
		}
		assert.Equal(t, 0, d.Buffered(), "Nothing should remain buffered (size %d)", size)
	}
}

func TestMalformedPayloadDoesNotDesynchronise(t *testing.T) {
	// A frame whose payload the transport decoder rejects, followed by a
	// valid frame. The bad frame is dropped; the good one still decodes.
	bad := frame([]byte{0x01, 0x02, 0x03})
	good := frame(common.FooPayload())

	var droppedPayload []byte
	var droppedErr error
	d := NewDecoder(WithMalformedPayloadHandler(func(err error, payload []byte) {
		droppedErr = err
		droppedPayload = append([]byte(nil), payload...)
	}))

	cmds, err := d.Feed(append(bad, good...), false)
	assert.NoError(t, err, "Classification failures are not framing errors")
	assert.Len(t, cmds, 1, "Only the valid frame should produce a command")
	assert.True(t, cmds[0].IsFoo(), "Expected the keep-alive marker")

	assert.Error(t, droppedErr, "Handler should receive the classification error")
	assert.ErrorIs(t, droppedErr, common.ErrTruncatedHeader, "Cause should be the transport decoder failure")
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, droppedPayload, "Handler should receive the dropped payload")
}

func TestRaisedPayloadCeiling(t *testing.T) {
	payload := transportPayload(9000)

	d := NewDecoder()
	_, err := d.Feed(frame(payload), false)
	var oversize OversizeFrameError
	assert.ErrorAs(t, err, &oversize, "Above the default ceiling the frame is refused")

	d = NewDecoder(WithMaximumPayloadLength(16 * 1024))
	cmds, err := d.Feed(frame(payload), false)
	assert.NoError(t, err, "A raised ceiling should admit the frame")
	assert.Len(t, cmds, 1, "Expected one data command")
}

func TestFeedAgainstStubPacketDecoder(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()
	mockDecoder := mocks.NewMockPacketDecoder(mockCtrl)

	payload := []byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE}
	pkt := &common.TransportPacket{OperationCode: 9}
	mockDecoder.EXPECT().Parse(payload).Return(pkt, nil)

	d := NewDecoder(WithPacketDecoder(mockDecoder))
	cmds, err := d.Feed(frame(payload), false)
	assert.NoError(t, err, "Not expecting a framing error")
	assert.Len(t, cmds, 1, "Expected one command")

	got, ok := cmds[0].Packet()
	assert.True(t, ok, "Expected a data command")
	assert.Same(t, pkt, got, "Command should carry the decoder's packet")

	// The marker and nonce branches must not touch the transport decoder.
	cmds, err = d.Feed(append(frame(common.FooPayload()), frame(make([]byte, 16))...), true)
	assert.NoError(t, err, "Not expecting a framing error")
	assert.Len(t, cmds, 2, "Expected foo and nonce")
}
