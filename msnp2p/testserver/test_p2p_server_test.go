package testserver

import (
	"encoding/binary"
	"net"
	"testing"

	assert "github.com/stretchr/testify/require"

	"github.com/wlmx/msn/msnp2p/common"
)

func writeFrame(t *testing.T, conn net.Conn, payload []byte) {
	frame := make([]byte, common.LengthPrefixLength+len(payload))
	binary.LittleEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[common.LengthPrefixLength:], payload)
	_, err := conn.Write(frame)
	assert.NoError(t, err, "Not expecting write to fail")
}

func TestRecordsHandshakeAndPackets(t *testing.T) {
	ts := NewTestP2PServer(t)
	defer ts.Close()

	conn, err := net.Dial("tcp", ts.Address())
	assert.NoError(t, err, "Not expecting dial to fail")
	defer func() { _ = conn.Close() }()

	nonce := [common.NonceLength]byte{0xCB, 0x05, 0xA3, 0xE4}
	writeFrame(t, conn, common.FooPayload())
	writeFrame(t, conn, nonce[:])

	sh := ts.WaitSession()
	peerNonce := sh.WaitNonce()
	assert.Equal(t, nonce[:], peerNonce[:], "Handler should record the peer nonce")

	payload := []byte{
		// Header Length = 8, Operation Code = 1
		0x08, 0x01,
		// Payload Length = 2, Sequence Number = 3
		0x00, 0x02, 0x00, 0x00, 0x00, 0x03,
		// Payload
		0xAB, 0xCD,
	}
	writeFrame(t, conn, payload)

	packets := sh.WaitPackets(1)
	assert.Equal(t, payload, packets[0].Bytes(), "Handler should record the packet")
	assert.Equal(t, 1, ts.SessionCount(), "One connection accepted")
}
