package probe

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"
)

// Server list ping constants. The handshake advertises protocol version -1
// ("status only"), which every modern server accepts.
const (
	slpHandshakeID      = 0x00
	slpStatusRequestID  = 0x00
	slpProtocolVersion  = -1
	slpNextStateStatus  = 1
	slpMaxResponseBytes = 1 << 21 // status JSON is tiny; anything bigger is garbage
)

// probeJava performs the server list ping exchange and, on success, a
// best-effort full query for extended metadata. Query failure never fails
// the snapshot.
func (p *Prober) probeJava(ctx context.Context, address string) (*Snapshot, error) {
	host, port, err := splitHostPort(address, DefaultJavaPort)
	if err != nil {
		return nil, err
	}

	start := time.Now()

	dialer := net.Dialer{Timeout: p.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := conn.SetDeadline(p.deadline(ctx)); err != nil {
		return nil, err
	}

	if err := writeHandshake(conn, host, port); err != nil {
		return nil, fmt.Errorf("handshake failed: %w", err)
	}
	if err := writePacket(conn, []byte{slpStatusRequestID}); err != nil {
		return nil, fmt.Errorf("status request failed: %w", err)
	}

	payload, err := readPacket(conn)
	if err != nil {
		return nil, fmt.Errorf("status response failed: %w", err)
	}
	latency := time.Since(start)

	body := bytes.NewReader(payload)
	packetID, err := readVarInt(body)
	if err != nil || packetID != slpStatusRequestID {
		return nil, fmt.Errorf("unexpected status response packet")
	}
	raw, err := readString(body)
	if err != nil {
		return nil, fmt.Errorf("malformed status response: %w", err)
	}

	var status javaStatus
	if err := json.Unmarshal([]byte(raw), &status); err != nil {
		return nil, fmt.Errorf("malformed status JSON: %w", err)
	}

	snap := &Snapshot{
		Online:        true,
		Kind:          KindJava,
		PlayersOnline: status.Players.Online,
		PlayersMax:    status.Players.Max,
		LatencyMs:     roundLatency(latency),
		Version:       status.Version.Name,
		MOTD:          flattenChat(status.Description),
	}
	for _, sample := range status.Players.Sample {
		if sample.Name != "" {
			snap.SamplePlayers = append(snap.SamplePlayers, sample.Name)
		}
	}

	// Optional metadata query; servers without enable-query simply drop
	// the datagram and the snapshot goes out without extended info.
	if ext, err := p.queryJava(ctx, host, port); err == nil {
		snap.Extended = ext
	}

	return snap, nil
}

// javaStatus is the wire shape of the server list ping response.
type javaStatus struct {
	Version struct {
		Name string `json:"name"`
	} `json:"version"`
	Players struct {
		Max    int `json:"max"`
		Online int `json:"online"`
		Sample []struct {
			Name string `json:"name"`
		} `json:"sample"`
	} `json:"players"`
	Description json.RawMessage `json:"description"`
}

// flattenChat extracts the plain text of a chat component, which the wire
// format allows to be a bare string, a component object, or an array of
// either.
func flattenChat(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err == nil {
		var b strings.Builder
		for _, part := range arr {
			b.WriteString(flattenChat(part))
		}
		return b.String()
	}

	var obj struct {
		Text  string            `json:"text"`
		Extra []json.RawMessage `json:"extra"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		var b strings.Builder
		b.WriteString(obj.Text)
		for _, part := range obj.Extra {
			b.WriteString(flattenChat(part))
		}
		return b.String()
	}

	return ""
}

func writeHandshake(w io.Writer, host string, port int) error {
	var payload bytes.Buffer
	payload.WriteByte(slpHandshakeID)
	writeVarInt(&payload, slpProtocolVersion)
	writeVarIntString(&payload, host)
	_ = binary.Write(&payload, binary.BigEndian, uint16(port))
	writeVarInt(&payload, slpNextStateStatus)
	return writePacket(w, payload.Bytes())
}

// writePacket frames a payload with its varint length prefix.
func writePacket(w io.Writer, payload []byte) error {
	var frame bytes.Buffer
	writeVarInt(&frame, int32(len(payload)))
	frame.Write(payload)
	_, err := w.Write(frame.Bytes())
	return err
}

// readPacket reads one length-prefixed packet payload.
func readPacket(r io.Reader) ([]byte, error) {
	length, err := readVarInt(r)
	if err != nil {
		return nil, err
	}
	if length <= 0 || length > slpMaxResponseBytes {
		return nil, fmt.Errorf("invalid packet length %d", length)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func writeVarInt(buf *bytes.Buffer, v int32) {
	u := uint32(v)
	for {
		b := byte(u & 0x7F)
		u >>= 7
		if u != 0 {
			b |= 0x80
		}
		buf.WriteByte(b)
		if u == 0 {
			return
		}
	}
}

func readVarInt(r io.Reader) (int32, error) {
	var value uint32
	var b [1]byte
	for shift := 0; shift < 35; shift += 7 {
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, err
		}
		value |= uint32(b[0]&0x7F) << shift
		if b[0]&0x80 == 0 {
			return int32(value), nil
		}
	}
	return 0, fmt.Errorf("varint too long")
}

func writeVarIntString(buf *bytes.Buffer, s string) {
	writeVarInt(buf, int32(len(s)))
	buf.WriteString(s)
}

func readString(r io.Reader) (string, error) {
	length, err := readVarInt(r)
	if err != nil {
		return "", err
	}
	if length < 0 || length > slpMaxResponseBytes {
		return "", fmt.Errorf("invalid string length %d", length)
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return "", err
	}
	return string(data), nil
}
