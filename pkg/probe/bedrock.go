package probe

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// RakNet unconnected ping constants.
const (
	raknetUnconnectedPing = 0x01
	raknetUnconnectedPong = 0x1C
	raknetMaxResponse     = 1 << 12
)

// raknetMagic is the fixed offline-message marker every unconnected
// ping/pong carries.
var raknetMagic = []byte{
	0x00, 0xFF, 0xFF, 0x00, 0xFE, 0xFE, 0xFE, 0xFE,
	0xFD, 0xFD, 0xFD, 0xFD, 0x12, 0x34, 0x56, 0x78,
}

// probeBedrock sends a RakNet unconnected ping and parses the pong's
// semicolon-separated server ID string.
func (p *Prober) probeBedrock(ctx context.Context, address string) (*Snapshot, error) {
	host, port, err := splitHostPort(address, DefaultBedrockPort)
	if err != nil {
		return nil, err
	}

	dialer := net.Dialer{Timeout: p.timeout}
	conn, err := dialer.DialContext(ctx, "udp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := conn.SetDeadline(p.deadline(ctx)); err != nil {
		return nil, err
	}

	start := time.Now()

	var ping bytes.Buffer
	ping.WriteByte(raknetUnconnectedPing)
	_ = binary.Write(&ping, binary.BigEndian, start.UnixMilli())
	ping.Write(raknetMagic)
	_ = binary.Write(&ping, binary.BigEndian, int64(0)) // client GUID
	if _, err := conn.Write(ping.Bytes()); err != nil {
		return nil, err
	}

	resp := make([]byte, raknetMaxResponse)
	n, err := conn.Read(resp)
	if err != nil {
		return nil, err
	}
	latency := time.Since(start)

	// Pong: id, 8 bytes time, 8 bytes server GUID, 16 bytes magic,
	// uint16 length, server ID string.
	if n < 35 || resp[0] != raknetUnconnectedPong {
		return nil, fmt.Errorf("malformed pong response")
	}
	strLen := int(binary.BigEndian.Uint16(resp[33:35]))
	if 35+strLen > n {
		return nil, fmt.Errorf("truncated pong response")
	}

	snap, err := parseBedrockPong(string(resp[35 : 35+strLen]))
	if err != nil {
		return nil, err
	}
	snap.LatencyMs = roundLatency(latency)

	return snap, nil
}

// parseBedrockPong parses the server ID string:
// edition;motd;protocol;version;online;max;guid;levelname;gamemode;...
func parseBedrockPong(payload string) (*Snapshot, error) {
	fields := strings.Split(payload, ";")
	if len(fields) < 6 {
		return nil, fmt.Errorf("malformed server ID string")
	}

	online, err := strconv.Atoi(fields[4])
	if err != nil {
		return nil, fmt.Errorf("malformed player count: %w", err)
	}
	max, err := strconv.Atoi(fields[5])
	if err != nil {
		return nil, fmt.Errorf("malformed max player count: %w", err)
	}

	snap := &Snapshot{
		Online:        true,
		Kind:          KindBedrock,
		PlayersOnline: online,
		PlayersMax:    max,
		Version:       fields[3],
		MOTD:          fields[1],
	}

	ext := &Extended{}
	if len(fields) > 7 {
		ext.MapName = fields[7]
	}
	if len(fields) > 8 {
		ext.GameMode = fields[8]
	}
	if ext.MapName != "" || ext.GameMode != "" {
		snap.Extended = ext
	}

	return snap, nil
}
