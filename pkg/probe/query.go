package probe

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// UT3/GameSpy query protocol constants. The query listener shares the game
// port and must be enabled server-side (enable-query=true); most servers
// leave it off, so everything here is best-effort.
const (
	queryHandshakeType = 0x09
	queryFullStatType  = 0x00
	querySessionID     = 0x01
	queryMaxResponse   = 1 << 16
)

var queryMagic = []byte{0xFE, 0xFD}

// queryJava performs the two-step full query exchange and parses the
// extended metadata section.
func (p *Prober) queryJava(ctx context.Context, host string, port int) (*Extended, error) {
	dialer := net.Dialer{Timeout: p.timeout}
	conn, err := dialer.DialContext(ctx, "udp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := conn.SetDeadline(p.deadline(ctx)); err != nil {
		return nil, err
	}

	challenge, err := queryHandshake(conn)
	if err != nil {
		return nil, err
	}

	// Full stat request: challenge token plus four bytes of padding.
	var req bytes.Buffer
	req.Write(queryMagic)
	req.WriteByte(queryFullStatType)
	_ = binary.Write(&req, binary.BigEndian, int32(querySessionID))
	_ = binary.Write(&req, binary.BigEndian, challenge)
	req.Write([]byte{0x00, 0x00, 0x00, 0x00})
	if _, err := conn.Write(req.Bytes()); err != nil {
		return nil, err
	}

	resp := make([]byte, queryMaxResponse)
	n, err := conn.Read(resp)
	if err != nil {
		return nil, err
	}

	return parseFullStat(resp[:n])
}

func queryHandshake(conn net.Conn) (int32, error) {
	var req bytes.Buffer
	req.Write(queryMagic)
	req.WriteByte(queryHandshakeType)
	_ = binary.Write(&req, binary.BigEndian, int32(querySessionID))
	if _, err := conn.Write(req.Bytes()); err != nil {
		return 0, err
	}

	resp := make([]byte, 64)
	n, err := conn.Read(resp)
	if err != nil {
		return 0, err
	}
	if n < 6 || resp[0] != queryHandshakeType {
		return 0, fmt.Errorf("malformed query handshake response")
	}

	// The challenge token is a null-terminated decimal string.
	token := resp[5:n]
	if i := bytes.IndexByte(token, 0x00); i >= 0 {
		token = token[:i]
	}
	challenge, err := strconv.ParseInt(string(token), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("malformed challenge token: %w", err)
	}

	return int32(challenge), nil
}

// parseFullStat extracts the key/value section of a full stat response.
// Layout: type byte, session id, 11 bytes of padding, then null-terminated
// key/value pairs ending with an empty key.
func parseFullStat(resp []byte) (*Extended, error) {
	if len(resp) < 16 || resp[0] != queryFullStatType {
		return nil, fmt.Errorf("malformed full stat response")
	}

	kv := map[string]string{}
	rest := resp[16:]
	for {
		key, remainder, ok := cutNull(rest)
		if !ok || key == "" {
			break
		}
		value, remainder, ok := cutNull(remainder)
		if !ok {
			break
		}
		kv[key] = value
		rest = remainder
	}

	ext := &Extended{MapName: kv["map"]}
	ext.Software, ext.Plugins = parsePlugins(kv["plugins"])

	return ext, nil
}

// parsePlugins splits the query "plugins" value, whose format is
// "Software: Plugin1; Plugin2" (the software name alone when no plugins
// are installed).
func parsePlugins(raw string) (string, []string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}

	software := raw
	var plugins []string
	if name, list, found := strings.Cut(raw, ":"); found {
		software = strings.TrimSpace(name)
		for _, plugin := range strings.Split(list, ";") {
			if plugin = strings.TrimSpace(plugin); plugin != "" {
				plugins = append(plugins, plugin)
			}
		}
	}

	return software, plugins
}

func cutNull(data []byte) (string, []byte, bool) {
	i := bytes.IndexByte(data, 0x00)
	if i < 0 {
		return "", nil, false
	}
	return string(data[:i]), data[i+1:], true
}
