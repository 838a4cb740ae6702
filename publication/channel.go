package publication

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/maxpert/termlog/logbuffer"
)

const channelPrefix = "termlog:"

// Media a channel is carried over
const (
	MediaIPC = "ipc"
	MediaUDP = "udp"
)

// ChannelURI is a parsed channel string such as
// "termlog:udp?endpoint=localhost:40123|term-length=131072".
type ChannelURI struct {
	Media    string
	Endpoint string

	// Zero when the channel does not override the conductor default.
	TermLength int32
	MTULength  int32
}

// ParseChannel validates and parses a channel string.
func ParseChannel(channel string) (ChannelURI, error) {
	rest, ok := strings.CutPrefix(channel, channelPrefix)
	if !ok {
		return ChannelURI{}, fmt.Errorf("%w: %q missing %q prefix", ErrInvalidChannel, channel, channelPrefix)
	}

	media, query, _ := strings.Cut(rest, "?")
	uri := ChannelURI{Media: media}
	if media != MediaIPC && media != MediaUDP {
		return ChannelURI{}, fmt.Errorf("%w: unknown media %q", ErrInvalidChannel, media)
	}

	if query != "" {
		for _, param := range strings.Split(query, "|") {
			key, value, ok := strings.Cut(param, "=")
			if !ok || value == "" {
				return ChannelURI{}, fmt.Errorf("%w: malformed parameter %q", ErrInvalidChannel, param)
			}
			if err := uri.set(key, value); err != nil {
				return ChannelURI{}, err
			}
		}
	}

	if uri.Media == MediaUDP && uri.Endpoint == "" {
		return ChannelURI{}, fmt.Errorf("%w: udp channel requires an endpoint", ErrInvalidChannel)
	}
	if uri.Media == MediaIPC && uri.Endpoint != "" {
		return ChannelURI{}, fmt.Errorf("%w: ipc channel does not take an endpoint", ErrInvalidChannel)
	}

	return uri, nil
}

func (u *ChannelURI) set(key, value string) error {
	switch key {
	case "endpoint":
		if _, _, err := net.SplitHostPort(value); err != nil {
			return fmt.Errorf("%w: endpoint %q: %v", ErrInvalidChannel, value, err)
		}
		u.Endpoint = value
	case "term-length":
		n, err := strconv.ParseInt(value, 10, 32)
		if err != nil {
			return fmt.Errorf("%w: term-length %q: %v", ErrInvalidChannel, value, err)
		}
		if err := logbuffer.CheckTermLength(int32(n)); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidChannel, err)
		}
		u.TermLength = int32(n)
	case "mtu":
		n, err := strconv.ParseInt(value, 10, 32)
		if err != nil || n < 64 {
			return fmt.Errorf("%w: mtu %q must be an integer >= 64", ErrInvalidChannel, value)
		}
		u.MTULength = int32(n)
	default:
		return fmt.Errorf("%w: unknown parameter %q", ErrInvalidChannel, key)
	}
	return nil
}

// String renders the canonical form used as a cache and registry key.
func (u ChannelURI) String() string {
	var params []string
	if u.Endpoint != "" {
		params = append(params, "endpoint="+u.Endpoint)
	}
	if u.TermLength != 0 {
		params = append(params, "term-length="+strconv.Itoa(int(u.TermLength)))
	}
	if u.MTULength != 0 {
		params = append(params, "mtu="+strconv.Itoa(int(u.MTULength)))
	}
	if len(params) == 0 {
		return channelPrefix + u.Media
	}
	return channelPrefix + u.Media + "?" + strings.Join(params, "|")
}

// streamKey identifies the destination regardless of tuning parameters, so
// two registrations that differ only in term length collide.
func (u ChannelURI) streamKey() string {
	if u.Endpoint == "" {
		return channelPrefix + u.Media
	}
	return channelPrefix + u.Media + "?endpoint=" + u.Endpoint
}
