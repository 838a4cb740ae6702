package publication

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseChannel(t *testing.T) {
	tests := []struct {
		channel string
		want    ChannelURI
	}{
		{"termlog:ipc", ChannelURI{Media: MediaIPC}},
		{"termlog:ipc?term-length=131072", ChannelURI{Media: MediaIPC, TermLength: 131072}},
		{"termlog:udp?endpoint=localhost:40123", ChannelURI{Media: MediaUDP, Endpoint: "localhost:40123"}},
		{
			"termlog:udp?endpoint=10.0.0.1:40123|mtu=8192|term-length=65536",
			ChannelURI{Media: MediaUDP, Endpoint: "10.0.0.1:40123", MTULength: 8192, TermLength: 65536},
		},
	}

	for _, tt := range tests {
		t.Run(tt.channel, func(t *testing.T) {
			got, err := ParseChannel(tt.channel)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseChannelErrors(t *testing.T) {
	for _, channel := range []string{
		"",
		"udp://localhost:40123",
		"termlog:tcp",
		"termlog:udp",
		"termlog:udp?endpoint=localhost",
		"termlog:ipc?endpoint=localhost:40123",
		"termlog:ipc?term-length=1000",
		"termlog:ipc?term-length=abc",
		"termlog:ipc?mtu=10",
		"termlog:ipc?ttl=4",
		"termlog:ipc?term-length",
	} {
		t.Run(channel, func(t *testing.T) {
			_, err := ParseChannel(channel)
			assert.ErrorIs(t, err, ErrInvalidChannel)
		})
	}
}

func TestChannelStringRoundTrip(t *testing.T) {
	const channel = "termlog:udp?endpoint=localhost:40123|term-length=131072|mtu=4096"
	uri, err := ParseChannel(channel)
	require.NoError(t, err)
	assert.Equal(t, channel, uri.String())

	again, err := ParseChannel(uri.String())
	require.NoError(t, err)
	assert.Equal(t, uri, again)

	assert.Equal(t, "termlog:udp?endpoint=localhost:40123", uri.streamKey())
}
