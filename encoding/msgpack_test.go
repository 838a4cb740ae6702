package encoding

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	ID       int64  `msgpack:"id"`
	Channel  string `msgpack:"ch"`
	StreamID int32  `msgpack:"sid"`
}

type recordV2 struct {
	ID       int64  `msgpack:"id"`
	Channel  string `msgpack:"ch"`
	StreamID int32  `msgpack:"sid"`
	Extra    string `msgpack:"extra"`
}

func TestMarshal_Basic(t *testing.T) {
	in := record{ID: 12, Channel: "termlog:ipc", StreamID: 1001}

	data, err := Marshal(in)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	var out record
	require.NoError(t, Unmarshal(data, &out))
	assert.Equal(t, in, out)
}

func TestUnmarshal_SkipsUnknownFields(t *testing.T) {
	data, err := Marshal(recordV2{ID: 1, Channel: "termlog:ipc", StreamID: 2, Extra: "x"})
	require.NoError(t, err)

	var out record
	require.NoError(t, Unmarshal(data, &out))
	assert.Equal(t, int64(1), out.ID)
	assert.Equal(t, int32(2), out.StreamID)
}

func TestUnmarshal_Garbage(t *testing.T) {
	var out record
	assert.Error(t, Unmarshal([]byte{0xc1}, &out))
}

func TestMarshal_Concurrent(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			data, err := Marshal(record{ID: int64(n)})
			if !assert.NoError(t, err) {
				return
			}
			var out record
			if assert.NoError(t, Unmarshal(data, &out)) {
				assert.Equal(t, int64(n), out.ID)
			}
		}(i)
	}
	wg.Wait()
}
