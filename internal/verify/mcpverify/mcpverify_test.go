package mcpverify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const fakeServerScript = `
read -r req1
printf '{"jsonrpc":"2.0","id":1,"result":{"protocolVersion":"2024-11-05","capabilities":{},"serverInfo":{"name":"fake","version":"0.0.1"}}}\n'
read -r req2
printf '{"jsonrpc":"2.0","id":2,"result":{"tools":[{"name":"search","description":"d","inputSchema":{}},{"name":"extra-tool","description":"d","inputSchema":{}}]}}\n'
sleep 0.2
`

func TestVerifyFoundMissingExtra(t *testing.T) {
	out := Verify(context.Background(), Plan{
		Command:  []string{"sh", "-c", fakeServerScript},
		Declared: []string{"search", "vanished-tool"},
		Timeout:  2 * time.Second,
	})
	require.Equal(t, "fail", out.Status) // declared tool is missing
	require.Equal(t, []string{"search"}, out.Found)
	require.Equal(t, []string{"vanished-tool"}, out.Missing)
	require.Equal(t, []string{"extra-tool"}, out.Extra)
}

func TestVerifyPassWhenAllDeclaredFound(t *testing.T) {
	out := Verify(context.Background(), Plan{
		Command:  []string{"sh", "-c", fakeServerScript},
		Declared: []string{"search"},
		Timeout:  2 * time.Second,
	})
	require.Equal(t, "pass", out.Status)
	require.Equal(t, []string{"search"}, out.Found)
	require.Empty(t, out.Missing)
	require.Equal(t, []string{"extra-tool"}, out.Extra)
}

func TestVerifyStartupErrorOnMissingBinary(t *testing.T) {
	out := Verify(context.Background(), Plan{
		Command: []string{"definitely-not-a-real-binary-xyz"},
	})
	require.Equal(t, "fail", out.Status)
	require.Equal(t, ReasonStartupError, out.Reason)
}

func TestVerifyTimeoutWhenServerNeverResponds(t *testing.T) {
	out := Verify(context.Background(), Plan{
		Command: []string{"sh", "-c", "sleep 5"},
		Timeout: 100 * time.Millisecond,
	})
	require.Equal(t, "fail", out.Status)
	require.Equal(t, ReasonTimeout, out.Reason)
}

// strayResponseServerScript answers every request, but first emits an
// out-of-order line for a different request id (a stray/duplicate
// response a real server might emit). The client must not mistake it
// for the answer it is waiting on.
const strayResponseServerScript = `
read -r req1
printf '{"jsonrpc":"2.0","id":99,"result":{"stale":true}}\n'
printf '{"jsonrpc":"2.0","id":1,"result":{"protocolVersion":"2024-11-05","capabilities":{},"serverInfo":{"name":"fake","version":"0.0.1"}}}\n'
read -r req2
printf '{"jsonrpc":"2.0","id":1,"result":{"stale":true}}\n'
printf '{"jsonrpc":"2.0","id":2,"result":{"tools":[{"name":"search","description":"d","inputSchema":{}}]}}\n'
sleep 0.2
`

func TestVerifyIgnoresOutOfOrderResponseID(t *testing.T) {
	out := Verify(context.Background(), Plan{
		Command:  []string{"sh", "-c", strayResponseServerScript},
		Declared: []string{"search"},
		Timeout:  2 * time.Second,
	})
	require.Equal(t, "pass", out.Status)
	require.Equal(t, ReasonNone, out.Reason)
	require.Equal(t, []string{"search"}, out.Found)
}

func TestIdsEqual(t *testing.T) {
	require.True(t, idsEqual([]byte("1"), []byte("1")))
	require.True(t, idsEqual([]byte(`"a"`), []byte(`"a"`)))
	require.False(t, idsEqual([]byte("1"), []byte("2")))
	require.False(t, idsEqual(nil, []byte("1")))
	require.False(t, idsEqual([]byte("1"), nil))
}

func TestDiffSetsAreSorted(t *testing.T) {
	found, missing, extra := diff([]string{"b", "a"}, []string{"a", "c"})
	require.Equal(t, []string{"a"}, found)
	require.Equal(t, []string{"b"}, missing)
	require.Equal(t, []string{"c"}, extra)
}
