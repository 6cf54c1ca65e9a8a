package ensagent

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/everFinance/ensagent/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func serveLines(t *testing.T, a *Agent, lines ...string) []gjson.Result {
	out := &bytes.Buffer{}
	err := NewToolServer(a, "test").Serve(context.Background(), strings.NewReader(strings.Join(lines, "\n")), out)
	require.NoError(t, err)
	res := make([]gjson.Result, 0)
	for _, l := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		if l != "" {
			res = append(res, gjson.Parse(l))
		}
	}
	return res
}

func TestToolServer_Handshake(t *testing.T) {
	a := newTestAgent(t, newFakeChain())
	res := serveLines(t, a,
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`{"jsonrpc":"2.0","id":"two","method":"tools/list"}`,
		`{"jsonrpc":"2.0","id":3,"method":"nope"}`,
		`not json`,
	)
	require.Len(t, res, 4)

	assert.Equal(t, int64(1), res[0].Get("id").Int())
	assert.Equal(t, toolProtocolVersion, res[0].Get("result.protocolVersion").String())
	assert.Equal(t, ServiceName, res[0].Get("result.serverInfo.name").String())

	assert.Equal(t, "two", res[1].Get("id").String())
	names := make([]string, 0)
	for _, tl := range res[1].Get("result.tools").Array() {
		names = append(names, tl.Get("name").String())
	}
	assert.Equal(t, []string{"checkAvailability", "getPrice", "register"}, names)

	assert.Equal(t, int64(rpcMethodNotFound), res[2].Get("error.code").Int())
	assert.Equal(t, int64(rpcParseError), res[3].Get("error.code").Int())
}

func TestToolServer_Call(t *testing.T) {
	chain := newFakeChain(quote(1000, 0))
	a := newTestAgent(t, chain)
	res := serveLines(t, a,
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"checkAvailability","arguments":{"name":"alice12345.eth"}}}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"getPrice","arguments":{"name":"alice12345.eth","years":2}}}`,
		`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"register","arguments":{"name":"alice12345.eth","owner":"`+ownerHex+`"}}}`,
		`{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"register","arguments":{"name":"abc.eth","owner":"`+ownerHex+`"}}}`,
		`{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{}}`,
	)
	require.Len(t, res, 5)

	text := func(r gjson.Result) gjson.Result {
		return gjson.Parse(r.Get("result.content.0.text").String())
	}
	assert.True(t, text(res[0]).Get("available").Bool())
	assert.Equal(t, "1000", text(res[1]).Get("totalWei").String())

	assert.False(t, res[2].Get("result.isError").Bool())
	assert.True(t, text(res[2]).Get("success").Bool())

	assert.True(t, res[3].Get("result.isError").Bool())
	assert.Equal(t, ErrInvalidNameFormat.Error(), text(res[3]).Get("kind").String())

	assert.Equal(t, int64(rpcInvalidParams), res[4].Get("error.code").Int())
}

func TestToolServer_Years(t *testing.T) {
	chain := newFakeChain(quote(1000, 0))
	a := newTestAgent(t, chain)
	res := serveLines(t, a,
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"register","arguments":{"name":"alice12345.eth","owner":"`+ownerHex+`","years":0}}}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"register","arguments":{"name":"alice12345.eth","owner":"`+ownerHex+`","years":"two"}}}`,
		`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"getPrice","arguments":{"name":"alice12345.eth","years":"1"}}}`,
		`{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"getPrice","arguments":{"name":"alice12345.eth"}}}`,
	)
	require.Len(t, res, 4)

	text := func(r gjson.Result) gjson.Result {
		return gjson.Parse(r.Get("result.content.0.text").String())
	}
	for _, r := range res[:3] {
		assert.True(t, r.Get("result.isError").Bool(), r.Raw)
		assert.Equal(t, ErrInvalidDuration.Error(), text(r).Get("kind").String())
	}
	assert.Empty(t, chain.registers)

	assert.False(t, res[3].Get("result.isError").Bool())
	assert.Equal(t, float64(schema.DefaultYears), text(res[3]).Get("years").Float())
}
