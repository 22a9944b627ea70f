package resp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeArrayCommand(t *testing.T) {
	buf := []byte("*3\r\n$3\r\nSET\r\n$5\r\nmykey\r\n$7\r\nmyvalue\r\n")
	cmd, n, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, len(buf), n)
	assert.Equal(t, "SET", cmd.Name)
	assert.Equal(t, []string{"mykey", "myvalue"}, cmd.Args)
	assert.Equal(t, buf, cmd.Raw)
}

func TestDecodeConcatenatedFrames(t *testing.T) {
	set1 := "*3\r\n$3\r\nSET\r\n$3\r\nbar\r\n$3\r\n456\r\n"
	set2 := "*3\r\n$3\r\nSET\r\n$3\r\nbaz\r\n$3\r\n789\r\n"
	buf := []byte(set1 + set2)

	cmd1, n1, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, len(set1), n1)
	assert.Equal(t, []string{"bar", "456"}, cmd1.Args)

	cmd2, n2, err := Decode(buf[n1:])
	require.NoError(t, err)
	assert.Equal(t, len(set2), n2)
	assert.Equal(t, []string{"baz", "789"}, cmd2.Args)
}

func TestDecodeIncompleteTail(t *testing.T) {
	buf := []byte("*3\r\n$3\r\nSET\r\n$3\r\nbar\r\n$3\r\n45")
	_, _, err := Decode(buf)
	assert.ErrorIs(t, err, ErrIncomplete)
}

func TestDecodeNegativeArrayLengthIsError(t *testing.T) {
	_, _, err := Decode([]byte("*-1\r\n"))
	require.Error(t, err)
	assert.NotPanics(t, func() { Decode([]byte("*-1\r\n")) })
}

func TestDecodeNegativeBulkStringLengthIsError(t *testing.T) {
	_, _, err := Decode([]byte("*1\r\n$-5\r\n"))
	require.Error(t, err)
	assert.NotPanics(t, func() { Decode([]byte("*1\r\n$-5\r\n")) })
}

func TestDecodeNegativeRDBBulkLengthIsError(t *testing.T) {
	_, _, err := Decode([]byte("$-1\r\n"))
	require.Error(t, err)
	assert.NotPanics(t, func() { Decode([]byte("$-1\r\n")) })
}

func TestDecodeSimpleStringHandshakeReplies(t *testing.T) {
	cmd, n, err := Decode([]byte("+PONG\r\n"))
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.Equal(t, "PONG", cmd.Name)

	cmd, _, err = Decode([]byte("+FULLRESYNC abc123 0\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "FULLRESYNC", cmd.Name)
	assert.Equal(t, []string{"abc123", "0"}, cmd.Args)
}

func TestDecodeRDBBulkThenInlineArray(t *testing.T) {
	rdbBytes := []byte("REDIS0011somefakepayload")
	frame := append([]byte("$24\r\n"), rdbBytes...)
	rest := []byte("*3\r\n$8\r\nREPLCONF\r\n$6\r\nGETACK\r\n$1\r\n*\r\n")
	buf := append(append([]byte{}, frame...), rest...)

	cmd, n, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, "RDB", cmd.Name)
	assert.Equal(t, rdbBytes, cmd.RDBPayload)

	cmd2, n2, err := Decode(buf[n:])
	require.NoError(t, err)
	assert.Equal(t, len(rest), n2)
	assert.Equal(t, "REPLCONF", cmd2.Name)
	assert.Equal(t, []string{"GETACK", "*"}, cmd2.Args)
}

func TestEncodeBulkStringAndNull(t *testing.T) {
	assert.Equal(t, []byte("$7\r\nmyvalue\r\n"), EncodeBulkString("myvalue"))
	assert.Equal(t, []byte("$-1\r\n"), EncodeNullBulk())
}

func TestEncodeArrayOfArrays(t *testing.T) {
	entry := EncodeArray([][]byte{
		EncodeBulkString("0-1"),
		EncodeArray([][]byte{EncodeBulkString("foo"), EncodeBulkString("bar")}),
	})
	out := EncodeArray([][]byte{entry})
	assert.Equal(t, []byte("*1\r\n*2\r\n$3\r\n0-1\r\n*2\r\n$3\r\nfoo\r\n$3\r\nbar\r\n"), out)
}

func TestEncodeFileNoTrailingCRLF(t *testing.T) {
	payload := []byte("abc")
	out := EncodeFile(payload)
	assert.Equal(t, []byte("$3\r\nabc"), out)
}
