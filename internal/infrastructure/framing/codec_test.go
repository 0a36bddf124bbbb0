package framing

import (
	"testing"

	"midirelay/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_TextEnvelope(t *testing.T) {
	env, err := Decode(domain.EncodingText, []byte(`{"type":"midi","payload":[144,60,100]}`))
	require.NoError(t, err)

	assert.Equal(t, domain.EncodingText, env.Encoding)
	assert.Equal(t, KindMIDI, env.Kind)
	assert.Equal(t, []byte{0x90, 0x3C, 0x64}, env.Payload)
}

func TestDecode_TextEnvelopeErrors(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want error
	}{
		{"plain string", `hello`, domain.ErrMalformedEnvelope},
		{"json string", `"hello"`, domain.ErrMalformedEnvelope},
		{"json null", `null`, domain.ErrMalformedEnvelope},
		{"json array", `[1,2,3]`, domain.ErrMalformedEnvelope},
		{"truncated", `{"type":"midi","payload":[144,`, domain.ErrMalformedEnvelope},
		{"type not string", `{"type":7,"payload":[1]}`, domain.ErrMalformedEnvelope},
		{"missing payload", `{"type":"midi"}`, domain.ErrMalformedEnvelope},
		{"null payload", `{"type":"midi","payload":null}`, domain.ErrMalformedEnvelope},
		{"payload out of range", `{"type":"midi","payload":[144,256,1]}`, domain.ErrMalformedEnvelope},
		{"payload negative", `{"type":"midi","payload":[-1]}`, domain.ErrMalformedEnvelope},
		{"payload fractional", `{"type":"midi","payload":[1.5]}`, domain.ErrMalformedEnvelope},
		{"wrong kind", `{"type":"chat","payload":[1,2,3]}`, domain.ErrUnexpectedMessageKind},
		{"missing kind", `{"payload":[1,2,3]}`, domain.ErrUnexpectedMessageKind},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(domain.EncodingText, []byte(tc.raw))
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestDecode_BinaryNeverFails(t *testing.T) {
	for _, raw := range [][]byte{nil, {}, {0xFE, 0x01, 0x02}, []byte("not json")} {
		env, err := Decode(domain.EncodingBinary, raw)
		require.NoError(t, err)
		assert.Equal(t, domain.EncodingBinary, env.Encoding)
		assert.Equal(t, raw, env.Payload)
		assert.Empty(t, env.Kind)
	}
}

func TestDecode_UnknownEncoding(t *testing.T) {
	_, err := Decode(domain.Encoding("smoke-signal"), []byte("x"))
	assert.Error(t, err)
}

func TestEncode_TextIsDecodable(t *testing.T) {
	payload := []byte{0xB0, 0x07, 0x7F}

	raw, err := Encode(payload, domain.EncodingText)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"midi","payload":[176,7,127]}`, string(raw))

	env, err := Decode(domain.EncodingText, raw)
	require.NoError(t, err)
	assert.Equal(t, payload, env.Payload)
}

func TestEncode_BinaryCopies(t *testing.T) {
	payload := []byte{0xFE, 0x01, 0x02}

	raw, err := Encode(payload, domain.EncodingBinary)
	require.NoError(t, err)
	assert.Equal(t, payload, raw)

	raw[0] = 0x00
	assert.Equal(t, byte(0xFE), payload[0])
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "binary 3 bytes", Describe(Envelope{Encoding: domain.EncodingBinary, Payload: []byte{1, 2, 3}}))
	assert.Equal(t, "text midi 2 bytes", Describe(Envelope{Encoding: domain.EncodingText, Kind: KindMIDI, Payload: []byte{1, 2}}))
}
