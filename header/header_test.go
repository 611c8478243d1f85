package header_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/NVIDIA/hg/bulk"
	"github.com/NVIDIA/hg/header"
)

func TestRequestRoundTrip(t *testing.T) {
	req := header.InitRequest(0xdeadbeef, bulk.HandleFromToken(77))
	req.Cookie = 0x1234

	buf := make([]byte, header.RequestSize())
	header.EncodeRequest(buf, &req)

	require.True(t, header.VerifyRequest(buf))

	got := header.DecodeRequest(buf)
	require.Equal(t, req.ID, got.ID)
	require.Equal(t, req.Cookie, got.Cookie)
	require.Equal(t, req.Bulk.Token(), got.Bulk.Token())
}

func TestResponseRoundTrip(t *testing.T) {
	resp := header.InitResponse()
	resp.Cookie = 9
	resp.Status = 3

	buf := make([]byte, header.ResponseSize())
	header.EncodeResponse(buf, &resp)

	require.True(t, header.VerifyResponse(buf))

	got := header.DecodeResponse(buf)
	require.Equal(t, resp.Cookie, got.Cookie)
	require.Equal(t, resp.Status, got.Status)
}

func TestVerifyRequestDetectsCorruption(t *testing.T) {
	req := header.InitRequest(1, bulk.Handle{})
	buf := make([]byte, header.RequestSize())
	header.EncodeRequest(buf, &req)

	buf[2] ^= 0xff // flip every bit of one byte inside the ID field, leave the checksum untouched
	require.False(t, header.VerifyRequest(buf))
}

func TestVerifyResponseDetectsCorruption(t *testing.T) {
	resp := header.InitResponse()
	resp.Status = 5
	buf := make([]byte, header.ResponseSize())
	header.EncodeResponse(buf, &resp)

	buf[5] ^= 0xff
	require.False(t, header.VerifyResponse(buf))
}

func TestVerifyRejectsShortBuffer(t *testing.T) {
	require.False(t, header.VerifyRequest(make([]byte, header.RequestSize()-1)))
	require.False(t, header.VerifyResponse(make([]byte, header.ResponseSize()-1)))
}

func TestZeroBulkHandleRoundTrips(t *testing.T) {
	req := header.InitRequest(1, bulk.Handle{})
	buf := make([]byte, header.RequestSize())
	header.EncodeRequest(buf, &req)

	got := header.DecodeRequest(buf)
	require.True(t, got.Bulk.IsZero())
}
