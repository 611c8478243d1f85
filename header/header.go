// Package header implements the wire encode/decode/verify routines the RPC
// engine (package hg) relies on but never interprets itself: every request
// buffer begins with one encoded Request and every response buffer begins
// with one encoded Response, and the response header always echoes the
// request's cookie. The layout is a small, fixed-width, position-based
// struct, so a hand-rolled binary.BigEndian codec is the natural fit here
// - there is no self-describing-schema problem for a general-purpose
// serialization library to solve.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package header

import (
	"encoding/binary"

	"github.com/NVIDIA/hg/bulk"
	"github.com/NVIDIA/hg/cmn/cos"
)

const (
	requestSize  = 4 + 4 + 8 + 4 // id, cookie, bulk handle id, checksum
	responseSize = 4 + 4 + 4     // cookie, status, checksum
)

type Request struct {
	ID     uint32
	Cookie uint32
	Bulk   bulk.Handle
}

type Response struct {
	Cookie uint32
	Status uint32
}

func RequestSize() int  { return requestSize }
func ResponseSize() int { return responseSize }

// InitRequest fills in a fresh request header for id, with an optional
// bulk handle attached (the zero Handle means "no bulk transfer").
func InitRequest(id uint32, bh bulk.Handle) Request {
	return Request{ID: id, Bulk: bh}
}

func InitResponse() Response { return Response{} }

// EncodeRequest writes req into buf[:RequestSize()], which must have at
// least RequestSize() bytes, with a checksum over the first 16 bytes in the
// last four.
func EncodeRequest(buf []byte, req *Request) {
	binary.BigEndian.PutUint32(buf[0:4], req.ID)
	binary.BigEndian.PutUint32(buf[4:8], req.Cookie)
	binary.BigEndian.PutUint64(buf[8:16], req.Bulk.Token())
	sum := cos.Checksum32(buf[0:16])
	binary.BigEndian.PutUint32(buf[16:20], sum)
}

func DecodeRequest(buf []byte) (req Request) {
	req.ID = binary.BigEndian.Uint32(buf[0:4])
	req.Cookie = binary.BigEndian.Uint32(buf[4:8])
	req.Bulk = bulk.HandleFromToken(binary.BigEndian.Uint64(buf[8:16]))
	return
}

func VerifyRequest(buf []byte) bool {
	if len(buf) < requestSize {
		return false
	}
	want := binary.BigEndian.Uint32(buf[16:20])
	return cos.Checksum32(buf[0:16]) == want
}

func EncodeResponse(buf []byte, resp *Response) {
	binary.BigEndian.PutUint32(buf[0:4], resp.Cookie)
	binary.BigEndian.PutUint32(buf[4:8], resp.Status)
	sum := cos.Checksum32(buf[0:8])
	binary.BigEndian.PutUint32(buf[8:12], sum)
}

func DecodeResponse(buf []byte) (resp Response) {
	resp.Cookie = binary.BigEndian.Uint32(buf[0:4])
	resp.Status = binary.BigEndian.Uint32(buf[4:8])
	return
}

func VerifyResponse(buf []byte) bool {
	if len(buf) < responseSize {
		return false
	}
	want := binary.BigEndian.Uint32(buf[8:12])
	return cos.Checksum32(buf[0:8]) == want
}
