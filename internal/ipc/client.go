package ipc

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"time"
)

const (
	defaultDialTimeout = 3 * time.Second
	defaultRWTimeout   = 15 * time.Second
)

// Send delivers one request to the running instance and waits for the reply.
// An empty endpoint means DefaultEndpoint("").
func Send(endpoint string, req Request) (Response, error) {
	if endpoint == "" {
		endpoint = DefaultEndpoint("")
	}
	conn, err := dial(endpoint, defaultDialTimeout)
	if err != nil {
		return Response{}, err
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(defaultRWTimeout)); err != nil {
		return Response{}, fmt.Errorf("set deadline: %w", err)
	}
	raw, err := encodeRequest(req)
	if err != nil {
		return Response{}, err
	}
	if _, err := conn.Write(append(raw, '\n')); err != nil {
		return Response{}, fmt.Errorf("write request: %w", err)
	}

	respRaw, err := readFrame(bufio.NewReaderSize(conn, maxResponseBytes+1), maxResponseBytes)
	if err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}
	resp, err := decodeResponse(respRaw)
	if err != nil {
		return Response{}, fmt.Errorf("invalid response: %w", err)
	}
	return resp, nil
}

// IsConnectionError reports whether err means no instance is listening.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Op == "dial" || opErr.Op == "open"
	}
	return isPipeNotFound(err)
}
