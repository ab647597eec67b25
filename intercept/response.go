package intercept

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"

	"trelow-offline/storage"
)

const offlineMessage = "not available offline"

func readEntry(resp *http.Response) (storage.Entry, error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return storage.Entry{}, err
	}
	text := strings.TrimSpace(strings.TrimPrefix(resp.Status, fmt.Sprint(resp.StatusCode)))
	if text == "" {
		text = http.StatusText(resp.StatusCode)
	}
	return storage.Entry{
		Status:     resp.StatusCode,
		StatusText: text,
		Header:     resp.Header.Clone(),
		Body:       body,
	}, nil
}

func entryResponse(req *http.Request, e storage.Entry) *http.Response {
	header := e.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	// Patched bodies no longer match the stored length.
	header.Del("Content-Length")
	text := e.StatusText
	if text == "" {
		text = http.StatusText(e.Status)
	}
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", e.Status, text),
		StatusCode:    e.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(e.Body)),
		ContentLength: int64(len(e.Body)),
		Request:       req,
	}
}

func synthesized(req *http.Request, status int, contentType, body string) *http.Response {
	return entryResponse(req, storage.Entry{
		Status:     status,
		StatusText: http.StatusText(status),
		Header:     http.Header{"Content-Type": {contentType}},
		Body:       []byte(body),
	})
}

func jsonResponse(req *http.Request, status int, body string) *http.Response {
	return synthesized(req, status, "application/json", body)
}

func unavailable(req *http.Request) *http.Response {
	return jsonResponse(req, http.StatusServiceUnavailable, `{"error":"`+offlineMessage+`"}`)
}
