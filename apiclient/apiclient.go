// Package apiclient implements the bearer-token JSON status client
// (SPEC_FULL.md C5 / spec.md §4.5): POSTs are queued through an
// httpqueue.Queue; GETs are immediate and memoized by a conditional-GET
// cache keyed on (resource, reducer tag).
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package apiclient

import (
	"encoding/json"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/valyala/fasthttp"

	"github.com/golang/glog"

	"github.com/cockpit-project/citransfer/lru"
	"github.com/cockpit-project/citransfer/metrics"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// ReducerTag names a reducer for cache-key purposes, per SPEC_FULL.md §4.5:
// the cache is keyed on (resource, tag), not on a live function value, so
// the key stays a comparable Go map key.
type ReducerTag string

// Reducer transforms a raw JSON response body into the cached value.
type Reducer func(json.RawMessage) (any, error)

// None is the sentinel returned by Get for non-2xx, non-304 responses, per
// spec.md §4.5/§7.
var None = struct{}{}

// CacheEntry pairs the validators to echo on the next conditional request
// with the reducer's output from the original response.
type CacheEntry struct {
	Validators map[string]string
	Value      any
}

type cacheKey struct {
	resource string
	tag      ReducerTag
}

// Poster is the subset of httpqueue.Queue that Client needs; satisfied by
// *httpqueue.Queue. Kept as an interface so apiclient does not import
// httpqueue, avoiding a cycle with packages that wire both together.
type Poster interface {
	Post(url string, body any, headers map[string]string) error
}

// StatusPost is the JSON body shape the status service expects.
type StatusPost struct {
	Context     string `json:"context"`
	State       string `json:"state"`
	Description string `json:"description"`
	TargetURL   string `json:"target_url"`
}

// Client is a thin bearer-token JSON client over a base URL.
type Client struct {
	BaseURL   string
	UserAgent string
	Token     string

	Queue Poster

	httpClient *fasthttp.Client
	reducers   map[ReducerTag]Reducer
	cache      *lru.Cache[cacheKey, CacheEntry]
}

// New returns a Client. reducers maps each tag this client will ever be
// asked to Get with to its transform function; registering them up front
// keeps ReducerTag a plain comparable value instead of a live closure.
func New(baseURL, userAgent, token string, queue Poster, reducers map[ReducerTag]Reducer) *Client {
	return &Client{
		BaseURL:    baseURL,
		UserAgent:  userAgent,
		Token:      token,
		Queue:      queue,
		httpClient: &fasthttp.Client{},
		reducers:   reducers,
		cache:      lru.New[cacheKey, CacheEntry](lru.DefaultCapacity),
	}
}

func (c *Client) headers() map[string]string {
	return map[string]string{
		"User-Agent":    c.UserAgent,
		"Authorization": "token " + c.Token,
	}
}

// Post delegates to the underlying queue, targeting BaseURL+resource.
func (c *Client) Post(resource string, body StatusPost) error {
	return c.Queue.Post(c.BaseURL+resource, body, c.headers())
}

// Get performs an immediate (non-queued) conditional GET and returns the
// reducer's value, a cached value on 304, or None on any other status.
func (c *Client) Get(resource string, tag ReducerTag) (any, error) {
	reducer, ok := c.reducers[tag]
	if !ok {
		return nil, errors.Errorf("apiclient: no reducer registered for tag %q", tag)
	}

	key := cacheKey{resource: resource, tag: tag}
	prior, hadEntry := c.cache.Get(key)

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.Header.SetMethod("GET")
	req.SetRequestURI(c.BaseURL + resource)
	for k, v := range c.headers() {
		req.Header.Set(k, v)
	}
	if hadEntry {
		if v, ok := prior.Validators["if-none-match"]; ok {
			req.Header.Set("If-None-Match", v)
		}
		if v, ok := prior.Validators["if-modified-since"]; ok {
			req.Header.Set("If-Modified-Since", v)
		}
	}

	if err := c.httpClient.Do(req, resp); err != nil {
		return nil, errors.Wrapf(err, "apiclient: GET %s", resource)
	}

	validators := map[string]string{}
	if etag := string(resp.Header.Peek("ETag")); etag != "" {
		validators["if-none-match"] = etag
	}
	if lm := string(resp.Header.Peek("Last-Modified")); lm != "" {
		validators["if-modified-since"] = lm
	}

	status := resp.StatusCode()
	switch {
	case status == fasthttp.StatusNotModified && hadEntry:
		metrics.CacheHits.Inc()
		if glog.V(2) {
			glog.Infof("apiclient: %s 304, serving cached value", resource)
		}
		c.cache.Add(key, prior) // refresh LRU position, value unchanged
		return prior.Value, nil

	case status >= 200 && status < 300:
		metrics.CacheMisses.Inc()
		value, err := reducer(append([]byte(nil), resp.Body()...))
		if err != nil {
			return nil, errors.Wrapf(err, "apiclient: reduce %s", resource)
		}
		c.cache.Add(key, CacheEntry{Validators: validators, Value: value})
		if glog.V(2) {
			glog.Infof("apiclient: %s %d, cached fresh value", resource, status)
		}
		return value, nil

	default:
		if glog.V(2) {
			glog.Infof("apiclient: %s %d, returning None", resource, status)
		}
		return None, nil
	}
}
