package httpqueue_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/cockpit-project/citransfer/cmn"
	"github.com/cockpit-project/citransfer/httpqueue"
)

var _ = Describe("Queue", func() {
	var (
		mu       sync.Mutex
		order    []string
		server   *httptest.Server
		hq       *httpqueue.Queue
		oldPace  time.Duration
		ctx      context.Context
		cancelFn context.CancelFunc
	)

	BeforeEach(func() {
		order = nil
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			order = append(order, r.Method+" "+r.URL.Path)
			mu.Unlock()
			w.WriteHeader(http.StatusOK)
		}))
		oldPace = httpqueue.PaceInterval
		httpqueue.PaceInterval = 10 * time.Millisecond

		hq = httpqueue.New(nil)
		ctx, cancelFn = context.WithTimeout(context.Background(), 5*time.Second)
		hq.Start(ctx)
	})

	AfterEach(func() {
		httpqueue.PaceInterval = oldPace
		server.Close()
		cancelFn()
	})

	It("issues enqueued requests in order and drains on Close", func() {
		hq.Request(&cmn.Request{Method: cmn.MethodPut, URL: server.URL + "/a", Headers: map[string]string{}})
		hq.Request(&cmn.Request{Method: cmn.MethodPut, URL: server.URL + "/b", Headers: map[string]string{}})
		hq.Request(&cmn.Request{Method: cmn.MethodDelete, URL: server.URL + "/c", Headers: map[string]string{}})

		Expect(hq.Close(ctx)).To(Succeed())

		mu.Lock()
		defer mu.Unlock()
		Expect(order).To(Equal([]string{"PUT /a", "PUT /b", "DELETE /c"}))
	})

	It("reports a non-zero Len while a request is in flight", func() {
		hq.Request(&cmn.Request{Method: cmn.MethodPost, URL: server.URL + "/x", Headers: map[string]string{}, Body: []byte("{}")})
		Eventually(hq.Len).Should(Equal(1))
		Expect(hq.Close(ctx)).To(Succeed())
		Expect(hq.Len()).To(Equal(0))
	})

	It("paces requests by at least PaceInterval", func() {
		httpqueue.PaceInterval = 100 * time.Millisecond
		hq.Request(&cmn.Request{Method: cmn.MethodPut, URL: server.URL + "/1", Headers: map[string]string{}})
		hq.Request(&cmn.Request{Method: cmn.MethodPut, URL: server.URL + "/2", Headers: map[string]string{}})

		start := time.Now()
		Expect(hq.Close(ctx)).To(Succeed())
		Expect(time.Since(start)).To(BeNumerically(">=", 100*time.Millisecond))
	})
})

var _ = Describe("Queue transport failure", func() {
	It("propagates a transport error out of Close", func() {
		old := httpqueue.PaceInterval
		httpqueue.PaceInterval = time.Millisecond
		defer func() { httpqueue.PaceInterval = old }()

		hq := httpqueue.New(nil)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		hq.Start(ctx)

		hq.Request(&cmn.Request{Method: cmn.MethodGet, URL: "http://127.0.0.1:1/unreachable", Headers: map[string]string{}})

		Expect(hq.Close(ctx)).ToNot(Succeed())
	})
})
