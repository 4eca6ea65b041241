// Command citransfer wires the queue, uploader, attachments, and status
// client packages together into the CI outbound-artifact pipeline
// (SPEC_FULL.md §2/§9, cmd/citransfer). Flag parsing is deliberately
// stdlib-only: spec.md §1 names CLI parsing itself as a Non-goal.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cockpit-project/citransfer/apiclient"
	"github.com/cockpit-project/citransfer/attachments"
	"github.com/cockpit-project/citransfer/cmn"
	"github.com/cockpit-project/citransfer/creds"
	"github.com/cockpit-project/citransfer/destination"
	"github.com/cockpit-project/citransfer/httpqueue"
	"github.com/cockpit-project/citransfer/index"
	"github.com/cockpit-project/citransfer/metrics"
	"github.com/cockpit-project/citransfer/uploader"
)

// ReducerStatus is the one reducer this binary registers: it decodes the
// status service's JSON body into a generic map, for callers that just
// want to know the prior poll's payload shape.
const ReducerStatus apiclient.ReducerTag = "status"

func main() {
	var (
		logName       = flag.String("log-name", "log", "artifact name for the uploaded log")
		attachDir     = flag.String("attachments", "", "local directory to mirror as attachments, if set")
		destDir       = flag.String("local-dest", "", "write artifacts to this local directory instead of S3")
		s3BaseURL     = flag.String("s3-base-url", "", "base URL of the S3-compatible bucket (e.g. https://bucket.s3.example.com/prefix)")
		statusBaseURL = flag.String("status-base-url", "", "base URL of the status service")
		statusToken   = flag.String("status-token", "", "bearer token for the status service")
		statusContext = flag.String("status-context", "citransfer", "status context name")
		statusRepo    = flag.String("status-repo", "", "repo slug for the status POST path, e.g. owner/repo")
		statusRev     = flag.String("status-revision", "", "revision (commit SHA) for the status POST path")
		targetURL     = flag.String("status-target-url", "", "target_url field of the status POST body")
		metricsAddr   = flag.String("metrics-addr", "", "if set, serve Prometheus metrics on this address")
	)
	flag.Parse()
	defer cmn.FlushLogs()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if *metricsAddr != "" {
		serveMetrics(*metricsAddr)
	}

	hq := httpqueue.New(nil)
	hq.Start(ctx)

	var dest destination.Destination
	switch {
	case *destDir != "":
		local, err := destination.NewLocal(*destDir)
		if err != nil {
			glog.Exitf("citransfer: local destination: %v", err)
		}
		dest = local
	case *s3BaseURL != "":
		store, err := creds.NewStore()
		if err != nil {
			glog.Exitf("citransfer: credential store: %v", err)
		}
		dest = &destination.Remote{BaseURL: *s3BaseURL, Queue: hq, Creds: store}
	default:
		glog.Exit("citransfer: one of -local-dest or -s3-base-url is required")
	}

	idx := index.New(dest)

	if *attachDir != "" {
		if err := attachments.Mirror(*attachDir, idx, 0); err != nil {
			glog.Errorf("citransfer: mirroring attachments: %v", err)
		}
	}

	var statusClient *apiclient.Client
	var statusResource string
	if *statusBaseURL != "" {
		statusClient = apiclient.New(*statusBaseURL, "citransfer", *statusToken, hq, map[apiclient.ReducerTag]apiclient.Reducer{
			ReducerStatus: reduceStatus,
		})
		statusResource = "/repos/" + *statusRepo + "/statuses/" + *statusRev
		postStatus(statusClient, statusResource, *statusContext, "pending", "uploading log", *targetURL)
	}

	up := uploader.New(*logName, idx)
	if err := up.Start(""); err != nil {
		glog.Exitf("citransfer: uploader start: %v", err)
	}

	if err := streamStdin(up); err != nil {
		glog.Errorf("citransfer: streaming stdin: %v", err)
		if statusClient != nil {
			postStatus(statusClient, statusResource, *statusContext, "error", err.Error(), *targetURL)
		}
	} else if statusClient != nil {
		postStatus(statusClient, statusResource, *statusContext, "success", "log uploaded", *targetURL)
	}

	if err := idx.Sync(); err != nil {
		glog.Errorf("citransfer: index sync: %v", err)
	}

	if err := hq.Close(ctx); err != nil {
		glog.Exitf("citransfer: draining outbound queue: %v", err)
	}
}

// streamStdin reads os.Stdin to completion, feeding every chunk through
// the uploader and finalizing the log on EOF.
func streamStdin(up *uploader.Uploader) error {
	buf := make([]byte, 64*1024)
	for {
		n, err := os.Stdin.Read(buf)
		if n > 0 {
			if werr := up.Write(buf[:n], false); werr != nil {
				return werr
			}
		}
		if err != nil {
			final := buf[:0]
			return up.Write(final, true)
		}
	}
}

func postStatus(c *apiclient.Client, resource, statusContext, state, description, targetURL string) {
	body := apiclient.StatusPost{Context: statusContext, State: state, Description: description, TargetURL: targetURL}
	if err := c.Post(resource, body); err != nil {
		glog.Errorf("citransfer: posting status: %v", err)
	}
}

func reduceStatus(raw json.RawMessage) (any, error) {
	var v map[string]any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	registry := metrics.Registry()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			glog.Errorf("citransfer: metrics server: %v", err)
		}
	}()
}
