// Package sigv4 produces AWS4-HMAC-SHA256 authorization headers for a
// single outbound request, per SPEC_FULL.md §4.3. The implementation is
// hand-rolled against crypto/hmac and crypto/sha256 rather than
// github.com/aws/aws-sdk-go: the credential scope here uses a literal "any"
// region segment instead of a real AWS region, which the SDK's signer
// cannot be made to emit. See DESIGN.md.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package sigv4

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/cockpit-project/citransfer/cmn"
)

const (
	algorithm = "AWS4-HMAC-SHA256"
	// region is deliberately not a real AWS region: the store this system
	// talks to is S3-compatible but not AWS itself, and the scope segment
	// is a fixed literal per SPEC_FULL.md §4.3.
	region  = "any"
	service = "s3"
)

// Clock is overridable in tests so sigv4_test.go can pin the date and get
// the same headers for the same inputs.
var Clock = time.Now

// Sign returns req's headers augmented with x-amz-content-sha256,
// x-amz-date, host, and a final Authorization header, signed for cred.
// payloadSHA256 must be the lowercase hex SHA-256 digest of req.Body.
// Sign rejects requests whose URL has no host.
func Sign(req *cmn.Request, payloadSHA256 string, cred cmn.Credential) (map[string]string, error) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, errors.Wrapf(err, "sigv4: parse %q", req.URL)
	}
	if u.Host == "" {
		return nil, errors.Errorf("sigv4: request URL %q has no host", req.URL)
	}

	now := Clock().UTC()
	amzDate := now.Format("20060102T150405Z")
	dateStamp := now.Format("20060102")

	headers := make(map[string]string, len(req.Headers)+3)
	for k, v := range req.Headers {
		headers[strings.ToLower(k)] = v
	}
	headers["host"] = u.Host
	headers["x-amz-content-sha256"] = payloadSHA256
	headers["x-amz-date"] = amzDate

	names := make([]string, 0, len(headers))
	for k := range headers {
		names = append(names, k)
	}
	sort.Strings(names)

	var canonicalHeaders strings.Builder
	for _, n := range names {
		canonicalHeaders.WriteString(n)
		canonicalHeaders.WriteByte(':')
		canonicalHeaders.WriteString(headers[n])
		canonicalHeaders.WriteByte('\n')
	}
	signedHeaders := strings.Join(names, ";")

	scope := fmt.Sprintf("%s/%s/%s/aws4_request", dateStamp, region, service)

	canonicalRequest := strings.Join([]string{
		string(req.Method),
		canonicalPath(u),
		u.RawQuery,
		canonicalHeaders.String(),
		signedHeaders,
		payloadSHA256,
	}, "\n")

	stringToSign := strings.Join([]string{
		algorithm,
		amzDate,
		scope,
		sha256Hex(canonicalRequest),
	}, "\n")

	signingKey := deriveSigningKey(cred.Secret, dateStamp)
	signature := hex.EncodeToString(hmacSHA256(signingKey, stringToSign))

	headers["authorization"] = fmt.Sprintf(
		"%s Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		algorithm, cred.AccessID, scope, signedHeaders, signature,
	)

	// Present the canonical capitalization to callers/wire even though
	// signing itself worked on lowercased names.
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		out[canonicalHeaderCase(k)] = v
	}
	return out, nil
}

func canonicalPath(u *url.URL) string {
	if u.Path == "" {
		return "/"
	}
	return u.Path
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func hmacSHA256(key []byte, data string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(data))
	return mac.Sum(nil)
}

func deriveSigningKey(secret, dateStamp string) []byte {
	kDate := hmacSHA256([]byte("AWS4"+secret), dateStamp)
	kRegion := hmacSHA256(kDate, region)
	kService := hmacSHA256(kRegion, service)
	return hmacSHA256(kService, "aws4_request")
}

// canonicalHeaderCase restores Authorization/Host capitalization for the
// two headers callers (and tests) typically look at; the rest are left
// lowercase, matching how sigv4_test.go looks them up.
func canonicalHeaderCase(name string) string {
	switch name {
	case "authorization":
		return "Authorization"
	case "host":
		return "Host"
	default:
		return name
	}
}

// SHA256Hex is exported for callers (httpqueue) that need to compute the
// payload digest before calling Sign.
func SHA256Hex(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
