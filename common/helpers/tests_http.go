// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

//go:build !release

package helpers

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
)

// HTTPEndpointCases describes case for TestHTTPEndpoints
type HTTPEndpointCases []struct {
	Pos         Pos
	Description string
	Method      string
	URL         string
	JSONInput   any

	ContentType string
	StatusCode  int
	FirstLines  []string
	JSONOutput  any
}

// TestHTTPEndpoints queries HTTP endpoints and checks the answers.
func TestHTTPEndpoints(t *testing.T, serverAddr net.Addr, cases HTTPEndpointCases) {
	t.Helper()
	for _, tc := range cases {
		desc := tc.Description
		if desc == "" {
			desc = tc.URL
		}
		t.Run(desc, func(t *testing.T) {
			t.Helper()
			if tc.FirstLines != nil && tc.JSONOutput != nil {
				t.Fatalf("%sCannot have both FirstLines and JSONOutput", tc.Pos)
			}
			method := tc.Method
			var body io.Reader
			if tc.JSONInput != nil {
				payload, err := json.Marshal(tc.JSONInput)
				if err != nil {
					t.Fatalf("%sMarshal() error:\n%+v", tc.Pos, err)
				}
				body = bytes.NewReader(payload)
				if method == "" {
					method = "POST"
				}
			}
			if method == "" {
				method = "GET"
			}
			req, err := http.NewRequest(method, fmt.Sprintf("http://%s%s", serverAddr, tc.URL), body)
			if err != nil {
				t.Fatalf("%sNewRequest() error:\n%+v", tc.Pos, err)
			}
			if body != nil {
				req.Header.Set("Content-Type", "application/json")
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("%s%s %s:\n%+v", tc.Pos, method, tc.URL, err)
			}
			defer resp.Body.Close()

			statusCode := tc.StatusCode
			if statusCode == 0 {
				statusCode = http.StatusOK
			}
			if resp.StatusCode != statusCode {
				t.Errorf("%s%s %s: got status code %d, not %d",
					tc.Pos, method, tc.URL, resp.StatusCode, statusCode)
			}
			contentType := tc.ContentType
			if tc.JSONOutput != nil {
				contentType = "application/json; charset=utf-8"
			}
			if got := resp.Header.Get("Content-Type"); got != contentType {
				t.Errorf("%s%s %s Content-Type (-got, +want):\n-%s\n+%s",
					tc.Pos, method, tc.URL, got, contentType)
			}

			if tc.JSONOutput == nil {
				scanner := bufio.NewScanner(resp.Body)
				got := []string{}
				for len(got) < len(tc.FirstLines) && scanner.Scan() {
					got = append(got, scanner.Text())
				}
				expected := tc.FirstLines
				if expected == nil {
					expected = []string{}
				}
				if diff := Diff(got, expected); diff != "" {
					t.Errorf("%s%s %s (-got, +want):\n%s", tc.Pos, method, tc.URL, diff)
				}
				return
			}

			var got any
			if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
				t.Fatalf("%s%s %s:\n%+v", tc.Pos, method, tc.URL, err)
			}
			// Round-trip expected value to get the same types.
			var expected any
			expectedBytes, err := json.Marshal(tc.JSONOutput)
			if err != nil {
				t.Fatalf("%sMarshal() error:\n%+v", tc.Pos, err)
			}
			if err := json.Unmarshal(expectedBytes, &expected); err != nil {
				t.Fatalf("%sUnmarshal() error:\n%+v", tc.Pos, err)
			}
			if diff := Diff(got, expected); diff != "" {
				t.Fatalf("%s%s %s (-got, +want):\n%s", tc.Pos, method, tc.URL, diff)
			}
		})
	}
}

// JSON is a shortcut to describe JSON objects in tests.
type JSON = gin.H
