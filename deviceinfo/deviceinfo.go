// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

// Package deviceinfo parses and fetches the small key/value text record a
// VBus-over-TCP device publishes at /cgi-bin/get_resol_device_information.
package deviceinfo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/resol-vbus/govbus/vbuserr"
)

// DeviceInformation is a network endpoint plus the optional text fields a
// device may publish about itself.
type DeviceInformation struct {
	Address  string
	Vendor   *string
	Product  *string
	Serial   *string
	Version  *string
	Build    *string
	Name     *string
	Features *string
}

// userAgent is sent on every fetch request.
const userAgent = "govbus"

// phase is the device-info line scanner's state.
type phase int

const (
	phaseInKey phase = iota
	phaseWaitingForEquals
	phaseWaitingForValueStartQuote
	phaseInValue
	phaseAfterValueEndQuote
	phaseMalformed
)

func isWordChar(c rune) bool {
	return (c >= '0' && c <= '9') || (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || c == '_'
}

// Parse scans a newline-separated KEY = "VALUE" body and returns a
// DeviceInformation stamped with address. Unknown keys are ignored;
// malformed lines contribute nothing.
func Parse(address string, body string) (DeviceInformation, error) {
	info := DeviceInformation{Address: address}

	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSuffix(line, "\r")

		var (
			ph                               = phaseInKey
			keyEnd, valueStart, valueEnd int
		)

		runes := []rune(line)
		for idx, c := range runes {
			word := isWordChar(c)
			switch ph {
			case phaseInKey:
				if !word {
					keyEnd = idx
					if c == '=' {
						ph = phaseWaitingForValueStartQuote
					} else {
						ph = phaseWaitingForEquals
					}
				}
			case phaseWaitingForEquals:
				if c == '=' {
					ph = phaseWaitingForValueStartQuote
				} else {
					ph = phaseMalformed
				}
			case phaseWaitingForValueStartQuote:
				if c == '"' {
					valueStart = idx + 1
					ph = phaseInValue
				} else if word {
					ph = phaseMalformed
				}
			case phaseInValue:
				if c == '"' {
					valueEnd = idx
					ph = phaseAfterValueEndQuote
				}
			case phaseAfterValueEndQuote:
				ph = phaseMalformed
			case phaseMalformed:
			}
		}

		if ph != phaseAfterValueEndQuote {
			continue
		}

		key := string(runes[0:keyEnd])
		value := string(runes[valueStart:valueEnd])
		assignField(&info, key, value)
	}

	return info, nil
}

func assignField(info *DeviceInformation, key, value string) {
	v := value
	switch strings.ToLower(key) {
	case "vendor":
		info.Vendor = &v
	case "product":
		info.Product = &v
	case "serial":
		info.Serial = &v
	case "version":
		info.Version = &v
	case "build":
		info.Build = &v
	case "name":
		info.Name = &v
	case "features":
		info.Features = &v
	}
}

// Fetch opens a TCP connection to addr, issues an HTTP/1.0 GET for the
// device-information endpoint, and parses the response body. The whole
// operation is bounded by timeout.
func Fetch(ctx context.Context, addr string, timeout time.Duration) (DeviceInformation, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return DeviceInformation{}, vbuserr.FromIO(err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return DeviceInformation{}, vbuserr.FromAddrParse(addr, err)
	}
	hostHeader := host
	if port != "80" {
		hostHeader = net.JoinHostPort(host, port)
	}

	request := fmt.Sprintf(
		"GET /cgi-bin/get_resol_device_information HTTP/1.0\r\nHost: %s\r\nUser-Agent: %s\r\n\r\n",
		hostHeader, userAgent,
	)
	if _, err := io.WriteString(conn, request); err != nil {
		return DeviceInformation{}, vbuserr.FromIO(err)
	}

	raw, err := io.ReadAll(conn)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return DeviceInformation{}, vbuserr.FromTimeout("device information fetch")
		}
		return DeviceInformation{}, vbuserr.FromIO(err)
	}

	bodyIdx := bytes.Index(raw, []byte("\r\n\r\n"))
	if bodyIdx < 0 {
		return DeviceInformation{}, vbuserr.New("no HTTP header separator found")
	}
	bodyBytes := raw[bodyIdx+4:]
	if !utf8.Valid(bodyBytes) {
		return DeviceInformation{}, vbuserr.FromUTF8(fmt.Errorf("invalid UTF-8 in response body"))
	}

	return Parse(addr, string(bodyBytes))
}
