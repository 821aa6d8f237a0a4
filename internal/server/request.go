package server

import (
	"fmt"
	"strings"
)

// Keywords served by the bridge.
const (
	KeywordLCD                 = "lcd"
	KeywordGetMode             = "getMode"
	KeywordGetBeer             = "getBeer"
	KeywordGetFridge           = "getFridge"
	KeywordGetControlConstants = "getControlConstants"
	KeywordGetControlSettings  = "getControlSettings"
	KeywordGetControlVariables = "getControlVariables"
	KeywordSetBeer             = "setBeer"
	KeywordSetFridge           = "setFridge"
	KeywordSetOff              = "setOff"
	KeywordSetActiveProfile    = "setActiveProfile"
	KeywordSetParameters       = "setParameters"
	KeywordGetDeviceList       = "getDeviceList"
	KeywordRefreshDeviceList   = "refreshDeviceList"
	KeywordApplyDevice         = "applyDevice"
	KeywordWriteDevice         = "writeDevice"
	KeywordGetVersion          = "getVersion"
	KeywordGetDashInfo         = "getDashInfo"
	KeywordStartNewBrew        = "startNewBrew"
	KeywordPauseLogging        = "pauseLogging"
	KeywordStopLogging         = "stopLogging"
	KeywordResumeLogging       = "resumeLogging"
	KeywordResetController     = "resetController"
	KeywordRestartController   = "restartController"
	KeywordResetWiFi           = "resetWiFi"
	KeywordStopScript          = "stopScript"
	KeywordQuit                = "quit"
)

// ValueReadValues selects the with-values variant of refreshDeviceList.
const ValueReadValues = "readValues"

var keywords = map[string]struct{}{
	KeywordLCD: {}, KeywordGetMode: {}, KeywordGetBeer: {}, KeywordGetFridge: {},
	KeywordGetControlConstants: {}, KeywordGetControlSettings: {}, KeywordGetControlVariables: {},
	KeywordSetBeer: {}, KeywordSetFridge: {}, KeywordSetOff: {}, KeywordSetActiveProfile: {},
	KeywordSetParameters: {}, KeywordGetDeviceList: {}, KeywordRefreshDeviceList: {},
	KeywordApplyDevice: {}, KeywordWriteDevice: {}, KeywordGetVersion: {}, KeywordGetDashInfo: {},
	KeywordStartNewBrew: {}, KeywordPauseLogging: {}, KeywordStopLogging: {}, KeywordResumeLogging: {},
	KeywordResetController: {}, KeywordRestartController: {}, KeywordResetWiFi: {},
	KeywordStopScript: {}, KeywordQuit: {},
}

// KnownKeyword reports whether k is served by the bridge.
func KnownKeyword(k string) bool {
	_, ok := keywords[k]
	return ok
}

// Request is one parsed request line.
type Request struct {
	Keyword  string
	Value    string
	HasValue bool
}

// String returns the wire form without the line terminator.
func (r Request) String() string {
	if !r.HasValue {
		return r.Keyword
	}
	return r.Keyword + "=" + r.Value
}

// ParseRequest splits a request line at the first '='. Everything after it,
// including further '=' characters, is the value.
func ParseRequest(line string) (Request, error) {
	line = strings.TrimRight(line, "\r\n")
	line = strings.TrimSpace(line)
	if line == "" {
		return Request{}, ErrEmptyRequest
	}

	req := Request{Keyword: line}
	if i := strings.IndexByte(line, '='); i >= 0 {
		req.Keyword, req.Value, req.HasValue = line[:i], line[i+1:], true
	}
	if !KnownKeyword(req.Keyword) {
		return req, fmt.Errorf("%w: %q", ErrUnknownKeyword, req.Keyword)
	}
	return req, nil
}
