// Copyright 2024 The Tektite Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package errors

import (
	"fmt"
)

type ErrorCode int

const (
	ConnectionError ErrorCode = iota + 1000
	NotConnected
	ConnectionClosed
	ClientClosed
	Timeout
	ProtocolError        ErrorCode = iota + 2000
	ServerError          ErrorCode = iota + 3000
	InvalidConfiguration ErrorCode = iota + 4000
	InternalError        ErrorCode = iota + 5000
)

var codeNames = map[ErrorCode]string{
	ConnectionError:      "ConnectionError",
	NotConnected:         "NotConnected",
	ConnectionClosed:     "ConnectionClosed",
	ClientClosed:         "ClientClosed",
	Timeout:              "Timeout",
	ProtocolError:        "ProtocolError",
	ServerError:          "ServerError",
	InvalidConfiguration: "InvalidConfiguration",
	InternalError:        "InternalError",
}

func (c ErrorCode) String() string {
	name, ok := codeNames[c]
	if !ok {
		return fmt.Sprintf("ErrorCode(%d)", int(c))
	}
	return name
}

// DriverError is the error type surfaced by the driver. StatusCode and Attributes are only set for errors decoded
// from a server response.
type DriverError struct {
	Code       ErrorCode
	Msg        string
	StatusCode int
	Attributes map[string]interface{}
}

func (e DriverError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%d: %s", e.StatusCode, e.Msg)
	}
	return e.Msg
}

func NewDriverError(errorCode ErrorCode, msg string) DriverError {
	return DriverError{Code: errorCode, Msg: msg}
}

func NewDriverErrorf(errorCode ErrorCode, msgFormat string, args ...interface{}) DriverError {
	return NewDriverError(errorCode, fmt.Sprintf(msgFormat, args...))
}

func NewConnectionError(address string, cause error) DriverError {
	return NewDriverErrorf(ConnectionError, "connection to %s failed: %v", address, cause)
}

func NewNotConnectedError(address string) DriverError {
	return NewDriverErrorf(NotConnected, "connection to %s is not open", address)
}

func NewConnectionClosedError(address string) DriverError {
	return NewDriverErrorf(ConnectionClosed, "connection to %s closed", address)
}

func NewClientClosedError() DriverError {
	return NewDriverError(ClientClosed, "client is closed")
}

func NewProtocolErrorf(msgFormat string, args ...interface{}) DriverError {
	return NewDriverErrorf(ProtocolError, msgFormat, args...)
}

func NewServerError(statusCode int, msg string, attributes map[string]interface{}) DriverError {
	return DriverError{Code: ServerError, Msg: msg, StatusCode: statusCode, Attributes: attributes}
}

func NewInvalidConfigurationError(msg string) DriverError {
	return NewDriverErrorf(InvalidConfiguration, "invalid configuration: %s", msg)
}

func IsDriverErrorWithCode(err error, code ErrorCode) bool {
	var derr DriverError
	if As(err, &derr) {
		return derr.Code == code
	}
	return false
}

func IsConnectionError(err error) bool {
	return IsDriverErrorWithCode(err, ConnectionError)
}

func IsConnectionClosedError(err error) bool {
	return IsDriverErrorWithCode(err, ConnectionClosed)
}

func IsClientClosedError(err error) bool {
	return IsDriverErrorWithCode(err, ClientClosed)
}

func IsServerError(err error) bool {
	return IsDriverErrorWithCode(err, ServerError)
}

func IsProtocolError(err error) bool {
	return IsDriverErrorWithCode(err, ProtocolError)
}

func IsTimeoutError(err error) bool {
	return IsDriverErrorWithCode(err, Timeout)
}

func Error(msg string) error {
	return New(msg)
}
