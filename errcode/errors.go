// Copyright 2024 SaberMesh, Inc.
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

package errcode

import "errors"

var (
	ErrZeroCapacity    = withcode(errors.New("buffer capacity must be greater than zero"), InvalidArgument)
	ErrZeroBufferMs    = withcode(errors.New("buffer size must be greater than zero milliseconds"), InvalidArgument)
	ErrInvalidAudio    = withcode(errors.New("invalid audio parameters"), InvalidArgument)
	ErrWrongPacketType = withcode(errors.New("accessor called on mismatched packet type"), WrongPacketType)
	ErrNotInitialized  = withcode(errors.New("engine is not initialized"), NotInitialized)
)

// Error represents a dedicated error type, which carries the SABER error code.
type Error struct {
	Code ErrCode
	Err  error
}

// Error implements the error interface
func (e Error) Error() string {
	return e.Err.Error()
}

func (e Error) Unwrap() error {
	return e.Err
}

// New returns an error with the specified error message and code.
func New(msg string, code ErrCode) error {
	return withcode(errors.New(msg), code)
}

// Wrap attaches a code to an existing error.
func Wrap(err error, code ErrCode) error {
	return withcode(err, code)
}

// CodeOf extracts the ErrCode from err, or zero when err carries none.
func CodeOf(err error) ErrCode {
	var e Error
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}

func withcode(err error, code ErrCode) error {
	return Error{
		Code: code,
		Err:  err,
	}
}
