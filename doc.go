// Copyright 2015 Google Inc. All Rights Reserved.
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

// Package wdcap implements a high-rate, lossless packet-capture pipeline
// for network-telescope-class workloads.
//
// The primary elements of interest are:
//
//   - Worker, which owns the lifecycle of one capture process: packet
//     source, processing goroutines, the merge goroutine, and signal
//     handling.
//
//   - PacketSource, the interface a parallel packet-capture backend must
//     implement to be driven by a Worker.
//
//   - Config, the read-only configuration record produced by Load.
//
// cmd/wdcap is the worker binary; cmd/wdcap-supervisor is the parent
// process that keeps a stable PID across reconfiguration restarts.
package wdcap
