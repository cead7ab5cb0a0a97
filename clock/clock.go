// Copyright 2025 Google LLC
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

package clock

import "time"

// Clock is an interface abstracting away the passage of time, so that code
// depending on it can be tested deterministically with SimulatedClock
// instead of sleeping in real time.
type Clock interface {
	// Now returns the current time according to the clock.
	Now() time.Time

	// After waits for the duration to elapse and then sends the current
	// time on the returned channel, mirroring time.After.
	After(d time.Duration) <-chan time.Time
}

var (
	_ Clock = RealClock{}
	_ Clock = &SimulatedClock{}
)
