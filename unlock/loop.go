/*
	Copyright 2025 NetFoundry Inc.

	Licensed under the Apache License, Version 2.0 (the "License");
	you may not use this file except in compliance with the License.
	You may obtain a copy of the License at

	https://www.apache.org/licenses/LICENSE-2.0

	Unless required by applicable law or agreed to in writing, software
	distributed under the License is distributed on an "AS IS" BASIS,
	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
	See the License for the specific language governing permissions and
	limitations under the License.
*/

package unlock

import (
	"runtime/debug"

	"github.com/michaelquigley/pfxlog"
	"github.com/sirupsen/logrus"
)

// eventLoop runs posted closures one at a time, in arrival order, on a single goroutine. Everything the
// scheduler owns is only touched from inside a posted closure.
type eventLoop struct {
	events      chan func()
	closeNotify <-chan struct{}
}

func newEventLoop(queueSize int, closeNotify <-chan struct{}) *eventLoop {
	return &eventLoop{
		events:      make(chan func(), queueSize),
		closeNotify: closeNotify,
	}
}

func (self *eventLoop) run() {
	for {
		select {
		case f := <-self.events:
			self.exec(f)
		case <-self.closeNotify:
			return
		}
	}
}

func (self *eventLoop) exec(f func()) {
	defer func() {
		if r := recover(); r != nil {
			pfxlog.Logger().WithField(logrus.ErrorKey, r).WithField("backtrace", string(debug.Stack())).
				Error("panic while handling unlock engine event")
		}
	}()
	f()
}

// post queues f, returning false if the loop has been closed.
func (self *eventLoop) post(f func()) bool {
	select {
	case <-self.closeNotify:
		return false
	default:
	}

	select {
	case self.events <- f:
		return true
	case <-self.closeNotify:
		return false
	}
}

// call queues f and waits for it to run. It must not be called from the loop goroutine.
func (self *eventLoop) call(f func()) bool {
	done := make(chan struct{})
	if !self.post(func() {
		defer close(done)
		f()
	}) {
		return false
	}

	select {
	case <-done:
		return true
	case <-self.closeNotify:
		return false
	}
}
