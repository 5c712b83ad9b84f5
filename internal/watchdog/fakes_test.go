package watchdog

import (
	"context"
	"errors"
	"sync"
	"time"
)

// sequence returns scripted values in order, repeating the last one.
type sequence struct {
	values []bool
	calls  int
}

func (s *sequence) next() bool {
	if len(s.values) == 0 {
		return false
	}
	i := s.calls
	if i >= len(s.values) {
		i = len(s.values) - 1
	}
	s.calls++
	return s.values[i]
}

type fakePorts struct {
	mu      sync.Mutex
	byPort  map[int]*sequence
	hosts   []string
	panicOn int
}

func newFakePorts(script map[int][]bool) *fakePorts {
	f := &fakePorts{byPort: map[int]*sequence{}}
	for port, values := range script {
		f.byPort[port] = &sequence{values: values}
	}
	return f
}

func (f *fakePorts) ProbeTCP(_ context.Context, host string, port int, _ time.Duration) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hosts = append(f.hosts, host)
	if f.panicOn != 0 && port == f.panicOn {
		panic("socket exploded")
	}
	seq, ok := f.byPort[port]
	if !ok {
		return false
	}
	return seq.next()
}

func (f *fakePorts) calls(port int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if seq, ok := f.byPort[port]; ok {
		return seq.calls
	}
	return 0
}

type fakeContainers struct {
	mu    sync.Mutex
	byRef map[string]*sequence
}

func newFakeContainers(script map[string][]bool) *fakeContainers {
	f := &fakeContainers{byRef: map[string]*sequence{}}
	for ref, values := range script {
		f.byRef[ref] = &sequence{values: values}
	}
	return f
}

func (f *fakeContainers) IsRunning(_ context.Context, ref string, _ time.Duration) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	seq, ok := f.byRef[ref]
	if !ok {
		return false
	}
	return seq.next()
}

func (f *fakeContainers) calls(ref string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if seq, ok := f.byRef[ref]; ok {
		return seq.calls
	}
	return 0
}

type fakeRestarter struct {
	mu       sync.Mutex
	errs     map[string]error
	restarts []string
	block    bool
}

func (f *fakeRestarter) Restart(ctx context.Context, ref string, _ time.Duration) error {
	f.mu.Lock()
	f.restarts = append(f.restarts, ref)
	block := f.block
	err := f.errs[ref]
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (f *fakeRestarter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.restarts)
}

type downAlert struct {
	service string
	port    int
	reason  string
}

type recordingNotifier struct {
	mu       sync.Mutex
	down     []downAlert
	restored []string
	err      error
}

func (n *recordingNotifier) NotifyDown(_ context.Context, service string, port int, reason string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.down = append(n.down, downAlert{service: service, port: port, reason: reason})
	return n.err
}

func (n *recordingNotifier) NotifyRestored(_ context.Context, service string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.restored = append(n.restored, service)
	return n.err
}

type panickingNotifier struct{}

func (panickingNotifier) NotifyDown(context.Context, string, int, string) error {
	panic("telegram unreachable")
}

func (panickingNotifier) NotifyRestored(context.Context, string) error {
	return errors.New("unused")
}
