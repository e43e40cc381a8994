package queuemanager

import "time"

// StartWorker launches a single named worker process pulling from
// queueNames, per spec.md's worker-control operations.
func (m *Manager) StartWorker(id string, queueNames []string, pollInterval time.Duration, concurrency int) error {
	return m.supervisor.StartWorker(id, queueNames, pollInterval, concurrency)
}

// StartWorkerPool launches n identically-configured workers and returns
// their generated ids.
func (m *Manager) StartWorkerPool(n int, queueNames []string, pollInterval time.Duration, concurrency int) ([]string, error) {
	return m.supervisor.StartWorkerPool(n, queueNames, pollInterval, concurrency)
}

func (m *Manager) StopWorker(id string) error {
	return m.supervisor.StopWorker(id)
}

func (m *Manager) StopWorkerPool() {
	m.supervisor.StopWorkerPool()
}

func (m *Manager) RunningWorkers() []string {
	return m.supervisor.RunningWorkers()
}
