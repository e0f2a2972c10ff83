package workers

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/camden-git/facewatch/enrollment"
)

// AllIdentities is the job key for a full directory reload
const AllIdentities = "*"

const enrollJobTimeout = 5 * time.Minute

type EnrollmentJob struct {
	// PersonID is a directory id, or AllIdentities
	PersonID string
	QueuedAt time.Time
}

// EnrollmentResult is reported once per finished job
type EnrollmentResult struct {
	PersonID string
	Outcome  enrollment.Outcome
	Summary  *enrollment.Summary
	Err      error
}

// Enroller is the part of enrollment.Loader the workers drive
type Enroller interface {
	LoadAll(ctx context.Context) (enrollment.Summary, error)
	LoadOne(ctx context.Context, id string) (enrollment.Outcome, error)
}

var _ Enroller = (*enrollment.Loader)(nil)

// EnrollmentProcessor runs re-enrollment requests off the request path. A
// person already waiting in the queue is not queued twice.
type EnrollmentProcessor struct {
	JobQueue chan EnrollmentJob
	Loader   Enroller
	Wg       sync.WaitGroup
	StopChan chan struct{}
	Pending  map[string]bool
	Mutex    sync.Mutex

	// OnResult is called from the worker goroutine after each job
	OnResult func(EnrollmentResult)
}

func NewEnrollmentProcessor(loader Enroller, queueSize, numWorkers int, onResult func(EnrollmentResult)) *EnrollmentProcessor {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	if queueSize <= 0 {
		queueSize = 100
	}
	proc := &EnrollmentProcessor{
		JobQueue: make(chan EnrollmentJob, queueSize),
		Loader:   loader,
		StopChan: make(chan struct{}),
		Pending:  make(map[string]bool),
		OnResult: onResult,
	}
	proc.Wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go proc.worker(i)
	}
	log.Printf("Started %d enrollment worker(s) with queue size %d", numWorkers, queueSize)
	return proc
}

func (ep *EnrollmentProcessor) worker(id int) {
	defer ep.Wg.Done()

	log.Printf("Enrollment worker %d started", id)
	for {
		select {
		case job, ok := <-ep.JobQueue:
			if !ok {
				log.Printf("Enrollment worker %d stopping: job queue closed", id)
				return
			}
			ep.Mutex.Lock()
			delete(ep.Pending, job.PersonID)
			ep.Mutex.Unlock()

			log.Printf("Worker %d: enrolling %s (waited %s)", id, job.PersonID, time.Since(job.QueuedAt).Round(time.Millisecond))
			result := ep.process(job)
			if result.Err != nil {
				log.Printf("Worker %d: ERROR enrolling %s: %v", id, job.PersonID, result.Err)
			}
			if ep.OnResult != nil {
				ep.OnResult(result)
			}

		case <-ep.StopChan:
			log.Printf("Enrollment worker %d stopping: stop signal received", id)
			return
		}
	}
}

func (ep *EnrollmentProcessor) process(job EnrollmentJob) EnrollmentResult {
	ctx, cancel := context.WithTimeout(context.Background(), enrollJobTimeout)
	defer cancel()

	if job.PersonID == AllIdentities {
		sum, err := ep.Loader.LoadAll(ctx)
		return EnrollmentResult{PersonID: job.PersonID, Summary: &sum, Err: err}
	}
	outcome, err := ep.Loader.LoadOne(ctx, job.PersonID)
	return EnrollmentResult{PersonID: job.PersonID, Outcome: outcome, Err: err}
}

// QueueJob queues a re-enrollment if one is not already waiting
func (ep *EnrollmentProcessor) QueueJob(personID string) bool {
	ep.Mutex.Lock()
	if ep.Pending[personID] {
		ep.Mutex.Unlock()
		return false
	}
	ep.Pending[personID] = true
	ep.Mutex.Unlock()

	select {
	case ep.JobQueue <- EnrollmentJob{PersonID: personID, QueuedAt: time.Now()}:
		log.Printf("Queued enrollment for: %s", personID)
		return true
	default:
		log.Printf("WARNING: enrollment queue full. Failed to queue: %s", personID)
		ep.Mutex.Lock()
		delete(ep.Pending, personID)
		ep.Mutex.Unlock()
		return false
	}
}

func (ep *EnrollmentProcessor) Stop() {
	log.Println("Stopping enrollment workers...")
	close(ep.StopChan)
	ep.Wg.Wait()
	log.Println("All enrollment workers stopped")
}
