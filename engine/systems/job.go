package systems

import (
	"fmt"
	"sync"

	"github.com/spaghettifunk/pensieve/engine/core"
)

// The max number of job results that can be queued before workers block.
const maxJobResults = 512

/**
 * @brief Describes a job to be run. OnStart runs on a worker goroutine;
 * OnComplete or OnFailure run later on the goroutine calling Update.
 */
type JobTask struct {
	Name       string
	OnStart    func() (any, error)
	OnComplete func(result any)
	OnFailure  func(err error)
}

type jobResult struct {
	task   JobTask
	result any
	err    error
}

type JobSystem struct {
	numWorkers int
	jobQueue   chan JobTask
	results    chan jobResult
	wg         sync.WaitGroup
	once       sync.Once
}

var ErrNoWorkers = fmt.Errorf("attempting to create worker pool with less than 1 worker")
var ErrNegativeChannelSize = fmt.Errorf("attempting to create worker pool with a negative channel size")

func NewJobSystem(numWorkers int, channelSize int) (*JobSystem, error) {
	if numWorkers <= 0 {
		return nil, ErrNoWorkers
	}
	if channelSize < 0 {
		return nil, ErrNegativeChannelSize
	}

	js := &JobSystem{
		numWorkers: numWorkers,
		jobQueue:   make(chan JobTask, channelSize),
		results:    make(chan jobResult, maxJobResults),
	}
	js.start()
	return js, nil
}

func (js *JobSystem) start() {
	for i := 0; i < js.numWorkers; i++ {
		js.wg.Add(1)
		go func() {
			defer js.wg.Done()
			for job := range js.jobQueue {
				result, err := job.OnStart()
				if err != nil {
					core.LogError("job %q failed: %s", job.Name, err)
				}
				js.results <- jobResult{task: job, result: result, err: err}
			}
		}()
	}
}

/**
 * @brief Shuts the job system down. Jobs already queued still run; their
 * results are dropped.
 */
func (js *JobSystem) Shutdown() error {
	js.once.Do(func() {
		close(js.jobQueue)
		js.wg.Wait()
	})
	return nil
}

/**
 * @brief Runs the callbacks of finished jobs on the calling goroutine.
 * Should happen once an update cycle. Returns how many jobs finished.
 */
func (js *JobSystem) Update() int {
	n := 0
	for {
		select {
		case r := <-js.results:
			n++
			if r.err != nil {
				if r.task.OnFailure != nil {
					r.task.OnFailure(r.err)
				}
				continue
			}
			if r.task.OnComplete != nil {
				r.task.OnComplete(r.result)
			}
		default:
			return n
		}
	}
}

// AddWorkNonBlocking queues the job from a new goroutine and returns immediately.
func (js *JobSystem) AddWorkNonBlocking(jt JobTask) {
	go js.Submit(jt)
}

/**
 * @brief Submits the provided job to be queued for execution.
 * @param jt The description of the job to be executed.
 */
func (js *JobSystem) Submit(jt JobTask) {
	js.jobQueue <- jt
}
