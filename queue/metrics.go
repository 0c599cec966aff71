package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kontor_queue_jobs_enqueued_total",
			Help: "Jobs handed to the processing queue, by job name",
		},
		[]string{"name"},
	)

	jobsDuplicate = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kontor_queue_jobs_duplicate_total",
		Help: "Enqueues refused because the job id already existed",
	})

	jobsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kontor_queue_jobs_completed_total",
		Help: "Jobs marked completed",
	})

	jobsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kontor_queue_jobs_failed_total",
		Help: "Jobs marked failed",
	})
)
