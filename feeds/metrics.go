package feeds

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	feedLoads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stories_feed_loads_total",
		Help: "Feed page loads by kind (initial, more) and outcome",
	}, []string{"kind", "outcome"})

	storiesTrimmed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stories_feed_trimmed_total",
		Help: "Stories dropped from feed buffers to stay within the retention cap",
	})

	userBatches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stories_user_batches_total",
		Help: "Batched user fetches issued by user registries",
	})

	usersResolved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stories_users_resolved_total",
		Help: "Users inserted into user registries",
	})
)
