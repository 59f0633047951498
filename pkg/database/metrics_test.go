package database

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
)

func TestPoolStatsCollector_Describe(t *testing.T) {
	var c prometheus.Collector = newPoolStatsCollector(nil, "storefront")

	ch := make(chan *prometheus.Desc, 10)
	c.Describe(ch)
	close(ch)

	var names []string
	for d := range ch {
		names = append(names, d.String())
	}
	assert.Len(t, names, 6)
	assert.Contains(t, names[0], "db_pool_acquired_connections")
}
