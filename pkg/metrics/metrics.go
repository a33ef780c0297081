package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// TicksProcessed counts simulated ticks advanced by the driver.
var TicksProcessed = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "cambist_ticks_processed_total",
		Help: "Total number of time grid points processed by the simulator",
	},
)

// OrdersProcessed counts order execution attempts by outcome
// (executed/rejected/postponed) and order kind.
var OrdersProcessed = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "cambist_orders_processed_total",
		Help: "Total number of order execution attempts by outcome and kind",
	},
	[]string{"outcome", "kind"},
)

// OrdersFilled counts orders submitted through the filter pipeline.
var OrdersFilled = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "cambist_orders_filled_total",
		Help: "Total number of orders submitted through the filter pipeline",
	},
)

// ActiveOrderDepth tracks the active order queue depth after each tick.
var ActiveOrderDepth = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "cambist_active_order_depth",
		Help: "Number of orders postponed in the active queue",
	},
)

func init() {
	prometheus.MustRegister(TicksProcessed, OrdersProcessed, OrdersFilled, ActiveOrderDepth)
}
