// Package resilience provides admission control for bursty work.
//
// Throttle is a token bucket. Listeners use it to bound how many
// negotiations may start per second:
//
//	th := resilience.NewThrottle(resilience.ThrottleConfig{Name: "amqp", Rate: 50, Burst: 100})
//	if !th.Allow() {
//	    conn.Close()
//	    return
//	}
package resilience
