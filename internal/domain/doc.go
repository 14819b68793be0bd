/*
Package domain contains the core entities and plugin contracts of the node balancer.

Node:
A Node is one backend endpoint. Its identity (connection URI, optional status
URI, labels) never changes after construction. Its health is tracked by two
hysteresis counters, alive and active, bounded by a state barrier:

	node, err := domain.ParseNode("http://10.0.0.5:8080", "http://10.0.0.5:8080/health", nil)
	node.ReportActive(true)  // counter snaps to the barrier, node is active
	node.ReportActive(false) // counter moves one step toward zero, still active
	if node.IsEligible() {
		// enabled and active, may be returned by a strategy
	}

A positive report restores a node instantly while a run of negative reports
as long as the barrier is needed to take it out of rotation. Enablement is an
independent operator flag. All state lives in atomics so a node may be probed
by the discovery cycle and the check cycle at the same time.

Plugin contracts:
  - Checker probes a node and records the outcome on it. It never returns an error.
  - Discoverer returns the membership of a balancer. ErrNoChange means there is no
    new information, an empty slice asks the balancer to fall back to its initial nodes.
  - Strategy picks one eligible node from a NodeSet, or nil.

Selectors are plain predicates. A nil Selector selects every node.

Static configuration:
NodeDocument is the YAML shape shared by the discoverers, the repository and
the admin API:

	nodes:
	  - connection: http://10.0.0.5:8080
	    status: http://10.0.0.5:8080/health
	    labels:
	      zone: eu-1
*/
package domain
