/*
Package deadlock detects cycles in the task wait-for graph.

The graph has an edge t -> u for every u in t.blocked_by; only blocked
tasks contribute edges, and missing targets are dead ends. Detection is an
iterative depth-first search that reports the first simple cycle reaching
back onto the search stack, so cost is bounded by the reachable blocked
subgraph.

Cycles are normalized before reporting: rotated so the smallest task id
leads, direction chosen deterministically. The normalized sequence is the
dedup key across entry points and the seed for the deterministic message
thread id, which keeps a three-way deadlock down to one alert per agent,
all linked in a single thread.

The Sweeper wraps detection for the periodic monitor: enumerate blocked
tasks, dedupe cycles, deliver urgent action-required alerts through the
inbox bus, and return a report of what it found and sent.
*/
package deadlock
