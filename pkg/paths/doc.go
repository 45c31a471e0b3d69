/*
Package paths maps agents, tasks, and messages onto the workspace layout.

The Resolver is a pure value: it computes paths and performs no I/O, so
every component that touches the filesystem agrees on the layout without
sharing state. Agent homes are fanned out across 16 shard directories by
the high nibble of sha256(agent_id), keeping any single directory from
accumulating every agent in the deployment.
*/
package paths
