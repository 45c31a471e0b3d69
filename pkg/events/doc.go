/*
Package events provides an in-memory broker for lifecycle event pub/sub.

The broker broadcasts task lifecycle events (created, started, blocked,
delegated, completed, archived), deadlock detections, and message sends to
interested subscribers over buffered channels. Publishing never blocks: the
broker buffers up to 100 events and drops delivery to any subscriber whose
own buffer is full, keeping slow consumers from stalling the coordinator.

The serve command subscribes to stream engine activity to the console.
*/
package events
